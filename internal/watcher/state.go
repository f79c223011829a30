package watcher

import "github.com/rickgao/market-watcher/internal/feed"

// ConnState tracks the feed connection lifecycle.
type ConnState int

const (
	// StateDisconnected means no usable transport to the feed.
	StateDisconnected ConnState = iota
	// StateConnecting means the transport is up but login has not
	// completed yet.
	StateConnecting
	// StateLoggedIn means the feed accepted our login and ticks may flow.
	StateLoggedIn
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggedIn:
		return "logged_in"
	default:
		return "unknown"
	}
}

// nextState applies a feed event to the connection state machine. The
// second return is false when the event is not a valid transition from
// the current state, in which case the caller keeps the current state.
func nextState(cur ConnState, kind feed.EventKind) (ConnState, bool) {
	switch kind {
	case feed.EventFrontConnected:
		return StateConnecting, true
	case feed.EventFrontDisconnected:
		return StateDisconnected, true
	case feed.EventLoginSuccess:
		if cur == StateConnecting || cur == StateLoggedIn {
			return StateLoggedIn, true
		}
		return cur, false
	case feed.EventLoginFailure:
		if cur == StateConnecting {
			return StateConnecting, true
		}
		return cur, false
	default:
		return cur, false
	}
}
