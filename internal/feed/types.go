package feed

import (
	"errors"
	"time"

	"github.com/rickgao/market-watcher/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// EventKind tags a feed event.
type EventKind int

const (
	EventFrontConnected EventKind = iota
	EventFrontDisconnected
	EventLoginSuccess
	EventLoginFailure
	EventTick
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventFrontConnected:
		return "front_connected"
	case EventFrontDisconnected:
		return "front_disconnected"
	case EventLoginSuccess:
		return "login_success"
	case EventLoginFailure:
		return "login_failure"
	case EventTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Event is a tagged feed event delivered to the watcher's processing loop.
// Exactly the fields matching Kind are populated.
type Event struct {
	Kind       EventKind
	TradingDay string        // EventLoginSuccess: "YYYYMMDD"
	Reason     int           // EventFrontDisconnected
	Message    string        // EventLoginFailure
	Tick       model.RawTick // EventTick
	ReceivedAt time.Time
}

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// loginRequest is the login frame sent after connecting.
type loginRequest struct {
	Op       string `json:"op"` // "login"
	BrokerID string `json:"broker_id"`
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// subscribeRequest asks the front server to stream the listed instruments.
type subscribeRequest struct {
	Op          string   `json:"op"` // "subscribe"
	Instruments []string `json:"instruments"`
}

// serverFrame is the envelope of every frame the front server sends.
type serverFrame struct {
	Type       string     `json:"type"` // "login", "error", "tick"
	TradingDay string     `json:"trading_day,omitempty"`
	Code       int        `json:"code,omitempty"`
	Message    string     `json:"message,omitempty"`
	Tick       *tickFrame `json:"tick,omitempty"`
}

// tickFrame carries one depth market data update.
type tickFrame struct {
	InstrumentID string  `json:"instrument_id"`
	UpdateTime   string  `json:"update_time"` // "HH:MM:SS"
	Millisec     int     `json:"update_millisec"`
	LastPrice    float64 `json:"last_price"`
	Volume       int64   `json:"volume"`
	AskPrice     float64 `json:"ask_price1"`
	AskVolume    int64   `json:"ask_volume1"`
	BidPrice     float64 `json:"bid_price1"`
	BidVolume    int64   `json:"bid_volume1"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // front server URL
	PingTimeout  time.Duration // max time without ping before considering connection stale
	WriteTimeout time.Duration // write deadline for sends
	BufferSize   int           // message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// ManagerConfig configures the feed Manager.
type ManagerConfig struct {
	URL               string
	BrokerID          string
	UserID            string
	Password          string
	ReconnectBaseWait time.Duration // base wait time for reconnection
	ReconnectMaxWait  time.Duration // max wait time for reconnection
	PingTimeout       time.Duration
	WriteTimeout      time.Duration
	BufferSize        int // client message buffer and event queue capacity
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        10000,
	}
}
