package model

import "time"

// SessionRange is a contiguous trading interval within one trading day,
// expressed as seconds-since-midnight offsets. End may be numerically less
// than Start when the session continues past midnight into the next
// calendar date (e.g. a 21:00:00-02:30:00 night session).
type SessionRange struct {
	Start int // seconds since local midnight (0-86399)
	End   int // seconds since local midnight; < Start for overnight sessions
}

// Overnight reports whether the range crosses midnight.
func (r SessionRange) Overnight() bool {
	return r.End < r.Start
}

// RawTick is a tick exactly as delivered by the feed, before time mapping
// and validation.
type RawTick struct {
	InstrumentID string
	UpdateTime   string // "HH:MM:SS" wall-clock, exchange local time
	Millisec     int    // sub-second remainder (0-999)
	LastPrice    float64
	Volume       int64
	AskPrice     float64 // best ask
	AskVolume    int64
	BidPrice     float64 // best bid
	BidVolume    int64
	ReceivedAt   time.Time // local timestamp when the frame was read
}

// Tick is an accepted tick carrying its final logical timestamp.
// Timestamps are strictly increasing per instrument.
type Tick struct {
	InstrumentID string
	Timestamp    int64 // logical milliseconds: mapped second * 1000 + millisec
	LastPrice    float64
	Volume       int64
	AskPrice     float64
	AskVolume    int64
	BidPrice     float64
	BidVolume    int64
	ReceivedAt   time.Time
}
