// Package sessions supplies per-instrument trading-session tables.
//
// A Source returns the ordered list of session ranges (start/end offsets
// within the trading day) for an instrument. The core never derives these
// itself; the file-backed implementation keys schedules by product code
// (the letter prefix of an instrument identifier) with a default fallback.
package sessions
