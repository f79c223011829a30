// Package sessiontime implements session-aware time normalization.
//
// The Clock maps raw within-day offsets (seconds since local midnight) to
// logical timestamps anchored at the trading-day epoch, continuous across
// sessions that cross midnight. The Validator sits on top of the Clock and
// decides, per instrument, whether a mapped tick falls inside an active
// session and is strictly newer than the last accepted tick.
package sessiontime
