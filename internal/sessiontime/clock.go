package sessiontime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SecondsPerDay is the number of seconds in one calendar day.
const SecondsPerDay = 86400

// DefaultOvernightCutoff is the within-day offset at or below which a tick
// is treated as the continuation of the previous evening's overnight
// session rather than the start of today's. Night sessions end at or
// before 02:30 and day sessions start at 09:00, so 05:00 splits the dead
// zone between them.
const DefaultOvernightCutoff = 5 * 3600

// Clock maps within-day offsets to logical timestamps for one trading day.
//
// A trading day must be set before Map is called. The mapping is pure given
// the current epoch: offsets at or below the overnight cutoff map to
// epoch + 86400 + offset, everything else to epoch + offset, which keeps
// logical time strictly increasing through a session like 21:00:00-02:30:00.
type Clock struct {
	epoch  int64 // Unix seconds at local midnight of the trading day
	cutoff int   // overnight continuation cutoff, seconds since midnight
	set    bool
}

// NewClock creates a Clock with the given overnight cutoff. A cutoff of
// zero selects DefaultOvernightCutoff.
func NewClock(cutoff int) *Clock {
	if cutoff == 0 {
		cutoff = DefaultOvernightCutoff
	}
	return &Clock{cutoff: cutoff}
}

// SetTradingDay fixes the trading-day epoch at local midnight of day.
// Must be called once per detected trading-day change before any Map call.
func (c *Clock) SetTradingDay(day time.Time) {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	c.epoch = midnight.Unix()
	c.set = true
}

// TradingDaySet reports whether SetTradingDay has been called.
func (c *Clock) TradingDaySet() bool {
	return c.set
}

// Epoch returns the current trading-day epoch in Unix seconds.
// Panics if no trading day has been set.
func (c *Clock) Epoch() int64 {
	if !c.set {
		panic("sessiontime: Epoch called before SetTradingDay")
	}
	return c.epoch
}

// Map converts a within-day offset (seconds since local midnight, 0-86399)
// to a logical timestamp in Unix seconds. Offsets at or below the overnight
// cutoff belong to the session that started the previous evening and map
// past midnight; ties favor continuity.
//
// Calling Map before SetTradingDay is a programming error and panics rather
// than silently producing a wrong timestamp.
func (c *Clock) Map(secondsSinceMidnight int) int64 {
	if !c.set {
		panic("sessiontime: Map called before SetTradingDay")
	}
	if secondsSinceMidnight <= c.cutoff {
		return c.epoch + SecondsPerDay + int64(secondsSinceMidnight)
	}
	return c.epoch + int64(secondsSinceMidnight)
}

// ParseHHMMSS converts a "HH:MM:SS" wall-clock string to seconds since
// midnight.
func ParseHHMMSS(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed time %q: want HH:MM:SS", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed minute in %q: %w", s, err)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("malformed second in %q: %w", s, err)
	}

	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*3600 + m*60 + sec, nil
}
