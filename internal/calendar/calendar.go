package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// dateLayout is the format holidays are listed in.
const dateLayout = "2006-01-02"

// Calendar answers trading-day queries.
type Calendar interface {
	// IsTradingDay reports whether date (by calendar day) is a trading day.
	IsTradingDay(date time.Time) bool

	// NextTradingDay returns the first trading day strictly after date.
	NextTradingDay(date time.Time) time.Time
}

// WeekdayCalendar treats Monday-Friday as trading days, minus an explicit
// holiday list.
type WeekdayCalendar struct {
	holidays map[string]struct{}
}

// NewWeekdayCalendar creates a calendar with the given holidays.
func NewWeekdayCalendar(holidays []time.Time) *WeekdayCalendar {
	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		set[h.Format(dateLayout)] = struct{}{}
	}
	return &WeekdayCalendar{holidays: set}
}

// IsTradingDay reports whether date is a weekday and not a listed holiday.
func (c *WeekdayCalendar) IsTradingDay(date time.Time) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[date.Format(dateLayout)]
	return !holiday
}

// NextTradingDay returns the first trading day strictly after date.
func (c *WeekdayCalendar) NextTradingDay(date time.Time) time.Time {
	d := date
	for i := 0; i < 370; i++ {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return d
		}
	}
	// A year without a trading day means the holiday list is nonsense.
	panic("calendar: no trading day within a year of " + date.Format(dateLayout))
}

// holidayFile is the YAML shape of a holiday list.
type holidayFile struct {
	Holidays []string `yaml:"holidays"`
}

// LoadHolidays reads a YAML holiday list ("holidays: [2017-01-27, ...]").
func LoadHolidays(path string) ([]time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday file: %w", err)
	}

	var f holidayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse holiday yaml: %w", err)
	}

	out := make([]time.Time, 0, len(f.Holidays))
	for _, s := range f.Holidays {
		d, err := time.ParseInLocation(dateLayout, s, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}
