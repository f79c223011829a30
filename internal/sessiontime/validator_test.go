package sessiontime

import (
	"reflect"
	"testing"

	"github.com/rickgao/market-watcher/internal/model"
)

func newTestClock(t *testing.T) *Clock {
	t.Helper()
	c := NewClock(0)
	c.SetTradingDay(tradingDay(t))
	return c
}

func TestValidatorAcceptsIncreasingTicksInSession(t *testing.T) {
	c := newTestClock(t)
	v := NewValidator(c, []model.SessionRange{
		{Start: 9 * 3600, End: 11*3600 + 30*60},
	}, 0)

	ticks := []struct {
		sec int
		ms  int
	}{
		{9 * 3600, 0},
		{9 * 3600, 500},
		{9*3600 + 1, 0},
		{10 * 3600, 250},
	}

	var last int64
	for _, tk := range ticks {
		ts, ok := v.Validate(c.Map(tk.sec), tk.ms)
		if !ok {
			t.Fatalf("Validate(%d, %d) rejected, want accept", tk.sec, tk.ms)
		}
		if ts <= last {
			t.Errorf("timestamp %d not strictly greater than previous %d", ts, last)
		}
		last = ts
	}
}

func TestValidatorRejectsOutsideAllRanges(t *testing.T) {
	c := newTestClock(t)
	v := NewValidator(c, []model.SessionRange{
		{Start: 9 * 3600, End: 10*3600 + 15*60},
		{Start: 10*3600 + 30*60, End: 11*3600 + 30*60},
	}, 0)

	// 10:20:00 is strictly between the two ranges.
	if _, ok := v.Validate(c.Map(10*3600+20*60), 999); ok {
		t.Error("tick between session ranges accepted, want reject")
	}
	// End boundary is exclusive.
	if _, ok := v.Validate(c.Map(11*3600+30*60), 0); ok {
		t.Error("tick at exclusive end boundary accepted, want reject")
	}
	// Start boundary is inclusive.
	if _, ok := v.Validate(c.Map(10*3600+30*60), 0); !ok {
		t.Error("tick at inclusive start boundary rejected, want accept")
	}
}

func TestValidatorRejectsDuplicate(t *testing.T) {
	c := newTestClock(t)
	v := NewValidator(c, []model.SessionRange{
		{Start: 9 * 3600, End: 11 * 3600},
	}, 0)

	mapped := c.Map(9*3600 + 30)
	if _, ok := v.Validate(mapped, 500); !ok {
		t.Fatal("first tick rejected, want accept")
	}
	if _, ok := v.Validate(mapped, 500); ok {
		t.Error("duplicate tick accepted, want reject")
	}
	if _, ok := v.Validate(mapped, 250); ok {
		t.Error("regressing tick accepted, want reject")
	}
	if _, ok := v.Validate(mapped, 750); !ok {
		t.Error("later tick in same second rejected, want accept")
	}
}

func TestValidatorOvernightSession(t *testing.T) {
	c := newTestClock(t)
	v := NewValidator(c, []model.SessionRange{
		{Start: 21 * 3600, End: 2*3600 + 30*60},
	}, 0)

	ts1, ok := v.Validate(c.Map(23*3600), 0) // 23:00:00
	if !ok {
		t.Fatal("23:00:00 tick rejected, want accept")
	}
	ts2, ok := v.Validate(c.Map(1*3600), 0) // 01:00:00 next calendar date
	if !ok {
		t.Fatal("01:00:00 tick rejected, want accept")
	}
	if ts2 <= ts1 {
		t.Errorf("cross-midnight timestamps not increasing: %d <= %d", ts2, ts1)
	}

	// 02:30:00 is the exclusive session end.
	if _, ok := v.Validate(c.Map(2*3600+30*60), 0); ok {
		t.Error("tick at session end accepted, want reject")
	}
}

func TestValidatorEmptyRejectsEverything(t *testing.T) {
	c := newTestClock(t)
	v := NewValidator(c, nil, 0)

	if !v.Empty() {
		t.Error("Empty() = false for validator with no ranges")
	}
	if _, ok := v.Validate(c.Map(9*3600), 0); ok {
		t.Error("empty validator accepted a tick")
	}
}

func TestValidatorDropsRangesBelowFloor(t *testing.T) {
	c := newTestClock(t)

	// Floor past the morning session: only the afternoon session survives.
	floor := c.Map(12 * 3600)
	v := NewValidator(c, []model.SessionRange{
		{Start: 9 * 3600, End: 11*3600 + 30*60},
		{Start: 13*3600 + 30*60, End: 15 * 3600},
	}, floor)

	if got := len(v.Boundaries()); got != 2 {
		t.Fatalf("len(Boundaries()) = %d, want 2", got)
	}
	if _, ok := v.Validate(c.Map(10*3600), 0); ok {
		t.Error("tick in dropped morning session accepted, want reject")
	}
	if _, ok := v.Validate(c.Map(14*3600), 0); !ok {
		t.Error("tick in surviving afternoon session rejected, want accept")
	}
}

func TestValidatorRebuildIdempotent(t *testing.T) {
	c := newTestClock(t)
	ranges := []model.SessionRange{
		{Start: 21 * 3600, End: 1 * 3600},
		{Start: 9 * 3600, End: 11*3600 + 30*60},
		{Start: 13*3600 + 30*60, End: 15 * 3600},
	}

	v1 := NewValidator(c, ranges, 0)
	v2 := NewValidator(c, ranges, 0)

	if !reflect.DeepEqual(v1.Boundaries(), v2.Boundaries()) {
		t.Errorf("rebuild produced different boundaries: %v vs %v",
			v1.Boundaries(), v2.Boundaries())
	}

	// Boundaries must come out sorted even when ranges are not.
	b := v1.Boundaries()
	for i := 1; i < len(b); i++ {
		if b[i] < b[i-1] {
			t.Fatalf("boundaries not sorted: %v", b)
		}
	}
}
