package sessiontime

import (
	"sort"

	"github.com/rickgao/market-watcher/internal/model"
)

// Validator accepts or rejects ticks for a single instrument.
//
// It holds the instrument's session boundaries as a flattened sorted list
// of mapped [start, end) pairs plus the last accepted logical timestamp.
// Validators carry per-day state and are rebuilt wholesale on every
// trading-day or subscription change; they are not safe for concurrent use
// and are only ever touched from the watcher's event loop.
type Validator struct {
	bounds []int64 // flattened [start, end) pairs in logical seconds
	last   int64   // last accepted logical timestamp in milliseconds
}

// NewValidator builds a Validator from an instrument's session ranges
// mapped through clock. Ranges whose mapped start lies before floor (the
// earliest acceptable logical time, used to suppress stale pre-weekend
// ticks) are dropped entirely.
func NewValidator(clock *Clock, ranges []model.SessionRange, floor int64) *Validator {
	bounds := make([]int64, 0, 2*len(ranges))
	for _, r := range ranges {
		start := clock.Map(r.Start)
		if start < floor {
			continue
		}
		bounds = append(bounds, start, clock.Map(r.End))
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	return &Validator{bounds: bounds}
}

// Empty reports whether the validator has no active session boundaries.
// An empty validator rejects every tick.
func (v *Validator) Empty() bool {
	return len(v.bounds) == 0
}

// Boundaries returns a copy of the flattened boundary list.
func (v *Validator) Boundaries() []int64 {
	out := make([]int64, len(v.bounds))
	copy(out, v.bounds)
	return out
}

// LastAccepted returns the logical timestamp of the last accepted tick,
// or 0 if none has been accepted yet.
func (v *Validator) LastAccepted() int64 {
	return v.last
}

// Validate decides whether a tick at mappedSec (logical seconds from the
// Clock) with the given sub-second remainder is acceptable.
//
// It rejects when no boundaries are loaded, when mappedSec falls outside
// every [start, end) pair, or when the combined millisecond timestamp is
// not strictly greater than the last accepted one (duplicates, regressions
// and feed clock corrections). On acceptance it returns the final logical
// timestamp in milliseconds and records it.
func (v *Validator) Validate(mappedSec int64, millisec int) (int64, bool) {
	if len(v.bounds) == 0 {
		return 0, false
	}

	inSession := false
	for i := 0; i+1 < len(v.bounds); i += 2 {
		if mappedSec >= v.bounds[i] && mappedSec < v.bounds[i+1] {
			inSession = true
			break
		}
	}
	if !inSession {
		return 0, false
	}

	// Merge sub-second resolution before the monotonicity check so several
	// ticks within the same whole second stay distinguishable.
	ts := mappedSec*1000 + int64(millisec)
	if ts <= v.last {
		return 0, false
	}

	v.last = ts
	return ts, true
}
