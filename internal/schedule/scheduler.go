package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const secondsPerDay = 86400

// Firing is emitted when a trigger instant elapses for one group.
type Firing struct {
	GroupIndex  int
	Instant     int      // seconds of day that triggered
	Instruments []string // the group's instrument set
	At          time.Time
}

// Scheduler walks the sorted union of all groups' trigger instants with a
// single timer and emits a Firing per matching group as each instant
// elapses. After the last instant of the day it rearms at the first
// instant of the following day. The table starts empty; Rebuild installs
// (or atomically replaces) it.
type Scheduler struct {
	logger *slog.Logger
	out    chan Firing

	mu       sync.Mutex
	groups   []Group
	instants []int // sorted distinct union across groups
	pending  int   // instant the armed timer will fire for
	gen      uint64
	timer    *time.Timer
	stopped  bool

	// now is replaceable in tests.
	now func() time.Time

	done chan struct{}
}

// New creates a Scheduler with an empty table.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		out:    make(chan Firing, 64),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Firings returns the channel on which firings are delivered.
func (s *Scheduler) Firings() <-chan Firing {
	return s.out
}

// Groups returns a snapshot of the current group table.
func (s *Scheduler) Groups() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Group, len(s.groups))
	copy(out, s.groups)
	return out
}

// Instants returns the sorted distinct trigger instants currently armed.
func (s *Scheduler) Instants() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.instants))
	copy(out, s.instants)
	return out
}

// Rebuild atomically replaces the group table and rearms the timer.
// Bumping the generation disarms any in-flight firing from the previous
// table so a stale instant cannot fire after the swap.
func (s *Scheduler) Rebuild(groups []Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.groups = groups
	s.instants = instantUnion(groups)

	if s.stopped {
		return
	}
	s.armLocked()

	s.logger.Info("schedule rebuilt",
		"groups", len(s.groups),
		"instants", len(s.instants),
	)
}

// Stop disarms the timer and stops emitting firings.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	close(s.done)

	s.logger.Info("scheduler stopped")
	return nil
}

// armLocked arms the timer for the next instant strictly after now.
// Caller must hold s.mu.
func (s *Scheduler) armLocked() {
	if len(s.instants) == 0 {
		return
	}

	instant, wait := nextInstant(s.instants, s.now())
	s.pending = instant
	gen := s.gen
	s.timer = time.AfterFunc(wait, func() { s.fire(gen) })

	s.logger.Debug("timer armed",
		"instant", instant,
		"wait", wait,
	)
}

// fire dispatches the pending instant to every group containing it, in
// group order, then rearms for the next instant.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}

	instant := s.pending
	at := s.now()
	var due []Firing
	for _, g := range s.groups {
		if containsInstant(g.Instants, instant) {
			due = append(due, Firing{
				GroupIndex:  g.Index,
				Instant:     instant,
				Instruments: append([]string(nil), g.Instruments...),
				At:          at,
			})
		}
	}
	s.armLocked()
	s.mu.Unlock()

	for _, f := range due {
		// A rebuild between dispatches invalidates the rest of this instant.
		s.mu.Lock()
		stale := gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}

		select {
		case s.out <- f:
		case <-s.done:
			return
		}
	}
}

// nextInstant returns the first instant strictly after now's time of day,
// wrapping to the first instant of the following day, and the wait until it.
func nextInstant(instants []int, now time.Time) (int, time.Duration) {
	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()

	for _, inst := range instants {
		if inst > nowSec {
			target := startOfDay(now).Add(time.Duration(inst) * time.Second)
			return inst, target.Sub(now)
		}
	}

	// Past the last instant: first instant tomorrow.
	inst := instants[0]
	target := startOfDay(now).AddDate(0, 0, 1).Add(time.Duration(inst) * time.Second)
	return inst, target.Sub(now)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func containsInstant(instants []int, instant int) bool {
	for _, v := range instants {
		if v == instant {
			return true
		}
	}
	return false
}
