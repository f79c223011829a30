package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/market-watcher/internal/calendar"
	"github.com/rickgao/market-watcher/internal/feed"
	"github.com/rickgao/market-watcher/internal/model"
	"github.com/rickgao/market-watcher/internal/schedule"
	"github.com/rickgao/market-watcher/internal/sessions"
)

type fakeFeed struct {
	events *feed.EventQueue

	mu         sync.Mutex
	subscribed [][]string
	err        error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: feed.NewEventQueue(64)}
}

func (f *fakeFeed) Events() *feed.EventQueue { return f.events }

func (f *fakeFeed) Subscribe(instruments []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subscribed = append(f.subscribed, instruments)
	return nil
}

func (f *fakeFeed) subscribeCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}

type fakeSink struct {
	mu     sync.Mutex
	writes map[string][]model.Tick
	err    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{writes: make(map[string][]model.Tick)}
}

func (s *fakeSink) WriteTicks(_ context.Context, instrumentID string, ticks []model.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes[instrumentID] = append(s.writes[instrumentID], ticks...)
	return nil
}

func (s *fakeSink) written(instrumentID string) []model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[instrumentID]
}

// testSessions returns a table with a single overnight session for copper
// and the default day sessions for everything else.
func testSessions() sessions.Source {
	return sessions.NewStaticSource(
		sessions.DefaultRanges(),
		map[string][]model.SessionRange{
			"cu": {{Start: 21 * 3600, End: 2*3600 + 30*60}}, // 21:00:00-02:30:00
		},
	)
}

func newTestWatcher(t *testing.T, save bool) (*Watcher, *fakeFeed, *fakeSink) {
	t.Helper()

	f := newFakeFeed()
	sink := newFakeSink()
	w := New(Config{
		SaveTicks:        save,
		Instruments:      []string{"cu1705", "IF1705"},
		FlushDelay:       60 * time.Second,
		NightCutoff:      5 * time.Hour,
		SettlementCutoff: 5 * time.Hour,
	}, f, calendar.NewWeekdayCalendar(nil), testSessions(), sink, schedule.New(nil), nil)
	return w, f, sink
}

// login drives the connect/login event pair for a Monday trading day.
func login(w *Watcher, tradingDay string) {
	w.handleEvent(feed.Event{Kind: feed.EventFrontConnected})
	w.handleEvent(feed.Event{Kind: feed.EventLoginSuccess, TradingDay: tradingDay})
}

func tick(instrument, updateTime string, millisec int) feed.Event {
	return feed.Event{
		Kind: feed.EventTick,
		Tick: model.RawTick{
			InstrumentID: instrument,
			UpdateTime:   updateTime,
			Millisec:     millisec,
			LastPrice:    45780,
			Volume:       12,
		},
	}
}

func TestNextState(t *testing.T) {
	tests := []struct {
		cur  ConnState
		kind feed.EventKind
		want ConnState
		ok   bool
	}{
		{StateDisconnected, feed.EventFrontConnected, StateConnecting, true},
		{StateConnecting, feed.EventLoginSuccess, StateLoggedIn, true},
		{StateConnecting, feed.EventLoginFailure, StateConnecting, true},
		{StateLoggedIn, feed.EventLoginSuccess, StateLoggedIn, true},
		{StateLoggedIn, feed.EventFrontDisconnected, StateDisconnected, true},
		{StateDisconnected, feed.EventLoginSuccess, StateDisconnected, false},
		{StateDisconnected, feed.EventLoginFailure, StateDisconnected, false},
	}

	for _, tt := range tests {
		got, ok := nextState(tt.cur, tt.kind)
		if got != tt.want || ok != tt.ok {
			t.Errorf("nextState(%v, %v) = (%v, %v), want (%v, %v)",
				tt.cur, tt.kind, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLoginBuildsTablesAndSubscribes(t *testing.T) {
	w, f, _ := newTestWatcher(t, true)

	login(w, "20170306")

	if w.state != StateLoggedIn {
		t.Fatalf("state = %v, want %v", w.state, StateLoggedIn)
	}
	if w.Status() != "Ready" {
		t.Errorf("Status() = %q, want Ready", w.Status())
	}
	if len(w.validators) != 2 {
		t.Errorf("validators = %d, want 2", len(w.validators))
	}

	calls := f.subscribeCalls()
	if len(calls) != 1 {
		t.Fatalf("subscribe calls = %d, want 1", len(calls))
	}
	if len(calls[0]) != 2 || calls[0][0] != "IF1705" || calls[0][1] != "cu1705" {
		t.Errorf("subscribed %v, want sorted [IF1705 cu1705]", calls[0])
	}

	// cu and IF have different close times, so two groups.
	groups := w.sched.Groups()
	if len(groups) != 2 {
		t.Errorf("schedule groups = %d, want 2", len(groups))
	}
}

func TestTickAcceptanceAndBuffering(t *testing.T) {
	w, _, _ := newTestWatcher(t, true)
	login(w, "20170306")

	var seen []model.Tick
	w.AddObserver(func(tk model.Tick) { seen = append(seen, tk) })

	w.handleEvent(tick("cu1705", "21:35:07", 500)) // night leg
	w.handleEvent(tick("cu1705", "01:30:00", 0))   // post-midnight leg
	w.handleEvent(tick("cu1705", "01:30:00", 0))   // duplicate
	w.handleEvent(tick("cu1705", "03:00:00", 0))   // past session end
	w.handleEvent(tick("zn9999", "21:35:07", 0))   // never subscribed
	w.handleEvent(tick("cu1705", "bogus", 0))      // malformed time

	if len(seen) != 2 {
		t.Fatalf("observed %d ticks, want 2", len(seen))
	}
	if seen[1].Timestamp <= seen[0].Timestamp {
		t.Errorf("timestamps not increasing across midnight: %d then %d",
			seen[0].Timestamp, seen[1].Timestamp)
	}

	wantFirst := (w.clock.Epoch()+int64(21*3600+35*60+7))*1000 + 500
	if seen[0].Timestamp != wantFirst {
		t.Errorf("first timestamp = %d, want %d", seen[0].Timestamp, wantFirst)
	}
	wantSecond := (w.clock.Epoch() + 86400 + int64(90*60)) * 1000
	if seen[1].Timestamp != wantSecond {
		t.Errorf("second timestamp = %d, want %d", seen[1].Timestamp, wantSecond)
	}

	if got := len(w.buffers["cu1705"]); got != 2 {
		t.Errorf("buffered = %d, want 2", got)
	}

	stats := w.GetStats()
	if stats.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", stats.Accepted)
	}
	if stats.Rejected != 4 {
		t.Errorf("rejected = %d, want 4", stats.Rejected)
	}
}

func TestSaveTicksOffSkipsBuffering(t *testing.T) {
	w, _, _ := newTestWatcher(t, false)
	login(w, "20170306")

	var seen int
	w.AddObserver(func(model.Tick) { seen++ })

	w.handleEvent(tick("cu1705", "21:35:07", 0))

	if seen != 1 {
		t.Errorf("observed %d ticks, want 1", seen)
	}
	if len(w.buffers) != 0 {
		t.Errorf("buffers populated with save_ticks off")
	}
	if got := len(w.sched.Instants()); got != 0 {
		t.Errorf("scheduler armed with %d instants with save_ticks off", got)
	}
}

func TestFiringFlushesOnlyItsGroup(t *testing.T) {
	w, _, sink := newTestWatcher(t, true)
	login(w, "20170306")
	// Monday afternoon.
	w.now = func() time.Time { return time.Date(2017, 3, 6, 15, 2, 0, 0, time.Local) }

	w.handleEvent(tick("cu1705", "21:35:07", 0))
	w.handleEvent(tick("IF1705", "10:45:00", 0))

	w.handleFiring(schedule.Firing{Instant: 9060, Instruments: []string{"cu1705"}})

	if got := len(sink.written("cu1705")); got != 1 {
		t.Errorf("cu1705 ticks written = %d, want 1", got)
	}
	if got := len(sink.written("IF1705")); got != 0 {
		t.Errorf("IF1705 ticks written = %d, want 0", got)
	}
	if _, ok := w.buffers["cu1705"]; ok {
		t.Errorf("cu1705 buffer not cleared after flush")
	}
	if got := len(w.buffers["IF1705"]); got != 1 {
		t.Errorf("IF1705 buffer = %d ticks, want 1", got)
	}
}

func TestFlushErrorDropsBatch(t *testing.T) {
	w, _, sink := newTestWatcher(t, true)
	login(w, "20170306")
	w.now = func() time.Time { return time.Date(2017, 3, 6, 15, 2, 0, 0, time.Local) }

	w.handleEvent(tick("cu1705", "21:35:07", 0))
	sink.err = errors.New("database unavailable")

	w.handleFiring(schedule.Firing{Instruments: []string{"cu1705"}})

	if _, ok := w.buffers["cu1705"]; ok {
		t.Errorf("failed batch retained; it should be dropped")
	}
}

func TestNonTradingDayDiscardsBuffers(t *testing.T) {
	w, _, sink := newTestWatcher(t, true)
	login(w, "20170303") // Friday
	// Sunday: Saturday didn't trade, so this is not the settlement window.
	w.now = func() time.Time { return time.Date(2017, 3, 5, 15, 1, 0, 0, time.Local) }

	w.handleEvent(tick("cu1705", "21:35:07", 0))
	w.handleFiring(schedule.Firing{Instruments: []string{"cu1705"}})

	if got := len(sink.written("cu1705")); got != 0 {
		t.Errorf("ticks written on non-trading day = %d, want 0", got)
	}
	if len(w.buffers) != 0 {
		t.Errorf("buffers not discarded")
	}

	// Floor is 08:00 of Monday 2017-03-06; everything before it is rejected,
	// so every Friday-anchored session is gone.
	monday := time.Date(2017, 3, 6, 8, 0, 0, 0, time.Local)
	if w.earliest != monday.Unix() {
		t.Errorf("earliest = %d, want %d", w.earliest, monday.Unix())
	}
	if len(w.validators) != 0 {
		t.Errorf("validators survive discard: %d, want 0", len(w.validators))
	}

	if got := w.GetStats().Discards; got != 1 {
		t.Errorf("discards = %d, want 1", got)
	}
}

func TestSaturdaySettlementWindowStillFlushes(t *testing.T) {
	w, _, sink := newTestWatcher(t, true)
	login(w, "20170303") // Friday
	// Saturday 02:31, just after the night session close: Friday traded and
	// the next trading day is Monday, so the flush still runs.
	w.now = func() time.Time { return time.Date(2017, 3, 4, 2, 31, 0, 0, time.Local) }

	w.handleEvent(tick("cu1705", "21:35:07", 0))
	w.handleFiring(schedule.Firing{Instruments: []string{"cu1705"}})

	if got := len(sink.written("cu1705")); got != 1 {
		t.Errorf("settlement flush wrote %d ticks, want 1", got)
	}
}

func TestSaturdayPastCutoffDiscards(t *testing.T) {
	w, _, sink := newTestWatcher(t, true)
	login(w, "20170303")
	// Saturday 06:00: past the settlement cutoff.
	w.now = func() time.Time { return time.Date(2017, 3, 4, 6, 0, 0, 0, time.Local) }

	w.handleEvent(tick("cu1705", "21:35:07", 0))
	w.handleFiring(schedule.Firing{Instruments: []string{"cu1705"}})

	if got := len(sink.written("cu1705")); got != 0 {
		t.Errorf("ticks written past settlement cutoff = %d, want 0", got)
	}
	if len(w.buffers) != 0 {
		t.Errorf("buffers not discarded past settlement cutoff")
	}
}

func TestHolidayMondayBreaksSettlementWindow(t *testing.T) {
	w, _, sink := newTestWatcher(t, true)

	holiday := time.Date(2017, 3, 6, 0, 0, 0, 0, time.Local) // Monday
	w.cal = calendar.NewWeekdayCalendar([]time.Time{holiday})

	login(w, "20170303")
	// Saturday 02:31, but Monday is a holiday: the gap is three days, so
	// Friday's night buffers are discarded instead of flushed.
	w.now = func() time.Time { return time.Date(2017, 3, 4, 2, 31, 0, 0, time.Local) }

	w.handleEvent(tick("cu1705", "21:35:07", 0))
	w.handleFiring(schedule.Firing{Instruments: []string{"cu1705"}})

	if got := len(sink.written("cu1705")); got != 0 {
		t.Errorf("ticks written across holiday weekend = %d, want 0", got)
	}
}

func TestTradingDayChangeRebuilds(t *testing.T) {
	w, _, _ := newTestWatcher(t, true)
	login(w, "20170306")

	w.handleEvent(tick("cu1705", "21:35:07", 0))
	w.handleEvent(tick("cu1705", "21:35:07", 0)) // duplicate rejected
	if got := w.GetStats().Rejected; got != 1 {
		t.Fatalf("rejected = %d, want 1", got)
	}

	// Relogin on the same day keeps validator state: still a duplicate.
	w.handleEvent(feed.Event{Kind: feed.EventFrontDisconnected})
	login(w, "20170306")
	w.handleEvent(tick("cu1705", "21:35:07", 0))
	if got := w.GetStats().Rejected; got != 2 {
		t.Errorf("rejected after same-day relogin = %d, want 2", got)
	}

	// A new trading day re-anchors the clock and resets validators, so the
	// same wall-clock tick is acceptable again.
	w.handleEvent(feed.Event{Kind: feed.EventFrontDisconnected})
	login(w, "20170307")
	w.handleEvent(tick("cu1705", "21:35:07", 0))
	if got := w.GetStats().Accepted; got != 2 {
		t.Errorf("accepted after day change = %d, want 2", got)
	}
	if w.GetStats().TradingDay != "20170307" {
		t.Errorf("trading day = %q, want 20170307", w.GetStats().TradingDay)
	}
}

func TestRuntimeSubscribeExtendsTables(t *testing.T) {
	w, f, _ := newTestWatcher(t, true)
	login(w, "20170306")

	w.handleSubscribe([]string{"zn1705"})

	if _, ok := w.validators["zn1705"]; !ok {
		t.Fatalf("no validator for runtime-subscribed instrument")
	}

	calls := f.subscribeCalls()
	if len(calls) != 2 {
		t.Fatalf("subscribe calls = %d, want 2", len(calls))
	}
	if len(calls[1]) != 1 || calls[1][0] != "zn1705" {
		t.Errorf("runtime subscribe sent %v, want [zn1705]", calls[1])
	}

	// Already-known instruments are not resent.
	w.handleSubscribe([]string{"zn1705"})
	if got := len(f.subscribeCalls()); got != 2 {
		t.Errorf("duplicate subscribe triggered a resend: %d calls", got)
	}

	w.handleEvent(tick("zn1705", "10:45:00", 0))
	if got := w.GetStats().Accepted; got != 1 {
		t.Errorf("accepted = %d, want 1", got)
	}
}

func TestSubscribeBeforeLoginDefersSend(t *testing.T) {
	w, f, _ := newTestWatcher(t, true)

	w.handleSubscribe([]string{"zn1705"})
	if got := len(f.subscribeCalls()); got != 0 {
		t.Fatalf("subscribe sent before login: %d calls", got)
	}

	login(w, "20170306")
	calls := f.subscribeCalls()
	if len(calls) != 1 {
		t.Fatalf("subscribe calls = %d, want 1", len(calls))
	}
	if len(calls[0]) != 3 {
		t.Errorf("login subscribe sent %v, want all three instruments", calls[0])
	}
}

func TestTicksBeforeLoginRejected(t *testing.T) {
	w, _, _ := newTestWatcher(t, true)

	w.handleEvent(tick("cu1705", "21:35:07", 0))

	if got := w.GetStats().Rejected; got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
	if got := w.GetStats().Accepted; got != 0 {
		t.Errorf("accepted = %d, want 0", got)
	}
}

func TestEventLoopDrainsQueue(t *testing.T) {
	w, f, _ := newTestWatcher(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.events.Send(feed.Event{Kind: feed.EventFrontConnected})
	f.events.Send(feed.Event{Kind: feed.EventLoginSuccess, TradingDay: "20170306"})
	f.events.Send(tick("cu1705", "21:35:07", 0))

	deadline := time.After(2 * time.Second)
	for w.GetStats().Accepted < 1 {
		select {
		case <-deadline:
			t.Fatalf("tick not processed: stats = %+v", w.GetStats())
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
