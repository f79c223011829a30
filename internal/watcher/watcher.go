package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/market-watcher/internal/calendar"
	"github.com/rickgao/market-watcher/internal/feed"
	"github.com/rickgao/market-watcher/internal/model"
	"github.com/rickgao/market-watcher/internal/persist"
	"github.com/rickgao/market-watcher/internal/schedule"
	"github.com/rickgao/market-watcher/internal/sessions"
	"github.com/rickgao/market-watcher/internal/sessiontime"
)

// tradingDayLayout is the feed's trading-day format.
const tradingDayLayout = "20060102"

// settlementOffsetSec is the seconds past midnight of the next trading day
// before which ticks remain unacceptable after a weekend or holiday
// discard. Day sessions open well after 08:00, so anything earlier is a
// leftover from the previous week.
const settlementOffsetSec = 8 * 3600

// Feed is the slice of the feed manager the watcher consumes.
type Feed interface {
	Events() *feed.EventQueue
	Subscribe(instruments []string) error
}

// Observer is invoked synchronously for every accepted tick.
type Observer func(tick model.Tick)

// Config carries the watcher's behavioral settings.
type Config struct {
	SaveTicks        bool          // buffer accepted ticks and flush them to the sink
	Instruments      []string      // initial subscription set
	FlushDelay       time.Duration // lag between a session close and its flush instant
	NightCutoff      time.Duration // time-of-day at or below which ticks belong to the post-midnight leg
	SettlementCutoff time.Duration // Saturday time-of-day up to which settlement flushes still run
}

// Stats is a snapshot of watcher counters for the health endpoint.
type Stats struct {
	State         string `json:"state"`
	TradingDay    string `json:"trading_day"`
	Instruments   int    `json:"instruments"`
	Validators    int    `json:"validators"`
	Accepted      int64  `json:"accepted"`
	Rejected      int64  `json:"rejected"`
	Flushes       int64  `json:"flushes"`
	Discards      int64  `json:"discards"`
	BufferedTicks int    `json:"buffered_ticks"`
}

// Watcher validates ticks from the feed, buffers them per instrument, and
// flushes each buffer shortly after its sessions close.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	feed  Feed
	cal   calendar.Calendar
	table sessions.Source
	sink  persist.Sink
	sched *schedule.Scheduler

	// Core state, touched only from the event loop.
	clock      *sessiontime.Clock
	state      ConnState
	tradingDay string
	earliest   int64 // floor on acceptable logical timestamps, in seconds
	subscribed map[string]struct{}
	validators map[string]*sessiontime.Validator
	buffers    map[string][]model.Tick
	observers  []Observer

	subCh chan []string

	// now is replaceable in tests.
	now func() time.Time

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a Watcher. The sink may be nil when cfg.SaveTicks is false.
func New(cfg Config, f Feed, cal calendar.Calendar, table sessions.Source, sink persist.Sink, sched *schedule.Scheduler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	subscribed := make(map[string]struct{}, len(cfg.Instruments))
	for _, id := range cfg.Instruments {
		subscribed[id] = struct{}{}
	}

	return &Watcher{
		cfg:        cfg,
		logger:     logger,
		feed:       f,
		cal:        cal,
		table:      table,
		sink:       sink,
		sched:      sched,
		clock:      sessiontime.NewClock(int(cfg.NightCutoff / time.Second)),
		state:      StateDisconnected,
		subscribed: subscribed,
		validators: make(map[string]*sessiontime.Validator),
		buffers:    make(map[string][]model.Tick),
		subCh:      make(chan []string, 16),
		now:        time.Now,
		ctx:        context.Background(),
	}
}

// AddObserver registers an accepted-tick callback. Must be called before
// Start.
func (w *Watcher) AddObserver(ob Observer) {
	w.observers = append(w.observers, ob)
}

// Start launches the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("watcher started",
		"instruments", len(w.subscribed),
		"save_ticks", w.cfg.SaveTicks,
	)
	return nil
}

// Stop cancels the event loop and waits for it to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("watcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("watcher stop: %w", ctx.Err())
	}
}

// SubscribeInstruments adds instruments to the watched set at runtime. The
// change is applied asynchronously on the event loop.
func (w *Watcher) SubscribeInstruments(instruments []string) {
	select {
	case w.subCh <- instruments:
	case <-w.ctx.Done():
	}
}

// Status reports "Ready" once the feed login has completed, "NotReady"
// otherwise.
func (w *Watcher) Status() string {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	if w.stats.State == StateLoggedIn.String() {
		return "Ready"
	}
	return "NotReady"
}

// GetStats returns a snapshot of the watcher's counters.
func (w *Watcher) GetStats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// run is the single event loop. Scheduler firings and subscription changes
// go through channels; feed events are polled off the queue so a quiet
// feed never blocks a pending firing.
func (w *Watcher) run() {
	defer w.wg.Done()

	events := w.feed.Events()
	for {
		select {
		case <-w.ctx.Done():
			return
		case f := <-w.sched.Firings():
			w.handleFiring(f)
			continue
		case list := <-w.subCh:
			w.handleSubscribe(list)
			continue
		default:
		}

		ev, ok := events.TryReceive()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case f := <-w.sched.Firings():
				w.handleFiring(f)
			case list := <-w.subCh:
				w.handleSubscribe(list)
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		w.handleEvent(ev)
	}
}

// handleEvent applies one feed event to the connection state machine and
// dispatches ticks.
func (w *Watcher) handleEvent(ev feed.Event) {
	if ev.Kind == feed.EventTick {
		w.handleTick(ev.Tick)
		return
	}

	next, ok := nextState(w.state, ev.Kind)
	if !ok {
		w.logger.Warn("unexpected feed event for state",
			"event", ev.Kind,
			"state", w.state,
		)
		return
	}
	w.state = next

	switch ev.Kind {
	case feed.EventFrontConnected:
		w.logger.Info("front connected")
	case feed.EventFrontDisconnected:
		w.logger.Warn("front disconnected", "reason", ev.Reason)
	case feed.EventLoginFailure:
		w.logger.Error("login rejected", "message", ev.Message)
	case feed.EventLoginSuccess:
		w.onLogin(ev.TradingDay)
	}
	w.publishStats()
}

// onLogin handles a completed login: on a trading-day change the clock is
// re-anchored and the validator and schedule tables rebuilt, then the full
// subscription set is (re)sent to the front.
func (w *Watcher) onLogin(tradingDay string) {
	w.logger.Info("logged in", "trading_day", tradingDay)

	if tradingDay != w.tradingDay {
		day, err := time.ParseInLocation(tradingDayLayout, tradingDay, time.Local)
		if err != nil {
			w.logger.Error("unparseable trading day from front",
				"trading_day", tradingDay,
				"error", err,
			)
			return
		}
		w.tradingDay = tradingDay
		w.clock.SetTradingDay(day)
		w.rebuild()
	}

	if err := w.feed.Subscribe(w.subscriptionList()); err != nil {
		w.logger.Error("subscribe failed", "error", err)
	}
}

// handleSubscribe extends the watched set at runtime and rebuilds the
// validator and schedule tables so the new instruments get boundaries and
// flush instants immediately.
func (w *Watcher) handleSubscribe(instruments []string) {
	added := 0
	for _, id := range instruments {
		if _, ok := w.subscribed[id]; !ok {
			w.subscribed[id] = struct{}{}
			added++
		}
	}
	if added == 0 {
		return
	}
	w.logger.Info("subscription set extended", "added", added, "total", len(w.subscribed))

	if w.state != StateLoggedIn {
		return // the full set is sent on the next login
	}
	if err := w.feed.Subscribe(instruments); err != nil {
		w.logger.Error("subscribe failed", "error", err)
	}
	if w.clock.TradingDaySet() {
		w.rebuild()
	}
	w.publishStats()
}

// handleTick validates one raw tick, notifies observers, and buffers it
// for the next flush when persistence is on. Rejected ticks are counted
// and dropped.
func (w *Watcher) handleTick(raw model.RawTick) {
	v := w.validators[raw.InstrumentID]
	if v == nil {
		w.reject()
		return
	}

	sec, err := sessiontime.ParseHHMMSS(raw.UpdateTime)
	if err != nil {
		w.logger.Debug("malformed tick time",
			"instrument", raw.InstrumentID,
			"update_time", raw.UpdateTime,
		)
		w.reject()
		return
	}

	ts, ok := v.Validate(w.clock.Map(sec), raw.Millisec)
	if !ok {
		w.reject()
		return
	}

	tick := model.Tick{
		InstrumentID: raw.InstrumentID,
		Timestamp:    ts,
		LastPrice:    raw.LastPrice,
		Volume:       raw.Volume,
		AskPrice:     raw.AskPrice,
		AskVolume:    raw.AskVolume,
		BidPrice:     raw.BidPrice,
		BidVolume:    raw.BidVolume,
		ReceivedAt:   raw.ReceivedAt,
	}

	for _, ob := range w.observers {
		ob(tick)
	}
	if w.cfg.SaveTicks {
		w.buffers[raw.InstrumentID] = append(w.buffers[raw.InstrumentID], tick)
	}

	w.statsMu.Lock()
	w.stats.Accepted++
	w.stats.BufferedTicks = w.bufferedLocked()
	w.statsMu.Unlock()
}

// handleFiring flushes the firing group's buffers, or discards everything
// when the firing lands on a non-trading day outside the Saturday
// settlement window.
func (w *Watcher) handleFiring(f schedule.Firing) {
	now := w.now()

	if !w.cal.IsTradingDay(now) && !w.settlementWindow(now) {
		w.discardBuffers(now)
		return
	}

	for _, id := range f.Instruments {
		buf := w.buffers[id]
		if len(buf) == 0 {
			continue
		}
		if err := w.sink.WriteTicks(w.ctx, id, buf); err != nil {
			w.logger.Error("flush failed",
				"instrument", id,
				"ticks", len(buf),
				"error", err,
			)
		} else {
			w.logger.Info("flushed instrument",
				"instrument", id,
				"ticks", len(buf),
				"instant", f.Instant,
			)
		}
		// The batch is gone either way; a refused batch is not retried.
		delete(w.buffers, id)
	}

	w.statsMu.Lock()
	w.stats.Flushes++
	w.stats.BufferedTicks = w.bufferedLocked()
	w.statsMu.Unlock()
}

// settlementWindow reports whether a non-trading-day firing is still part
// of Friday's night session settlement: yesterday traded, the weekend is a
// plain two-day gap, and it is not yet past the settlement cutoff.
func (w *Watcher) settlementWindow(now time.Time) bool {
	if !w.cal.IsTradingDay(now.AddDate(0, 0, -1)) {
		return false
	}
	next := w.cal.NextTradingDay(now)
	expected := now.AddDate(0, 0, 2)
	if next.Year() != expected.Year() || next.YearDay() != expected.YearDay() {
		return false
	}

	sec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	return time.Duration(sec)*time.Second <= w.cfg.SettlementCutoff
}

// discardBuffers drops everything buffered and raises the acceptance floor
// to the morning of the next trading day, so stale weekend and holiday
// replays never reach the sink.
func (w *Watcher) discardBuffers(now time.Time) {
	dropped := 0
	for _, buf := range w.buffers {
		dropped += len(buf)
	}
	w.buffers = make(map[string][]model.Tick)

	next := w.cal.NextTradingDay(now)
	midnight := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, now.Location())
	w.earliest = midnight.Unix() + settlementOffsetSec
	w.rebuild()

	w.logger.Info("non-trading day firing, buffers discarded",
		"ticks", dropped,
		"next_trading_day", next.Format(tradingDayLayout),
	)

	w.statsMu.Lock()
	w.stats.Discards++
	w.stats.BufferedTicks = 0
	w.statsMu.Unlock()
}

// rebuild replaces the validator table and, when persisting, the schedule
// group table wholesale from the current subscription set. Instruments
// without a session table get no validator and no flush instants.
func (w *Watcher) rebuild() {
	w.validators = make(map[string]*sessiontime.Validator, len(w.subscribed))
	closes := make(map[string][]int, len(w.subscribed))

	for id := range w.subscribed {
		ranges := w.table.SessionRanges(id)
		if len(ranges) == 0 {
			w.logger.Warn("no session table for instrument", "instrument", id)
			continue
		}

		ends := make([]int, 0, len(ranges))
		for _, r := range ranges {
			ends = append(ends, r.End)
		}
		closes[id] = ends

		v := sessiontime.NewValidator(w.clock, ranges, w.earliest)
		if v.Empty() {
			w.logger.Debug("no acceptable sessions today", "instrument", id)
			continue
		}
		w.validators[id] = v
	}

	if w.cfg.SaveTicks {
		w.sched.Rebuild(schedule.BuildGroups(closes, int(w.cfg.FlushDelay/time.Second)))
	}

	w.logger.Info("validator table rebuilt",
		"instruments", len(w.subscribed),
		"validators", len(w.validators),
	)
	w.publishStats()
}

func (w *Watcher) subscriptionList() []string {
	out := make([]string, 0, len(w.subscribed))
	for id := range w.subscribed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) reject() {
	w.statsMu.Lock()
	w.stats.Rejected++
	w.statsMu.Unlock()
}

// bufferedLocked sums buffered ticks. Caller must hold statsMu.
func (w *Watcher) bufferedLocked() int {
	n := 0
	for _, buf := range w.buffers {
		n += len(buf)
	}
	return n
}

func (w *Watcher) publishStats() {
	w.statsMu.Lock()
	w.stats.State = w.state.String()
	w.stats.TradingDay = w.tradingDay
	w.stats.Instruments = len(w.subscribed)
	w.stats.Validators = len(w.validators)
	w.stats.BufferedTicks = w.bufferedLocked()
	w.statsMu.Unlock()
}
