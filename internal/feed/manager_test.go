package feed

import (
	"testing"
	"time"
)

func newTestManager(t *testing.T) *manager {
	t.Helper()
	cfg := DefaultManagerConfig()
	cfg.URL = "wss://md.example.com/feed"
	cfg.BrokerID = "9999"
	cfg.UserID = "068686"
	cfg.Password = "x"
	return NewManager(cfg, nil).(*manager)
}

func drainOne(t *testing.T, q *EventQueue) Event {
	t.Helper()
	ev, ok := q.TryReceive()
	if !ok {
		t.Fatal("no event queued")
	}
	return ev
}

func TestDecodeLoginSuccess(t *testing.T) {
	m := newTestManager(t)

	m.decode(TimestampedMessage{
		Data:       []byte(`{"type":"login","trading_day":"20170306"}`),
		ReceivedAt: time.Now(),
	})

	ev := drainOne(t, m.Events())
	if ev.Kind != EventLoginSuccess {
		t.Fatalf("Kind = %v, want login_success", ev.Kind)
	}
	if ev.TradingDay != "20170306" {
		t.Errorf("TradingDay = %q, want 20170306", ev.TradingDay)
	}
}

func TestDecodeLoginFailure(t *testing.T) {
	m := newTestManager(t)

	m.decode(TimestampedMessage{
		Data:       []byte(`{"type":"login","code":3,"message":"invalid password"}`),
		ReceivedAt: time.Now(),
	})

	ev := drainOne(t, m.Events())
	if ev.Kind != EventLoginFailure {
		t.Fatalf("Kind = %v, want login_failure", ev.Kind)
	}
	if ev.Message != "invalid password" {
		t.Errorf("Message = %q, want %q", ev.Message, "invalid password")
	}
}

func TestDecodeTick(t *testing.T) {
	m := newTestManager(t)
	receivedAt := time.Now()

	m.decode(TimestampedMessage{
		Data: []byte(`{
			"type": "tick",
			"tick": {
				"instrument_id": "cu1705",
				"update_time": "21:35:07",
				"update_millisec": 500,
				"last_price": 46210,
				"volume": 12034,
				"ask_price1": 46220, "ask_volume1": 5,
				"bid_price1": 46200, "bid_volume1": 7
			}
		}`),
		ReceivedAt: receivedAt,
	})

	ev := drainOne(t, m.Events())
	if ev.Kind != EventTick {
		t.Fatalf("Kind = %v, want tick", ev.Kind)
	}

	tk := ev.Tick
	if tk.InstrumentID != "cu1705" {
		t.Errorf("InstrumentID = %q, want cu1705", tk.InstrumentID)
	}
	if tk.UpdateTime != "21:35:07" || tk.Millisec != 500 {
		t.Errorf("time = %q.%d, want 21:35:07.500", tk.UpdateTime, tk.Millisec)
	}
	if tk.LastPrice != 46210 || tk.Volume != 12034 {
		t.Errorf("price/volume = %v/%d, want 46210/12034", tk.LastPrice, tk.Volume)
	}
	if tk.AskPrice != 46220 || tk.BidPrice != 46200 {
		t.Errorf("ask/bid = %v/%v, want 46220/46200", tk.AskPrice, tk.BidPrice)
	}
	if !tk.ReceivedAt.Equal(receivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", tk.ReceivedAt, receivedAt)
	}
}

func TestDecodeMalformedAndUnknownFrames(t *testing.T) {
	m := newTestManager(t)

	m.decode(TimestampedMessage{Data: []byte(`not json`)})
	m.decode(TimestampedMessage{Data: []byte(`{"type":"heartbeat"}`)})
	m.decode(TimestampedMessage{Data: []byte(`{"type":"tick"}`)}) // missing payload
	m.decode(TimestampedMessage{Data: []byte(`{"type":"error","code":7,"message":"bad sub"}`)})

	if n := m.Events().Len(); n != 0 {
		t.Errorf("queued %d events from non-event frames, want 0", n)
	}
}

func TestSubscribeNotConnected(t *testing.T) {
	m := newTestManager(t)

	if err := m.Subscribe([]string{"cu1705"}); err != ErrNotConnected {
		t.Errorf("Subscribe while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestNextWait(t *testing.T) {
	max := 60 * time.Second

	if got := nextWait(time.Second, max); got != 2*time.Second {
		t.Errorf("nextWait(1s) = %v, want 2s", got)
	}
	if got := nextWait(40*time.Second, max); got != max {
		t.Errorf("nextWait(40s) = %v, want capped at %v", got, max)
	}
}

func TestEventKindString(t *testing.T) {
	kinds := map[EventKind]string{
		EventFrontConnected:    "front_connected",
		EventFrontDisconnected: "front_disconnected",
		EventLoginSuccess:      "login_success",
		EventLoginFailure:      "login_failure",
		EventTick:              "tick",
		EventKind(99):          "unknown",
	}

	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("EventKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
