package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/market-watcher/internal/model"
)

// Manager owns the feed connection lifecycle: connect, login, decode,
// reconnect with exponential backoff. It translates wire frames into
// Events and queues them for the watcher's processing loop; it holds no
// validation state of its own.
type Manager interface {
	// Start begins connecting in the background and returns immediately.
	Start(ctx context.Context) error

	// Stop closes the connection and shuts the event queue.
	Stop(ctx context.Context) error

	// Events returns the queue the watcher consumes.
	Events() *EventQueue

	// Subscribe requests tick streams for the given instruments.
	// Only valid while connected; the watcher calls it after login.
	Subscribe(instruments []string) error

	// IsConnected reports whether the socket is currently up.
	IsConnected() bool
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	events *EventQueue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	client Client
}

// NewManager creates a feed Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &manager{
		cfg:    cfg,
		logger: logger,
		events: NewEventQueue(cfg.BufferSize),
	}
}

// Start begins the connect/reconnect loop.
func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("feed manager started", "url", m.cfg.URL)
	return nil
}

// Stop shuts down the connection and event queue.
func (m *manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if c := m.currentClient(); c != nil {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("feed manager stopped")
	case <-ctx.Done():
		m.logger.Warn("feed manager stop timed out")
	}

	m.events.Close()
	return nil
}

// Events returns the event queue.
func (m *manager) Events() *EventQueue {
	return m.events
}

// IsConnected reports whether the socket is up.
func (m *manager) IsConnected() bool {
	c := m.currentClient()
	return c != nil && c.IsConnected()
}

// Subscribe sends a subscribe frame for the given instruments.
func (m *manager) Subscribe(instruments []string) error {
	c := m.currentClient()
	if c == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(subscribeRequest{
		Op:          "subscribe",
		Instruments: instruments,
	})
	if err != nil {
		return err
	}

	m.logger.Info("subscribing", "instruments", len(instruments))
	return c.Send(data)
}

func (m *manager) currentClient() Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *manager) setClient(c Client) {
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
}

// run is the connect/login/read/reconnect loop.
func (m *manager) run() {
	defer m.wg.Done()

	wait := m.cfg.ReconnectBaseWait

	for m.ctx.Err() == nil {
		cli := NewClient(ClientConfig{
			URL:          m.cfg.URL,
			PingTimeout:  m.cfg.PingTimeout,
			WriteTimeout: m.cfg.WriteTimeout,
			BufferSize:   m.cfg.BufferSize,
		}, m.logger)

		if err := cli.Connect(m.ctx); err != nil {
			m.logger.Warn("feed connect failed",
				"error", err,
				"retry_in", wait,
			)
			if !m.sleep(wait) {
				return
			}
			wait = nextWait(wait, m.cfg.ReconnectMaxWait)
			continue
		}
		wait = m.cfg.ReconnectBaseWait

		m.setClient(cli)
		m.emit(Event{Kind: EventFrontConnected, ReceivedAt: time.Now()})

		if err := m.login(cli); err != nil {
			m.logger.Error("login send failed", "error", err)
		}

		reason := m.readFrames(cli)

		cli.Close()
		m.setClient(nil)
		m.emit(Event{Kind: EventFrontDisconnected, Reason: reason, ReceivedAt: time.Now()})

		if m.ctx.Err() != nil {
			return
		}
		m.logger.Info("feed disconnected, reconnecting",
			"reason", reason,
			"retry_in", wait,
		)
		if !m.sleep(wait) {
			return
		}
		wait = nextWait(wait, m.cfg.ReconnectMaxWait)
	}
}

// login sends the credentials frame.
func (m *manager) login(cli Client) error {
	data, err := json.Marshal(loginRequest{
		Op:       "login",
		BrokerID: m.cfg.BrokerID,
		UserID:   m.cfg.UserID,
		Password: m.cfg.Password,
	})
	if err != nil {
		return err
	}
	return cli.Send(data)
}

// readFrames decodes frames into events until the connection dies or the
// manager is stopped. Returns the disconnect reason code.
func (m *manager) readFrames(cli Client) int {
	for {
		select {
		case <-m.ctx.Done():
			return 0
		case err := <-cli.Errors():
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code
			}
			return -1
		case msg := <-cli.Messages():
			m.decode(msg)
		}
	}
}

// decode translates one wire frame into an Event.
func (m *manager) decode(msg TimestampedMessage) {
	var frame serverFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		m.logger.Warn("undecodable frame", "error", err)
		return
	}

	switch frame.Type {
	case "login":
		if frame.Code != 0 {
			m.emit(Event{
				Kind:       EventLoginFailure,
				Message:    frame.Message,
				ReceivedAt: msg.ReceivedAt,
			})
			return
		}
		m.emit(Event{
			Kind:       EventLoginSuccess,
			TradingDay: frame.TradingDay,
			ReceivedAt: msg.ReceivedAt,
		})

	case "tick":
		if frame.Tick == nil {
			m.logger.Warn("tick frame without payload")
			return
		}
		m.emit(Event{
			Kind: EventTick,
			Tick: model.RawTick{
				InstrumentID: frame.Tick.InstrumentID,
				UpdateTime:   frame.Tick.UpdateTime,
				Millisec:     frame.Tick.Millisec,
				LastPrice:    frame.Tick.LastPrice,
				Volume:       frame.Tick.Volume,
				AskPrice:     frame.Tick.AskPrice,
				AskVolume:    frame.Tick.AskVolume,
				BidPrice:     frame.Tick.BidPrice,
				BidVolume:    frame.Tick.BidVolume,
				ReceivedAt:   msg.ReceivedAt,
			},
			ReceivedAt: msg.ReceivedAt,
		})

	case "error":
		m.logger.Warn("feed error frame",
			"code", frame.Code,
			"message", frame.Message,
		)

	default:
		m.logger.Debug("unknown frame type", "type", frame.Type)
	}
}

func (m *manager) emit(ev Event) {
	if !m.events.Send(ev) {
		m.logger.Warn("event queue closed, dropping event", "kind", ev.Kind)
	}
}

// sleep waits for d or until the manager is stopped.
func (m *manager) sleep(d time.Duration) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// nextWait doubles the backoff up to max.
func nextWait(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
