package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/market-watcher/internal/model"
)

// tickRow is the database shape of one accepted tick.
type tickRow struct {
	InstrumentID string
	Ts           int64 // logical timestamp, milliseconds
	LastPrice    float64
	Volume       int64
	AskPrice     float64
	AskVolume    int64
	BidPrice     float64
	BidVolume    int64
	ReceivedAt   int64 // µs since epoch
	BatchID      uuid.UUID
}

// rowFromTick converts an accepted tick for insertion.
func rowFromTick(t model.Tick, batchID uuid.UUID) tickRow {
	return tickRow{
		InstrumentID: t.InstrumentID,
		Ts:           t.Timestamp,
		LastPrice:    t.LastPrice,
		Volume:       t.Volume,
		AskPrice:     t.AskPrice,
		AskVolume:    t.AskVolume,
		BidPrice:     t.BidPrice,
		BidVolume:    t.BidVolume,
		ReceivedAt:   t.ReceivedAt.UnixMicro(),
		BatchID:      batchID,
	}
}

// PostgresSink writes flushed tick buffers to the ticks table.
type PostgresSink struct {
	db     *pgxpool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	metrics SinkMetrics
}

// NewPostgresSink creates a tick sink backed by the given pool.
func NewPostgresSink(db *pgxpool.Pool, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{
		db:     db,
		logger: logger,
	}
}

// Stats returns current metrics.
func (s *PostgresSink) Stats() SinkMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// WriteTicks inserts one instrument's flushed buffer. Every flush carries
// a batch id so rows from one settlement window can be correlated later.
func (s *PostgresSink) WriteTicks(ctx context.Context, instrumentID string, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batchID := uuid.New()
	start := time.Now()

	conflicts, err := s.batchInsert(ctx, ticks, batchID)
	if err != nil {
		s.logger.Error("tick batch insert failed",
			"instrument", instrumentID,
			"count", len(ticks),
			"error", err,
		)
		s.mu.Lock()
		s.metrics.Errors++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.metrics.Flushes++
	s.metrics.Inserts += int64(len(ticks) - conflicts)
	s.metrics.Conflicts += int64(conflicts)
	s.mu.Unlock()

	s.logger.Debug("flushed ticks",
		"instrument", instrumentID,
		"count", len(ticks),
		"conflicts", conflicts,
		"batch_id", batchID,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *PostgresSink) batchInsert(ctx context.Context, ticks []model.Tick, batchID uuid.UUID) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, t := range ticks {
		r := rowFromTick(t, batchID)
		batch.Queue(`
			INSERT INTO ticks (instrument_id, ts, last_price, volume,
			                   ask_price, ask_volume, bid_price, bid_volume,
			                   received_at, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (instrument_id, ts) DO NOTHING
		`, r.InstrumentID, r.Ts, r.LastPrice, r.Volume,
			r.AskPrice, r.AskVolume, r.BidPrice, r.BidVolume,
			r.ReceivedAt, r.BatchID)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range ticks {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
