package persist

import (
	"context"

	"github.com/rickgao/market-watcher/internal/model"
)

// Sink receives an instrument's buffered ticks at each scheduled flush.
type Sink interface {
	WriteTicks(ctx context.Context, instrumentID string, ticks []model.Tick) error
}

// SinkMetrics counts sink activity.
type SinkMetrics struct {
	Flushes   int64
	Inserts   int64
	Conflicts int64
	Errors    int64
}
