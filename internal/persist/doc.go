// Package persist writes flushed tick buffers to the tick store.
//
// The watcher hands over one instrument's buffered ticks per flush; the
// sink owns table layout and conflict handling. Inserts are append-only
// with ON CONFLICT DO NOTHING, so replaying a flush after a crash is
// harmless.
package persist
