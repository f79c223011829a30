// Package watcher implements the orchestrator tying the core together.
//
// The watcher owns the per-instrument validator table, the in-memory tick
// buffers, and the daily flush scheduler. All feed events, scheduler
// firings, and subscription changes are processed sequentially on one
// goroutine, so core state needs no locks; the feed and scheduler only
// ever hand events across a queue or channel.
//
// Validator and schedule-group state is rebuilt wholesale whenever the
// trading day or the subscription set changes.
package watcher
