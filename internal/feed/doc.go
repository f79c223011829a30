// Package feed implements the market-data feed collaborator.
//
// The feed:
//   - Maintains one WebSocket connection to the front server
//   - Performs the broker/user/password login handshake after connect
//   - Reconnects with exponential backoff and resubscribes
//   - Decodes wire frames into tagged events (connect, disconnect,
//     login result, tick)
//
// Events are queued onto a growable buffer so the watcher consumes them on
// a single processing goroutine; the feed never touches core state itself.
package feed
