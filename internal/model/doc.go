// Package model defines shared data types used across the market watcher.
//
// Conventions:
//   - Session offsets: seconds since local midnight (0-86399)
//   - Logical timestamps: int64 milliseconds anchored to the trading-day
//     epoch (mapped seconds * 1000 + feed millisecond)
//   - IDs: instrument identifiers are opaque strings
package model
