// Package schedule implements the daily multi-point scheduler.
//
// The scheduler:
//   - Partitions instruments into groups sharing an identical set of
//     trigger instants (session close + flush delay)
//   - Arms a single timer across the sorted union of all distinct instants
//   - Emits one Firing per matching group when an instant elapses
//   - Rearms at the first instant of the following day after the last fires
//
// Rebuilding the table replaces the armed timer atomically; a stale
// instant never fires after a rebuild.
package schedule
