// Package recorder writes fluxtor pipeline events to a SQLite trace database.
//
// A Recorder is a fluxtor.Observer. Each event is serialized to canonical
// JSON on the dispatching goroutine and queued; one writer goroutine turns
// the queue into rows:
//   - dispatches: one row per started dispatch, updated when it completes
//     or fails. A dispatch whose middleware chain stopped stays pending.
//   - events: every event in emission order. Rejected dispatches have a
//     NULL dispatch_id.
//
// # Ordering
//
// Rows are ordered by seq (the store's logical clock), never by wall time.
// Queries use ORDER BY seq ASC, id COLLATE BINARY ASC so results are
// identical across runs with deterministic ids.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package recorder
