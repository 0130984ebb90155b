// Package stream orchestrates the event flow of a run: it assigns event ids,
// persists normalized records to the event log, publishes to the run's
// channel, and merges replayed history with live delivery into one framed
// stream.
//
// Design decisions:
//   - Event ids are assigned by a per-run monotonic counter owned here.
//     Storage and channels receive ids, they never invent them.
//   - Terminal state is decided once, by whoever wins the write-once guard.
//     Cancellation that lands first makes every later engine event a no-op,
//     so a cancelled run can never be overwritten to "success".
//   - Replay happens before live subscription; live events at or below the
//     highest replayed sequence are dropped to avoid duplicates.
//   - A stream that drains to its terminal event retires the run's channel
//     only. Stored history stays replayable until explicitly cleaned up or
//     pruned by retention.
package stream
