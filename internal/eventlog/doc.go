// Package eventlog persists the normalized event history of every run so
// clients can replay a stream from an arbitrary position.
//
// Design decisions:
//   - Stored events are already normalized wire records, not raw engine
//     events. Replay re-frames them without re-encoding.
//   - The sequence number is derived from the event id at write time, so
//     the log never needs its own counter and can never drift from the
//     live stream's numbering.
//   - Writes are idempotent on event id. Re-delivering an event is a no-op,
//     which makes at-least-once producers safe.
//   - Backends (in-memory, SQLite, Postgres) are interchangeable behind the
//     Log interface and share one acceptance test suite.
package eventlog
