// Package channel implements the per-run ephemeral conduit that delivers
// run events to live subscribers, plus the registry that owns channel
// lifecycle. It provides interchangeable backends behind one contract with
// context awareness throughout.
//
// Design decisions:
//   - Context-first: all operations accept context.Context for
//     cancellation/timeout
//   - One channel per run: events are isolated per run id; there is no
//     cross-run ordering
//   - No history: a subscription yields events from the moment of
//     subscription forward; durable replay is the event log's job
//   - Bounded polling: subscribers never block unboundedly, so cancellation
//     and finished-flag re-checks stay responsive
//   - Terminal exclusivity: a channel accepts at most one terminal event;
//     every put after that is a silent no-op
//
// Backends:
//   - Local: in-process fan-out queues; correct only within one OS process
//   - Redis: pub/sub on a per-run channel name, with a TTL-bounded
//     "run:{id}:finished" key so subscribers that attach after completion
//     still get a definite end-of-stream signal
//   - NATS: core subject per run, with a JetStream KV bucket carrying the
//     finished flag for the same late-subscriber case
//
// The Registry selects a backend once per instance (auto, forced
// distributed, or forced in-process), degrades to in-process on proven
// distributed failure, and runs a janitor that reclaims channels that are
// finished, drained and older than the retention window.
package channel
