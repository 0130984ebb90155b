// Package events defines the raw event types produced by a run's execution
// engine and consumed by the streaming core. It provides a closed, tagged
// union for heterogeneous run output with context for nested sub-workflows.
//
// Design decisions:
//   - Sealed union: Event is implemented only by the concrete types in this
//     package, so consumers resolve the discriminant once with a type switch
//     at ingestion and never re-inspect payloads downstream
//   - Terminal marker: exactly one End event closes a run's stream; Error
//     events report failure detail but do not terminate on their own
//   - Namespaces: events emitted by nested sub-workflows carry the ordered
//     list of sub-workflow identifiers that produced them
//   - Event ids: the per-run sequence is carried in the event id string,
//     format "{runID}_event_{n}", with conservative parsing so malformed ids
//     degrade instead of erroring
//
// Key concepts:
//   - Values, Messages, Updates, Debug and Custom are streaming chunk events
//   - End carries the authoritative final run status
//   - Error precedes a terminal End(StatusError) so a reconnecting client can
//     distinguish failure from success purely from replay
//
// The package is dependency-light on purpose: wire encoding lives in the wire
// package, delivery in internal/channel, durability in internal/eventlog.
package events
