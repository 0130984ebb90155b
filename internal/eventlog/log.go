package eventlog

import (
	"context"
	"time"
)

// StoredEvent is one persisted, normalized event of a run.
type StoredEvent struct {
	// ID is the canonical event id, "{runID}_event_{seq}".
	ID string
	// RunID identifies the run this event belongs to.
	RunID string
	// Seq is the sequence number parsed out of ID. Malformed ids are stored
	// with sequence 0.
	Seq int64
	// Event is the wire-level event name the frame was published under.
	Event string
	// Data is the normalized record payload.
	Data map[string]any
	// CreatedAt is when the event was persisted.
	CreatedAt time.Time
}

// RunInfo summarizes a run's stored history.
type RunInfo struct {
	RunID string
	// EventCount spans the stored sequence range: max seq - min seq + 1.
	// Gaps from idempotent re-delivery or pruning are counted, matching what
	// a resuming client would be told to expect.
	EventCount int64
	// LastEventID is the id of the highest-sequence stored event, or empty
	// when the run has no events.
	LastEventID string
	// LastEventTime is when that event was persisted.
	LastEventTime time.Time
}

// Log is the durable record of run events. Implementations must be safe for
// concurrent use.
type Log interface {
	// StoreEvent persists one event. Storing an id that already exists is a
	// silent no-op.
	StoreEvent(ctx context.Context, runID, eventID, event string, data map[string]any) error

	// GetAllEvents returns the run's events ordered by sequence.
	GetAllEvents(ctx context.Context, runID string) ([]StoredEvent, error)

	// GetEventsSince returns the run's events with a sequence strictly
	// greater than the one in lastEventID, ordered by sequence. A malformed
	// lastEventID replays everything.
	GetEventsSince(ctx context.Context, runID, lastEventID string) ([]StoredEvent, error)

	// GetRunInfo summarizes the run's stored history. The second return
	// value is false when the run has no stored events.
	GetRunInfo(ctx context.Context, runID string) (RunInfo, bool, error)

	// CleanupEvents deletes the run's history and returns how many events
	// were removed.
	CleanupEvents(ctx context.Context, runID string) (int64, error)

	// PruneOlderThan deletes events persisted before the cutoff, across all
	// runs, and returns how many were removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}
