package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"

	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/internal/channel"
	"github.com/ibbybuilds/aegra-go/internal/eventlog"
	"github.com/ibbybuilds/aegra-go/pkg/slogx"
	"github.com/ibbybuilds/aegra-go/wire"
)

// Run identifies one streamed execution. Attempt lets a client distinguish
// reconnects in the metadata frame.
type Run struct {
	ID      string
	Attempt int
}

// runState is the orchestrator's live record of one run: its sequence
// counter, its terminal flag, and the mutex that serializes the
// check-claim-store section of Publish so no event can be persisted after
// the run's terminal record.
type runState struct {
	mu       sync.Mutex
	seq      atomic.Int64
	finished atomic.Bool
}

// Orchestrator owns the event flow of runs. It is safe for concurrent use;
// one instance serves the whole process.
type Orchestrator struct {
	registry *channel.Registry
	log      eventlog.Log

	states *haxmap.Map[string, *runState]
	tasks  *haxmap.Map[string, *task]
}

// New builds an orchestrator over the given channel registry and event log.
func New(registry *channel.Registry, log eventlog.Log) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		log:      log,
		states:   haxmap.New[string, *runState](),
		tasks:    haxmap.New[string, *task](),
	}
}

// state returns the run's live state, creating it with a zero counter.
func (o *Orchestrator) state(runID string) *runState {
	st, _ := o.states.GetOrCompute(runID, func() *runState {
		return &runState{}
	})
	return st
}

// NextEventID advances the run's counter and returns the canonical id for
// the next event.
func (o *Orchestrator) NextEventID(runID string) string {
	return events.FormatEventID(runID, o.state(runID).seq.Add(1))
}

// ObserveEventID advances the run's counter to at least the sequence in
// eventID. Lower or malformed ids leave the counter untouched, so the
// counter only ever moves forward.
func (o *Orchestrator) ObserveEventID(runID, eventID string) {
	seq, ok := events.ParseEventID(eventID)
	if !ok {
		return
	}
	c := &o.state(runID).seq
	for {
		cur := c.Load()
		if cur >= seq || c.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// finished reports whether the run's terminal event has been accepted.
func (o *Orchestrator) finished(runID string) bool {
	st, ok := o.states.Get(runID)
	return ok && st.finished.Load()
}

// Publish assigns the next event id, persists the normalized record and
// fans the event out on the run's channel. Events arriving after the run's
// terminal event are silently dropped and return an empty id. The per-run
// lock holds from the finished check through the store and the channel put,
// so a terminal record is always the last one persisted and delivery order
// matches storage order.
func (o *Orchestrator) Publish(ctx context.Context, runID string, ev events.Event) (string, error) {
	st := o.state(runID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.finished.Load() {
		slog.Debug("dropping event for finished run", slogx.RunID(runID))
		return "", nil
	}
	if events.IsTerminal(ev) {
		st.finished.Store(true)
	}

	eventID := events.FormatEventID(runID, st.seq.Add(1))
	name, record := wire.Normalize(ev)
	if err := o.log.StoreEvent(ctx, runID, eventID, name, record); err != nil {
		return "", fmt.Errorf("store event for run %s: %w", runID, err)
	}
	if err := o.put(ctx, runID, eventID, ev); err != nil {
		return "", err
	}
	return eventID, nil
}

// put publishes on the run's channel, substituting an in-process channel
// through the registry when the distributed backend proves broken. The
// stored record written before this call keeps the event replayable either
// way.
func (o *Orchestrator) put(ctx context.Context, runID, eventID string, ev events.Event) error {
	ch, err := o.registry.GetOrCreate(ctx, runID)
	if err != nil {
		return fmt.Errorf("channel for run %s: %w", runID, err)
	}
	if err := ch.Put(ctx, eventID, ev); err != nil {
		sub, derr := o.registry.Degrade(ctx, runID, err)
		if derr != nil {
			return fmt.Errorf("publish event %s: %w", eventID, derr)
		}
		if err := sub.Put(ctx, eventID, ev); err != nil {
			return fmt.Errorf("publish event %s: %w", eventID, err)
		}
	}
	return nil
}

// SignalCancelled ends the run as interrupted. The terminal guard makes it
// a no-op when the run already ended.
func (o *Orchestrator) SignalCancelled(ctx context.Context, runID string) error {
	_, err := o.Publish(ctx, runID, events.End{Status: events.StatusInterrupted})
	if err != nil {
		return err
	}
	o.registry.Cleanup(ctx, runID)
	return nil
}

// SignalError records the failure and ends the run with error status. The
// error record always precedes its terminal event in the stream.
func (o *Orchestrator) SignalError(ctx context.Context, runID, kind, message string) error {
	if !o.finished(runID) {
		if _, err := o.Publish(ctx, runID, events.Error{Kind: kind, Message: message}); err != nil {
			return err
		}
	}
	if _, err := o.Publish(ctx, runID, events.End{Status: events.StatusError}); err != nil {
		return err
	}
	o.registry.Cleanup(ctx, runID)
	return nil
}

// IsRunStreaming reports whether the run has a live, unfinished channel.
func (o *Orchestrator) IsRunStreaming(runID string) bool {
	ch, ok := o.registry.Get(runID)
	return ok && !ch.Finished()
}

// retire drops the run's channel once a stream has drained. Stored history
// and the terminal guard stay: durable rows are deleted only by explicit
// cleanup or the pruner, and a later subscriber replays the full history
// including its terminal record.
func (o *Orchestrator) retire(ctx context.Context, runID string) {
	o.registry.Remove(ctx, runID)
}

// CleanupRun deletes the run entirely: its channel, its stored history and
// its counters. This is the explicit administrative deletion; draining a
// stream never triggers it. The live state survives while a driven task is
// still registered so a settling engine cannot re-claim the terminal.
func (o *Orchestrator) CleanupRun(ctx context.Context, runID string) {
	o.registry.Remove(ctx, runID)
	if n, err := o.log.CleanupEvents(ctx, runID); err != nil {
		slog.Warn("failed to clean up stored events", slogx.RunID(runID), slogx.Error(err))
	} else if n > 0 {
		slog.Debug("cleaned up stored events", slogx.RunID(runID), slog.Int64("count", n))
	}
	if _, active := o.tasks.Get(runID); !active {
		o.states.Del(runID)
	}
}

// RunInfo summarizes the run's stored history.
func (o *Orchestrator) RunInfo(ctx context.Context, runID string) (eventlog.RunInfo, bool, error) {
	return o.log.GetRunInfo(ctx, runID)
}

// Shutdown cancels driven runs, waits for them to settle and releases the
// registry's backends.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var tasks []*task
	o.tasks.ForEach(func(_ string, t *task) bool {
		tasks = append(tasks, t)
		return true
	})
	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			return err
		}
	}
	return o.registry.Shutdown(ctx)
}
