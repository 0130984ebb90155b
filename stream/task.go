package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/pkg/slogx"
)

// Engine produces a run's raw events. It emits through the callback and
// returns when execution ends; the final End event is the engine's to emit.
// A nil error with no terminal event emitted counts as a failed run.
type Engine func(ctx context.Context, emit func(events.Event) error) error

// task tracks one driven run so it can be cancelled and awaited.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	// finalized is set by CancelRun/InterruptRun before cancelling, so the
	// drive goroutine leaves the terminal event to the caller.
	finalized atomic.Bool
}

// Wait blocks until the run's goroutine has settled or ctx ends.
func (t *task) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return nil
	}
}

// StartRun drives the engine in a background goroutine, publishing every
// emitted event under the run's id. Engine failures and panics end the run
// with an error status; a run is never left without a terminal event.
func (o *Orchestrator) StartRun(ctx context.Context, runID string, engine Engine) error {
	if _, exists := o.tasks.Get(runID); exists {
		return fmt.Errorf("run %s is already active", runID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{cancel: cancel, done: make(chan struct{})}
	o.tasks.Set(runID, t)

	go func() {
		defer close(t.done)
		defer o.tasks.Del(runID)
		o.drive(runCtx, runID, t, engine)
	}()
	return nil
}

func (o *Orchestrator) drive(ctx context.Context, runID string, t *task, engine Engine) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("run panicked", slogx.RunID(runID), slog.Any("panic", r))
			o.fail(runID, "internal", fmt.Sprintf("panic: %v", r))
		}
	}()

	emit := func(ev events.Event) error {
		_, err := o.Publish(ctx, runID, ev)
		return err
	}

	err := engine(ctx, emit)
	switch {
	case ctx.Err() != nil:
		// Whoever cancelled through CancelRun or InterruptRun publishes the
		// terminal; this branch covers only cancellation from elsewhere,
		// such as shutdown.
		if t.finalized.Load() {
			return
		}
		if err := o.SignalCancelled(context.WithoutCancel(ctx), runID); err != nil {
			slog.Warn("failed to finalize cancelled run", slogx.RunID(runID), slogx.Error(err))
		}
	case err != nil:
		slog.Error("run failed", slogx.RunID(runID), slogx.Error(err))
		o.fail(runID, "execution", err.Error())
	case !o.finished(runID):
		o.fail(runID, "internal", "execution ended without a terminal event")
	}
}

func (o *Orchestrator) fail(runID, kind, message string) {
	if err := o.SignalError(context.Background(), runID, kind, message); err != nil {
		slog.Error("failed to finalize failed run", slogx.RunID(runID), slogx.Error(err))
	}
}

// InterruptRun force-stops a driven run and records it as failed: an error
// record followed by a terminal with error status. Interrupting an unknown
// or already-finished run reports false.
func (o *Orchestrator) InterruptRun(ctx context.Context, runID string) (bool, error) {
	t, ok := o.tasks.Get(runID)
	if !ok {
		if !o.IsRunStreaming(runID) {
			return false, nil
		}
		// A run streamed from elsewhere: fail its channel, there is no
		// local goroutine to stop.
		return true, o.SignalError(ctx, runID, "interrupted", "Run was interrupted")
	}

	t.finalized.Store(true)
	t.cancel()
	return true, o.SignalError(ctx, runID, "interrupted", "Run was interrupted")
}

// CancelRun stops a driven run: the task is cancelled first, then the
// interrupted terminal event is published so attached streams end right
// away. With wait, the call also blocks until the engine goroutine has
// returned. Cancelling an unknown or already-finished run reports false.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string, wait bool) (bool, error) {
	t, ok := o.tasks.Get(runID)
	if !ok {
		if !o.IsRunStreaming(runID) {
			return false, nil
		}
		// A run streamed from elsewhere: end its channel, there is no local
		// goroutine to await.
		return true, o.SignalCancelled(ctx, runID)
	}

	t.finalized.Store(true)
	t.cancel()
	if err := o.SignalCancelled(ctx, runID); err != nil {
		return true, err
	}
	if wait {
		if err := t.Wait(ctx); err != nil {
			return true, fmt.Errorf("wait for run %s: %w", runID, err)
		}
	}
	return true, nil
}
