package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/internal/channel"
	"github.com/ibbybuilds/aegra-go/internal/eventlog"
	"github.com/ibbybuilds/aegra-go/pkg/slogx"
	"github.com/ibbybuilds/aegra-go/wire"
)

// Stream attaches to a run and returns its framed event stream. The first
// frame is always the metadata frame; stored history (everything after
// lastEventID, or all of it when lastEventID is empty) is replayed before
// live delivery takes over. The returned channel closes when the run's
// terminal event has been delivered or ctx ends.
func (o *Orchestrator) Stream(ctx context.Context, run Run, lastEventID string) (<-chan wire.Frame, error) {
	// Subscribe before taking the replay snapshot so nothing published in
	// between is missed; the overlap is deduplicated by sequence number.
	ch, err := o.registry.GetOrCreate(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("channel for run %s: %w", run.ID, err)
	}
	sub, err := ch.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to run %s: %w", run.ID, err)
	}

	var stored []eventlog.StoredEvent
	if lastEventID == "" {
		stored, err = o.log.GetAllEvents(ctx, run.ID)
	} else {
		stored, err = o.log.GetEventsSince(ctx, run.ID, lastEventID)
	}
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("replay for run %s: %w", run.ID, err)
	}

	out := make(chan wire.Frame)
	go o.pump(ctx, run, stored, sub, out)
	return out, nil
}

// pump sends the metadata frame, the replayed history and then live events,
// closing out when the terminal frame has gone through.
func (o *Orchestrator) pump(ctx context.Context, run Run, stored []eventlog.StoredEvent, sub channel.Subscription, out chan<- wire.Frame) {
	defer close(out)
	defer sub.Close()

	if !send(ctx, out, wire.MetadataFrame(run.ID, run.Attempt)) {
		return
	}

	var (
		replayMax int64 = -1
		ended     bool
	)
	for _, ev := range stored {
		f, err := wire.NewFrame(ev.ID, ev.Event, ev.Data)
		if err != nil {
			slog.Error("failed to frame stored event", slogx.RunID(run.ID), slogx.Error(err))
			return
		}
		if !send(ctx, out, f) {
			return
		}
		if ev.Seq > replayMax {
			replayMax = ev.Seq
		}
		if recordType, _ := ev.Data["type"].(string); recordType == "run_complete" {
			ended = true
		}
	}
	if ended {
		o.retire(ctx, run.ID)
		return
	}

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, channel.ErrSubscriptionDone) {
				o.retire(ctx, run.ID)
			} else if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				slog.Error("live delivery ended", slogx.RunID(run.ID), slogx.Error(err))
			}
			return
		}

		// Replayed history already covers this sequence.
		if seq, ok := events.ParseEventID(ev.ID); ok && seq <= replayMax {
			continue
		}

		f, err := wire.LiveFrame(ev.ID, ev.Payload)
		if err != nil {
			slog.Error("failed to frame live event", slogx.RunID(run.ID), slogx.Error(err))
			continue
		}
		if !send(ctx, out, f) {
			return
		}
		if events.IsTerminal(ev.Payload) {
			o.retire(ctx, run.ID)
			return
		}
	}
}

func send(ctx context.Context, out chan<- wire.Frame, f wire.Frame) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- f:
		return true
	}
}
