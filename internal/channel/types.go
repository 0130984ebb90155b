package channel

import (
	"context"
	"errors"
	"time"

	"github.com/ibbybuilds/aegra-go/events"
)

// Event pairs an event id with its raw payload as it moves through a
// channel.
type Event struct {
	ID      string
	Payload events.Event
}

// ErrSubscriptionDone is returned by Subscription.Next when the stream has
// ended cleanly: a terminal event was observed, or the channel is finished
// and drained.
var ErrSubscriptionDone = errors.New("channel: subscription done")

// ErrBackendUnavailable reports that the configured distributed backend is
// not reachable.
var ErrBackendUnavailable = errors.New("channel: distributed backend unavailable")

// Channel is the per-run conduit. Implementations are safe for concurrent
// puts and subscribes.
type Channel interface {
	// Put appends an event. It is a no-op once the channel is finished. A
	// terminal payload marks the channel finished as a side effect. On
	// distributed backends a publish failure is fatal for this put and is
	// returned to the caller.
	Put(ctx context.Context, eventID string, payload events.Event) error

	// Subscribe opens an independent subscription that yields events from
	// this moment forward.
	Subscribe(ctx context.Context) (Subscription, error)

	// MarkFinished idempotently blocks further puts. Subscribers observe it
	// within one polling interval, not instantaneously.
	MarkFinished(ctx context.Context)

	// Finished reports whether a terminal event was observed or finish was
	// forced.
	Finished() bool

	// Drained reports whether no subscriber has pending backlog.
	Drained() bool

	// Age reports how long ago the channel was created.
	Age() time.Duration
}

// Subscription iterates a channel's live tail. Next blocks with a bounded
// poll until an event arrives, the context is cancelled, or the stream ends
// (ErrSubscriptionDone). A transport error ends this subscriber's iteration
// without affecting the channel's state for other subscribers.
type Subscription interface {
	Next(ctx context.Context) (Event, error)
	Close()
}

// Backend opens channels on a particular transport.
type Backend interface {
	Name() string
	Open(ctx context.Context, runID string) (Channel, error)
	// Ping verifies the transport is reachable. The in-process backend
	// always succeeds.
	Ping(ctx context.Context) error
	Close() error
}
