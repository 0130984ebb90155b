package channel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"

	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/pkg/uuidx"
)

const defaultLocalPoll = 100 * time.Millisecond

// LocalBackend opens in-process channels. Correct only within one OS
// process; durability and cross-process delivery belong to the event log and
// the distributed backends.
type LocalBackend struct {
	// Poll bounds how long a subscriber waits before re-checking the
	// finished flag. Zero means the default.
	Poll time.Duration
}

// NewLocalBackend returns an in-process backend with the default polling
// interval.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func (b *LocalBackend) Name() string { return "inprocess" }

func (b *LocalBackend) Open(_ context.Context, runID string) (Channel, error) {
	return NewLocal(runID, b.Poll), nil
}

func (b *LocalBackend) Ping(context.Context) error { return nil }

func (b *LocalBackend) Close() error { return nil }

// NewLocal creates an in-process channel for a run. poll zero means the
// default.
func NewLocal(runID string, poll time.Duration) Channel {
	if poll <= 0 {
		poll = defaultLocalPoll
	}
	return &localChannel{
		runID:     runID,
		poll:      poll,
		createdAt: time.Now(),
		subs:      haxmap.New[string, *localSub](),
	}
}

type localChannel struct {
	runID     string
	poll      time.Duration
	createdAt time.Time
	finished  atomic.Bool
	subs      *haxmap.Map[string, *localSub]
}

func (c *localChannel) Put(_ context.Context, eventID string, payload events.Event) error {
	if c.finished.Load() {
		slog.Debug("skipping put for finished channel",
			slog.String("run_id", c.runID), slog.String("event_id", eventID))
		return nil
	}

	ev := Event{ID: eventID, Payload: payload}
	c.subs.ForEach(func(_ string, sub *localSub) bool {
		sub.push(ev)
		return true
	})

	if events.IsTerminal(payload) {
		c.markFinished()
	}
	return nil
}

func (c *localChannel) Subscribe(context.Context) (Subscription, error) {
	id := uuidx.NewString()
	sub := &localSub{
		id:     id,
		ch:     c,
		notify: make(chan struct{}, 1),
	}
	c.subs.Set(id, sub)
	return sub, nil
}

func (c *localChannel) MarkFinished(context.Context) { c.markFinished() }

func (c *localChannel) markFinished() {
	if c.finished.Swap(true) {
		return
	}
	slog.Debug("channel marked finished", slog.String("run_id", c.runID))
	// Wake pollers so they observe the flag without waiting out the timer.
	c.subs.ForEach(func(_ string, sub *localSub) bool {
		sub.wake()
		return true
	})
}

func (c *localChannel) Finished() bool { return c.finished.Load() }

func (c *localChannel) Drained() bool {
	drained := true
	c.subs.ForEach(func(_ string, sub *localSub) bool {
		sub.mu.Lock()
		if len(sub.queue) > 0 {
			drained = false
		}
		sub.mu.Unlock()
		return drained
	})
	return drained
}

func (c *localChannel) Age() time.Duration { return time.Since(c.createdAt) }

// localSub owns an unbounded FIFO fed by Put. Each subscriber gets its own
// queue so a slow consumer never stalls the others.
type localSub struct {
	id        string
	ch        *localChannel
	mu        sync.Mutex
	queue     []Event
	notify    chan struct{}
	done      atomic.Bool
	closeOnce sync.Once
}

func (s *localSub) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *localSub) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *localSub) Next(ctx context.Context) (Event, error) {
	for {
		if s.done.Load() {
			return Event{}, ErrSubscriptionDone
		}

		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			if events.IsTerminal(ev.Payload) {
				s.done.Store(true)
			}
			return ev, nil
		}
		s.mu.Unlock()

		if s.ch.finished.Load() {
			return Event{}, ErrSubscriptionDone
		}

		timer := time.NewTimer(s.ch.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Event{}, ctx.Err()
		case <-s.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *localSub) Close() {
	s.closeOnce.Do(func() {
		s.ch.subs.Del(s.id)
	})
}
