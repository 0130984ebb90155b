package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/pkg/slogx"
	"github.com/ibbybuilds/aegra-go/wire"
)

const runFinishedBucket = "aegra_run_finished"

// runSubject is the per-run subject: aegra.stream.{runID}
func runSubject(runID string) string { return "aegra.stream." + runID }

// NATSBackend opens channels backed by core NATS subjects. A JetStream KV
// bucket records terminal state with a TTL so subscribers created after
// completion still receive a definite end-of-stream signal.
type NATSBackend struct {
	nc   *nats.Conn
	kv   nats.KeyValue
	poll time.Duration
}

// NewNATSBackend wraps an existing connection and ensures the run-finished
// bucket exists. ttl bounds how long finished flags are kept.
func NewNATSBackend(nc *nats.Conn, ttl time.Duration) (*NATSBackend, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(runFinishedBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: runFinishedBucket,
			TTL:    ttl,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("run-finished bucket: %w", err)
	}
	return &NATSBackend{nc: nc, kv: kv, poll: defaultDistributedPoll}, nil
}

// DialNATSBackend connects to a NATS URL with the client name and
// compression this project uses everywhere.
func DialNATSBackend(url string, ttl time.Duration, options ...nats.Option) (*NATSBackend, error) {
	if len(options) == 0 {
		options = append(options, nats.Name("aegra"), nats.Compression(true))
	}
	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return NewNATSBackend(nc, ttl)
}

func (b *NATSBackend) Name() string { return "nats" }

func (b *NATSBackend) Open(_ context.Context, runID string) (Channel, error) {
	return &natsChannel{
		runID:     runID,
		nc:        b.nc,
		kv:        b.kv,
		subject:   runSubject(runID),
		poll:      b.poll,
		createdAt: time.Now(),
	}, nil
}

func (b *NATSBackend) Ping(context.Context) error {
	if status := b.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("%w: nats connection is %s", ErrBackendUnavailable, status)
	}
	return nil
}

func (b *NATSBackend) Close() error {
	b.nc.Close()
	return nil
}

type natsChannel struct {
	runID     string
	nc        *nats.Conn
	kv        nats.KeyValue
	subject   string
	poll      time.Duration
	createdAt time.Time
	finished  atomic.Bool
}

func (c *natsChannel) Put(ctx context.Context, eventID string, payload events.Event) error {
	if c.finished.Load() {
		slog.Debug("skipping publish for finished channel",
			slog.String("run_id", c.runID), slog.String("event_id", eventID))
		return nil
	}

	msg, err := wire.MarshalEnvelope(eventID, payload)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(c.subject, msg); err != nil {
		return fmt.Errorf("publish event %s for run %s: %w", eventID, c.runID, err)
	}

	if events.IsTerminal(payload) {
		c.MarkFinished(ctx)
	}
	return nil
}

func (c *natsChannel) Subscribe(context.Context) (Subscription, error) {
	sub, err := c.nc.SubscribeSync(c.subject)
	if err != nil {
		return nil, fmt.Errorf("subscribe to run %s: %w", c.runID, err)
	}
	// Flush so events published after this call are guaranteed to be seen.
	if err := c.nc.FlushTimeout(5 * time.Second); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe to run %s: %w", c.runID, err)
	}
	return &natsSub{ch: c, sub: sub}, nil
}

func (c *natsChannel) MarkFinished(context.Context) {
	if c.finished.Swap(true) {
		return
	}
	if _, err := c.kv.PutString(c.runID, "true"); err != nil {
		slog.Warn("failed to record finished flag",
			slog.String("run_id", c.runID), slogx.Error(err))
	}
}

func (c *natsChannel) Finished() bool { return c.finished.Load() }

// Drained is always true: subject delivery keeps no backlog.
func (c *natsChannel) Drained() bool { return true }

func (c *natsChannel) Age() time.Duration { return time.Since(c.createdAt) }

func (c *natsChannel) remoteFinished() bool {
	entry, err := c.kv.Get(c.runID)
	if err != nil {
		if !errors.Is(err, nats.ErrKeyNotFound) {
			slog.Debug("finished flag check failed",
				slog.String("run_id", c.runID), slogx.Error(err))
		}
		return false
	}
	return string(entry.Value()) == "true"
}

type natsSub struct {
	ch   *natsChannel
	sub  *nats.Subscription
	done bool
}

func (s *natsSub) Next(ctx context.Context) (Event, error) {
	for {
		if s.done {
			return Event{}, ErrSubscriptionDone
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		msg, err := s.sub.NextMsg(s.ch.poll)
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				if s.ch.finished.Load() || s.ch.remoteFinished() {
					s.done = true
					return Event{}, ErrSubscriptionDone
				}
				continue
			}
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, fmt.Errorf("receive for run %s: %w", s.ch.runID, err)
		}

		id, ev, err := wire.UnmarshalEnvelope(msg.Data)
		if err != nil {
			slog.Error("failed to decode channel payload",
				slog.String("run_id", s.ch.runID), slogx.Error(err))
			continue
		}
		if events.IsTerminal(ev) {
			s.done = true
			s.ch.finished.Store(true)
		}
		return Event{ID: id, Payload: ev}, nil
	}
}

func (s *natsSub) Close() {
	if err := s.sub.Unsubscribe(); err != nil {
		slog.Debug("failed to unsubscribe",
			slog.String("run_id", s.ch.runID), slogx.Error(err))
	}
}
