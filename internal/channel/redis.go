package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/pkg/slogx"
	"github.com/ibbybuilds/aegra-go/wire"
)

const defaultDistributedPoll = time.Second

// streamChannelKey is the per-run pub/sub channel name: aegra:stream:{runID}
func streamChannelKey(runID string) string { return "aegra:stream:" + runID }

// runFinishedKey is the TTL-bounded completion flag: run:{runID}:finished
func runFinishedKey(runID string) string { return "run:" + runID + ":finished" }

// RedisBackend opens channels backed by Redis pub/sub. The backend owns the
// client and closes it on Close.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisBackend wraps an existing Redis client. ttl bounds how long the
// per-run finished flag outlives completion.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl, poll: defaultDistributedPoll}
}

// DialRedisBackend connects to a Redis URL and verifies reachability.
func DialRedisBackend(ctx context.Context, url string, ttl time.Duration) (*RedisBackend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return NewRedisBackend(client, ttl), nil
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Open(_ context.Context, runID string) (Channel, error) {
	return &redisChannel{
		runID:     runID,
		client:    b.client,
		channel:   streamChannelKey(runID),
		finKey:    runFinishedKey(runID),
		ttl:       b.ttl,
		poll:      b.poll,
		createdAt: time.Now(),
	}, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (b *RedisBackend) Close() error { return b.client.Close() }

type redisChannel struct {
	runID     string
	client    *redis.Client
	channel   string
	finKey    string
	ttl       time.Duration
	poll      time.Duration
	createdAt time.Time
	finished  atomic.Bool
}

func (c *redisChannel) Put(ctx context.Context, eventID string, payload events.Event) error {
	if c.finished.Load() {
		slog.Debug("skipping publish for finished channel",
			slog.String("run_id", c.runID), slog.String("event_id", eventID))
		return nil
	}

	msg, err := wire.MarshalEnvelope(eventID, payload)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish event %s for run %s: %w", eventID, c.runID, err)
	}

	if events.IsTerminal(payload) {
		c.MarkFinished(ctx)
	}
	return nil
}

func (c *redisChannel) Subscribe(ctx context.Context) (Subscription, error) {
	ps := c.client.Subscribe(ctx, c.channel)
	// Wait for the subscription confirmation so events published after this
	// call are guaranteed to be seen.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to run %s: %w", c.runID, err)
	}
	return &redisSub{ch: c, ps: ps}, nil
}

func (c *redisChannel) MarkFinished(ctx context.Context) {
	if c.finished.Swap(true) {
		return
	}
	if err := c.client.Set(ctx, c.finKey, "true", c.ttl).Err(); err != nil {
		slog.Warn("failed to record finished flag",
			slog.String("run_id", c.runID), slogx.Error(err))
	}
}

func (c *redisChannel) Finished() bool { return c.finished.Load() }

// Drained is always true: pub/sub keeps no backlog, delivery is fire and
// forget.
func (c *redisChannel) Drained() bool { return true }

func (c *redisChannel) Age() time.Duration { return time.Since(c.createdAt) }

func (c *redisChannel) remoteFinished(ctx context.Context) bool {
	val, err := c.client.Get(ctx, c.finKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("finished flag check failed",
				slog.String("run_id", c.runID), slogx.Error(err))
		}
		return false
	}
	return val == "true"
}

type redisSub struct {
	ch   *redisChannel
	ps   *redis.PubSub
	done bool
}

func (s *redisSub) Next(ctx context.Context) (Event, error) {
	for {
		if s.done {
			return Event{}, ErrSubscriptionDone
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		raw, err := s.ps.ReceiveTimeout(ctx, s.ch.poll)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				// No event within the poll window: re-check completion so
				// subscribers attached after the run ended still terminate.
				if s.ch.finished.Load() || s.ch.remoteFinished(ctx) {
					s.done = true
					return Event{}, ErrSubscriptionDone
				}
				continue
			}
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			// Connection errors end this subscriber's iteration locally.
			return Event{}, fmt.Errorf("receive for run %s: %w", s.ch.runID, err)
		}

		msg, ok := raw.(*redis.Message)
		if !ok {
			continue
		}
		id, ev, err := wire.UnmarshalEnvelope([]byte(msg.Payload))
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

func (s *redisSub) Close() {
	if err := s.ps.Close(); err != nil {
		slog.Debug("failed to close pubsub",
			slog.String("run_id", s.ch.runID), slogx.Error(err))
	}
}
