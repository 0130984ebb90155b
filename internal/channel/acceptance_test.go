package channel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/pkg/uuidx"
)

// channelFactory creates a fresh channel for a run id on the backend under
// test.
type channelFactory func(t *testing.T, runID string) Channel

// acceptanceTest is a single behavior every backend must exhibit. Running
// the same suite against all backends is what keeps them interchangeable.
type acceptanceTest struct {
	name string
	test func(t *testing.T, create channelFactory)
}

func runAcceptanceTests(t *testing.T, name string, factory channelFactory) {
	tests := []acceptanceTest{
		{"delivers events in order", testDeliversInOrder},
		{"fans out to all subscribers", testFanOut},
		{"yields nothing from before subscription", testNoBacklog},
		{"terminal event ends iteration", testTerminalEndsIteration},
		{"rejects puts after terminal", testTerminalExclusivity},
		{"mark finished unblocks subscriber", testMarkFinishedUnblocks},
		{"late subscriber sees completion", testLateSubscriber},
		{"subscriber respects context cancellation", testSubscriberCancellation},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", name, tt.name), func(t *testing.T) {
			tt.test(t, factory)
		})
	}
}

func TestChannelImplementations(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		runAcceptanceTests(t, "Local", func(t *testing.T, runID string) Channel {
			return NewLocal(runID, 20*time.Millisecond)
		})
	})

	t.Run("Redis", func(t *testing.T) {
		backend := setupRedisBackend(t)
		runAcceptanceTests(t, "Redis", func(t *testing.T, runID string) Channel {
			ch, err := backend.Open(context.Background(), runID)
			require.NoError(t, err)
			return ch
		})
	})

	t.Run("NATS", func(t *testing.T) {
		backend := setupNATSBackend(t)
		runAcceptanceTests(t, "NATS", func(t *testing.T, runID string) Channel {
			ch, err := backend.Open(context.Background(), runID)
			require.NoError(t, err)
			return ch
		})
	})
}

func setupRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available: %v", err)
	}
	backend := NewRedisBackend(client, time.Minute)
	backend.poll = 100 * time.Millisecond
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func setupNATSBackend(t *testing.T) *NATSBackend {
	t.Helper()
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	backend, err := NewNATSBackend(nc, time.Minute)
	if err != nil {
		nc.Close()
		t.Skipf("jetstream not available: %v", err)
	}
	backend.poll = 100 * time.Millisecond
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

// collect drains a subscription until it ends or the deadline passes.
func collect(t *testing.T, sub Subscription, timeout time.Duration) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var out []Event
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			require.ErrorIs(t, err, ErrSubscriptionDone)
			return out
		}
		out = append(out, ev)
	}
}

func testDeliversInOrder(t *testing.T, create channelFactory) {
	runID := uuidx.NewString()
	ch := create(t, runID)
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, int64(i)),
			events.Values{Chunk: map[string]any{"n": float64(i)}}))
	}
	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 4),
		events.End{Status: events.StatusSuccess}))

	got := collect(t, sub, 5*time.Second)
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, events.FormatEventID(runID, int64(i+1)), ev.ID)
	}
	assert.True(t, events.IsTerminal(got[3].Payload))
}

func testFanOut(t *testing.T, create channelFactory) {
	runID := uuidx.NewString()
	ch := create(t, runID)
	ctx := context.Background()

	sub1, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub1.Close()
	sub2, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 1), events.Debug{Chunk: "x"}))
	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 2), events.End{Status: events.StatusSuccess}))

	got1 := collect(t, sub1, 5*time.Second)
	got2 := collect(t, sub2, 5*time.Second)
	require.Len(t, got1, 2)
	assert.Equal(t, got1, got2)
}

func testNoBacklog(t *testing.T, create channelFactory) {
	runID := uuidx.NewString()
	ch := create(t, runID)
	ctx := context.Background()

	// Published before anyone subscribes: replay is the event log's job, the
	// channel must not deliver history.
	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 1), events.Values{Chunk: "early"}))

	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 2), events.End{Status: events.StatusSuccess}))

	got := collect(t, sub, 5*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, events.FormatEventID(runID, 2), got[0].ID)
}

func testTerminalEndsIteration(t *testing.T, create channelFactory) {
	runID := uuidx.NewString()
	ch := create(t, runID)
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 1), events.End{Status: events.StatusError}))

	got := collect(t, sub, 5*time.Second)
	require.Len(t, got, 1)
	end, ok := got[0].Payload.(events.End)
	require.True(t, ok)
	assert.Equal(t, events.StatusError, end.Status)
	assert.True(t, ch.Finished())
}

func testTerminalExclusivity(t *testing.T, create channelFactory) {
	runID := uuidx.NewString()
	ch := create(t, runID)
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 1), events.End{Status: events.StatusInterrupted}))

	// Everything after the terminal event is a silent no-op, including a
	// second terminal with a different status.
	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 2), events.Values{Chunk: "late"}))
	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 3), events.End{Status: events.StatusSuccess}))

	got := collect(t, sub, 5*time.Second)
	require.Len(t, got, 1)
	end := got[0].Payload.(events.End)
	assert.Equal(t, events.StatusInterrupted, end.Status)
}

func testMarkFinishedUnblocks(t *testing.T, create channelFactory) {
	runID := uuidx.NewString()
	ch := create(t, runID)
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		ch.MarkFinished(context.Background())
	}()

	start := time.Now()
	got := collect(t, sub, 10*time.Second)
	assert.Empty(t, got)
	// Unblocked within a couple of polling intervals, not the full deadline.
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, ch.Finished())
}

func testLateSubscriber(t *testing.T, create channelFactory) {
	runID := uuidx.NewString()
	ch := create(t, runID)
	ctx := context.Background()

	require.NoError(t, ch.Put(ctx, events.FormatEventID(runID, 1), events.End{Status: events.StatusSuccess}))

	// A subscriber attached after completion must get a definite
	// end-of-stream signal instead of blocking forever.
	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	got := collect(t, sub, 5*time.Second)
	assert.Empty(t, got)
}

func testSubscriberCancellation(t *testing.T, create channelFactory) {
	runID := uuidx.NewString()
	ch := create(t, runID)

	sub, err := ch.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Cancellation ends only this subscriber's iteration; the channel keeps
	// serving.
	assert.False(t, ch.Finished())
}
