package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/internal/channel"
	"github.com/ibbybuilds/aegra-go/internal/eventlog"
	"github.com/ibbybuilds/aegra-go/pkg/uuidx"
)

var errBrokenPipe = errors.New("broken pipe")

// brokenBackend opens channels that fail on first use, standing in for a
// distributed backend that dies mid-run.
type brokenBackend struct{}

func (brokenBackend) Name() string { return "broken" }
func (brokenBackend) Open(context.Context, string) (channel.Channel, error) {
	return brokenChannel{}, nil
}
func (brokenBackend) Ping(context.Context) error { return nil }
func (brokenBackend) Close() error               { return nil }

type brokenChannel struct{}

func (brokenChannel) Put(context.Context, string, events.Event) error { return errBrokenPipe }
func (brokenChannel) Subscribe(context.Context) (channel.Subscription, error) {
	return nil, errBrokenPipe
}
func (brokenChannel) MarkFinished(context.Context) {}
func (brokenChannel) Finished() bool               { return false }
func (brokenChannel) Drained() bool                { return true }
func (brokenChannel) Age() time.Duration           { return 0 }

func TestPublishDegradesToInProcessOnChannelFailure(t *testing.T) {
	reg, err := channel.NewRegistry(
		channel.WithDistributed(brokenBackend{}),
		channel.WithLocalBackend(&channel.LocalBackend{Poll: 20 * time.Millisecond}),
	)
	require.NoError(t, err)
	o := New(reg, eventlog.NewMemoryLog())
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })

	runID := uuidx.NewString()
	ctx := context.Background()

	// The first publish hits the broken backend, degrades and still lands.
	id, err := o.Publish(ctx, runID, events.Values{Chunk: "x"})
	require.NoError(t, err)
	assert.Equal(t, events.FormatEventID(runID, 1), id)
	assert.True(t, reg.Degraded())

	// Delivery continues on the substituted in-process channel.
	frames, err := o.Stream(ctx, Run{ID: runID, Attempt: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, "metadata", nextFrame(t, frames).Event)
	assert.Equal(t, events.FormatEventID(runID, 1), nextFrame(t, frames).ID)

	_, err = o.Publish(ctx, runID, events.End{Status: events.StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, "end", nextFrame(t, frames).Event)
	requireClosed(t, frames)
}

func TestPublishFailureIsFatalWhenDistributedForced(t *testing.T) {
	reg, err := channel.NewRegistry(
		channel.WithMode(channel.ModeDistributed),
		channel.WithDistributed(brokenBackend{}),
	)
	require.NoError(t, err)
	o := New(reg, eventlog.NewMemoryLog())
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })

	_, err = o.Publish(context.Background(), uuidx.NewString(), events.Values{Chunk: "x"})
	require.ErrorIs(t, err, errBrokenPipe)
}
