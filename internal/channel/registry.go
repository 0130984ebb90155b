package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"

	"github.com/ibbybuilds/aegra-go/pkg/slogx"
)

// Mode selects how the Registry picks a backend for new channels.
type Mode string

const (
	// ModeAuto prefers the distributed backend when one is configured and
	// reachable, degrading to in-process on failure.
	ModeAuto Mode = "auto"
	// ModeDistributed requires the distributed backend; operations fail hard
	// when it is unavailable.
	ModeDistributed Mode = "distributed"
	// ModeInProcess never touches the distributed backend.
	ModeInProcess Mode = "inprocess"
)

// ParseMode normalizes a mode string, falling back to auto with a warning on
// unknown values.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeAuto, Mode(""):
		return ModeAuto
	case ModeDistributed, Mode("redis"), Mode("nats"):
		return ModeDistributed
	case ModeInProcess, Mode("memory"):
		return ModeInProcess
	default:
		slog.Warn("unknown channel backend mode, using auto", slog.String("mode", raw))
		return ModeAuto
	}
}

const (
	defaultRetention     = time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// Registry option setters.
var (
	WithMode          = opts.ForName[Registry, Mode]("Mode")
	WithRetention     = opts.ForName[Registry, time.Duration]("Retention")
	WithSweepInterval = opts.ForName[Registry, time.Duration]("SweepInterval")
)

// WithDistributed installs a distributed backend (Redis or NATS).
func WithDistributed(b Backend) opts.Option[Registry] {
	return opts.Type[Registry](func(r *Registry) error {
		r.distributed = b
		return nil
	})
}

// WithLocalBackend overrides the in-process backend, mainly so tests can
// shrink the polling interval.
func WithLocalBackend(b *LocalBackend) opts.Option[Registry] {
	return opts.Type[Registry](func(r *Registry) error {
		r.local = b
		return nil
	})
}

// Registry creates, locates and retires per-run channels. The backend is
// selected once per instance and re-selected only on proven failure; a
// distributed backend that recovers afterwards is picked up again only for
// registries created after that point (in practice, after a process
// restart).
type Registry struct {
	Mode          Mode
	Retention     time.Duration
	SweepInterval time.Duration

	local       Backend
	distributed Backend
	degraded    atomic.Bool

	channels *haxmap.Map[string, Channel]
	mu       sync.Mutex

	janitorOnce sync.Once
	stopOnce    sync.Once
	done        chan struct{}
}

// NewRegistry builds a registry. Without WithDistributed it always uses the
// in-process backend.
func NewRegistry(options ...opts.Option[Registry]) (*Registry, error) {
	r := &Registry{
		Mode:          ModeAuto,
		Retention:     defaultRetention,
		SweepInterval: defaultSweepInterval,
		local:         NewLocalBackend(),
		channels:      haxmap.New[string, Channel](),
		done:          make(chan struct{}),
	}
	if err := opts.Apply(r, options); err != nil {
		return nil, err
	}
	if r.Mode == ModeDistributed && r.distributed == nil {
		return nil, fmt.Errorf("%w: distributed mode forced but no backend configured", ErrBackendUnavailable)
	}
	return r, nil
}

// Validate verifies the configured backend is ready. In distributed mode an
// unreachable backend is a hard error; in auto mode it only degrades.
func (r *Registry) Validate(ctx context.Context) error {
	if r.distributed == nil || r.Mode == ModeInProcess {
		return nil
	}
	if err := r.distributed.Ping(ctx); err != nil {
		if r.Mode == ModeDistributed {
			return err
		}
		slog.Error("distributed backend unreachable, degrading to in-process", slogx.Error(err))
		r.degraded.Store(true)
	}
	return nil
}

func (r *Registry) useDistributed() bool {
	return r.Mode != ModeInProcess && r.distributed != nil && !r.degraded.Load()
}

// Degraded reports whether the registry has substituted the in-process
// backend after a distributed failure.
func (r *Registry) Degraded() bool { return r.degraded.Load() }

// GetOrCreate returns the run's channel, creating one on the selected
// backend if needed.
func (r *Registry) GetOrCreate(ctx context.Context, runID string) (Channel, error) {
	if ch, ok := r.channels.Get(runID); ok {
		return ch, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels.Get(runID); ok {
		return ch, nil
	}

	if r.useDistributed() {
		ch, err := r.distributed.Open(ctx, runID)
		if err == nil {
			r.channels.Set(runID, ch)
			slog.Debug("created channel",
				slog.String("run_id", runID), slog.String("backend", r.distributed.Name()))
			return ch, nil
		}
		if r.Mode == ModeDistributed {
			return nil, fmt.Errorf("open %s channel for run %s: %w", r.distributed.Name(), runID, err)
		}
		slog.Error("distributed backend failed, degrading to in-process",
			slog.String("run_id", runID), slogx.Error(err))
		r.degraded.Store(true)
	}

	ch, err := r.local.Open(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("open in-process channel for run %s: %w", runID, err)
	}
	r.channels.Set(runID, ch)
	return ch, nil
}

// Get looks up a channel without creating one.
func (r *Registry) Get(runID string) (Channel, bool) {
	return r.channels.Get(runID)
}

// Degrade substitutes an in-process channel for the run after a proven
// distributed failure, and stops using the distributed backend for
// subsequent channels. Events in flight at the exact switch moment for this
// run may be dropped for remote subscribers; stored events are unaffected
// and recoverable through replay.
func (r *Registry) Degrade(ctx context.Context, runID string, cause error) (Channel, error) {
	if r.Mode == ModeDistributed {
		return nil, cause
	}
	slog.Error("distributed channel failed, substituting in-process",
		slog.String("run_id", runID), slogx.Error(cause))
	r.degraded.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.local.Open(ctx, runID)
	if err != nil {
		return nil, err
	}
	r.channels.Set(runID, ch)
	return ch, nil
}

// Cleanup forces the run's channel finished ahead of natural completion.
// Used for explicit cancellation; the janitor removes the channel later.
func (r *Registry) Cleanup(ctx context.Context, runID string) {
	if ch, ok := r.channels.Get(runID); ok {
		ch.MarkFinished(ctx)
	}
}

// Remove finishes and forgets the run's channel immediately.
func (r *Registry) Remove(ctx context.Context, runID string) {
	if ch, ok := r.channels.Get(runID); ok {
		ch.MarkFinished(ctx)
		r.channels.Del(runID)
	}
}

// StartJanitor launches the periodic sweep that reclaims channels which are
// finished, drained and older than the retention window.
func (r *Registry) StartJanitor() {
	r.janitorOnce.Do(func() {
		go r.sweepLoop()
	})
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	var stale []string
	r.channels.ForEach(func(runID string, ch Channel) bool {
		if ch.Finished() && ch.Drained() && ch.Age() > r.Retention {
			stale = append(stale, runID)
		}
		return true
	})
	for _, runID := range stale {
		r.channels.Del(runID)
		slog.Info("reclaimed stale channel", slog.String("run_id", runID))
	}
}

// Shutdown stops the janitor and releases backend connections.
func (r *Registry) Shutdown(context.Context) error {
	var err error
	r.stopOnce.Do(func() {
		close(r.done)
		if r.distributed != nil {
			err = r.distributed.Close()
		}
	})
	return err
}
