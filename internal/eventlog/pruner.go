package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ibbybuilds/aegra-go/pkg/slogx"
)

// Pruner periodically deletes stored events older than a retention window.
// Replays of long-finished runs degrade gracefully: anything pruned is simply
// absent from the replayed range.
type Pruner struct {
	log       Log
	retention time.Duration
	interval  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewPruner builds a pruner over log. retention is how long events are kept,
// interval how often the sweep runs.
func NewPruner(log Log, retention, interval time.Duration) *Pruner {
	return &Pruner{
		log:       log,
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (p *Pruner) Start() {
	p.startOnce.Do(func() {
		go p.loop()
	})
}

// Stop ends the sweep loop. Safe to call more than once.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

func (p *Pruner) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pruner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pruned, err := p.log.PruneOlderThan(ctx, time.Now().Add(-p.retention))
	if err != nil {
		slog.Error("event log prune failed", slogx.Error(err))
		return
	}
	if pruned > 0 {
		slog.Info("pruned stored events", slog.Int64("count", pruned))
	}
}
