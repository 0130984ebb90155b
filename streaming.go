package aegra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fogfish/opts"

	"github.com/ibbybuilds/aegra-go/internal/channel"
	"github.com/ibbybuilds/aegra-go/internal/eventlog"
	"github.com/ibbybuilds/aegra-go/stream"
)

// Streaming is the assembled service: an orchestrator over the configured
// channel registry and event log, with their background maintenance loops
// running.
type Streaming struct {
	Orchestrator *stream.Orchestrator

	log    eventlog.Log
	pruner *eventlog.Pruner
}

// NewStreaming wires the service from cfg. Backends are validated up front:
// a forced distributed mode fails here when its backend is unreachable,
// auto mode degrades to in-process with a logged error.
func NewStreaming(ctx context.Context, cfg Config) (*Streaming, error) {
	log, err := openLog(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry, err := openRegistry(ctx, cfg)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	if err := registry.Validate(ctx); err != nil {
		_ = log.Close()
		_ = registry.Shutdown(ctx)
		return nil, err
	}
	registry.StartJanitor()

	svc := &Streaming{
		Orchestrator: stream.New(registry, log),
		log:          log,
	}
	if cfg.EventRetention > 0 {
		svc.pruner = eventlog.NewPruner(log, cfg.EventRetention, cfg.PruneInterval)
		svc.pruner.Start()
	}
	return svc, nil
}

// Shutdown cancels driven runs, stops the maintenance loops and releases
// every backend connection.
func (s *Streaming) Shutdown(ctx context.Context) error {
	if s.pruner != nil {
		s.pruner.Stop()
	}
	err := s.Orchestrator.Shutdown(ctx)
	if cerr := s.log.Close(); err == nil {
		err = cerr
	}
	return err
}

func openLog(ctx context.Context, cfg Config) (eventlog.Log, error) {
	switch {
	case cfg.DatabaseURL != "":
		slog.Info("using postgres event log")
		return eventlog.OpenPostgresLog(ctx, cfg.DatabaseURL)
	case cfg.EventLogPath != "":
		slog.Info("using sqlite event log", slog.String("path", cfg.EventLogPath))
		return eventlog.OpenSQLiteLog(ctx, cfg.EventLogPath)
	default:
		slog.Info("using in-memory event log")
		return eventlog.NewMemoryLog(), nil
	}
}

func openRegistry(ctx context.Context, cfg Config) (*channel.Registry, error) {
	var options []opts.Option[channel.Registry]
	if cfg.Mode != "" {
		options = append(options, channel.WithMode(cfg.Mode))
	}
	if cfg.ChannelRetention > 0 {
		options = append(options, channel.WithRetention(cfg.ChannelRetention))
	}
	if cfg.SweepInterval > 0 {
		options = append(options, channel.WithSweepInterval(cfg.SweepInterval))
	}

	backend, err := openDistributed(ctx, cfg)
	if err != nil {
		if cfg.Mode == channel.ModeDistributed {
			return nil, err
		}
		slog.Error("distributed backend unavailable, continuing in-process", slog.Any("error", err))
	}
	if backend != nil {
		options = append(options, channel.WithDistributed(backend))
	}
	return channel.NewRegistry(options...)
}

func openDistributed(ctx context.Context, cfg Config) (channel.Backend, error) {
	if cfg.FinishedTTL <= 0 {
		cfg.FinishedTTL = defaultFinishedTTL
	}
	switch {
	case cfg.Mode == channel.ModeInProcess:
		return nil, nil
	case cfg.RedisURL != "":
		slog.Info("using redis channel backend")
		b, err := channel.DialRedisBackend(ctx, cfg.RedisURL, cfg.FinishedTTL)
		if err != nil {
			return nil, fmt.Errorf("redis channel backend: %w", err)
		}
		return b, nil
	case cfg.NATSURL != "":
		slog.Info("using nats channel backend")
		b, err := channel.DialNATSBackend(cfg.NATSURL, cfg.FinishedTTL)
		if err != nil {
			return nil, fmt.Errorf("nats channel backend: %w", err)
		}
		return b, nil
	case cfg.Mode == channel.ModeDistributed:
		return nil, fmt.Errorf("distributed mode requires REDIS_URL or NATS_URL")
	default:
		return nil, nil
	}
}
