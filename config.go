package aegra

import (
	"log/slog"
	"os"
	"time"

	"github.com/ibbybuilds/aegra-go/internal/channel"
)

// Config selects the channel and event log backends and their retention
// behavior. The zero value runs fully in process with the defaults below.
type Config struct {
	// Mode forces the channel backend selection; the default is auto.
	Mode channel.Mode
	// RedisURL enables the Redis channel backend when set.
	RedisURL string
	// NATSURL enables the NATS channel backend when set. RedisURL wins when
	// both are set.
	NATSURL string
	// DatabaseURL enables the Postgres event log when set.
	DatabaseURL string
	// EventLogPath enables the SQLite event log when set and no DatabaseURL
	// is configured. Without either, events are logged in memory.
	EventLogPath string

	// ChannelRetention is how long finished, drained channels linger before
	// the janitor reclaims them.
	ChannelRetention time.Duration
	// SweepInterval is how often the janitor runs.
	SweepInterval time.Duration
	// FinishedTTL bounds how long distributed backends keep a run's
	// completion flag for late subscribers.
	FinishedTTL time.Duration
	// EventRetention is how long stored events are kept before pruning.
	// Zero disables the pruner.
	EventRetention time.Duration
	// PruneInterval is how often the event log pruner runs.
	PruneInterval time.Duration
}

const (
	defaultFinishedTTL   = time.Hour
	defaultPruneInterval = time.Hour
)

// ConfigFromEnv reads the configuration from the process environment.
// Unset variables keep their defaults; malformed durations are logged and
// ignored.
func ConfigFromEnv() Config {
	return Config{
		Mode:             channel.ParseMode(os.Getenv("AEGRA_BROKER_MODE")),
		RedisURL:         os.Getenv("REDIS_URL"),
		NATSURL:          os.Getenv("NATS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		EventLogPath:     os.Getenv("AEGRA_EVENTLOG_PATH"),
		ChannelRetention: durationEnv("AEGRA_CHANNEL_RETENTION", 0),
		SweepInterval:    durationEnv("AEGRA_SWEEP_INTERVAL", 0),
		FinishedTTL:      durationEnv("AEGRA_FINISHED_TTL", defaultFinishedTTL),
		EventRetention:   durationEnv("AEGRA_EVENT_RETENTION", 0),
		PruneInterval:    durationEnv("AEGRA_PRUNE_INTERVAL", defaultPruneInterval),
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("ignoring malformed duration", slog.String("var", key), slog.String("value", raw))
		return fallback
	}
	return d
}
