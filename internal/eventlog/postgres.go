package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibbybuilds/aegra-go/events"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS run_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	seq        BIGINT NOT NULL,
	event      TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_seq ON run_events (run_id, seq);
CREATE INDEX IF NOT EXISTS idx_run_events_created ON run_events (created_at);
`

// PostgresLog stores run histories in Postgres. The pool is owned by the
// caller unless created through OpenPostgresLog.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog wraps an existing pool without touching the schema.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// OpenPostgresLog connects to a Postgres URL and applies the schema.
func OpenPostgresLog(ctx context.Context, url string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	l := &PostgresLog{pool: pool}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// Migrate applies the event log schema. Safe to run repeatedly.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply event log schema: %w", err)
	}
	return nil
}

func (l *PostgresLog) StoreEvent(ctx context.Context, runID, eventID, event string, data map[string]any) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO run_events (id, run_id, seq, event, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		eventID, runID, events.SeqForStore(eventID), event, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store event %s: %w", eventID, err)
	}
	return nil
}

func (l *PostgresLog) GetAllEvents(ctx context.Context, runID string) ([]StoredEvent, error) {
	return l.GetEventsSince(ctx, runID, "")
}

func (l *PostgresLog) GetEventsSince(ctx context.Context, runID, lastEventID string) ([]StoredEvent, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, run_id, seq, event, data, created_at
		FROM run_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq`,
		runID, events.SeqForResume(lastEventID))
	if err != nil {
		return nil, fmt.Errorf("query events for run %s: %w", runID, err)
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredEvent, error) {
		var ev StoredEvent
		err := row.Scan(&ev.ID, &ev.RunID, &ev.Seq, &ev.Event, &ev.Data, &ev.CreatedAt)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan events for run %s: %w", runID, err)
	}
	return out, nil
}

func (l *PostgresLog) GetRunInfo(ctx context.Context, runID string) (RunInfo, bool, error) {
	var count int64
	var minSeq, maxSeq *int64
	err := l.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(seq), MAX(seq)
		FROM run_events
		WHERE run_id = $1`, runID).
		Scan(&count, &minSeq, &maxSeq)
	if err != nil {
		return RunInfo{}, false, fmt.Errorf("summarize run %s: %w", runID, err)
	}
	if count == 0 {
		return RunInfo{}, false, nil
	}

	info := RunInfo{
		RunID:      runID,
		EventCount: *maxSeq - *minSeq + 1,
	}
	err = l.pool.QueryRow(ctx, `
		SELECT id, created_at
		FROM run_events
		WHERE run_id = $1 AND seq = $2`, runID, *maxSeq).
		Scan(&info.LastEventID, &info.LastEventTime)
	if err != nil {
		return RunInfo{}, false, fmt.Errorf("summarize run %s: %w", runID, err)
	}
	return info, true, nil
}

func (l *PostgresLog) CleanupEvents(ctx context.Context, runID string) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM run_events WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("cleanup events for run %s: %w", runID, err)
	}
	return tag.RowsAffected(), nil
}

func (l *PostgresLog) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM run_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (l *PostgresLog) Close() error {
	l.pool.Close()
	return nil
}
