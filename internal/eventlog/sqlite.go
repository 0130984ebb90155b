package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/ibbybuilds/aegra-go/events"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS run_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	event      TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_seq ON run_events (run_id, seq);
CREATE INDEX IF NOT EXISTS idx_run_events_created ON run_events (created_at);
`

// SQLiteLog stores run histories in a SQLite database file. ":memory:" gives
// a throwaway database for tests.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLiteLog opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLiteLog(ctx context.Context, path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// The sqlite driver is not safe for concurrent writers on one
	// connection; serialize through the pool instead.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply event log schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

func (l *SQLiteLog) StoreEvent(ctx context.Context, runID, eventID, event string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", eventID, err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO run_events (id, run_id, seq, event, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		eventID, runID, events.SeqForStore(eventID), event, string(raw), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store event %s: %w", eventID, err)
	}
	return nil
}

func (l *SQLiteLog) GetAllEvents(ctx context.Context, runID string) ([]StoredEvent, error) {
	return l.GetEventsSince(ctx, runID, "")
}

func (l *SQLiteLog) GetEventsSince(ctx context.Context, runID, lastEventID string) ([]StoredEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, seq, event, data, created_at
		FROM run_events
		WHERE run_id = ? AND seq > ?
		ORDER BY seq`,
		runID, events.SeqForResume(lastEventID))
	if err != nil {
		return nil, fmt.Errorf("query events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var raw string
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Seq, &ev.Event, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event for run %s: %w", runID, err)
		}
		if err := json.Unmarshal([]byte(raw), &ev.Data); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", ev.ID, err)
		}
		ev.CreatedAt = time.Unix(0, createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (l *SQLiteLog) GetRunInfo(ctx context.Context, runID string) (RunInfo, bool, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(seq), MAX(seq)
		FROM run_events
		WHERE run_id = ?`, runID)

	var count int64
	var minSeq, maxSeq sql.NullInt64
	if err := row.Scan(&count, &minSeq, &maxSeq); err != nil {
		return RunInfo{}, false, fmt.Errorf("summarize run %s: %w", runID, err)
	}
	if count == 0 {
		return RunInfo{}, false, nil
	}

	info := RunInfo{
		RunID:      runID,
		EventCount: maxSeq.Int64 - minSeq.Int64 + 1,
	}
	var createdAt int64
	last := l.db.QueryRowContext(ctx, `
		SELECT id, created_at
		FROM run_events
		WHERE run_id = ? AND seq = ?`, runID, maxSeq.Int64)
	if err := last.Scan(&info.LastEventID, &createdAt); err != nil {
		return RunInfo{}, false, fmt.Errorf("summarize run %s: %w", runID, err)
	}
	info.LastEventTime = time.Unix(0, createdAt)
	return info, true, nil
}

func (l *SQLiteLog) CleanupEvents(ctx context.Context, runID string) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("cleanup events for run %s: %w", runID, err)
	}
	return res.RowsAffected()
}

func (l *SQLiteLog) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM run_events WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (l *SQLiteLog) Close() error { return l.db.Close() }
