// Package journal persists every execution event to an append-only SQLite
// table. It is a transport-layer convenience for re-fetching finished runs
// over HTTP; the core never reads it.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/metrics"
	"github.com/agentlab-ai/agentlab/internal/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload    TEXT NOT NULL,
    timestamp  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events (run_id, id);
`

// Journal is the append-only run event store.
type Journal struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the journal database at path. Use
// ":memory:" for an ephemeral journal.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// SQLite writes serialize on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) Ping(ctx context.Context) error { return j.db.PingContext(ctx) }

// Publish appends one event. Implements the orchestrator sink contract:
// failures are logged and counted, never surfaced into the run.
func (j *Journal) Publish(runID string, ev orchestrator.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.JournalWrites.WithLabelValues("error").Inc()
		j.logger.Warn("journal marshal failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = j.db.Exec(
		`INSERT INTO run_events (run_id, event_type, payload, timestamp) VALUES (?, ?, ?, ?)`,
		runID, string(ev.EventType), string(payload), ts,
	)
	if err != nil {
		metrics.JournalWrites.WithLabelValues("error").Inc()
		j.logger.Warn("journal write failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	metrics.JournalWrites.WithLabelValues("ok").Inc()
}

// Events returns a run's events in append order.
func (j *Journal) Events(ctx context.Context, runID string) ([]orchestrator.Event, error) {
	var payloads []string
	err := j.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	events := make([]orchestrator.Event, 0, len(payloads))
	for _, raw := range payloads {
		var ev orchestrator.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			j.logger.Warn("journal payload corrupt", zap.String("run_id", runID), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// RunSummary describes one journaled run.
type RunSummary struct {
	RunID     string    `db:"run_id" json:"run_id"`
	Events    int       `db:"events" json:"events"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
}

// Runs lists journaled runs, most recent first.
func (j *Journal) Runs(ctx context.Context) ([]RunSummary, error) {
	var runs []RunSummary
	err := j.db.SelectContext(ctx, &runs, `
        SELECT run_id, COUNT(*) AS events, MIN(timestamp) AS started_at
        FROM run_events GROUP BY run_id ORDER BY MIN(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list journal runs: %w", err)
	}
	return runs, nil
}
