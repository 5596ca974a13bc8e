package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Store is the durable append-only sink for events. It is dialect-switched:
// a single schema expressed with per-dialect placeholder/upsert variants,
// selected once at construction time. Unlike a row that gets replaced in
// place, event rows are insert-only — there is no UPDATE path, which is
// what makes the log append-only at the storage layer, not just by
// convention.
type Store struct {
	db      *sql.DB
	dialect string
}

const (
	createEventsTableSQLite = `
CREATE TABLE IF NOT EXISTS ordinex_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    task_id TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    type TEXT NOT NULL,
    mode TEXT NOT NULL,
    stage TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    evidence_ids_json TEXT NOT NULL,
    parent_event_id TEXT
)`
	createEventsTablePostgres = `
CREATE TABLE IF NOT EXISTS ordinex_events (
    seq BIGSERIAL PRIMARY KEY,
    event_id TEXT NOT NULL UNIQUE,
    task_id TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    type TEXT NOT NULL,
    mode TEXT NOT NULL,
    stage TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    evidence_ids_json TEXT NOT NULL,
    parent_event_id TEXT
)`
	createEventsTableMySQL = `
CREATE TABLE IF NOT EXISTS ordinex_events (
    seq BIGINT AUTO_INCREMENT PRIMARY KEY,
    event_id VARCHAR(64) NOT NULL UNIQUE,
    task_id VARCHAR(128) NOT NULL,
    ts TIMESTAMP(6) NOT NULL,
    type VARCHAR(64) NOT NULL,
    mode VARCHAR(16) NOT NULL,
    stage VARCHAR(16) NOT NULL,
    payload_json TEXT NOT NULL,
    evidence_ids_json TEXT NOT NULL,
    parent_event_id VARCHAR(64)
)`
	createEventsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_ordinex_events_task_seq ON ordinex_events(task_id, seq)`
)

// NewStore opens (and schema-migrates) an event store over an existing
// *sql.DB. dialect selects the SQL variant; "sqlite3" is normalized to
// "sqlite" since that's the registered driver name, not the dialect.
func NewStore(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("eventbus: database connection is required")
	}
	normalized := dialect
	if normalized == "sqlite3" {
		normalized = "sqlite"
	}
	switch normalized {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("eventbus: unsupported dialect %q (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{db: db, dialect: normalized}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("eventbus: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := createEventsTableSQLite
	switch s.dialect {
	case "postgres":
		createTable = createEventsTablePostgres
	case "mysql":
		createTable = createEventsTableMySQL
	}
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create ordinex_events table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createEventsIndexSQL); err != nil {
		return fmt.Errorf("failed to create task/seq index: %w", err)
	}
	return nil
}

// Append durably persists event, assigning it the next sequence number for
// its task. It must return only after the write is durable: publish must
// fail rather than return before the row is committed.
func (s *Store) Append(ctx context.Context, ev Event) (int64, error) {
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("eventbus: failed to marshal payload: %w", err)
	}
	evidenceJSON, err := json.Marshal(ev.EvidenceIDs)
	if err != nil {
		return 0, fmt.Errorf("eventbus: failed to marshal evidence ids: %w", err)
	}

	query := `INSERT INTO ordinex_events
(event_id, task_id, ts, type, mode, stage, payload_json, evidence_ids_json, parent_event_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		query = `INSERT INTO ordinex_events
(event_id, task_id, ts, type, mode, stage, payload_json, evidence_ids_json, parent_event_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING seq`
	}

	args := []any{
		ev.EventID, ev.TaskID, ev.Timestamp, string(ev.Type), string(ev.Mode), string(ev.Stage),
		string(payloadJSON), string(evidenceJSON), nullableString(ev.ParentEventID),
	}

	if s.dialect == "postgres" {
		var seq int64
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
			return 0, fmt.Errorf("eventbus: append failed: %w", err)
		}
		return seq, nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("eventbus: append failed: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("eventbus: failed to read assigned sequence: %w", err)
	}
	return seq, nil
}

// EventsByTask returns every event recorded for taskID, in insertion
// (total) order.
func (s *Store) EventsByTask(ctx context.Context, taskID string) ([]Event, error) {
	query := `
SELECT seq, event_id, task_id, ts, type, mode, stage, payload_json, evidence_ids_json, parent_event_id
FROM ordinex_events WHERE task_id = ? ORDER BY seq ASC`
	if s.dialect == "postgres" {
		query = `
SELECT seq, event_id, task_id, ts, type, mode, stage, payload_json, evidence_ids_json, parent_event_id
FROM ordinex_events WHERE task_id = $1 ORDER BY seq ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("eventbus: query failed: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payloadJSON, evidenceJSON string
		var parent sql.NullString
		if err := rows.Scan(&ev.Sequence, &ev.EventID, &ev.TaskID, &ev.Timestamp,
			&ev.Type, &ev.Mode, &ev.Stage, &payloadJSON, &evidenceJSON, &parent); err != nil {
			return nil, fmt.Errorf("eventbus: scan failed: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
			return nil, fmt.Errorf("eventbus: failed to unmarshal payload for event %s: %w", ev.EventID, err)
		}
		if err := json.Unmarshal([]byte(evidenceJSON), &ev.EvidenceIDs); err != nil {
			return nil, fmt.Errorf("eventbus: failed to unmarshal evidence ids for event %s: %w", ev.EventID, err)
		}
		if parent.Valid {
			ev.ParentEventID = parent.String
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventbus: row iteration failed: %w", err)
	}
	slog.Debug("eventbus: loaded events for task", "task_id", taskID, "count", len(events))
	return events, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
