// Package evidence is the immutable, content-addressed blob store backing
// the events in eventbus. Every event that triggers an externally
// observable effect carries at least one evidence id; the blob itself —
// a diff, test output, a context-selection manifest, or extracted
// retrieval tokens — lives here, keyed by id, with a checksum recorded
// alongside it so a caller can verify it was not altered at rest.
//
// Persistence is one row per artifact with a raw-bytes content column and
// a SQL dialect switch, the same normalized shape eventbus.Store uses for
// event rows.
package evidence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Kind is the evidence payload's type.
type Kind string

const (
	KindDiff               Kind = "diff"
	KindTestOutput         Kind = "test_output"
	KindReferenceTokens    Kind = "reference_tokens"
	KindContextSelection   Kind = "context_selection"
	KindDiagnosis          Kind = "diagnosis"
	KindGeneric            Kind = "generic"
)

// Blob is one immutable evidence artifact.
type Blob struct {
	ID        string
	TaskID    string
	Kind      Kind
	Content   []byte
	Checksum  string
	CreatedAt time.Time
}

// Store persists evidence blobs with their checksum.
type Store struct {
	db      *sql.DB
	dialect string
}

const createEvidenceTableSQLite = `
CREATE TABLE IF NOT EXISTS ordinex_evidence (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    content BLOB NOT NULL,
    checksum TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`
const createEvidenceTablePostgres = `
CREATE TABLE IF NOT EXISTS ordinex_evidence (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    content BYTEA NOT NULL,
    checksum TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`
const createEvidenceTableMySQL = `
CREATE TABLE IF NOT EXISTS ordinex_evidence (
    id VARCHAR(64) PRIMARY KEY,
    task_id VARCHAR(128) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    content LONGBLOB NOT NULL,
    checksum VARCHAR(64) NOT NULL,
    created_at TIMESTAMP(6) NOT NULL
)`

// NewStore opens (and schema-migrates) the evidence store.
func NewStore(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("evidence: database connection is required")
	}
	if dialect == "sqlite3" {
		dialect = "sqlite"
	}
	createTable := createEvidenceTableSQLite
	switch dialect {
	case "postgres":
		createTable = createEvidenceTablePostgres
	case "mysql":
		createTable = createEvidenceTableMySQL
	case "sqlite":
	default:
		return nil, fmt.Errorf("evidence: unsupported dialect %q", dialect)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return nil, fmt.Errorf("evidence: failed to create table: %w", err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// Put stores content under a new content-addressed id and returns the
// persisted Blob. The id is derived from the full SHA-256 of content so
// identical evidence re-submitted for the same task is idempotent at the
// storage layer.
func (s *Store) Put(ctx context.Context, taskID string, kind Kind, content []byte) (Blob, error) {
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])
	id := fmt.Sprintf("%s-%s", kind, checksum[:16])
	now := time.Now().UTC()

	query := `INSERT INTO ordinex_evidence (id, task_id, kind, content, checksum, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		query = `INSERT INTO ordinex_evidence (id, task_id, kind, content, checksum, created_at)
VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`
	} else {
		query += ` ON CONFLICT(id) DO NOTHING`
	}

	if _, err := s.db.ExecContext(ctx, query, id, taskID, string(kind), content, checksum, now); err != nil {
		return Blob{}, fmt.Errorf("evidence: put failed: %w", err)
	}

	return Blob{ID: id, TaskID: taskID, Kind: kind, Content: content, Checksum: checksum, CreatedAt: now}, nil
}

// Get loads a blob by id and verifies its checksum still matches its
// stored content, guarding against on-disk corruption.
func (s *Store) Get(ctx context.Context, id string) (Blob, error) {
	query := `SELECT id, task_id, kind, content, checksum, created_at FROM ordinex_evidence WHERE id = ?`
	if s.dialect == "postgres" {
		query = `SELECT id, task_id, kind, content, checksum, created_at FROM ordinex_evidence WHERE id = $1`
	}

	var b Blob
	var kind string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.TaskID, &kind, &b.Content, &b.Checksum, &b.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Blob{}, fmt.Errorf("evidence: %q not found", id)
		}
		return Blob{}, fmt.Errorf("evidence: get failed: %w", err)
	}
	b.Kind = Kind(kind)

	sum := sha256.Sum256(b.Content)
	if hex.EncodeToString(sum[:]) != b.Checksum {
		return Blob{}, fmt.Errorf("evidence: checksum mismatch for %q, storage may be corrupted", id)
	}
	return b, nil
}
