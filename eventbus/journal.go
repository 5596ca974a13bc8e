package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal is the newline-terminated JSON mirror of the event log, written
// to `<workspace>/.ordinex/events.jsonl`. It exists alongside the
// SQL-backed Store rather than instead of it: the SQL store is the
// queryable source of truth, the journal is the plain-text audit trail a
// human (or a diffing tool) can read without a database. A hand-rolled
// append-only writer is used rather than a logging library because the
// durability property publish() needs — the write is fsynced before the
// call returns — requires direct control of the file handle, which a
// generic structured-logging library does not expose.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

// OpenJournal opens (creating if necessary) the append-only journal file
// at path, creating parent directories as needed.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("eventbus: failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventbus: failed to open journal: %w", err)
	}
	return &Journal{file: f}, nil
}

// Append writes one JSON-encoded event followed by a newline and fsyncs
// before returning, so a publish() that returns success has a durable
// on-disk record even if the process crashes immediately after.
func (j *Journal) Append(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventbus: failed to marshal event for journal: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("eventbus: journal write failed: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("eventbus: journal fsync failed: %w", err)
	}
	return nil
}

// Close closes the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
