// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Storage persists checkpoint metadata as one JSON file per checkpoint
// under <baseDir>/index/ and deduplicates file content as content-addressed
// blobs under <baseDir>/blobs/, so two checkpoints that both captured an
// unmodified file share one blob on disk.
type Storage struct {
	baseDir string
	mu      sync.Mutex
}

// NewStorage opens (and creates, if absent) the on-disk checkpoint store
// rooted at baseDir.
func NewStorage(baseDir string) (*Storage, error) {
	for _, sub := range []string{"index", "blobs"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: failed to create %s dir: %w", sub, err)
		}
	}
	return &Storage{baseDir: baseDir}, nil
}

func (s *Storage) indexPath(checkpointID string) string {
	return filepath.Join(s.baseDir, "index", checkpointID+".json")
}

func (s *Storage) blobPath(hash string) string {
	return filepath.Join(s.baseDir, "blobs", hash)
}

// diskFileSnapshot is the on-disk representation: file content is stored
// out-of-line as a blob, referenced by hash, rather than inlined into the
// index JSON.
type diskFileSnapshot struct {
	Path          string `json:"path"`
	ExistedBefore bool   `json:"existed_before"`
	Hash          string `json:"hash"`
	Size          int64  `json:"size"`
}

type diskState struct {
	CheckpointID string             `json:"checkpoint_id"`
	TaskID       string             `json:"task_id"`
	Origin       Origin             `json:"origin"`
	Phase        Phase              `json:"phase"`
	CreatedAt    time.Time          `json:"created_at"`
	Files        []diskFileSnapshot `json:"files"`
}

// Save persists state, writing any not-yet-seen blob content to disk and
// the metadata index atomically (temp file then rename, matching the
// applier's own commit protocol).
func (s *Storage) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	disk := diskState{
		CheckpointID: state.CheckpointID,
		TaskID:       state.TaskID,
		Origin:       state.Origin,
		Phase:        state.Phase,
		CreatedAt:    state.CreatedAt,
	}
	for _, f := range state.Files {
		hash := f.Hash
		if hash != "" {
			if err := s.writeBlobIfAbsent(hash, f.Content); err != nil {
				return err
			}
		}
		disk.Files = append(disk.Files, diskFileSnapshot{
			Path: f.Path, ExistedBefore: f.ExistedBefore, Hash: hash, Size: f.Size,
		})
	}

	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: failed to marshal index: %w", err)
	}
	return writeFileAtomic(s.indexPath(state.CheckpointID), data)
}

func (s *Storage) writeBlobIfAbsent(hash string, content []byte) error {
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeFileAtomic(path, content)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: failed to commit %s: %w", path, err)
	}
	return nil
}

// Load reads a checkpoint's metadata and hydrates each file's content
// from its blob.
func (s *Storage) Load(checkpointID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.indexPath(checkpointID))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %q not found: %w", checkpointID, err)
	}
	var disk diskState
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil, fmt.Errorf("checkpoint: corrupt index for %q: %w", checkpointID, err)
	}

	state := &State{
		CheckpointID: disk.CheckpointID,
		TaskID:       disk.TaskID,
		Origin:       disk.Origin,
		Phase:        disk.Phase,
		CreatedAt:    disk.CreatedAt,
	}
	for _, f := range disk.Files {
		fs := FileSnapshot{Path: f.Path, ExistedBefore: f.ExistedBefore, Hash: f.Hash, Size: f.Size}
		if f.Hash != "" {
			content, err := os.ReadFile(s.blobPath(f.Hash))
			if err != nil {
				return nil, fmt.Errorf("checkpoint: missing blob for %q in %q: %w", f.Path, checkpointID, err)
			}
			if sum := sha256.Sum256(content); hex.EncodeToString(sum[:]) != f.Hash {
				return nil, fmt.Errorf("checkpoint: blob checksum mismatch for %q in %q", f.Path, checkpointID)
			}
			fs.Content = content
		}
		state.Files = append(state.Files, fs)
	}
	return state, nil
}

// ListAll returns every checkpoint's metadata (without hydrating blob
// content), used by the startup recovery scan and the pruning sweep.
func (s *Storage) ListAll() ([]*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "index"))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to list index: %w", err)
	}

	var states []*State
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, "index", e.Name()))
		if err != nil {
			continue
		}
		var disk diskState
		if err := json.Unmarshal(data, &disk); err != nil {
			continue
		}
		states = append(states, &State{
			CheckpointID: disk.CheckpointID,
			TaskID:       disk.TaskID,
			Origin:       disk.Origin,
			Phase:        disk.Phase,
			CreatedAt:    disk.CreatedAt,
		})
	}
	return states, nil
}

// Delete removes a checkpoint's metadata. Blobs are left in place; they
// are content-addressed and may be shared with other checkpoints, so
// blob garbage collection is a separate, coarser sweep this package does
// not perform — pruning here is scoped to checkpoint metadata only.
func (s *Storage) Delete(checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.indexPath(checkpointID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: failed to delete %q: %w", checkpointID, err)
	}
	return nil
}
