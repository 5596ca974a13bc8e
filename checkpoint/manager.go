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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"

	"github.com/kalyank1144/ordinex/eventbus"
)

// Manager coordinates checkpoint creation, preview, restore and pruning
// for a process. One Manager is shared across all tasks; concurrency
// across files within a single checkpoint is bounded by an errgroup so
// batched snapshot I/O doesn't fan out unbounded per apply.
type Manager struct {
	storage        *Storage
	bus            *eventbus.Bus
	snapshotParallelism int
}

// NewManager constructs a checkpoint Manager persisting through storage
// and, if bus is non-nil, publishing lifecycle events through it.
func NewManager(storage *Storage, bus *eventbus.Bus) *Manager {
	return &Manager{storage: storage, bus: bus, snapshotParallelism: 8}
}

// Create snapshots the current on-disk content of every path in paths and
// persists the result as a new checkpoint. A path that does not currently
// exist is recorded with ExistedBefore=false so Restore knows to delete
// it rather than overwrite it.
func (m *Manager) Create(ctx context.Context, taskID string, origin Origin, paths []string) (*State, error) {
	state := &State{
		CheckpointID: uuid.NewString(),
		TaskID:       taskID,
		Origin:       origin,
		Phase:        PhaseCreated,
		CreatedAt:    time.Now().UTC(),
		Files:        make([]FileSnapshot, len(paths)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.snapshotParallelism)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			fs, err := snapshotFile(path)
			if err != nil {
				return fmt.Errorf("checkpoint: failed to snapshot %q: %w", path, err)
			}
			state.Files[i] = fs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := m.storage.Save(state); err != nil {
		return nil, err
	}

	if m.bus != nil {
		if _, err := m.bus.Publish(ctx, eventbus.Event{
			TaskID: taskID,
			Type:   eventbus.TypeCheckpointCreated,
			Payload: map[string]any{
				"checkpoint_id": state.CheckpointID,
				"origin":        string(origin),
				"file_count":    len(paths),
			},
		}); err != nil {
			return nil, fmt.Errorf("checkpoint: failed to publish checkpoint_created: %w", err)
		}
	}
	return state, nil
}

func snapshotFile(path string) (FileSnapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileSnapshot{Path: path, ExistedBefore: false}, nil
		}
		return FileSnapshot{}, err
	}
	sum := sha256.Sum256(content)
	return FileSnapshot{
		Path:          path,
		ExistedBefore: true,
		Hash:          hex.EncodeToString(sum[:]),
		Size:          int64(len(content)),
		Content:       content,
	}, nil
}

// PreviewRestore computes what Restore would do without touching disk:
// one unified diff per file between the checkpoint's captured content and
// what is currently on disk.
func (m *Manager) PreviewRestore(checkpointID string) ([]FileDiff, error) {
	state, err := m.storage.Load(checkpointID)
	if err != nil {
		return nil, err
	}

	diffs := make([]FileDiff, 0, len(state.Files))
	for _, f := range state.Files {
		current, err := os.ReadFile(f.Path)
		currentExists := err == nil
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("checkpoint: failed to read %q for preview: %w", f.Path, err)
		}

		if !f.ExistedBefore {
			diffs = append(diffs, FileDiff{Path: f.Path, WouldDelete: currentExists})
			continue
		}

		unified := difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(current)),
			B:        difflib.SplitLines(string(f.Content)),
			FromFile: f.Path + " (current)",
			ToFile:   f.Path + " (checkpoint)",
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(unified)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: failed to render preview diff for %q: %w", f.Path, err)
		}
		diffs = append(diffs, FileDiff{Path: f.Path, UnifiedDiff: text})
	}
	return diffs, nil
}

// Restore writes every file in the checkpoint back to disk, deleting
// files that did not exist before the checkpoint was taken. Restore is
// all-or-nothing at the filesystem level only to the extent Create's
// snapshot was; a restore failure partway through is fatal to the task
// rather than retried, since retrying a half-restored tree risks
// compounding the corruption.
func (m *Manager) Restore(ctx context.Context, checkpointID string) error {
	state, err := m.storage.Load(checkpointID)
	if err != nil {
		return err
	}

	if m.bus != nil {
		if _, err := m.bus.Publish(ctx, eventbus.Event{
			TaskID: state.TaskID,
			Type:   eventbus.TypeCheckpointRestoreStarted,
			Payload: map[string]any{"checkpoint_id": checkpointID},
		}); err != nil {
			return fmt.Errorf("checkpoint: failed to publish checkpoint_restore_started: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.snapshotParallelism)
	for _, f := range state.Files {
		f := f
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return restoreFile(f)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("checkpoint: restore failed partway through: %w", err)
	}

	state.Phase = PhaseRestored
	if err := m.storage.Save(state); err != nil {
		return err
	}

	if m.bus != nil {
		if _, err := m.bus.Publish(ctx, eventbus.Event{
			TaskID: state.TaskID,
			Type:   eventbus.TypeCheckpointRestored,
			Payload: map[string]any{"checkpoint_id": checkpointID},
		}); err != nil {
			return fmt.Errorf("checkpoint: failed to publish checkpoint_restored: %w", err)
		}
	}
	return nil
}

func restoreFile(f FileSnapshot) error {
	if !f.ExistedBefore {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("checkpoint: failed to remove %q: %w", f.Path, err)
		}
		return nil
	}
	tmp := f.Path + ".ordinex-restore.tmp"
	if err := os.WriteFile(tmp, f.Content, 0o644); err != nil {
		return fmt.Errorf("checkpoint: failed to stage restore of %q: %w", f.Path, err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("checkpoint: failed to commit restore of %q: %w", f.Path, err)
	}
	return nil
}

// Prune deletes every expired, non-user-created checkpoint's metadata,
// then, if the index still exceeds maxIndexEntries, evicts the oldest
// remaining non-user-created checkpoints (by CreatedAt) until it is back
// under cap. A user-created checkpoint (OriginUser) is never evicted by
// either pass. maxIndexEntries <= 0 disables cap eviction.
// It returns the total number removed.
func (m *Manager) Prune(now time.Time, maxIndexEntries int) (int, error) {
	states, err := m.storage.ListAll()
	if err != nil {
		return 0, err
	}
	removed := 0
	remaining := make([]*State, 0, len(states))
	for _, s := range states {
		if s.IsExpired(now) {
			if err := m.storage.Delete(s.CheckpointID); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		remaining = append(remaining, s)
	}

	if maxIndexEntries > 0 && len(remaining) > maxIndexEntries {
		evictable := make([]*State, 0, len(remaining))
		for _, s := range remaining {
			if s.Origin != OriginUser {
				evictable = append(evictable, s)
			}
		}
		sort.Slice(evictable, func(i, j int) bool { return evictable[i].CreatedAt.Before(evictable[j].CreatedAt) })

		over := len(remaining) - maxIndexEntries
		for i := 0; i < over && i < len(evictable); i++ {
			if err := m.storage.Delete(evictable[i].CheckpointID); err != nil {
				return removed, err
			}
			removed++
		}
	}

	return removed, nil
}

// Stats summarizes outstanding checkpoints as of now.
func (m *Manager) Stats(now time.Time) (*Stats, error) {
	states, err := m.storage.ListAll()
	if err != nil {
		return nil, err
	}
	stats := &Stats{Total: len(states)}
	if len(states) == 0 {
		return stats, nil
	}
	var totalAge time.Duration
	for _, s := range states {
		age := now.Sub(s.CreatedAt)
		totalAge += age
		if age > stats.OldestAge {
			stats.OldestAge = age
		}
		if s.IsExpired(now) {
			stats.Expired++
		} else if s.IsRecoverable() {
			stats.Recoverable++
		}
	}
	stats.AverageAge = totalAge / time.Duration(len(states))
	return stats, nil
}
