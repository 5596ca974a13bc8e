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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ResumeCallback is invoked for every recoverable checkpoint found on
// startup. The mission runner registers one to re-enter its state
// machine at the stage the checkpoint was taken for.
type ResumeCallback func(ctx context.Context, state *State) error

// Recovery scans the checkpoint store on process startup and resumes (or
// expires) whatever it finds, so a crash mid-apply or mid-repair does not
// strand a task in limbo. It applies the same phase/expiry checks
// against every short-lived per-apply checkpoint the engine takes.
type Recovery struct {
	storage *Storage

	mu       sync.RWMutex
	resumeCB ResumeCallback
}

// NewRecovery constructs a Recovery scanner over storage.
func NewRecovery(storage *Storage) *Recovery {
	return &Recovery{storage: storage}
}

// SetResumeCallback registers the callback invoked for each recoverable
// checkpoint found during Scan.
func (r *Recovery) SetResumeCallback(cb ResumeCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumeCB = cb
}

// Scan runs the startup recovery pass: every non-expired, recoverable
// checkpoint is handed to the resume callback (if one is registered);
// every expired checkpoint is dropped from the index so it is not
// considered again.
func (r *Recovery) Scan(ctx context.Context) error {
	states, err := r.storage.ListAll()
	if err != nil {
		return fmt.Errorf("checkpoint: recovery scan failed to list checkpoints: %w", err)
	}
	if len(states) == 0 {
		slog.Debug("checkpoint: no pending checkpoints to recover")
		return nil
	}

	slog.Info("checkpoint: found pending checkpoints, starting recovery", "count", len(states))

	now := time.Now().UTC()
	recovered, expired, failed := 0, 0, 0
	for _, s := range states {
		if s.IsExpired(now) {
			if err := r.storage.Delete(s.CheckpointID); err != nil {
				slog.Warn("checkpoint: failed to clear expired checkpoint", "checkpoint_id", s.CheckpointID, "error", err)
			}
			expired++
			continue
		}
		if !s.IsRecoverable() {
			continue
		}
		if err := r.resume(ctx, s.CheckpointID); err != nil {
			slog.Error("checkpoint: failed to resume from checkpoint", "checkpoint_id", s.CheckpointID, "task_id", s.TaskID, "error", err)
			failed++
			continue
		}
		recovered++
	}

	slog.Info("checkpoint: recovery scan completed", "recovered", recovered, "expired", expired, "failed", failed)
	return nil
}

func (r *Recovery) resume(ctx context.Context, checkpointID string) error {
	full, err := r.storage.Load(checkpointID)
	if err != nil {
		return err
	}

	r.mu.RLock()
	cb := r.resumeCB
	r.mu.RUnlock()
	if cb == nil {
		slog.Warn("checkpoint: no resume callback configured, checkpoint left pending", "checkpoint_id", checkpointID)
		return nil
	}

	slog.Info("checkpoint: resuming task from checkpoint", "checkpoint_id", checkpointID, "task_id", full.TaskID, "origin", full.Origin)
	return cb(ctx, full)
}
