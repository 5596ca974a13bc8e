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

// Package applier implements the atomic diff applier: the
// safety-critical commit pipeline that turns a validated unified diff
// into on-disk changes using a temp-file-then-rename commit protocol,
// with an immediate pre-apply staleness recheck and all-or-nothing
// rollback via checkpoint restore.
//
// The whole batch goes through ordered steps — staleness recheck of
// every touched file, in-memory hunk application, checkpoint snapshot,
// writes to sidecar temp files, rename commit, temp cleanup, then the
// diff_applied event — and a failure returns an *Error whose Reason
// names the kind of failure, so a caller can branch on it without
// parsing an error string.
// The rename step commits via os.Rename, which is POSIX/NTFS
// atomic-replace on the same volume.
package applier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kalyank1144/ordinex/checkpoint"
	"github.com/kalyank1144/ordinex/contenthash"
	"github.com/kalyank1144/ordinex/diffpatch"
	"github.com/kalyank1144/ordinex/eventbus"
	"github.com/kalyank1144/ordinex/internal/ordinexerr"
)

// Reason is the tag on an Apply failure, naming the step that failed so
// callers can branch on it.
type Reason string

const (
	ReasonStaleContext Reason = "stale_context"
	ReasonHunkMismatch Reason = "hunk_mismatch"
	ReasonIOError      Reason = "io_error"
	ReasonApplyFailed  Reason = "apply_failed"
	ReasonDuplicate    Reason = "duplicate_diff_id"
)

// Error is the structured failure returned by Apply.
type Error struct {
	Reason Reason
	Path   string
	Err    error
	// CheckpointID is set when a failure in the rename (commit) step led
	// Apply to restore the pre-write checkpoint, even when that restore
	// also failed, so a caller can report which checkpoint a rollback was
	// attempted against. Failures before the commit step, and a failure
	// to publish diff_applied, leave it empty.
	CheckpointID string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("applier: %s for %q: %v", e.Reason, e.Path, e.Err)
	}
	return fmt.Sprintf("applier: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts the structured *Error from err, unwrapping through any
// wrapping, so a caller can branch on Reason and recover the checkpoint
// id a rollback was attempted against.
func AsError(err error) (*Error, bool) {
	var aerr *Error
	ok := errors.As(err, &aerr)
	return aerr, ok
}

// Is lets callers use errors.Is(err, ordinexerr.ErrStaleContext) etc.
// without caring which package the failure was raised from.
func (e *Error) Is(target error) bool {
	switch e.Reason {
	case ReasonStaleContext:
		return target == ordinexerr.ErrStaleContext
	case ReasonHunkMismatch:
		return target == ordinexerr.ErrHunkMismatch
	case ReasonIOError:
		return target == ordinexerr.ErrIO
	case ReasonApplyFailed:
		return target == ordinexerr.ErrApplyFailed
	case ReasonDuplicate:
		return target == ordinexerr.ErrDuplicateDiff
	default:
		return false
	}
}

// Request is one atomic-apply attempt.
type Request struct {
	DiffID      string
	TaskID      string
	Patch       *diffpatch.Patch
	ExpectedSHA map[string]string // path -> base_sha captured at excerpt-selection time
	CheckpointOrigin checkpoint.Origin
}

// Result is what a successful Apply produced.
type Result struct {
	TouchedFiles []string
	CheckpointID string
}

// Applier owns the idempotency guard and wires together diffpatch,
// checkpoint and the event bus for one process.
type Applier struct {
	checkpoints *checkpoint.Manager
	bus         *eventbus.Bus

	mu      sync.Mutex
	applied map[string]struct{} // diff_id -> accepted
}

// New constructs an Applier.
func New(checkpoints *checkpoint.Manager, bus *eventbus.Bus) *Applier {
	return &Applier{checkpoints: checkpoints, bus: bus, applied: make(map[string]struct{})}
}

// Apply runs the five-step commit pipeline against the files named in
// req.Patch, returning a typed Reason on the first step that fails.
func (a *Applier) Apply(ctx context.Context, req Request) (*Result, error) {
	if err := a.reserve(req.DiffID); err != nil {
		return nil, err
	}
	accepted := false
	defer func() {
		if !accepted {
			a.release(req.DiffID)
		}
	}()

	paths := touchedPaths(req.Patch)

	// Step 1: immediate pre-apply staleness check.
	currentContent := make(map[string][]byte, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil && !os.IsNotExist(err) {
			return nil, &Error{Reason: ReasonIOError, Path: p, Err: err}
		}
		currentContent[p] = content
	}
	currentSHA := make(map[string]string, len(paths))
	for p, content := range currentContent {
		currentSHA[p] = contenthash.BaseSHA(content)
	}
	if mismatches := contenthash.CheckBatchStaleness(currentContent, req.ExpectedSHA); len(mismatches) > 0 {
		return nil, &Error{Reason: ReasonStaleContext, Path: mismatches[0].Path,
			Err: fmt.Errorf("expected %s, got %s", mismatches[0].Expected, mismatches[0].Actual)}
	}

	// Step 2: prepare in memory.
	prepared := make(map[string][]byte, len(req.Patch.Files))
	for _, fd := range req.Patch.Files {
		path := fd.NewPath
		if path == "" {
			path = fd.OldPath
		}
		newContent, err := diffpatch.Apply(currentContent[path], fd)
		if err != nil {
			return nil, &Error{Reason: ReasonHunkMismatch, Path: path, Err: err}
		}
		prepared[path] = newContent
	}

	// Checkpoint the pre-apply state before writing anything, so a
	// failure in steps 3-4 can be rolled back.
	cp, err := a.checkpoints.Create(ctx, req.TaskID, req.CheckpointOrigin, paths)
	if err != nil {
		return nil, &Error{Reason: ReasonIOError, Err: fmt.Errorf("failed to checkpoint before apply: %w", err)}
	}

	// Step 3: write sidecars.
	var written []string
	rollback := func(cause error) (*Result, error) {
		for _, tmp := range written {
			_ = os.Remove(tmp)
		}
		if restoreErr := a.checkpoints.Restore(ctx, cp.CheckpointID); restoreErr != nil {
			return nil, &Error{Reason: ReasonApplyFailed, Err: fmt.Errorf("%w (rollback also failed: %v)", cause, restoreErr), CheckpointID: cp.CheckpointID}
		}
		return nil, &Error{Reason: ReasonApplyFailed, Err: cause, CheckpointID: cp.CheckpointID}
	}

	tempPaths := make(map[string]string, len(prepared))
	for path, content := range prepared {
		tmp := path + ".ordinex_temp"
		if err := os.WriteFile(tmp, content, 0o644); err != nil {
			for _, t := range written {
				_ = os.Remove(t)
			}
			return nil, &Error{Reason: ReasonIOError, Path: path, Err: err}
		}
		written = append(written, tmp)
		tempPaths[path] = tmp
	}

	// Step 4: commit.
	var committed []string
	for path, tmp := range tempPaths {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return rollback(fmt.Errorf("failed to ensure parent dir for %q: %w", path, err))
		}
		if err := os.Rename(tmp, path); err != nil {
			return rollback(fmt.Errorf("failed to commit %q: %w", path, err))
		}
		committed = append(committed, path)
		written = removeFromSlice(written, tmp)
	}

	// Step 5: cleanup orphan temps (only reachable on success; the
	// rollback path above already removed its own temps).
	for _, tmp := range written {
		_ = os.Remove(tmp)
	}

	accepted = true

	touched := make([]string, 0, len(prepared))
	for p := range prepared {
		touched = append(touched, p)
	}
	if a.bus != nil {
		if _, err := a.bus.Publish(ctx, eventbus.Event{
			TaskID: req.TaskID,
			Type:   eventbus.TypeDiffApplied,
			Payload: map[string]any{
				"diff_id":       req.DiffID,
				"touched_files": toAnySlice(touched),
				"checkpoint_id": cp.CheckpointID,
			},
		}); err != nil {
			return nil, &Error{Reason: ReasonIOError, Err: fmt.Errorf("apply committed but failed to publish diff_applied: %w", err)}
		}
	}

	return &Result{TouchedFiles: touched, CheckpointID: cp.CheckpointID}, nil
}

func (a *Applier) reserve(diffID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.applied[diffID]; ok {
		return &Error{Reason: ReasonDuplicate, Err: fmt.Errorf("diff_id %q already applied", diffID)}
	}
	a.applied[diffID] = struct{}{}
	return nil
}

func (a *Applier) release(diffID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.applied, diffID)
}

func touchedPaths(p *diffpatch.Patch) []string {
	paths := make([]string, 0, len(p.Files))
	for _, fd := range p.Files {
		path := fd.NewPath
		if path == "" {
			path = fd.OldPath
		}
		paths = append(paths, path)
	}
	return paths
}

func removeFromSlice(s []string, v string) []string {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
