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

// Package ordinexerr collects the sentinel errors shared across the
// mission runner's packages, so callers can use errors.Is against one
// name regardless of which package raised it. It exists because the
// sentinels below are raised from more than one package (mission,
// repair, llmedit), so no single package is the natural home for them.
package ordinexerr

import "errors"

var (
	// ErrStaleContext is returned when the atomic applier's pre-apply
	// recheck finds a file's content hash no longer matches
	// the base SHA the diff was generated against.
	ErrStaleContext = errors.New("ordinex: stale context")

	// ErrHunkMismatch is returned when a diff hunk's context or delete
	// lines don't match the file it's being applied to.
	ErrHunkMismatch = errors.New("ordinex: hunk context mismatch")

	// ErrIO is returned when a filesystem operation in the apply
	// pipeline fails for reasons other than staleness or a hunk
	// mismatch.
	ErrIO = errors.New("ordinex: io error")

	// ErrApplyFailed is returned when the commit or rollback phase of
	// an atomic apply fails.
	ErrApplyFailed = errors.New("ordinex: apply failed")

	// ErrDuplicateDiff is returned when a diff_id has already been
	// applied in this process.
	ErrDuplicateDiff = errors.New("ordinex: diff already applied")

	// ErrApprovalDenied is returned when a human rejects a pending
	// approval request.
	ErrApprovalDenied = errors.New("ordinex: approval denied")

	// ErrApprovalTimedOut is returned when an approval request is not
	// resolved within its configured timeout.
	ErrApprovalTimedOut = errors.New("ordinex: approval timed out")

	// ErrBudgetExhausted is returned when a mission's iteration,
	// repair-attempt, or tool-call budget reaches zero.
	ErrBudgetExhausted = errors.New("ordinex: budget exhausted")

	// ErrLoopDetected is returned when the loop detector flags
	// the current iteration history as stuck, regressing, oscillating,
	// or scope-creeping.
	ErrLoopDetected = errors.New("ordinex: autonomy loop detected")

	// ErrStageTimeout is returned when a mission stage exceeds its
	// configured ceiling.
	ErrStageTimeout = errors.New("ordinex: stage timeout")

	// ErrValidation is returned when a proposed diff fails policy
	// validation: too many files, too many changed lines, a
	// disallowed create/delete/rename, or a stale base SHA.
	ErrValidation = errors.New("ordinex: diff failed validation")

	// ErrParse is returned when LLM output cannot be parsed into the
	// expected diff or JSON shape.
	ErrParse = errors.New("ordinex: failed to parse model output")

	// ErrTruncation is returned when an LLM response is detected as
	// truncated and cannot be completed within the retry budget.
	ErrTruncation = errors.New("ordinex: model output truncated")

	// ErrSplitFailed is returned when a split-by-file retry still
	// fails to produce a valid diff for every file.
	ErrSplitFailed = errors.New("ordinex: split-by-file retry failed")

	// ErrScopeFenceRejected is returned when a file path is hard-denied
	// or falls outside the allowlist without an approved scope
	// expansion.
	ErrScopeFenceRejected = errors.New("ordinex: path rejected by create-path fence")

	// ErrMissionCancelled is returned when a caller continues
	// operating on a mission that has already been user-cancelled.
	ErrMissionCancelled = errors.New("ordinex: mission cancelled")
)
