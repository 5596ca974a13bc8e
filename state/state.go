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

// Package state implements the state reducer: a pure fold from an
// ordered event sequence to the current TaskState, including its derived
// scope summary of declared and touched files. Re-folding the same events
// must always produce a byte-identical result — this package has no I/O
// and no global state of its own.
package state

import (
	"github.com/kalyank1144/ordinex/eventbus"
)

// Status is the coarse lifecycle status of a task.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// IterationCounters tracks the autonomy loop's progress.
type IterationCounters struct {
	Current int
}

// Budgets tracks what the task has left of its configured allowances.
// Zero-value means "no budget of this kind has been configured yet";
// callers that enforce budgets look these up from config, not state —
// this is purely the derived remaining-count view.
type Budgets struct {
	RepairIterationsRemaining int
	ToolCallsRemaining        int
}

// PendingApproval is the reducer's view of one outstanding approval.
type PendingApproval struct {
	ApprovalID  string
	Type        string
	Description string
}

// TaskState is the fully derived view of a task. It is never persisted
// directly; it is always reconstructed by Reduce.
type TaskState struct {
	TaskID             string
	Mode               eventbus.Mode
	Status             Status
	Stage              eventbus.Stage
	Iteration          IterationCounters
	Budgets            Budgets
	PendingApprovals   []PendingApproval
	ActiveCheckpointID string
	ScopeSummary       ScopeSummary
	LastPauseReason    string
}

// ScopeSummary is the derived view over touched-file history.
type ScopeSummary struct {
	DeclaredScope []string
	TouchedFiles  []string
}

func newTaskState(taskID string) *TaskState {
	return &TaskState{
		TaskID: taskID,
		Status: StatusIdle,
		Stage:  eventbus.StageNone,
	}
}

// Reduce folds events (in order) into one TaskState per task_id. It is a
// pure function: given the same events slice it always returns an
// equivalent map, whether the events came from a fresh Subscribe() replay
// or from re-reading the journal after a restart.
func Reduce(events []eventbus.Event) map[string]*TaskState {
	states := make(map[string]*TaskState)

	get := func(taskID string) *TaskState {
		s, ok := states[taskID]
		if !ok {
			s = newTaskState(taskID)
			states[taskID] = s
		}
		return s
	}

	for _, ev := range events {
		s := get(ev.TaskID)
		apply(s, ev)
	}
	return states
}

// apply is the per-event transition table. Every known type has exactly
// one rule; unknown types are no-ops (forward-compatibility seam).
func apply(s *TaskState, ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeIntentReceived:
		s.Status = StatusRunning

	case eventbus.TypeModeSet, eventbus.TypeModeChanged:
		if m, ok := ev.Payload["mode"].(string); ok {
			s.Mode = eventbus.Mode(m)
		}

	case eventbus.TypeStageChanged:
		s.Stage = ev.Stage

	case eventbus.TypePlanCreated, eventbus.TypePlanRevised:
		if s.Mode == eventbus.ModePlan {
			s.Status = StatusPaused
		}

	case eventbus.TypeApprovalRequested:
		id, _ := ev.Payload["approval_id"].(string)
		typ, _ := ev.Payload["type"].(string)
		desc, _ := ev.Payload["description"].(string)
		s.PendingApprovals = append(s.PendingApprovals, PendingApproval{
			ApprovalID: id, Type: typ, Description: desc,
		})
		s.Status = StatusPaused

	case eventbus.TypeApprovalResolved:
		id, _ := ev.Payload["approval_id"].(string)
		s.PendingApprovals = removeApproval(s.PendingApprovals, id)
		if len(s.PendingApprovals) == 0 {
			s.Status = StatusRunning
		}

	case eventbus.TypeMissionCompleted, eventbus.TypeFinal:
		s.Status = StatusComplete

	case eventbus.TypeMissionPaused, eventbus.TypeStageTimeout,
		eventbus.TypeBudgetExhausted, eventbus.TypeAutonomyLoopDetected,
		eventbus.TypeRepeatedFailureDetected, eventbus.TypeExecutionPaused:
		s.Status = StatusPaused
		if reason, ok := ev.Payload["reason"].(string); ok {
			s.LastPauseReason = reason
		}

	case eventbus.TypeMissionCancelled, eventbus.TypeTaskDiscarded:
		s.Status = StatusIdle

	case eventbus.TypeExecutionResumed:
		s.Status = StatusRunning

	case eventbus.TypeIterationStarted:
		s.Iteration.Current++

	case eventbus.TypeCheckpointCreated:
		if id, ok := ev.Payload["checkpoint_id"].(string); ok {
			s.ActiveCheckpointID = id
		}

	case eventbus.TypeCheckpointRestored:
		// restoring clears the notion of "the checkpoint we're about to
		// apply against"; the mission runner creates a fresh one for the
		// next apply.
		s.ActiveCheckpointID = ""

	case eventbus.TypeDiffApplied:
		if files, ok := ev.Payload["touched_files"].([]any); ok {
			for _, f := range files {
				if path, ok := f.(string); ok {
					s.ScopeSummary.TouchedFiles = appendUnique(s.ScopeSummary.TouchedFiles, path)
				}
			}
		}

	case eventbus.TypeMissionStarted:
		if scope, ok := ev.Payload["scope"].([]any); ok {
			for _, f := range scope {
				if path, ok := f.(string); ok {
					s.ScopeSummary.DeclaredScope = appendUnique(s.ScopeSummary.DeclaredScope, path)
				}
			}
		}

	case eventbus.TypeFailureDetected:
		s.Status = StatusError

	default:
		// Tool/retrieval/diff lifecycle events and anything unrecognized
		// are logged by the caller (the reducer itself has no I/O) but do
		// not mutate core task state.
	}
}

func removeApproval(list []PendingApproval, id string) []PendingApproval {
	out := list[:0:0]
	for _, a := range list {
		if a.ApprovalID != id {
			out = append(out, a)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
