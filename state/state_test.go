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

package state_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/eventbus"
	"github.com/kalyank1144/ordinex/state"
)

func TestReduceLifecycle(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "t1", Type: eventbus.TypeIntentReceived},
		{TaskID: "t1", Type: eventbus.TypeModeSet, Payload: map[string]any{"mode": "MISSION"}},
		{TaskID: "t1", Type: eventbus.TypeMissionStarted, Payload: map[string]any{"scope": []any{"src/app.ts"}}},
		{TaskID: "t1", Type: eventbus.TypeStageChanged, Stage: eventbus.StageEdit},
	}

	states := state.Reduce(events)
	require.Len(t, states, 1)
	s := states["t1"]
	require.Equal(t, state.StatusRunning, s.Status)
	require.Equal(t, eventbus.ModeMission, s.Mode)
	require.Equal(t, eventbus.StageEdit, s.Stage)
	require.Equal(t, []string{"src/app.ts"}, s.ScopeSummary.DeclaredScope)
}

func TestReduceApprovalPausesAndResumes(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "t1", Type: eventbus.TypeIntentReceived},
		{TaskID: "t1", Type: eventbus.TypeApprovalRequested, Payload: map[string]any{
			"approval_id": "a1", "type": "apply_diff", "description": "apply diff",
		}},
	}
	states := state.Reduce(events)
	s := states["t1"]
	require.Equal(t, state.StatusPaused, s.Status)
	require.Len(t, s.PendingApprovals, 1)
	require.Equal(t, "a1", s.PendingApprovals[0].ApprovalID)

	events = append(events, eventbus.Event{
		TaskID: "t1", Type: eventbus.TypeApprovalResolved,
		Payload: map[string]any{"approval_id": "a1", "decision": "approved"},
	})
	states = state.Reduce(events)
	s = states["t1"]
	require.Equal(t, state.StatusRunning, s.Status)
	require.Empty(t, s.PendingApprovals)
}

func TestReduceMissionCompletion(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "t1", Type: eventbus.TypeIntentReceived},
		{TaskID: "t1", Type: eventbus.TypeMissionCompleted},
	}
	states := state.Reduce(events)
	require.Equal(t, state.StatusComplete, states["t1"].Status)
}

func TestReducePauseReasons(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "t1", Type: eventbus.TypeIntentReceived},
		{TaskID: "t1", Type: eventbus.TypeBudgetExhausted, Payload: map[string]any{"reason": "repair iteration budget exhausted"}},
	}
	states := state.Reduce(events)
	s := states["t1"]
	require.Equal(t, state.StatusPaused, s.Status)
	require.Equal(t, "repair iteration budget exhausted", s.LastPauseReason)
}

func TestReduceIsDeterministicAcrossCalls(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "t1", Type: eventbus.TypeIntentReceived},
		{TaskID: "t1", Type: eventbus.TypeIterationStarted},
		{TaskID: "t1", Type: eventbus.TypeIterationStarted},
		{TaskID: "t1", Type: eventbus.TypeDiffApplied, Payload: map[string]any{"touched_files": []any{"a.go", "b.go", "a.go"}}},
	}

	first := state.Reduce(events)
	second := state.Reduce(events)
	require.Equal(t, first["t1"].Iteration.Current, second["t1"].Iteration.Current)
	require.Equal(t, 2, first["t1"].Iteration.Current)
	require.Equal(t, []string{"a.go", "b.go"}, first["t1"].ScopeSummary.TouchedFiles)
}

func TestReduceUnknownEventIsNoOp(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "t1", Type: eventbus.TypeIntentReceived},
		{TaskID: "t1", Type: eventbus.Type("some_future_tag"), Payload: map[string]any{"x": 1}},
	}
	states := state.Reduce(events)
	require.Equal(t, state.StatusRunning, states["t1"].Status)
}

func TestReduceMultiTaskIsolation(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "t1", Type: eventbus.TypeIntentReceived},
		{TaskID: "t2", Type: eventbus.TypeIntentReceived},
		{TaskID: "t2", Type: eventbus.TypeMissionCancelled},
	}
	states := state.Reduce(events)
	require.Len(t, states, 2)
	require.Equal(t, state.StatusRunning, states["t1"].Status)
	require.Equal(t, state.StatusIdle, states["t2"].Status)
}
