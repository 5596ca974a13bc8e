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

package mission_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/applier"
	"github.com/kalyank1144/ordinex/approval"
	"github.com/kalyank1144/ordinex/checkpoint"
	"github.com/kalyank1144/ordinex/config"
	"github.com/kalyank1144/ordinex/eventbus"
	"github.com/kalyank1144/ordinex/fence"
	"github.com/kalyank1144/ordinex/llmclient"
	"github.com/kalyank1144/ordinex/llmedit"
	"github.com/kalyank1144/ordinex/mission"
	"github.com/kalyank1144/ordinex/repair"
	"github.com/kalyank1144/ordinex/retrieval"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := eventbus.NewStore(db, "sqlite")
	require.NoError(t, err)
	return eventbus.NewBus(store, nil)
}

// autoApprove watches bus for approval_requested events under taskID and
// approves each one exactly once, as soon as it becomes pending on mgr. It
// runs until stop is closed.
func autoApprove(t *testing.T, bus *eventbus.Bus, mgr *approval.Manager, taskID string, stop <-chan struct{}) {
	t.Helper()
	go func() {
		resolved := make(map[string]bool)
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
			}
			evs, err := bus.EventsByTask(context.Background(), taskID)
			if err != nil {
				continue
			}
			for _, ev := range evs {
				if ev.Type != eventbus.TypeApprovalRequested {
					continue
				}
				id, _ := ev.Payload["approval_id"].(string)
				if id == "" || resolved[id] || !mgr.IsPending(id) {
					continue
				}
				if mgr.Resolve(id, approval.DecisionApproved, nil) == nil {
					resolved[id] = true
				}
			}
		}
	}()
}

// denyApproval is autoApprove's opposite: it denies the first approval
// request it sees under taskID, then stops.
func denyApproval(t *testing.T, bus *eventbus.Bus, mgr *approval.Manager, taskID string, stop <-chan struct{}) {
	t.Helper()
	go func() {
		resolved := false
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
			}
			if resolved {
				continue
			}
			evs, _ := bus.EventsByTask(context.Background(), taskID)
			for _, ev := range evs {
				if ev.Type != eventbus.TypeApprovalRequested {
					continue
				}
				id, _ := ev.Payload["approval_id"].(string)
				if id == "" || !mgr.IsPending(id) {
					continue
				}
				if mgr.Resolve(id, approval.DecisionDenied, nil) == nil {
					resolved = true
				}
			}
		}
	}()
}

// testRig bundles one mission.Runner with the collaborators a test needs
// to poke directly, mirroring repair_test.go's pattern.
type testRig struct {
	runner    *mission.Runner
	approvals *approval.Manager
	path      string
	original  string
}

func newTestRig(t *testing.T, bus *eventbus.Bus, fake *llmclient.FakeClient) testRig {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	original := "package app\n\nfunc Greet() string { return \"\" }\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	storage, err := checkpoint.NewStorage(t.TempDir())
	require.NoError(t, err)
	cpMgr := checkpoint.NewManager(storage, nil)
	ap := applier.New(cpMgr, bus)
	approvals := approval.NewManager(bus)

	editCfg := config.LLMEditConfig{}
	editCfg.SetDefaults()
	editor := llmedit.New(fake, editCfg)

	testRunner := repair.NewTestRunner(repair.TestRunnerConfig{})

	autonomyCfg := config.AutonomyConfig{}
	autonomyCfg.SetDefaults()
	autonomyCfg.ApprovalTimeout = 5 * time.Second
	autonomyCfg.MaxRepairAttempts = 2

	repairRunner := repair.New(fake, editor, bus, approvals, cpMgr, ap, testRunner, nil, autonomyCfg)

	excerptCfg := config.ExcerptConfig{}
	excerptCfg.SetDefaults()

	fnc := fence.New(nil, []string{"**"}, fence.DefaultMaxNewFileSizeLines)

	runner := mission.New(retrieval.NewLexicalRetriever(), editor, ap, cpMgr, approvals, bus, repairRunner, testRunner, fnc, nil, autonomyCfg, excerptCfg)
	return testRig{runner: runner, approvals: approvals, path: path, original: original}
}

func diffFor(path, oldLine, newLine string) string {
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ -1,3 +1,3 @@\n package app\n \n-%s\n+%s\n", path, path, oldLine, newLine)
}

func TestRunCompletesOnFirstTryWhenTestsPass(t *testing.T) {
	bus := newTestBus(t)
	fake := &llmclient.FakeClient{}
	rig := newTestRig(t, bus, fake)

	diffJSON := fmt.Sprintf(`{"unified_diff": %q, "touched_files": ["%s"], "confidence": 0.9, "complete": true}`,
		diffFor(rig.path, `func Greet() string { return "" }`, `func Greet() string { return "hi" }`), rig.path)
	fake.Responses = []llmclient.Response{{Text: diffJSON, StopReason: llmclient.StopEndTurn}}

	stop := make(chan struct{})
	defer close(stop)
	autoApprove(t, bus, rig.approvals, "m1", stop)

	res, err := rig.runner.Run(context.Background(), mission.Request{
		TaskID:        "m1",
		Instruction:   "make Greet return hi",
		Files:         map[string]string{rig.path: rig.original},
		DeclaredScope: []string{rig.path},
		TestCommand:   "true",
	})
	require.NoError(t, err)
	require.Equal(t, mission.StageMissionCompleted, res.Stage)
}

func TestRunPausesOnApprovalDenied(t *testing.T) {
	bus := newTestBus(t)
	fake := &llmclient.FakeClient{}
	rig := newTestRig(t, bus, fake)

	diffJSON := fmt.Sprintf(`{"unified_diff": %q, "touched_files": ["%s"], "confidence": 0.9, "complete": true}`,
		diffFor(rig.path, `func Greet() string { return "" }`, `func Greet() string { return "hi" }`), rig.path)
	fake.Responses = []llmclient.Response{{Text: diffJSON, StopReason: llmclient.StopEndTurn}}

	stop := make(chan struct{})
	defer close(stop)
	denyApproval(t, bus, rig.approvals, "m2", stop)

	res, err := rig.runner.Run(context.Background(), mission.Request{
		TaskID:        "m2",
		Instruction:   "make Greet return hi",
		Files:         map[string]string{rig.path: rig.original},
		DeclaredScope: []string{rig.path},
		TestCommand:   "true",
	})
	require.NoError(t, err)
	require.Equal(t, mission.StageMissionPaused, res.Stage)
	require.Equal(t, "diff_rejected", res.Reason)
}

func TestRunRepairsAfterFailingTest(t *testing.T) {
	bus := newTestBus(t)
	fake := &llmclient.FakeClient{}
	rig := newTestRig(t, bus, fake)

	missionDiff := fmt.Sprintf(`{"unified_diff": %q, "touched_files": ["%s"], "confidence": 0.9, "complete": true}`,
		diffFor(rig.path, `func Greet() string { return "" }`, `func Greet() string { return "hi" }`), rig.path)
	diagnosis := `{"summary": "still returning empty", "confidence": 0.4}`
	repairDiff := fmt.Sprintf(`{"unified_diff": %q, "touched_files": ["%s"], "confidence": 0.6, "complete": true}`,
		diffFor(rig.path, `func Greet() string { return "hi" }`, `func Greet() string { return "fixed" }`), rig.path)
	fake.Responses = []llmclient.Response{
		{Text: missionDiff, StopReason: llmclient.StopEndTurn},
		{Text: diagnosis, StopReason: llmclient.StopEndTurn},
		{Text: repairDiff, StopReason: llmclient.StopEndTurn},
	}

	stop := make(chan struct{})
	defer close(stop)
	autoApprove(t, bus, rig.approvals, "m3", stop)

	res, err := rig.runner.Run(context.Background(), mission.Request{
		TaskID:        "m3",
		Instruction:   "make Greet return hi",
		Files:         map[string]string{rig.path: rig.original},
		DeclaredScope: []string{rig.path},
		TestCommand:   `[ "$(cat ` + rig.path + ` | grep -c fixed)" = "1" ]`,
	})
	require.NoError(t, err)
	require.Equal(t, mission.StageMissionCompleted, res.Stage)
	require.NotNil(t, res.Repair)
	require.Equal(t, repair.OutcomeTestPass, res.Repair.Outcome)
}

func TestRunSkipsTestsWhenNoCommandGiven(t *testing.T) {
	bus := newTestBus(t)
	fake := &llmclient.FakeClient{}
	rig := newTestRig(t, bus, fake)

	diffJSON := fmt.Sprintf(`{"unified_diff": %q, "touched_files": ["%s"], "confidence": 0.9, "complete": true}`,
		diffFor(rig.path, `func Greet() string { return "" }`, `func Greet() string { return "hi" }`), rig.path)
	fake.Responses = []llmclient.Response{{Text: diffJSON, StopReason: llmclient.StopEndTurn}}

	stop := make(chan struct{})
	defer close(stop)
	autoApprove(t, bus, rig.approvals, "m4", stop)

	res, err := rig.runner.Run(context.Background(), mission.Request{
		TaskID:        "m4",
		Instruction:   "make Greet return hi",
		Files:         map[string]string{rig.path: rig.original},
		DeclaredScope: []string{rig.path},
	})
	require.NoError(t, err)
	require.Equal(t, mission.StageMissionCompleted, res.Stage)
}

func TestRecoverToCompletedWhenLastEventIsTerminal(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "m5", Type: eventbus.TypeMissionStarted},
		{TaskID: "m5", Type: eventbus.TypeMissionCompleted},
	}
	rec := mission.Recover(events, 3)
	require.Equal(t, mission.StageMissionCompleted, rec.Stage)
}

func TestRecoverToPausedWithRepairRemaining(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "m6", Type: eventbus.TypeMissionStarted},
		{TaskID: "m6", Type: eventbus.TypeTestFailed},
		{TaskID: "m6", Type: eventbus.TypeRepairAttemptStarted, Payload: map[string]any{"remaining": 1}},
		{TaskID: "m6", Type: eventbus.TypeDiffApplied},
	}
	rec := mission.Recover(events, 3)
	require.Equal(t, mission.StageMissionPaused, rec.Stage)
	require.Equal(t, 2, rec.RepairRemaining)
	require.Equal(t, "interrupted", rec.Reason)
}

func TestRecoverNeverAutoResumes(t *testing.T) {
	events := []eventbus.Event{
		{TaskID: "m7", Type: eventbus.TypeMissionPaused, Payload: map[string]any{"reason": "stale_context"}},
	}
	rec := mission.Recover(events, 3)
	require.Equal(t, mission.StageMissionPaused, rec.Stage)
	require.Equal(t, "stale_context", rec.Reason)
}

func TestRecoverNoEvents(t *testing.T) {
	rec := mission.Recover(nil, 4)
	require.Equal(t, mission.StageMissionPaused, rec.Stage)
	require.Equal(t, "no_events", rec.Reason)
	require.Equal(t, 4, rec.RepairRemaining)
}
