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

package repair_test

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
	"github.com/kalyank1144/ordinex/contenthash"
	"github.com/kalyank1144/ordinex/eventbus"
	"github.com/kalyank1144/ordinex/llmclient"
	"github.com/kalyank1144/ordinex/llmedit"
	"github.com/kalyank1144/ordinex/repair"
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

func llmEditCfg() config.LLMEditConfig {
	c := config.LLMEditConfig{}
	c.SetDefaults()
	return c
}

// testRig bundles one Runner with the collaborators a test needs to poke
// directly (the approval manager, for autoApprove; the file path and base
// SHA, for building Request).
type testRig struct {
	runner    *repair.Runner
	approvals *approval.Manager
	path      string
	baseSHA   map[string]string
}

func newTestRig(t *testing.T, bus *eventbus.Bus, fake *llmclient.FakeClient, maxRepairAttempts int) testRig {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	original := "package app\n\nfunc Broken() { panic(\"boom\") }\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	storage, err := checkpoint.NewStorage(t.TempDir())
	require.NoError(t, err)
	cpMgr := checkpoint.NewManager(storage, nil)
	ap := applier.New(cpMgr, bus)
	approvals := approval.NewManager(bus)
	editor := llmedit.New(fake, llmEditCfg())
	testRunner := repair.NewTestRunner(repair.TestRunnerConfig{})

	cfg := config.AutonomyConfig{}
	cfg.SetDefaults()
	cfg.MaxRepairAttempts = maxRepairAttempts
	cfg.ApprovalTimeout = 5 * time.Second

	runner := repair.New(fake, editor, bus, approvals, cpMgr, ap, testRunner, nil, cfg)
	baseSHA := map[string]string{path: contenthash.BaseSHA([]byte(original))}
	return testRig{runner: runner, approvals: approvals, path: path, baseSHA: baseSHA}
}

func diffFor(path, newLine string) string {
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ -1,3 +1,3 @@\n package app\n \n-func Broken() { panic(\"boom\") }\n+%s\n", path, path, newLine)
}

func TestRunSucceedsAfterOneRepair(t *testing.T) {
	bus := newTestBus(t)
	fake := &llmclient.FakeClient{}
	rig := newTestRig(t, bus, fake, 3)

	diagnosis := `{"summary": "panic in Broken", "likely_causes": ["unconditional panic"], "affected_files": ["app.go"], "root_cause_file": "app.go", "suggested_fix": "remove panic", "confidence": 0.8}`
	diffJSON := fmt.Sprintf(`{"unified_diff": %q, "touched_files": ["%s"], "confidence": 0.9, "notes": "fix", "complete": true}`, diffFor(rig.path, "func Broken() {}"), rig.path)
	fake.Responses = []llmclient.Response{
		{Text: diagnosis, StopReason: llmclient.StopEndTurn},
		{Text: diffJSON, StopReason: llmclient.StopEndTurn},
	}

	stop := make(chan struct{})
	defer close(stop)
	autoApprove(t, bus, rig.approvals, "t1", stop)

	res, err := rig.runner.Run(context.Background(), repair.Request{
		TaskID:        "t1",
		TestCommand:   "true",
		FailureOutput: "panic: boom\n\tapp.go:3",
		Files:         map[string]string{rig.path: "package app\n\nfunc Broken() { panic(\"boom\") }\n"},
		BaseSHA:       rig.baseSHA,
	})
	require.NoError(t, err)
	require.Equal(t, repair.OutcomeTestPass, res.Outcome)
	require.Equal(t, 1, res.Iterations)
	require.True(t, res.History[0].Success)
}

func TestRunStopsAtBudgetExhaustion(t *testing.T) {
	bus := newTestBus(t)
	fake := &llmclient.FakeClient{}
	rig := newTestRig(t, bus, fake, 2)

	diagnosis := `{"summary": "still failing", "likely_causes": ["unknown"], "affected_files": ["app.go"], "confidence": 0.3}`
	diffJSON := fmt.Sprintf(`{"unified_diff": %q, "touched_files": ["%s"], "confidence": 0.5, "notes": "attempt", "complete": true}`, diffFor(rig.path, "func Broken() {}"), rig.path)
	fake.Responses = []llmclient.Response{
		{Text: diagnosis, StopReason: llmclient.StopEndTurn},
		{Text: diffJSON, StopReason: llmclient.StopEndTurn},
		{Text: diagnosis, StopReason: llmclient.StopEndTurn},
		{Text: diffJSON, StopReason: llmclient.StopEndTurn},
	}

	stop := make(chan struct{})
	defer close(stop)
	autoApprove(t, bus, rig.approvals, "t2", stop)

	res, err := rig.runner.Run(context.Background(), repair.Request{
		TaskID:        "t2",
		TestCommand:   "false",
		FailureOutput: "panic: boom\n\tapp.go:3",
		Files:         map[string]string{rig.path: "package app\n\nfunc Broken() { panic(\"boom\") }\n"},
		BaseSHA:       rig.baseSHA,
	})
	require.NoError(t, err)
	require.Equal(t, repair.OutcomeBudgetExhausted, res.Outcome)
	require.Equal(t, 2, res.Iterations)
	for _, h := range res.History {
		require.False(t, h.Success)
	}
}

func TestRunDetectsLoopAcrossIdenticalFailures(t *testing.T) {
	bus := newTestBus(t)
	fake := &llmclient.FakeClient{}
	rig := newTestRig(t, bus, fake, 5)

	diagnosis := `{"summary": "persistent panic: boom at app.go:3", "confidence": 0.3}`
	diffJSON := fmt.Sprintf(`{"unified_diff": %q, "touched_files": ["%s"], "confidence": 0.5, "complete": true}`, diffFor(rig.path, "func Broken() {}"), rig.path)
	var responses []llmclient.Response
	for i := 0; i < 3; i++ {
		responses = append(responses,
			llmclient.Response{Text: diagnosis, StopReason: llmclient.StopEndTurn},
			llmclient.Response{Text: diffJSON, StopReason: llmclient.StopEndTurn},
		)
	}
	fake.Responses = responses

	stop := make(chan struct{})
	defer close(stop)
	autoApprove(t, bus, rig.approvals, "t3", stop)

	res, err := rig.runner.Run(context.Background(), repair.Request{
		TaskID:        "t3",
		TestCommand:   `echo "Error: panic boom at app.go:3"; exit 1`,
		FailureOutput: "panic: boom\n\tapp.go:3",
		Files:         map[string]string{rig.path: "package app\n\nfunc Broken() { panic(\"boom\") }\n"},
		BaseSHA:       rig.baseSHA,
	})
	require.NoError(t, err)
	require.Equal(t, repair.OutcomeLoopDetected, res.Outcome)
	require.Equal(t, 3, res.Iterations)
}
