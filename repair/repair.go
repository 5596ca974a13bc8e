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

// Package repair implements the repair orchestrator: the bounded
// diagnose -> propose -> approve -> apply -> re-test loop that a failing
// test run drops a mission into.
//
// The re-test step's security posture (testrunner.go) runs synchronous
// rather than streaming, since the re-test step only ever needs one
// pass/fail result back. The exact budget-exhaustion event sequence is
// covered in repair_test.go's TestRunStopsAtBudgetExhaustion.
package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/kalyank1144/ordinex/applier"
	"github.com/kalyank1144/ordinex/approval"
	"github.com/kalyank1144/ordinex/checkpoint"
	"github.com/kalyank1144/ordinex/config"
	"github.com/kalyank1144/ordinex/diffpatch"
	"github.com/kalyank1144/ordinex/eventbus"
	"github.com/kalyank1144/ordinex/evidence"
	"github.com/kalyank1144/ordinex/llmclient"
	"github.com/kalyank1144/ordinex/llmedit"
	"github.com/kalyank1144/ordinex/loopdetect"
)

var signatureDigitsRe = regexp.MustCompile(`\d+`)

// Outcome is the closed set of ways Run can end.
type Outcome string

const (
	OutcomeTestPass         Outcome = "test_pass"
	OutcomeBudgetExhausted  Outcome = "repair_budget_exhausted"
	OutcomeLoopDetected     Outcome = "loop_detected"
	OutcomeApprovalDenied   Outcome = "approval_denied"
	OutcomeStaleContext     Outcome = "stale_context"
	// OutcomeStepFailed tags an unmodeled error from a collaborator
	// (diagnose, propose, apply, or test execution infrastructure itself,
	// as opposed to a failing test run). The specific reason travels in
	// the failure_detected event payload, not in this closed enum.
	OutcomeStepFailed Outcome = "step_failed"
)

// Result summarizes one full Run call.
type Result struct {
	Outcome    Outcome
	Iterations int
	History    []loopdetect.IterationOutcome
	LoopType   loopdetect.LoopType // set only when Outcome == OutcomeLoopDetected
}

// Request is one repair loop invocation, started right after a test run
// has failed.
type Request struct {
	TaskID        string
	TestCommand   string
	FailureOutput string
	Files         map[string]string
	BaseSHA       map[string]string
	Policy        diffpatch.Policy
	DeclaredScope []string
}

// Runner wires the diagnose/propose/apply/test collaborators together
// for one process. A single Runner is shared across missions; per-mission
// state (remaining attempts, iteration history) lives in Request/Run,
// except for the first-use test-command approval gate, which is
// intentionally process-wide: subsequent invocations of the same
// literal command auto-approve.
type Runner struct {
	llm         llmclient.Client
	editor      *llmedit.Editor
	bus         *eventbus.Bus
	approvals   *approval.Manager
	checkpoints *checkpoint.Manager
	applier     *applier.Applier
	tests       *TestRunner
	evidence    *evidence.Store
	cfg         config.AutonomyConfig

	mu              sync.Mutex
	approvedCommand map[string]struct{}
}

// New constructs a Runner. ev may be nil, in which case evidence
// persistence is skipped and events are published without evidence ids.
func New(
	llm llmclient.Client,
	editor *llmedit.Editor,
	bus *eventbus.Bus,
	approvals *approval.Manager,
	checkpoints *checkpoint.Manager,
	ap *applier.Applier,
	tests *TestRunner,
	ev *evidence.Store,
	cfg config.AutonomyConfig,
) *Runner {
	return &Runner{
		llm:             llm,
		editor:          editor,
		bus:             bus,
		approvals:       approvals,
		checkpoints:     checkpoints,
		applier:         ap,
		tests:           tests,
		evidence:        ev,
		cfg:             cfg,
		approvedCommand: make(map[string]struct{}),
	}
}

// Run drives the bounded diagnose -> propose -> approve -> apply ->
// re-test loop until tests pass, the repair-attempt budget is exhausted,
// the loop detector fires, or a human denies an approval.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	remaining := r.cfg.MaxRepairAttempts
	failureOutput := req.FailureOutput
	var history []loopdetect.IterationOutcome

	for {
		if remaining <= 0 {
			r.publish(ctx, req.TaskID, eventbus.TypeBudgetExhausted, map[string]any{"reason": string(OutcomeBudgetExhausted)})
			r.publish(ctx, req.TaskID, eventbus.TypeMissionPaused, map[string]any{"reason": string(OutcomeBudgetExhausted)})
			return &Result{Outcome: OutcomeBudgetExhausted, Iterations: len(history), History: history}, nil
		}
		remaining--

		r.publish(ctx, req.TaskID, eventbus.TypeRepairAttemptStarted, map[string]any{"remaining": remaining})

		d := diagnose(ctx, r.llm, failureOutput)
		var diagEvidenceIDs []string
		if diagJSON, mErr := json.Marshal(d); mErr == nil {
			if id := r.putEvidence(ctx, req.TaskID, evidence.KindDiagnosis, diagJSON); id != "" {
				diagEvidenceIDs = append(diagEvidenceIDs, id)
			}
		}
		r.publish(ctx, req.TaskID, eventbus.TypeRepairAttempted, map[string]any{
			"summary":         d.Summary,
			"likely_causes":   toAnySlice(d.LikelyCauses),
			"affected_files":  toAnySlice(d.AffectedFiles),
			"root_cause_file": d.RootCauseFile,
			"suggested_fix":   d.SuggestedFix,
			"confidence":      d.Confidence,
			"source":          string(d.Source),
		}, diagEvidenceIDs...)

		outcome, touched, err := r.proposeAndApply(ctx, req, d)
		if err != nil {
			return r.failStep(ctx, req.TaskID, "propose_apply_error", err, len(history), history), nil
		}
		if outcome == OutcomeApprovalDenied || outcome == OutcomeStaleContext {
			r.publish(ctx, req.TaskID, eventbus.TypeMissionPaused, map[string]any{"reason": string(outcome)})
			return &Result{Outcome: outcome, Iterations: len(history), History: history}, nil
		}

		testResult, err := r.retest(ctx, req.TaskID, req.TestCommand)
		if err != nil {
			return r.failStep(ctx, req.TaskID, "test_run_error", err, len(history), history), nil
		}

		signature := ""
		if !testResult.Passed {
			signature = normalizeFailureSignature(testResult.Output)
		}
		history = append(history, loopdetect.IterationOutcome{
			Iteration:        len(history) + 1,
			Success:          testResult.Passed,
			FailureSignature: signature,
			TestPassCount:    countPass(testResult),
			TestFailCount:    countFail(testResult),
			FilesTouched:     touched,
		})

		if testResult.Passed {
			r.publish(ctx, req.TaskID, eventbus.TypeMissionCompleted, nil)
			return &Result{Outcome: OutcomeTestPass, Iterations: len(history), History: history}, nil
		}

		verdict := loopdetect.Detect(history, req.DeclaredScope)
		if verdict.Detected {
			r.publish(ctx, req.TaskID, eventbus.TypeAutonomyLoopDetected, map[string]any{
				"loop_type": string(verdict.LoopType),
				"evidence":  verdict.Evidence,
			})
			r.publish(ctx, req.TaskID, eventbus.TypeMissionPaused, map[string]any{"reason": string(verdict.LoopType)})
			return &Result{Outcome: OutcomeLoopDetected, Iterations: len(history), History: history, LoopType: verdict.LoopType}, nil
		}

		failureOutput = testResult.Output
	}
}

// proposeAndApply runs the propose + approve + apply steps for one
// iteration. It returns the empty Outcome as a placeholder meaning
// "continue the loop" (the caller only checks for the two
// early-exit outcomes); touched is the set of files the apply step wrote.
func (r *Runner) proposeAndApply(ctx context.Context, req Request, d Diagnosis) (Outcome, []string, error) {
	instruction := fmt.Sprintf("Fix the following diagnosed failure.\nSummary: %s\nSuggested fix: %s", d.Summary, d.SuggestedFix)

	result, err := r.editor.Execute(ctx, llmedit.Request{
		Instruction: instruction,
		Files:       req.Files,
		BaseSHA:     req.BaseSHA,
		Policy:      req.Policy,
	})
	if err != nil {
		return "", nil, err
	}

	if result.Type != llmedit.ResultSuccess {
		// On parse/validate failure fall back to a structured diagnosis
		// document rather than aborting the loop;
		// there is nothing to apply, so this iteration's re-test simply
		// runs against the unmodified tree and almost certainly fails
		// again, which the loop detector and budget still bound.
		r.publish(ctx, req.TaskID, eventbus.TypeDiffProposed, map[string]any{
			"fallback": "diagnosis_document",
			"reason":   result.Message,
			"summary":  d.Summary,
		})
		return "", nil, nil
	}

	diffEvidenceID := r.putEvidence(ctx, req.TaskID, evidence.KindDiff, []byte(result.RawUnifiedDiff))
	var diffEvidenceIDs []string
	if diffEvidenceID != "" {
		diffEvidenceIDs = append(diffEvidenceIDs, diffEvidenceID)
	}
	r.publish(ctx, req.TaskID, eventbus.TypeDiffProposed, map[string]any{
		"touched_files": toAnySlice(result.TouchedFiles),
		"confidence":    result.Confidence,
		"notes":         result.Notes,
	}, diffEvidenceIDs...)

	res, err := r.approvals.Request(ctx, approval.Request{
		TaskID:      req.TaskID,
		Type:        approval.TypeApplyDiff,
		Description: "Apply repair diff: " + d.Summary,
	}, r.cfg.ApprovalTimeout)
	if err != nil {
		return "", nil, err
	}
	if res.Decision != approval.DecisionApproved {
		return OutcomeApprovalDenied, nil, nil
	}

	applyRes, err := r.applier.Apply(ctx, applier.Request{
		DiffID:           fmt.Sprintf("%s-repair-%d", req.TaskID, len(req.Files)),
		TaskID:           req.TaskID,
		Patch:            result.Patch,
		ExpectedSHA:      req.BaseSHA,
		CheckpointOrigin: checkpoint.OriginMission,
	})
	if err != nil {
		if aerr, ok := applier.AsError(err); ok && aerr.Reason == applier.ReasonStaleContext {
			return OutcomeStaleContext, nil, nil
		}
		return "", nil, err
	}

	return "", applyRes.TouchedFiles, nil
}

// retest runs req's detected test command, auto-approving every
// invocation after the first literal-string match for this Runner's
// lifetime.
func (r *Runner) retest(ctx context.Context, taskID, command string) (*TestResult, error) {
	r.mu.Lock()
	_, seen := r.approvedCommand[command]
	r.mu.Unlock()

	if !seen {
		res, err := r.approvals.Request(ctx, approval.Request{
			TaskID:      taskID,
			Type:        approval.TypeApplyDiff,
			Description: "Run test command: " + command,
		}, r.cfg.ApprovalTimeout)
		if err != nil {
			return nil, err
		}
		if res.Decision != approval.DecisionApproved {
			return &TestResult{Command: command, Passed: false, Output: "test run denied by approval"}, nil
		}
		r.mu.Lock()
		r.approvedCommand[command] = struct{}{}
		r.mu.Unlock()
	}

	r.publish(ctx, taskID, eventbus.TypeTestStarted, map[string]any{"command": command})
	result, err := r.tests.Run(ctx, command)
	if err != nil {
		return nil, err
	}
	if result.Passed {
		r.publish(ctx, taskID, eventbus.TypeTestCompleted, map[string]any{"command": command, "duration_ms": result.Duration.Milliseconds()})
	} else {
		evidenceID := r.putEvidence(ctx, taskID, evidence.KindTestOutput, []byte(result.Output))
		var evidenceIDs []string
		if evidenceID != "" {
			evidenceIDs = append(evidenceIDs, evidenceID)
		}
		r.publish(ctx, taskID, eventbus.TypeTestFailed, map[string]any{"command": command, "output": result.Output}, evidenceIDs...)
	}
	return result, nil
}

// failStep records an unmodeled repair-loop error as the failure_detected
// / step_failed event pair before pausing the mission, so no collaborator
// error ever leaves Run as a bare Go error with no audit trail. reason
// travels in the failure_detected payload; Result.Outcome stays the
// generic OutcomeStepFailed tag to preserve the closed enum.
func (r *Runner) failStep(ctx context.Context, taskID, reason string, err error, iterations int, history []loopdetect.IterationOutcome) *Result {
	payload := map[string]any{
		"reason":     reason,
		"error_type": fmt.Sprintf("%T", err),
		"details":    err.Error(),
	}
	if aerr, ok := applier.AsError(err); ok && aerr.CheckpointID != "" {
		payload["checkpoint_id"] = aerr.CheckpointID
		payload["rollback"] = "attempted"
	}
	r.publish(ctx, taskID, eventbus.TypeFailureDetected, payload)
	r.publish(ctx, taskID, eventbus.TypeStepFailed, map[string]any{"reason": reason})
	r.publish(ctx, taskID, eventbus.TypeMissionPaused, map[string]any{"reason": reason})
	return &Result{Outcome: OutcomeStepFailed, Iterations: iterations, History: history}
}

// putEvidence persists content under kind and returns its blob id, or ""
// if no evidence store is configured or the write failed (logged, not
// fatal: evidence persistence must never abort a repair iteration that
// otherwise succeeded).
func (r *Runner) putEvidence(ctx context.Context, taskID string, kind evidence.Kind, content []byte) string {
	if r.evidence == nil {
		return ""
	}
	blob, err := r.evidence.Put(ctx, taskID, kind, content)
	if err != nil {
		slog.Warn("repair: failed to persist evidence", "task_id", taskID, "kind", kind, "error", err)
		return ""
	}
	return blob.ID
}

func (r *Runner) publish(ctx context.Context, taskID string, typ eventbus.Type, payload map[string]any, evidenceIDs ...string) {
	if r.bus == nil {
		return
	}
	_, _ = r.bus.Publish(ctx, eventbus.Event{TaskID: taskID, Type: typ, Payload: payload, EvidenceIDs: evidenceIDs})
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func countPass(t *TestResult) int {
	if t.Passed {
		return 1
	}
	return 0
}

func countFail(t *TestResult) int {
	if !t.Passed {
		return 1
	}
	return 0
}

// normalizeFailureSignature reduces raw test output to a short, stable
// signature loopdetect can compare across iterations: the first
// error-looking line, with numbers collapsed so that e.g. two different
// line numbers in the same assertion still compare equal.
func normalizeFailureSignature(output string) string {
	line := output
	if m := errorLineRe.FindString(output); m != "" {
		line = m
	}
	line = strings.TrimSpace(line)
	return signatureDigitsRe.ReplaceAllString(line, "#")
}
