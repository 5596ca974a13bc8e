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

// Package mission implements the mission runner: the stage-table
// state machine that drives one mission from context retrieval through
// diff application, testing, and the bounded repair loop, with crash
// recovery defined purely over the event log.
package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kalyank1144/ordinex/applier"
	"github.com/kalyank1144/ordinex/approval"
	"github.com/kalyank1144/ordinex/checkpoint"
	"github.com/kalyank1144/ordinex/config"
	"github.com/kalyank1144/ordinex/contenthash"
	"github.com/kalyank1144/ordinex/diffpatch"
	"github.com/kalyank1144/ordinex/eventbus"
	"github.com/kalyank1144/ordinex/evidence"
	"github.com/kalyank1144/ordinex/excerpt"
	"github.com/kalyank1144/ordinex/fence"
	"github.com/kalyank1144/ordinex/llmedit"
	"github.com/kalyank1144/ordinex/repair"
	"github.com/kalyank1144/ordinex/retrieval"
)

// Stage is the mission state machine's closed stage set.
type Stage string

const (
	StageRetrieveContext    Stage = "retrieve_context"
	StageProposePatchPlan   Stage = "propose_patch_plan"
	StageProposeDiff        Stage = "propose_diff"
	StageAwaitApplyApproval Stage = "await_apply_approval"
	StageApplyDiff          Stage = "apply_diff"
	StageAwaitTestApproval  Stage = "await_test_approval"
	StageRunTests           Stage = "run_tests"
	StageRepairLoop         Stage = "repair_loop"
	StageMissionCompleted   Stage = "mission_completed"
	StageMissionPaused      Stage = "mission_paused"
	StageMissionCancelled   Stage = "mission_cancelled"
)

// terminalStages have no outgoing transitions.
var terminalStages = map[Stage]bool{
	StageMissionCompleted: true,
	StageMissionPaused:    true,
	StageMissionCancelled: true,
}

// Request is one mission invocation.
type Request struct {
	TaskID        string
	Instruction   string
	Files         map[string]string // path -> current content, the candidate set context is drawn from
	DeclaredScope []string
	TestCommand   string
	SkipTests     bool
}

// Result is the terminal outcome of one Run call.
type Result struct {
	Stage   Stage
	Reason  string
	Repair  *repair.Result
}

// Runner wires retrieval, excerpt selection, diff editing, repair, the
// create-path fence, and the approval/checkpoint/event-bus
// infrastructure together into the mission stage state machine.
type Runner struct {
	retriever   retrieval.Retriever
	editor      *llmedit.Editor
	applier     *applier.Applier
	checkpoints *checkpoint.Manager
	approvals   *approval.Manager
	bus         *eventbus.Bus
	repair      *repair.Runner
	tests       *repair.TestRunner
	fence       *fence.Fence
	evidence    *evidence.Store
	cfg         config.AutonomyConfig
	excerptCfg  config.ExcerptConfig
}

// New constructs a Runner. ev may be nil, in which case evidence persistence
// is skipped and events are published without evidence ids.
func New(
	retriever retrieval.Retriever,
	editor *llmedit.Editor,
	ap *applier.Applier,
	checkpoints *checkpoint.Manager,
	approvals *approval.Manager,
	bus *eventbus.Bus,
	repairRunner *repair.Runner,
	tests *repair.TestRunner,
	fnc *fence.Fence,
	ev *evidence.Store,
	cfg config.AutonomyConfig,
	excerptCfg config.ExcerptConfig,
) *Runner {
	return &Runner{
		retriever:   retriever,
		editor:      editor,
		applier:     ap,
		checkpoints: checkpoints,
		approvals:   approvals,
		bus:         bus,
		repair:      repairRunner,
		tests:       tests,
		fence:       fnc,
		evidence:    ev,
		cfg:         cfg,
		excerptCfg:  excerptCfg,
	}
}

// Run drives req through the full mission state machine until a terminal
// stage is reached.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	r.publish(ctx, req.TaskID, eventbus.TypeMissionStarted, map[string]any{"scope": toAnySlice(req.DeclaredScope)})

	excerpts, err := r.retrieveContext(ctx, req)
	if err != nil {
		return r.paused(ctx, req.TaskID, "retrieval_failed"), nil
	}

	content := make(map[string]string, len(excerpts))
	baseSHA := make(map[string]string, len(excerpts))
	for _, e := range excerpts {
		content[e.Path] = req.Files[e.Path]
		baseSHA[e.Path] = e.BaseSHA
	}
	if len(content) == 0 {
		// Nothing matched retrieval; fall back to the full candidate set
		// so a small, explicit mission (e.g. "edit this one file") still
		// has something to propose a diff against.
		content = req.Files
		for p, c := range req.Files {
			baseSHA[p] = contenthash.BaseSHA([]byte(c))
		}
	}

	policy := diffpatch.Policy{AllowFileCreate: true, BaseSHA: baseSHA}
	patch, editResult, diffEvidenceID, err := r.proposeDiff(ctx, req, content, baseSHA, policy)
	if err != nil {
		return r.failStep(ctx, req.TaskID, "propose_diff_error", err), nil
	}
	if patch == nil {
		return r.paused(ctx, req.TaskID, fmt.Sprintf("propose_diff_failed:%s", editResult.Type)), nil
	}

	if err := r.checkFence(patch); err != nil {
		return r.paused(ctx, req.TaskID, "scope_fence_rejected"), nil
	}

	approved, err := r.awaitApproval(ctx, req.TaskID, approval.TypeApplyDiff, "Apply proposed diff")
	if err != nil {
		return r.failStep(ctx, req.TaskID, "apply_approval_error", err), nil
	}
	if !approved {
		return r.paused(ctx, req.TaskID, "diff_rejected"), nil
	}

	applyRes, staleErr, err := r.applyDiff(ctx, req.TaskID, patch, baseSHA, diffEvidenceID)
	if err != nil {
		return r.failStep(ctx, req.TaskID, "apply_error", err), nil
	}
	if staleErr {
		return r.paused(ctx, req.TaskID, "stale_context"), nil
	}

	if req.SkipTests || req.TestCommand == "" {
		r.publish(ctx, req.TaskID, eventbus.TypeMissionCompleted, nil)
		return &Result{Stage: StageMissionCompleted}, nil
	}

	testApproved, err := r.awaitApproval(ctx, req.TaskID, approval.TypeApplyDiff, "Run test command: "+req.TestCommand)
	if err != nil {
		return r.failStep(ctx, req.TaskID, "test_approval_error", err), nil
	}
	if !testApproved {
		return r.paused(ctx, req.TaskID, "test_run_denied"), nil
	}

	passed, output, err := r.runTests(ctx, req.TaskID, req.TestCommand)
	if err != nil {
		return r.failStep(ctx, req.TaskID, "test_run_error", err), nil
	}
	if passed {
		r.publish(ctx, req.TaskID, eventbus.TypeMissionCompleted, nil)
		return &Result{Stage: StageMissionCompleted}, nil
	}

	// The repair loop starts from the tree as this apply left it, so the
	// touched files' content and base SHA are re-read from disk.
	repairFiles := make(map[string]string, len(content))
	for p, c := range content {
		repairFiles[p] = c
	}
	for _, p := range applyRes.TouchedFiles {
		if b, readErr := os.ReadFile(p); readErr == nil {
			repairFiles[p] = string(b)
			baseSHA[p] = contenthash.BaseSHA(b)
		}
	}
	repairRes, err := r.repair.Run(ctx, repair.Request{
		TaskID:        req.TaskID,
		TestCommand:   req.TestCommand,
		FailureOutput: output,
		Files:         repairFiles,
		BaseSHA:       baseSHA,
		Policy:        policy,
		DeclaredScope: req.DeclaredScope,
	})
	if err != nil {
		return r.failStep(ctx, req.TaskID, "repair_error", err), nil
	}

	switch repairRes.Outcome {
	case repair.OutcomeTestPass:
		return &Result{Stage: StageMissionCompleted, Repair: repairRes}, nil
	default:
		return &Result{Stage: StageMissionPaused, Reason: string(repairRes.Outcome), Repair: repairRes}, nil
	}
}

func (r *Runner) retrieveContext(ctx context.Context, req Request) ([]excerpt.Excerpt, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.stageTimeout(StageRetrieveContext))
	defer cancel()

	r.publish(ctx, req.TaskID, eventbus.TypeRetrievalStarted, nil)

	var hits []excerpt.RetrievalHit
	if r.retriever != nil {
		h, err := r.retriever.Retrieve(stageCtx, req.Instruction, req.Files)
		if err != nil {
			r.publish(ctx, req.TaskID, eventbus.TypeRetrievalFailed, map[string]any{"error": err.Error()})
			return nil, err
		}
		hits = h
	}

	allPaths := make([]string, 0, len(req.Files))
	for p := range req.Files {
		allPaths = append(allPaths, p)
	}

	budgets := excerpt.Budgets{
		MaxFiles:            r.excerptCfg.MaxFiles,
		FullFileThreshold:   r.excerptCfg.FullFileThreshold,
		ImportCapLines:      r.excerptCfg.ImportCapLines,
		ExportContextLines:  r.excerptCfg.ExportContextLines,
		KeywordContextLines: r.excerptCfg.KeywordContextLines,
		MaxTotalLines:       r.excerptCfg.MaxTotalLines,
	}

	excerpts, err := excerpt.Select(hits, nil, req.DeclaredScope, allPaths, req.Instruction, excerpt.FileContent(req.Files), budgets)
	if err != nil {
		r.publish(ctx, req.TaskID, eventbus.TypeRetrievalFailed, map[string]any{"error": err.Error()})
		return nil, err
	}

	var evidenceIDs []string
	if tokens, mErr := json.Marshal(hits); mErr == nil {
		if id := r.putEvidence(ctx, req.TaskID, evidence.KindReferenceTokens, tokens); id != "" {
			evidenceIDs = append(evidenceIDs, id)
		}
	}
	if manifest, mErr := json.Marshal(excerpts); mErr == nil {
		if id := r.putEvidence(ctx, req.TaskID, evidence.KindContextSelection, manifest); id != "" {
			evidenceIDs = append(evidenceIDs, id)
		}
	}
	r.publish(ctx, req.TaskID, eventbus.TypeRetrievalCompleted, map[string]any{"file_count": len(excerpts)}, evidenceIDs...)
	return excerpts, nil
}

// proposeDiff returns the successful patch, the raw edit result (always
// non-nil), the evidence id the raw unified diff was persisted under, and
// any error from the edit call itself.
func (r *Runner) proposeDiff(ctx context.Context, req Request, content, baseSHA map[string]string, policy diffpatch.Policy) (*diffpatch.Patch, *llmedit.Result, string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.stageTimeout(StageProposeDiff))
	defer cancel()

	policy.CurrentSHA = baseSHA
	result, err := r.editor.Execute(stageCtx, llmedit.Request{
		Instruction: req.Instruction,
		Files:       content,
		BaseSHA:     baseSHA,
		Policy:      policy,
	})
	if err != nil {
		return nil, nil, "", err
	}
	if result.Type != llmedit.ResultSuccess {
		return nil, result, "", nil
	}
	evidenceID := r.putEvidence(ctx, req.TaskID, evidence.KindDiff, []byte(result.RawUnifiedDiff))
	var evidenceIDs []string
	if evidenceID != "" {
		evidenceIDs = append(evidenceIDs, evidenceID)
	}
	r.publish(ctx, req.TaskID, eventbus.TypeDiffProposed, map[string]any{
		"touched_files": toAnySlice(result.TouchedFiles),
		"confidence":    result.Confidence,
	}, evidenceIDs...)
	return result.Patch, result, evidenceID, nil
}

func (r *Runner) checkFence(patch *diffpatch.Patch) error {
	if r.fence == nil {
		return nil
	}
	for _, f := range patch.Files {
		if !f.IsNew {
			continue
		}
		path := f.NewPath
		if path == "" {
			path = f.OldPath
		}
		res := r.fence.Validate(path, 0)
		if !res.Allowed {
			return fmt.Errorf("mission: create-path fence rejected %q (%s)", path, res.RejectedBy)
		}
	}
	return nil
}

func (r *Runner) awaitApproval(ctx context.Context, taskID string, typ approval.Type, description string) (bool, error) {
	res, err := r.approvals.Request(ctx, approval.Request{TaskID: taskID, Type: typ, Description: description}, r.cfg.ApprovalTimeout)
	if err != nil {
		return false, err
	}
	return res.Decision == approval.DecisionApproved, nil
}

func (r *Runner) applyDiff(ctx context.Context, taskID string, patch *diffpatch.Patch, baseSHA map[string]string, diffEvidenceID string) (*applier.Result, bool, error) {
	res, err := r.applier.Apply(ctx, applier.Request{
		DiffID:           taskID + "-mission-diff",
		TaskID:           taskID,
		Patch:            patch,
		ExpectedSHA:      baseSHA,
		CheckpointOrigin: checkpoint.OriginMission,
	})
	if err != nil {
		if aerr, ok := applier.AsError(err); ok && aerr.Reason == applier.ReasonStaleContext {
			return nil, true, nil
		}
		return nil, false, err
	}
	var evidenceIDs []string
	if diffEvidenceID != "" {
		evidenceIDs = append(evidenceIDs, diffEvidenceID)
	}
	r.publish(ctx, taskID, eventbus.TypeDiffApplied, map[string]any{"touched_files": toAnySlice(res.TouchedFiles)}, evidenceIDs...)
	return res, false, nil
}

func (r *Runner) runTests(ctx context.Context, taskID, command string) (bool, string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.stageTimeout(StageRunTests))
	defer cancel()

	r.publish(ctx, taskID, eventbus.TypeTestStarted, map[string]any{"command": command})
	result, err := r.tests.Run(stageCtx, command)
	if err != nil {
		return false, "", err
	}
	if result.Passed {
		r.publish(ctx, taskID, eventbus.TypeTestCompleted, map[string]any{"command": command})
		return true, "", nil
	}
	evidenceID := r.putEvidence(ctx, taskID, evidence.KindTestOutput, []byte(result.Output))
	var evidenceIDs []string
	if evidenceID != "" {
		evidenceIDs = append(evidenceIDs, evidenceID)
	}
	r.publish(ctx, taskID, eventbus.TypeTestFailed, map[string]any{"command": command, "output": result.Output}, evidenceIDs...)
	return false, result.Output, nil
}

func (r *Runner) stageTimeout(stage Stage) time.Duration {
	switch stage {
	case StageRetrieveContext:
		return r.cfg.RetrievalTimeout
	case StageProposeDiff:
		return r.cfg.DiffGenerationTimeout
	case StageRunTests:
		return r.cfg.TestExecutionTimeout
	default:
		return r.cfg.StageTimeout
	}
}

func (r *Runner) paused(ctx context.Context, taskID, reason string) *Result {
	r.publish(ctx, taskID, eventbus.TypeMissionPaused, map[string]any{"reason": reason})
	return &Result{Stage: StageMissionPaused, Reason: reason}
}

// failStep records an unmodeled stage error as the failure_detected /
// step_failed event pair before transitioning the mission to paused, so no
// stage error ever leaves Run as a bare Go error with no audit trail. reason
// doubles as both the failure_detected payload's reason and the pause
// reason surfaced in Result.
func (r *Runner) failStep(ctx context.Context, taskID, reason string, err error) *Result {
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
	return r.paused(ctx, taskID, reason)
}

// putEvidence persists content under kind and returns its blob id, or ""
// if no evidence store is configured or the write failed (logged, not
// fatal: evidence persistence must never abort a mission stage that
// otherwise succeeded).
func (r *Runner) putEvidence(ctx context.Context, taskID string, kind evidence.Kind, content []byte) string {
	if r.evidence == nil {
		return ""
	}
	blob, err := r.evidence.Put(ctx, taskID, kind, content)
	if err != nil {
		slog.Warn("mission: failed to persist evidence", "task_id", taskID, "kind", kind, "error", err)
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
