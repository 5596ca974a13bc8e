// Package eventbus is the single totally-ordered sink for all domain events
// emitted by an Ordinex task: append-only durable log plus subscription
// fan-out, backed by the same SQL-row persistence pattern as the rest of
// this engine's stores, narrowed to a closed event-tag set.
package eventbus

import "time"

// Mode is the top-level operating mode of a task.
type Mode string

const (
	ModeAnswer  Mode = "ANSWER"
	ModePlan    Mode = "PLAN"
	ModeMission Mode = "MISSION"
	ModeScaffold Mode = "SCAFFOLD"
)

// Stage is the coarse activity label carried on every event.
type Stage string

const (
	StageNone     Stage = "none"
	StagePlan     Stage = "plan"
	StageRetrieve Stage = "retrieve"
	StageEdit     Stage = "edit"
	StageTest     Stage = "test"
	StageRepair   Stage = "repair"
)

// Type is the closed tag set for domain events. Unknown tags observed in
// storage (e.g. written by a newer version of this engine) are logged
// and skipped by the reducer rather than rejected here, preserving the
// forward-compatibility seam.
type Type string

const (
	// Lifecycle
	TypeIntentReceived      Type = "intent_received"
	TypeModeSet             Type = "mode_set"
	TypeModeChanged         Type = "mode_changed"
	TypeStageChanged        Type = "stage_changed"
	TypeExecutionPaused     Type = "execution_paused"
	TypeExecutionResumed    Type = "execution_resumed"
	TypeExecutionStopped    Type = "execution_stopped"
	TypeFinal               Type = "final"
	TypeTaskInterrupted     Type = "task_interrupted"
	TypeTaskRecoveryStarted Type = "task_recovery_started"
	TypeTaskDiscarded       Type = "task_discarded"

	// Planning
	TypePlanCreated            Type = "plan_created"
	TypePlanRevised            Type = "plan_revised"
	TypePlanLargeDetected      Type = "plan_large_detected"
	TypeMissionBreakdownCreated Type = "mission_breakdown_created"
	TypeMissionSelected        Type = "mission_selected"
	TypeMissionStarted         Type = "mission_started"
	TypeMissionCompleted       Type = "mission_completed"
	TypeMissionPaused          Type = "mission_paused"
	TypeMissionCancelled       Type = "mission_cancelled"

	// Execution
	TypeStepStarted       Type = "step_started"
	TypeStepCompleted     Type = "step_completed"
	TypeStepFailed        Type = "step_failed"
	TypePatchPlanProposed Type = "patch_plan_proposed"

	// Retrieval
	TypeRetrievalStarted   Type = "retrieval_started"
	TypeRetrievalCompleted Type = "retrieval_completed"
	TypeRetrievalFailed    Type = "retrieval_failed"

	// Tools
	TypeToolStart Type = "tool_start"
	TypeToolEnd   Type = "tool_end"

	// Diffs & checkpoints
	TypeDiffProposed            Type = "diff_proposed"
	TypeDiffApplied             Type = "diff_applied"
	TypeCheckpointCreated       Type = "checkpoint_created"
	TypeCheckpointRestoreStarted Type = "checkpoint_restore_started"
	TypeCheckpointRestored      Type = "checkpoint_restored"
	TypeContextSnapshotCreated  Type = "context_snapshot_created"
	TypeStaleContextDetected    Type = "stale_context_detected"

	// Approvals & scope
	TypeApprovalRequested     Type = "approval_requested"
	TypeApprovalResolved      Type = "approval_resolved"
	TypeScopeExpansionRequested Type = "scope_expansion_requested"
	TypeScopeExpansionResolved Type = "scope_expansion_resolved"
	TypePlanDeviationDetected Type = "plan_deviation_detected"

	// Tests & repair
	TypeTestStarted            Type = "test_started"
	TypeTestCompleted          Type = "test_completed"
	TypeTestFailed             Type = "test_failed"
	TypeRepairAttemptStarted   Type = "repair_attempt_started"
	TypeRepairAttemptCompleted Type = "repair_attempt_completed"
	TypeRepairAttempted        Type = "repair_attempted"
	TypeRepeatedFailureDetected Type = "repeated_failure_detected"
	TypeStageTimeout           Type = "stage_timeout"
	TypeFailureDetected        Type = "failure_detected"

	// Autonomy
	TypeAutonomyStarted      Type = "autonomy_started"
	TypeIterationStarted     Type = "iteration_started"
	TypeIterationSucceeded   Type = "iteration_succeeded"
	TypeIterationFailed      Type = "iteration_failed"
	TypeBudgetExhausted      Type = "budget_exhausted"
	TypeAutonomyHalted       Type = "autonomy_halted"
	TypeAutonomyCompleted    Type = "autonomy_completed"
	TypeAutonomyLoopDetected Type = "autonomy_loop_detected"
	TypeAutonomyDowngraded   Type = "autonomy_downgraded"

	// Memory/observability (informational)
	TypeMemoryFactsUpdated Type = "memory_facts_updated"
	TypeSolutionCaptured   Type = "solution_captured"
	TypeStreamDelta        Type = "stream_delta"
	TypeStreamComplete     Type = "stream_complete"
	TypeModelFallbackUsed  Type = "model_fallback_used"
	TypeModeViolation      Type = "mode_violation"
)

// knownTypes backs IsKnown without repeating the tag set as a literal list.
var knownTypes = map[Type]struct{}{
	TypeIntentReceived: {}, TypeModeSet: {}, TypeModeChanged: {}, TypeStageChanged: {},
	TypeExecutionPaused: {}, TypeExecutionResumed: {}, TypeExecutionStopped: {}, TypeFinal: {},
	TypeTaskInterrupted: {}, TypeTaskRecoveryStarted: {}, TypeTaskDiscarded: {},
	TypePlanCreated: {}, TypePlanRevised: {}, TypePlanLargeDetected: {},
	TypeMissionBreakdownCreated: {}, TypeMissionSelected: {}, TypeMissionStarted: {},
	TypeMissionCompleted: {}, TypeMissionPaused: {}, TypeMissionCancelled: {},
	TypeStepStarted: {}, TypeStepCompleted: {}, TypeStepFailed: {}, TypePatchPlanProposed: {},
	TypeRetrievalStarted: {}, TypeRetrievalCompleted: {}, TypeRetrievalFailed: {},
	TypeToolStart: {}, TypeToolEnd: {},
	TypeDiffProposed: {}, TypeDiffApplied: {}, TypeCheckpointCreated: {},
	TypeCheckpointRestoreStarted: {}, TypeCheckpointRestored: {}, TypeContextSnapshotCreated: {},
	TypeStaleContextDetected: {},
	TypeApprovalRequested: {}, TypeApprovalResolved: {}, TypeScopeExpansionRequested: {},
	TypeScopeExpansionResolved: {}, TypePlanDeviationDetected: {},
	TypeTestStarted: {}, TypeTestCompleted: {}, TypeTestFailed: {},
	TypeRepairAttemptStarted: {}, TypeRepairAttemptCompleted: {}, TypeRepairAttempted: {},
	TypeRepeatedFailureDetected: {}, TypeStageTimeout: {}, TypeFailureDetected: {},
	TypeAutonomyStarted: {}, TypeIterationStarted: {}, TypeIterationSucceeded: {},
	TypeIterationFailed: {}, TypeBudgetExhausted: {}, TypeAutonomyHalted: {},
	TypeAutonomyCompleted: {}, TypeAutonomyLoopDetected: {}, TypeAutonomyDowngraded: {},
	TypeMemoryFactsUpdated: {}, TypeSolutionCaptured: {}, TypeStreamDelta: {},
	TypeStreamComplete: {}, TypeModelFallbackUsed: {}, TypeModeViolation: {},
}

// IsKnown reports whether t is part of the closed tag set.
func IsKnown(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// Event is the atomic, immutable unit of audit. Once published it is
// never mutated.
type Event struct {
	EventID    string         `json:"event_id"`
	TaskID     string         `json:"task_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       Type           `json:"type"`
	Mode       Mode           `json:"mode"`
	Stage      Stage          `json:"stage"`
	Payload    map[string]any `json:"payload,omitempty"`
	EvidenceIDs []string      `json:"evidence_ids,omitempty"`
	ParentEventID string      `json:"parent_event_id,omitempty"`

	// sequence is the total-order position assigned by the store at
	// publish time. It is not part of the wire payload the editor
	// frontend sees beyond ordering; exported for replay reads.
	Sequence int64 `json:"-"`
}
