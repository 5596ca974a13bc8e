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

// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for the mission runner's stage transitions, with a
// tracer-with-pluggable-exporter shape. This engine calls one LLM
// provider through llmclient rather than a configurable multi-backend
// agent runtime, so there are no GenAI, RAG-search, per-HTTP-request, or
// debug-UI spans here — only the spans the mission stage pipeline
// itself produces.
package observability

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
)

const (
	AttrGenAISystem               = "gen_ai.system"
	AttrGenAIOperationName        = "gen_ai.operation.name"
	AttrGenAIRequestModel         = "gen_ai.request.model"
	AttrGenAIRequestMaxTokens     = "gen_ai.request.max_tokens"
	AttrGenAIResponseFinishReason = "gen_ai.response.finish_reason"
	AttrGenAIUsageInputTokens     = "gen_ai.usage.input_tokens"
	AttrGenAIUsageOutputTokens    = "gen_ai.usage.output_tokens"
)

// Ordinex-specific span attributes.
const (
	AttrOrdinexTaskID       = "ordinex.task_id"
	AttrOrdinexMode         = "ordinex.mode"
	AttrOrdinexStage        = "ordinex.stage"
	AttrOrdinexStepID       = "ordinex.step_id"
	AttrOrdinexDiffID       = "ordinex.diff_id"
	AttrOrdinexCheckpointID = "ordinex.checkpoint_id"
	AttrOrdinexApprovalID   = "ordinex.approval_id"
	AttrOrdinexIteration    = "ordinex.iteration"
)

const (
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Span names, one per mission-runner stage plus the cross-cutting LLM
// and tool-execution spans.
const (
	SpanMissionRun     = "ordinex.mission.run"
	SpanStageRetrieve  = "ordinex.stage.retrieve"
	SpanStageEdit      = "ordinex.stage.edit"
	SpanStageTest      = "ordinex.stage.test"
	SpanStageRepair    = "ordinex.stage.repair"
	SpanLLMCall        = "ordinex.llm.call"
	SpanToolExecution  = "ordinex.tool.execute"
	SpanDiffApply      = "ordinex.diff.apply"
	SpanCheckpointOp   = "ordinex.checkpoint.op"
)

const (
	DefaultServiceName  = "ordinex"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)

const (
	OpChat       = "chat"
	OpToolCall   = "execute_tool"
)
