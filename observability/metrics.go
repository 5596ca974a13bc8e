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

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the mission
// runner: one registry per instance, with a nil-receiver-is-a-noop
// shape so call sites never need a feature-flag check. Every metric
// family tracks a mission-runner concern — iterations, budgets,
// checkpoints, diff applications, repair attempts — under a single
// Namespace/Subsystem/Name layout.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	missionsStarted  *prometheus.CounterVec
	missionsFinished *prometheus.CounterVec
	activeMissions   prometheus.Gauge

	iterationsTotal   *prometheus.CounterVec
	budgetExhausted   *prometheus.CounterVec
	loopDetections    *prometheus.CounterVec

	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensInput  *prometheus.CounterVec
	llmTokensOutput *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	diffsApplied    *prometheus.CounterVec
	diffApplyErrors *prometheus.CounterVec

	checkpointsCreated  *prometheus.CounterVec
	checkpointsRestored *prometheus.CounterVec
	checkpointPruneAge  prometheus.Histogram

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	repairAttempts *prometheus.CounterVec

	approvalsRequested *prometheus.CounterVec
	approvalsResolved  *prometheus.CounterVec
}

// NewMetrics builds a Metrics instance with its own registry. Returns
// nil, nil if metrics are disabled; every Record/Inc/Set method on a nil
// *Metrics is a safe no-op.
func NewMetrics(namespace string, enabled bool) (*Metrics, error) {
	if !enabled {
		return nil, nil
	}
	if namespace == "" {
		namespace = DefaultServiceName
	}

	m := &Metrics{namespace: namespace, registry: prometheus.NewRegistry()}
	m.initMissionMetrics()
	m.initLLMMetrics()
	m.initDiffMetrics()
	m.initCheckpointMetrics()
	m.initToolMetrics()
	m.initRepairMetrics()
	m.initApprovalMetrics()
	return m, nil
}

func (m *Metrics) initMissionMetrics() {
	m.missionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "mission", Name: "started_total",
		Help: "Total number of missions started",
	}, []string{"mode"})

	m.missionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "mission", Name: "finished_total",
		Help: "Total number of missions finished, by terminal status",
	}, []string{"status"})

	m.activeMissions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "mission", Name: "active",
		Help: "Number of currently running missions",
	})

	m.iterationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "mission", Name: "iterations_total",
		Help: "Total number of autonomy-loop iterations run",
	}, []string{"stage"})

	m.budgetExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "mission", Name: "budget_exhausted_total",
		Help: "Total number of times a mission budget was exhausted",
	}, []string{"budget"})

	m.loopDetections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "mission", Name: "loop_detections_total",
		Help: "Total number of autonomy-loop detections, by detector",
	}, []string{"detector"})

	m.registry.MustRegister(m.missionsStarted, m.missionsFinished, m.activeMissions,
		m.iterationsTotal, m.budgetExhausted, m.loopDetections)
}

func (m *Metrics) initLLMMetrics() {
	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "llm", Name: "calls_total",
		Help: "Total number of LLM API calls",
	}, []string{"model", "provider"})

	m.llmCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "llm", Name: "call_duration_seconds",
		Help:    "LLM API call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"model", "provider"})

	m.llmTokensInput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "llm", Name: "tokens_input_total",
		Help: "Total number of input tokens consumed",
	}, []string{"model", "provider"})

	m.llmTokensOutput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "llm", Name: "tokens_output_total",
		Help: "Total number of output tokens generated",
	}, []string{"model", "provider"})

	m.llmErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "llm", Name: "errors_total",
		Help: "Total number of LLM API errors",
	}, []string{"model", "provider", "error_type"})

	m.registry.MustRegister(m.llmCalls, m.llmCallDuration, m.llmTokensInput, m.llmTokensOutput, m.llmErrors)
}

func (m *Metrics) initDiffMetrics() {
	m.diffsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "diff", Name: "applied_total",
		Help: "Total number of diffs committed by the atomic applier",
	}, []string{"task_id"})

	m.diffApplyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "diff", Name: "apply_errors_total",
		Help: "Total number of failed diff applications, by failure reason",
	}, []string{"reason"})

	m.registry.MustRegister(m.diffsApplied, m.diffApplyErrors)
}

func (m *Metrics) initCheckpointMetrics() {
	m.checkpointsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "checkpoint", Name: "created_total",
		Help: "Total number of checkpoints created",
	}, []string{"origin"})

	m.checkpointsRestored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "checkpoint", Name: "restored_total",
		Help: "Total number of checkpoint restores",
	}, []string{"origin"})

	m.checkpointPruneAge = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "checkpoint", Name: "prune_age_seconds",
		Help:    "Age of checkpoints at the time they were pruned",
		Buckets: prometheus.ExponentialBuckets(60, 4, 10),
	})

	m.registry.MustRegister(m.checkpointsCreated, m.checkpointsRestored, m.checkpointPruneAge)
}

func (m *Metrics) initToolMetrics() {
	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of subprocess tool invocations (test commands, repair probes)",
	}, []string{"tool_name"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help:    "Tool execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"tool_name"})

	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of tool execution errors",
	}, []string{"tool_name", "error_type"})

	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors)
}

func (m *Metrics) initRepairMetrics() {
	m.repairAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "repair", Name: "attempts_total",
		Help: "Total number of repair-loop attempts, by outcome",
	}, []string{"outcome"})

	m.registry.MustRegister(m.repairAttempts)
}

func (m *Metrics) initApprovalMetrics() {
	m.approvalsRequested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "approval", Name: "requested_total",
		Help: "Total number of human approvals requested",
	}, []string{"type"})

	m.approvalsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "approval", Name: "resolved_total",
		Help: "Total number of human approvals resolved, by decision",
	}, []string{"decision"})

	m.registry.MustRegister(m.approvalsRequested, m.approvalsResolved)
}

// RecordMissionStarted records a mission start and increments the
// active-mission gauge.
func (m *Metrics) RecordMissionStarted(mode string) {
	if m == nil {
		return
	}
	m.missionsStarted.WithLabelValues(mode).Inc()
	m.activeMissions.Inc()
}

// RecordMissionFinished records a mission's terminal status and
// decrements the active-mission gauge.
func (m *Metrics) RecordMissionFinished(status string) {
	if m == nil {
		return
	}
	m.missionsFinished.WithLabelValues(status).Inc()
	m.activeMissions.Dec()
}

// RecordIteration records one autonomy-loop iteration for a stage.
func (m *Metrics) RecordIteration(stage string) {
	if m == nil {
		return
	}
	m.iterationsTotal.WithLabelValues(stage).Inc()
}

// RecordBudgetExhausted records a budget (iterations, repair attempts,
// tool calls) running out.
func (m *Metrics) RecordBudgetExhausted(budget string) {
	if m == nil {
		return
	}
	m.budgetExhausted.WithLabelValues(budget).Inc()
}

// RecordLoopDetection records a loop-detector firing.
func (m *Metrics) RecordLoopDetection(detector string) {
	if m == nil {
		return
	}
	m.loopDetections.WithLabelValues(detector).Inc()
}

// RecordLLMCall records an LLM API call's duration.
func (m *Metrics) RecordLLMCall(model, provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model, provider).Inc()
	m.llmCallDuration.WithLabelValues(model, provider).Observe(duration.Seconds())
}

// RecordLLMTokens records token usage for an LLM call.
func (m *Metrics) RecordLLMTokens(model, provider string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmTokensInput.WithLabelValues(model, provider).Add(float64(inputTokens))
	m.llmTokensOutput.WithLabelValues(model, provider).Add(float64(outputTokens))
}

// RecordLLMError records an LLM API error.
func (m *Metrics) RecordLLMError(model, provider, errorType string) {
	if m == nil {
		return
	}
	m.llmErrors.WithLabelValues(model, provider, errorType).Inc()
}

// RecordDiffApplied records a successfully committed diff.
func (m *Metrics) RecordDiffApplied(taskID string) {
	if m == nil {
		return
	}
	m.diffsApplied.WithLabelValues(taskID).Inc()
}

// RecordDiffApplyError records a failed diff application by reason.
func (m *Metrics) RecordDiffApplyError(reason string) {
	if m == nil {
		return
	}
	m.diffApplyErrors.WithLabelValues(reason).Inc()
}

// RecordCheckpointCreated records a checkpoint creation by origin.
func (m *Metrics) RecordCheckpointCreated(origin string) {
	if m == nil {
		return
	}
	m.checkpointsCreated.WithLabelValues(origin).Inc()
}

// RecordCheckpointRestored records a checkpoint restore by origin.
func (m *Metrics) RecordCheckpointRestored(origin string) {
	if m == nil {
		return
	}
	m.checkpointsRestored.WithLabelValues(origin).Inc()
}

// RecordCheckpointPruned records the age of a pruned checkpoint.
func (m *Metrics) RecordCheckpointPruned(age time.Duration) {
	if m == nil {
		return
	}
	m.checkpointPruneAge.Observe(age.Seconds())
}

// RecordToolCall records a subprocess tool invocation's duration.
func (m *Metrics) RecordToolCall(toolName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordToolError records a subprocess tool invocation error.
func (m *Metrics) RecordToolError(toolName, errorType string) {
	if m == nil {
		return
	}
	m.toolErrors.WithLabelValues(toolName, errorType).Inc()
}

// RecordRepairAttempt records one repair-loop attempt's outcome
// (fixed, still_failing, budget_exhausted).
func (m *Metrics) RecordRepairAttempt(outcome string) {
	if m == nil {
		return
	}
	m.repairAttempts.WithLabelValues(outcome).Inc()
}

// RecordApprovalRequested records a human approval request by type.
func (m *Metrics) RecordApprovalRequested(approvalType string) {
	if m == nil {
		return
	}
	m.approvalsRequested.WithLabelValues(approvalType).Inc()
}

// RecordApprovalResolved records a human approval decision (approved,
// rejected, timed_out).
func (m *Metrics) RecordApprovalResolved(decision string) {
	if m == nil {
		return
	}
	m.approvalsResolved.WithLabelValues(decision).Inc()
}

// Handler returns an HTTP handler serving the Prometheus metrics
// endpoint. On a nil (disabled) Metrics it returns a 503 handler so
// callers can mount it unconditionally.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry, or nil if
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
