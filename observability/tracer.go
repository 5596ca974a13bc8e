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
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kalyank1144/ordinex/config"
)

// Tracer wraps an OpenTelemetry tracer with mission-runner-specific
// span-start helpers: NewTracer/exporter-selection/Shutdown, with one
// span method per mission stage and cross-cutting concern (LLM call,
// diff apply, test execution, checkpoint op). This engine is a CLI tool
// with no web debugging UI to feed, so there is no debug-exporter or
// payload-capture option.
type Tracer struct {
	provider    *sdktrace.TracerProvider
	tracer      trace.Tracer
	serviceName string
}

// NewTracer builds a Tracer from an ObservabilityConfig, wiring either a
// stdout or OTLP-gRPC exporter per cfg.Exporter. Returns a Tracer with a
// noop provider if tracing is disabled, so callers never need a nil
// check.
func NewTracer(ctx context.Context, cfg *config.ObservabilityConfig) (*Tracer, error) {
	if cfg == nil || !cfg.TracingEnabled {
		return &Tracer{tracer: otel.Tracer(DefaultServiceName), serviceName: DefaultServiceName}, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(DefaultServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{
		provider:    provider,
		tracer:      provider.Tracer(DefaultServiceName),
		serviceName: DefaultServiceName,
	}, nil
}

func createExporter(ctx context.Context, cfg *config.ObservabilityConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return createOTLPExporter(ctx, cfg)
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("observability: unknown exporter %q", cfg.Exporter)
	}
}

func createOTLPExporter(ctx context.Context, cfg *config.ObservabilityConfig) (sdktrace.SpanExporter, error) {
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = DefaultOTLPEndpoint
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Shutdown flushes and stops the tracer provider. Safe to call on a
// disabled (noop) Tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartMissionRun opens the root span for one task's end-to-end run.
func (t *Tracer) StartMissionRun(ctx context.Context, taskID string, mode string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanMissionRun, trace.WithAttributes(
		attribute.String(AttrOrdinexTaskID, taskID),
		attribute.String(AttrOrdinexMode, mode),
	))
}

// StartStage opens a span for one mission stage transition.
func (t *Tracer) StartStage(ctx context.Context, taskID, stage string) (context.Context, trace.Span) {
	spanName := SpanStageEdit
	switch stage {
	case "retrieve":
		spanName = SpanStageRetrieve
	case "test":
		spanName = SpanStageTest
	case "repair":
		spanName = SpanStageRepair
	}
	return t.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String(AttrOrdinexTaskID, taskID),
		attribute.String(AttrOrdinexStage, stage),
	))
}

// StartLLMCall opens a span around one call to the LLM collaborator.
func (t *Tracer) StartLLMCall(ctx context.Context, taskID, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLLMCall, trace.WithAttributes(
		attribute.String(AttrOrdinexTaskID, taskID),
		attribute.String(AttrGenAISystem, "anthropic"),
		attribute.String(AttrGenAIOperationName, OpChat),
		attribute.String(AttrGenAIRequestModel, model),
	))
}

// AddLLMUsage records token-usage attributes on an in-flight LLM-call
// span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int(AttrGenAIUsageInputTokens, inputTokens),
		attribute.Int(AttrGenAIUsageOutputTokens, outputTokens),
	)
}

// StartToolExecution opens a span around a subprocess tool invocation
// (the test command, a repair probe).
func (t *Tracer) StartToolExecution(ctx context.Context, taskID, toolName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanToolExecution, trace.WithAttributes(
		attribute.String(AttrOrdinexTaskID, taskID),
		attribute.String(AttrGenAIOperationName, OpToolCall),
	))
}

// StartDiffApply opens a span around one atomic diff application.
func (t *Tracer) StartDiffApply(ctx context.Context, taskID, diffID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDiffApply, trace.WithAttributes(
		attribute.String(AttrOrdinexTaskID, taskID),
		attribute.String(AttrOrdinexDiffID, diffID),
	))
}

// StartCheckpointOp opens a span around a checkpoint create/restore
// operation.
func (t *Tracer) StartCheckpointOp(ctx context.Context, taskID, checkpointID, op string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanCheckpointOp, trace.WithAttributes(
		attribute.String(AttrOrdinexTaskID, taskID),
		attribute.String(AttrOrdinexCheckpointID, checkpointID),
		attribute.String("ordinex.checkpoint.operation", op),
	))
}

// RecordError marks the span as errored and attaches error attributes.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
	span.RecordError(err)
}
