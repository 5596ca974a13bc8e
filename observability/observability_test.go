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

package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/config"
	"github.com/kalyank1144/ordinex/observability"
)

func TestNewMetricsDisabledReturnsNil(t *testing.T) {
	m, err := observability.NewMetrics("ordinex", false)
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestNewMetricsEnabledRegistersFamilies(t *testing.T) {
	m, err := observability.NewMetrics("ordinex", true)
	require.NoError(t, err)
	require.NotNil(t, m)

	gathered, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, gathered)
}

func TestNilMetricsRecordingIsNoop(t *testing.T) {
	var m *observability.Metrics
	require.NotPanics(t, func() {
		m.RecordMissionStarted("autonomous")
		m.RecordIteration("edit")
		m.RecordLLMCall("claude-3-5-sonnet", "anthropic", 10*time.Millisecond)
		m.RecordDiffApplied("task-1")
		m.RecordCheckpointCreated("edit")
		m.RecordRepairAttempt("fixed")
	})
}

func TestMetricsHandlerServesEvenWhenDisabled(t *testing.T) {
	var m *observability.Metrics
	require.NotNil(t, m.Handler())
}

func TestNewTracerDisabledIsUsable(t *testing.T) {
	tr, err := observability.NewTracer(context.Background(), &config.ObservabilityConfig{TracingEnabled: false})
	require.NoError(t, err)
	require.NotNil(t, tr)

	ctx, span := tr.StartMissionRun(context.Background(), "task-1", "autonomous")
	require.NotNil(t, ctx)
	span.End()

	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestNewTracerStdoutExporter(t *testing.T) {
	tr, err := observability.NewTracer(context.Background(), &config.ObservabilityConfig{
		TracingEnabled: true,
		Exporter:       "stdout",
	})
	require.NoError(t, err)
	require.NotNil(t, tr)
	defer tr.Shutdown(context.Background())

	_, span := tr.StartStage(context.Background(), "task-1", "edit")
	span.End()
}
