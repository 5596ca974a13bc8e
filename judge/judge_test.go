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

package judge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/judge"
	"github.com/kalyank1144/ordinex/llmclient"
)

func TestJudgeHighClarityProceedsUnchanged(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.Response{
		{Text: `{"clarity": "high", "intent": "mission"}`, StopReason: llmclient.StopEndTurn},
	}}
	v := judge.Judge(context.Background(), fake, "Add a retry to the billing webhook handler")
	require.Equal(t, judge.ClarityHigh, v.Clarity)

	prompt, ok := v.NextPrompt("Add a retry to the billing webhook handler")
	require.True(t, ok)
	require.Equal(t, "Add a retry to the billing webhook handler", prompt)
}

func TestJudgeMediumClaritySubstitutesSafeRewrite(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.Response{
		{Text: `{"clarity": "medium", "safe_rewrite": "Add retry logic to the webhook handler in billing/webhook.go"}`, StopReason: llmclient.StopEndTurn},
	}}
	v := judge.Judge(context.Background(), fake, "fix the webhook thing")
	require.Equal(t, judge.ClarityMedium, v.Clarity)

	prompt, ok := v.NextPrompt("fix the webhook thing")
	require.True(t, ok)
	require.Equal(t, "Add retry logic to the webhook handler in billing/webhook.go", prompt)
}

func TestJudgeLowClarityPausesForClarification(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.Response{
		{Text: `{"clarity": "low", "clarifying_question": "Which file should this change target?"}`, StopReason: llmclient.StopEndTurn},
	}}
	v := judge.Judge(context.Background(), fake, "fix it")
	require.Equal(t, judge.ClarityLow, v.Clarity)

	_, ok := v.NextPrompt("fix it")
	require.False(t, ok)
	require.Equal(t, "Which file should this change target?", v.ClarifyingQuestion)
}

func TestJudgeFallsBackToMediumOnFailure(t *testing.T) {
	fake := &llmclient.FakeClient{Err: assertErr}
	v := judge.Judge(context.Background(), fake, "fix it")
	require.Equal(t, judge.ClarityMedium, v.Clarity)
	require.True(t, v.FellBack)

	prompt, ok := v.NextPrompt("fix it")
	require.True(t, ok)
	require.Equal(t, "fix it", prompt)
}

func TestJudgeFallsBackOnInvalidJSON(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.Response{{Text: "not json", StopReason: llmclient.StopEndTurn}}}
	v := judge.Judge(context.Background(), fake, "fix it")
	require.Equal(t, judge.ClarityMedium, v.Clarity)
	require.True(t, v.FellBack)
}

var assertErr = errNetwork{}

type errNetwork struct{}

func (errNetwork) Error() string { return "network unavailable" }
