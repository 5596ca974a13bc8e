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

// Package judge implements the prompt-quality judge: a cheap LLM call,
// made before plan generation, that classifies a user's planning
// request's clarity and may demand clarification rather than let a
// vague mission run unsupervised.
package judge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kalyank1144/ordinex/internal/jsonutil"
	"github.com/kalyank1144/ordinex/llmclient"
)

// Clarity is the closed classification set a Verdict carries.
type Clarity string

const (
	ClarityHigh   Clarity = "high"
	ClarityMedium Clarity = "medium"
	ClarityLow    Clarity = "low"
)

// Intent is what the judge thinks the user is actually asking for.
type Intent string

const (
	IntentAnswer  Intent = "answer"
	IntentPlan    Intent = "plan"
	IntentMission Intent = "mission"
)

// Verdict is the judge's structured assessment of one prompt.
type Verdict struct {
	Clarity           Clarity
	Intent            Intent
	MissingInfo       []string
	SafeRewrite       string
	ClarifyingQuestion string
	FellBack          bool // true if the LLM call failed and this is the deterministic fallback
}

// NextPrompt applies a Verdict's clarity to the original prompt: high
// proceeds unchanged, medium substitutes SafeRewrite, low
// returns ok=false so the caller surfaces ClarifyingQuestion as a
// decision point instead of proceeding.
func (v Verdict) NextPrompt(original string) (prompt string, ok bool) {
	switch v.Clarity {
	case ClarityHigh:
		return original, true
	case ClarityLow:
		return "", false
	default: // medium, or any unrecognized value defaults to proceeding like medium
		if v.SafeRewrite != "" {
			return v.SafeRewrite, true
		}
		return original, true
	}
}

const judgeSystemPrompt = `You assess the clarity of a user's request to an autonomous coding agent. Respond only with a single JSON object: {"clarity": "high|medium|low", "intent": "answer|plan|mission", "missing_info": ["..."], "safe_rewrite": "...", "clarifying_question": "..."}.`

type rawVerdict struct {
	Clarity            string   `json:"clarity"`
	Intent             string   `json:"intent"`
	MissingInfo        []string `json:"missing_info"`
	SafeRewrite        string   `json:"safe_rewrite"`
	ClarifyingQuestion string   `json:"clarifying_question"`
}

// Judge assesses a prompt's clarity via one LLM call, falling back to a
// deterministic heuristic on any failure so a judge outage never blocks
// the user.
func Judge(ctx context.Context, client llmclient.Client, prompt string) Verdict {
	if client != nil {
		if v, ok := judgeWithLLM(ctx, client, prompt); ok {
			return v
		}
	}
	return fallbackVerdict(prompt)
}

func judgeWithLLM(ctx context.Context, client llmclient.Client, prompt string) (Verdict, bool) {
	resp, err := client.Complete(ctx, llmclient.Request{
		System:   judgeSystemPrompt,
		Messages: []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt}},
	})
	if err != nil {
		return Verdict{}, false
	}
	var raw rawVerdict
	if jsonErr := json.Unmarshal([]byte(jsonutil.ExtractJSON(resp.Text)), &raw); jsonErr != nil {
		return Verdict{}, false
	}
	clarity := Clarity(raw.Clarity)
	switch clarity {
	case ClarityHigh, ClarityMedium, ClarityLow:
	default:
		return Verdict{}, false
	}
	return Verdict{
		Clarity:            clarity,
		Intent:             Intent(raw.Intent),
		MissingInfo:        raw.MissingInfo,
		SafeRewrite:        raw.SafeRewrite,
		ClarifyingQuestion: raw.ClarifyingQuestion,
	}, true
}

// fallbackVerdict is the deterministic "never block the user" path:
// failures pin to medium plus a structural rewrite, never to low (which
// would otherwise stall the mission on a clarifying question the judge
// itself couldn't produce).
func fallbackVerdict(prompt string) Verdict {
	return Verdict{
		Clarity:     ClarityMedium,
		Intent:      IntentMission,
		SafeRewrite: strings.TrimSpace(prompt),
		FellBack:    true,
	}
}

