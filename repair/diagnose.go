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

package repair

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/kalyank1144/ordinex/internal/jsonutil"
	"github.com/kalyank1144/ordinex/llmclient"
)

// DiagnosisSource tags whether a Diagnosis came from the LLM or the
// deterministic fallback.
type DiagnosisSource string

const (
	SourceLLM       DiagnosisSource = "llm"
	SourceHeuristic DiagnosisSource = "heuristic"
)

// Diagnosis is the structured output of one diagnose step, regardless of
// which source produced it.
type Diagnosis struct {
	Summary         string
	LikelyCauses    []string
	AffectedFiles   []string
	RootCauseFile   string
	SuggestedFix    string
	Confidence      float64
	Source          DiagnosisSource
}

type rawDiagnosis struct {
	Summary       string   `json:"summary"`
	LikelyCauses  []string `json:"likely_causes"`
	AffectedFiles []string `json:"affected_files"`
	RootCauseFile string   `json:"root_cause_file"`
	SuggestedFix  string   `json:"suggested_fix"`
	Confidence    float64  `json:"confidence"`
}

const diagnoseSystemPrompt = `You diagnose a failing test run. Respond only with a single JSON object: {"summary": "...", "likely_causes": ["..."], "affected_files": ["..."], "root_cause_file": "...", "suggested_fix": "...", "confidence": 0.0-1.0}.`

// diagnose tries a cheap LLM call for a structured diagnosis; on any
// failure (network error, unparseable/empty JSON) it falls back to a
// deterministic heuristic over the raw test output. It never returns an
// error: a diagnosis is always produced, tagged with its Source.
func diagnose(ctx context.Context, client llmclient.Client, testOutput string) Diagnosis {
	if client != nil {
		if d, ok := diagnoseWithLLM(ctx, client, testOutput); ok {
			return d
		}
	}
	return diagnoseHeuristic(testOutput)
}

func diagnoseWithLLM(ctx context.Context, client llmclient.Client, testOutput string) (Diagnosis, bool) {
	resp, err := client.Complete(ctx, llmclient.Request{
		System:   diagnoseSystemPrompt,
		Messages: []llmclient.Message{{Role: llmclient.RoleUser, Content: "Test output:\n" + testOutput}},
	})
	if err != nil {
		return Diagnosis{}, false
	}
	var raw rawDiagnosis
	if jsonErr := json.Unmarshal([]byte(jsonutil.ExtractJSON(resp.Text)), &raw); jsonErr != nil {
		return Diagnosis{}, false
	}
	if raw.Summary == "" {
		return Diagnosis{}, false
	}
	return Diagnosis{
		Summary:       raw.Summary,
		LikelyCauses:  raw.LikelyCauses,
		AffectedFiles: raw.AffectedFiles,
		RootCauseFile: raw.RootCauseFile,
		SuggestedFix:  raw.SuggestedFix,
		Confidence:    raw.Confidence,
		Source:        SourceLLM,
	}, true
}

var (
	errorLineRe = regexp.MustCompile(`(?i)(error|fail(ed|ure)?|panic|exception)[^\n]*`)
	filePathRe  = regexp.MustCompile(`[A-Za-z0-9_./\-]+\.[A-Za-z]{1,5}(?::\d+)?`)
)

// diagnoseHeuristic extracts error-looking lines and file-path-looking
// tokens from raw test output, with no LLM involved.
func diagnoseHeuristic(testOutput string) Diagnosis {
	lines := errorLineRe.FindAllString(testOutput, 5)
	summary := "test failure detected"
	if len(lines) > 0 {
		summary = strings.TrimSpace(lines[0])
	}

	pathMatches := filePathRe.FindAllString(testOutput, -1)
	seen := make(map[string]struct{})
	var files []string
	for _, m := range pathMatches {
		path := strings.SplitN(m, ":", 2)[0]
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}
	sort.Strings(files)

	root := ""
	if len(files) > 0 {
		root = files[0]
	}

	return Diagnosis{
		Summary:       summary,
		LikelyCauses:  lines,
		AffectedFiles: files,
		RootCauseFile: root,
		SuggestedFix:  "",
		Confidence:    0,
		Source:        SourceHeuristic,
	}
}

