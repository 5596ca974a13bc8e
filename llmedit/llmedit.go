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

// Package llmedit implements the LLM edit tool: a truncation-safe
// wrapper around one llmclient.Client call that asks for a unified diff
// and validates what comes back against diffpatch's policy and
// precondition checks.
//
// Truncation handling tracks finish-reason the way a streaming
// aggregator tracks partial chunks, generalized here to a split-by-file
// retry instead of chunk accumulation; failures return a tagged result
// over a typed error so a caller can branch without string-matching.
package llmedit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kalyank1144/ordinex/config"
	"github.com/kalyank1144/ordinex/diffpatch"
	"github.com/kalyank1144/ordinex/internal/jsonutil"
	"github.com/kalyank1144/ordinex/internal/ordinexerr"
	"github.com/kalyank1144/ordinex/llmclient"
)

// ResultType is the closed tag set for an Execute outcome.
type ResultType string

const (
	ResultSuccess         ResultType = "success"
	ResultValidationError ResultType = "validation_error"
	ResultParseError      ResultType = "parse_error"
	ResultSchemaError     ResultType = "schema_error"
	ResultTruncation      ResultType = "truncation"
	ResultSplitFailed     ResultType = "split_failed"
	ResultUnknown         ResultType = "unknown"
)

// Result is the tagged outcome of Execute.
type Result struct {
	Type ResultType

	// Populated on ResultSuccess.
	Patch          *diffpatch.Patch
	TouchedFiles   []string
	Confidence     float64
	Notes          string
	// RawUnifiedDiff is the model's unparsed diff text, carried forward so
	// callers can persist it as evidence without re-serializing Patch.
	RawUnifiedDiff string

	// Populated on any non-success type.
	Message string
	Details map[string]any
}

// Err adapts a non-success Result into an error carrying the matching
// ordinexerr sentinel, so callers can use errors.Is uniformly.
func (r *Result) Err() error {
	switch r.Type {
	case ResultSuccess:
		return nil
	case ResultValidationError:
		return fmt.Errorf("llmedit: %s: %w", r.Message, ordinexerr.ErrValidation)
	case ResultParseError, ResultSchemaError:
		return fmt.Errorf("llmedit: %s: %w", r.Message, ordinexerr.ErrParse)
	case ResultTruncation:
		return fmt.Errorf("llmedit: %s: %w", r.Message, ordinexerr.ErrTruncation)
	case ResultSplitFailed:
		return fmt.Errorf("llmedit: %s: %w", r.Message, ordinexerr.ErrSplitFailed)
	default:
		return fmt.Errorf("llmedit: %s", r.Message)
	}
}

// Request is one edit-generation attempt.
type Request struct {
	Instruction string
	// Files maps touched-candidate path -> current file content (the
	// excerpt selector's output), used both as model context and as the
	// precondition check's file_context.
	Files   map[string]string
	BaseSHA map[string]string
	Policy  diffpatch.Policy
}

// Editor wraps an llmclient.Client with the truncation-safe retry loop.
type Editor struct {
	client llmclient.Client
	cfg    config.LLMEditConfig
}

// New constructs an Editor.
func New(client llmclient.Client, cfg config.LLMEditConfig) *Editor {
	return &Editor{client: client, cfg: cfg}
}

// rawResponse is the JSON shape the model is instructed to return.
type rawResponse struct {
	UnifiedDiff      string   `json:"unified_diff"`
	TouchedFiles     []string `json:"touched_files"`
	Confidence       float64  `json:"confidence"`
	Notes            string   `json:"notes"`
	ValidationStatus string   `json:"validation_status"`
	Complete         bool     `json:"complete"`
}

// Execute runs one truncation-safe edit attempt. On truncation it retries
// with progressively narrower file subsets (splitting req.Files), bounded
// by cfg.MaxFilesBeforeSplit/MaxAttemptsPerFile/MaxTotalChunks.
func (e *Editor) Execute(ctx context.Context, req Request) (*Result, error) {
	chunksUsed := 0
	return e.execute(ctx, req, &chunksUsed, 0)
}

func (e *Editor) execute(ctx context.Context, req Request, chunksUsed *int, depth int) (*Result, error) {
	raw, resp, failed, err := e.call(ctx, req)
	if err != nil {
		return &Result{Type: ResultUnknown, Message: err.Error()}, nil
	}
	if failed != nil {
		// JSON parse or schema failure; call already classified it.
		return failed, nil
	}

	truncated := resp.Truncated() || !raw.Complete
	if truncated {
		if len(req.Files) <= 1 || depth >= e.cfg.MaxAttemptsPerFile {
			return &Result{
				Type:    ResultTruncation,
				Message: "model output was truncated and could not be completed within the retry budget",
				Details: map[string]any{"files": fileNames(req.Files)},
			}, nil
		}
		return e.splitAndRetry(ctx, req, chunksUsed, depth)
	}

	patch, err := diffpatch.Parse(raw.UnifiedDiff)
	if err != nil {
		return &Result{Type: ResultParseError, Message: err.Error()}, nil
	}

	if err := diffpatch.Validate(patch, req.Policy); err != nil {
		return &Result{Type: ResultValidationError, Message: err.Error()}, nil
	}

	return &Result{
		Type:           ResultSuccess,
		Patch:          patch,
		TouchedFiles:   raw.TouchedFiles,
		Confidence:     raw.Confidence,
		Notes:          raw.Notes,
		RawUnifiedDiff: raw.UnifiedDiff,
	}, nil
}

// call issues one LLM request and parses its JSON envelope. A nil raw
// with a non-nil *Result means the response itself (not the diff) failed
// to parse as JSON or failed the schema check.
func (e *Editor) call(ctx context.Context, req Request) (*rawResponse, *llmclient.Response, *Result, error) {
	resp, err := e.client.Complete(ctx, llmclient.Request{
		System:   editSystemPrompt,
		Messages: []llmclient.Message{{Role: llmclient.RoleUser, Content: buildPrompt(req)}},
	})
	if err != nil {
		return nil, nil, nil, err
	}

	var raw rawResponse
	if jsonErr := json.Unmarshal([]byte(jsonutil.ExtractJSON(resp.Text)), &raw); jsonErr != nil {
		return nil, resp, &Result{Type: ResultParseError, Message: fmt.Sprintf("failed to parse model output as JSON: %v", jsonErr)}, nil
	}
	if raw.UnifiedDiff == "" && !resp.Truncated() {
		return nil, resp, &Result{Type: ResultSchemaError, Message: "model response is missing unified_diff"}, nil
	}
	return &raw, resp, nil, nil
}

// splitAndRetry partitions req.Files into cfg.MaxFilesBeforeSplit-sized
// subsets, runs each through execute independently, and merges their
// patches. A failure on any subset fails the whole split.
func (e *Editor) splitAndRetry(ctx context.Context, req Request, chunksUsed *int, depth int) (*Result, error) {
	subsets := splitFiles(req.Files, e.cfg.MaxFilesBeforeSplit)

	merged := &diffpatch.Patch{}
	var touched []string
	var rawDiffs []string
	for _, subset := range subsets {
		*chunksUsed = *chunksUsed + 1
		if e.cfg.MaxTotalChunks > 0 && *chunksUsed > e.cfg.MaxTotalChunks {
			return &Result{
				Type:    ResultSplitFailed,
				Message: "split-by-file retry exceeded max_total_chunks",
			}, nil
		}

		subReq := req
		subReq.Files = subset
		subReq.BaseSHA = filterSHA(req.BaseSHA, subset)

		res, err := e.execute(ctx, subReq, chunksUsed, depth+1)
		if err != nil {
			return nil, err
		}
		if res.Type != ResultSuccess {
			return &Result{
				Type:    ResultSplitFailed,
				Message: fmt.Sprintf("split-by-file retry failed for a subset: %s", res.Message),
				Details: map[string]any{"subset": fileNames(subset)},
			}, nil
		}
		merged.Files = append(merged.Files, res.Patch.Files...)
		touched = append(touched, res.TouchedFiles...)
		rawDiffs = append(rawDiffs, res.RawUnifiedDiff)
	}

	return &Result{
		Type:           ResultSuccess,
		Patch:          merged,
		TouchedFiles:   touched,
		RawUnifiedDiff: strings.Join(rawDiffs, "\n"),
	}, nil
}

func splitFiles(files map[string]string, maxPerChunk int) []map[string]string {
	if maxPerChunk <= 0 {
		maxPerChunk = 1
	}
	names := fileNames(files)
	var chunks []map[string]string
	for i := 0; i < len(names); i += maxPerChunk {
		end := i + maxPerChunk
		if end > len(names) {
			end = len(names)
		}
		chunk := make(map[string]string, end-i)
		for _, n := range names[i:end] {
			chunk[n] = files[n]
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func filterSHA(sha map[string]string, files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for path := range files {
		if v, ok := sha[path]; ok {
			out[path] = v
		}
	}
	return out
}

// fileNames returns a deterministically (lexically) ordered list of
// files' paths, so split-by-file retries always chunk and replay in the
// same order regardless of map iteration order.
func fileNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const editSystemPrompt = `You generate minimal, correct unified diffs against the exact file content you are given. Respond only with a single JSON object: {"unified_diff": "...", "touched_files": ["..."], "confidence": 0.0-1.0, "notes": "...", "validation_status": "...", "complete": true}. Set "complete" to false only if your diff was cut off before finishing.`

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(req.Instruction)
	b.WriteString("\n\nFiles:\n")
	for _, path := range fileNames(req.Files) {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", path, req.Files[path])
	}
	return b.String()
}

