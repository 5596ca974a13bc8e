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

package llmedit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/config"
	"github.com/kalyank1144/ordinex/diffpatch"
	"github.com/kalyank1144/ordinex/internal/ordinexerr"
	"github.com/kalyank1144/ordinex/llmclient"
	"github.com/kalyank1144/ordinex/llmedit"
)

func cfg() config.LLMEditConfig {
	c := config.LLMEditConfig{}
	c.SetDefaults()
	return c
}

const diffText = `{"unified_diff": "--- a/app.go\n+++ b/app.go\n@@ -1,2 +1,3 @@\n package app\n \n+func Stop() {}\n", "touched_files": ["app.go"], "confidence": 0.9, "notes": "adds Stop", "complete": true}`

func TestExecuteSuccess(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.Response{{Text: diffText, StopReason: llmclient.StopEndTurn}}}
	ed := llmedit.New(fake, cfg())

	res, err := ed.Execute(context.Background(), llmedit.Request{
		Instruction: "add a Stop function",
		Files:       map[string]string{"app.go": "package app\n\n"},
	})
	require.NoError(t, err)
	require.Equal(t, llmedit.ResultSuccess, res.Type)
	require.Equal(t, []string{"app.go"}, res.TouchedFiles)
	require.Len(t, res.Patch.Files, 1)
}

func TestExecuteParseErrorOnInvalidJSON(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.Response{{Text: "not json at all", StopReason: llmclient.StopEndTurn}}}
	ed := llmedit.New(fake, cfg())

	res, err := ed.Execute(context.Background(), llmedit.Request{Files: map[string]string{"app.go": ""}})
	require.NoError(t, err)
	require.Equal(t, llmedit.ResultParseError, res.Type)
}

func TestExecuteValidationErrorOnStaleBaseSHA(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.Response{{Text: diffText, StopReason: llmclient.StopEndTurn}}}
	ed := llmedit.New(fake, cfg())

	res, err := ed.Execute(context.Background(), llmedit.Request{
		Files: map[string]string{"app.go": "package app\n\n"},
		Policy: diffpatch.Policy{
			BaseSHA:    map[string]string{"app.go": "expected-sha"},
			CurrentSHA: map[string]string{"app.go": "different-sha"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, llmedit.ResultValidationError, res.Type)
}

func TestExecuteTruncationWithSingleFileFailsImmediately(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.Response{
		{Text: `{"unified_diff": "partial...", "complete": false}`, StopReason: llmclient.StopMaxTokens},
	}}
	ed := llmedit.New(fake, cfg())

	res, err := ed.Execute(context.Background(), llmedit.Request{
		Files: map[string]string{"app.go": "package app\n\n"},
	})
	require.NoError(t, err)
	require.Equal(t, llmedit.ResultTruncation, res.Type)
}

func TestExecuteTruncationSplitsMultiFileRequest(t *testing.T) {
	c := cfg()
	c.MaxFilesBeforeSplit = 1
	c.MaxAttemptsPerFile = 3
	c.MaxTotalChunks = 10

	fake := &llmclient.FakeClient{Responses: []llmclient.Response{
		{Text: `{"unified_diff": "partial...", "complete": false}`, StopReason: llmclient.StopMaxTokens},
		{Text: `{"unified_diff": "--- a/a.go\n+++ b/a.go\n@@ -1,1 +1,2 @@\n package a\n+func A() {}\n", "touched_files": ["a.go"], "complete": true}`, StopReason: llmclient.StopEndTurn},
		{Text: `{"unified_diff": "--- a/b.go\n+++ b/b.go\n@@ -1,1 +1,2 @@\n package b\n+func B() {}\n", "touched_files": ["b.go"], "complete": true}`, StopReason: llmclient.StopEndTurn},
	}}
	ed := llmedit.New(fake, c)

	res, err := ed.Execute(context.Background(), llmedit.Request{
		Files: map[string]string{"a.go": "package a\n", "b.go": "package b\n"},
	})
	require.NoError(t, err)
	require.Equal(t, llmedit.ResultSuccess, res.Type)
	require.Len(t, res.Patch.Files, 2)
}

func TestResultErrWrapsSentinels(t *testing.T) {
	res := &llmedit.Result{Type: llmedit.ResultTruncation, Message: "cut off"}
	require.ErrorContains(t, res.Err(), "cut off")
	require.ErrorIs(t, res.Err(), ordinexerr.ErrTruncation)
}
