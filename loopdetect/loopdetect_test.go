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

package loopdetect_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/loopdetect"
)

func TestDetectStuckBeatsScopeCreepPriority(t *testing.T) {
	history := []loopdetect.IterationOutcome{
		{Iteration: 1, FailureSignature: "E_A", FilesTouched: []string{"src/a.ts"}},
		{Iteration: 2, FailureSignature: "E_A", FilesTouched: []string{"src/b.ts"}},
		{Iteration: 3, FailureSignature: "E_A", FilesTouched: []string{"src/c.ts"}},
	}
	v := loopdetect.Detect(history, []string{"src/a.ts"})
	require.True(t, v.Detected)
	require.Equal(t, loopdetect.LoopStuck, v.LoopType)
	require.Equal(t, 3, v.Evidence["occurrences"])
}

func TestDetectRegressing(t *testing.T) {
	history := []loopdetect.IterationOutcome{
		{Iteration: 1, Success: true, TestPassCount: 10},
		{Iteration: 2, Success: true, TestPassCount: 7},
		{Iteration: 3, Success: true, TestPassCount: 3},
	}
	v := loopdetect.Detect(history, nil)
	require.True(t, v.Detected)
	require.Equal(t, loopdetect.LoopRegressing, v.LoopType)
}

func TestDetectOscillating(t *testing.T) {
	history := []loopdetect.IterationOutcome{
		{Iteration: 1, FailureSignature: "E_A"},
		{Iteration: 2, Success: true},
		{Iteration: 3, FailureSignature: "E_A"},
		{Iteration: 4, Success: true},
	}
	v := loopdetect.Detect(history, nil)
	require.True(t, v.Detected)
	require.Equal(t, loopdetect.LoopOscillating, v.LoopType)
}

func TestDetectScopeCreepOnlyWhenNoHigherPriorityMatch(t *testing.T) {
	history := []loopdetect.IterationOutcome{
		{Iteration: 1, Success: true, TestPassCount: 1, FilesTouched: []string{"src/a.ts"}},
		{Iteration: 2, Success: true, TestPassCount: 2, FilesTouched: []string{"src/outside.ts"}},
	}
	v := loopdetect.Detect(history, []string{"src/a.ts"})
	require.True(t, v.Detected)
	require.Equal(t, loopdetect.LoopScopeCreep, v.LoopType)
	require.Equal(t, []string{"src/outside.ts"}, v.Evidence["files_outside_scope"])
}

func TestDetectNoLoop(t *testing.T) {
	history := []loopdetect.IterationOutcome{
		{Iteration: 1, Success: true, TestPassCount: 1, FilesTouched: []string{"src/a.ts"}},
	}
	v := loopdetect.Detect(history, []string{"src/a.ts"})
	require.False(t, v.Detected)
}

func TestDetectFewerThanThreeNeverStuckOrRegressing(t *testing.T) {
	history := []loopdetect.IterationOutcome{
		{Iteration: 1, FailureSignature: "E_A"},
		{Iteration: 2, FailureSignature: "E_A"},
	}
	v := loopdetect.Detect(history, nil)
	require.False(t, v.Detected)
}

func TestDetectFewerThanFourNeverOscillating(t *testing.T) {
	history := []loopdetect.IterationOutcome{
		{Iteration: 1, FailureSignature: "E_A"},
		{Iteration: 2, Success: true},
		{Iteration: 3, FailureSignature: "E_B"},
	}
	v := loopdetect.Detect(history, nil)
	require.False(t, v.Detected)
}
