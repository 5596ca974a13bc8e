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

// Package loopdetect implements the loop detector: a pure
// pattern-matcher over recent autonomy iteration outcomes. It has no I/O
// and never mutates anything; the mission runner decides what to do with
// its verdict.
package loopdetect

// IterationOutcome is one iteration's result, as folded by the mission
// runner from its event log.
type IterationOutcome struct {
	Iteration        int
	Success          bool
	FailureSignature string // normalized error string, empty when Success
	TestPassCount    int
	TestFailCount    int
	FilesTouched     []string
}

// LoopType is the closed set of patterns the detector recognizes.
type LoopType string

const (
	LoopStuck      LoopType = "stuck"
	LoopRegressing LoopType = "regressing"
	LoopOscillating LoopType = "oscillating"
	LoopScopeCreep LoopType = "scope_creep"
)

// Verdict is the outcome of Detect.
type Verdict struct {
	Detected       bool
	LoopType       LoopType
	Evidence       map[string]any
	Recommendation string
}

// Detect runs the four priority-ordered detectors against history (most
// recent last) and the mission's declared scope. Priority: stuck >
// regressing > oscillating > scope_creep — a history that matches more
// than one pattern reports only the highest-priority one.
func Detect(history []IterationOutcome, declaredScope []string) Verdict {
	if v, ok := detectStuck(history); ok {
		return v
	}
	if v, ok := detectRegressing(history); ok {
		return v
	}
	if v, ok := detectOscillating(history); ok {
		return v
	}
	if v, ok := detectScopeCreep(history, declaredScope); ok {
		return v
	}
	return Verdict{Detected: false}
}

// detectStuck: the most recent failure signature appears in at least two
// of the last three iterations, or three consecutive iterations share the
// same non-null signature.
func detectStuck(history []IterationOutcome) (Verdict, bool) {
	if len(history) < 3 {
		return Verdict{}, false
	}
	last3 := history[len(history)-3:]
	latest := last3[len(last3)-1].FailureSignature
	if latest == "" {
		return Verdict{}, false
	}

	occurrences := 0
	for _, o := range last3 {
		if o.FailureSignature == latest {
			occurrences++
		}
	}
	if occurrences >= 2 {
		return Verdict{
			Detected: true,
			LoopType: LoopStuck,
			Evidence: map[string]any{
				"failure_signature": latest,
				"occurrences":       occurrences,
			},
			Recommendation: "the same failure keeps recurring; consider a different repair strategy or pausing for human input",
		}, true
	}
	return Verdict{}, false
}

// detectRegressing: three most recent test_pass_count values strictly
// decreasing and all non-negative.
func detectRegressing(history []IterationOutcome) (Verdict, bool) {
	if len(history) < 3 {
		return Verdict{}, false
	}
	last3 := history[len(history)-3:]
	a, b, c := last3[0].TestPassCount, last3[1].TestPassCount, last3[2].TestPassCount
	if a < 0 || b < 0 || c < 0 {
		return Verdict{}, false
	}
	if a > b && b > c {
		return Verdict{
			Detected: true,
			LoopType: LoopRegressing,
			Evidence: map[string]any{
				"test_pass_counts": []int{a, b, c},
			},
			Recommendation: "passing tests are declining across iterations; consider restoring the last good checkpoint",
		}, true
	}
	return Verdict{}, false
}

// detectOscillating: the last four outcomes form an A-B-A-B pattern (by
// failure signature, with empty meaning "success") and are not all equal.
func detectOscillating(history []IterationOutcome) (Verdict, bool) {
	if len(history) < 4 {
		return Verdict{}, false
	}
	last4 := history[len(history)-4:]
	sig := func(o IterationOutcome) string {
		if o.Success {
			return ""
		}
		return o.FailureSignature
	}
	a, b, c, d := sig(last4[0]), sig(last4[1]), sig(last4[2]), sig(last4[3])
	if a == b && b == c && c == d {
		return Verdict{}, false
	}
	if a == c && b == d && a != b {
		return Verdict{
			Detected: true,
			LoopType: LoopOscillating,
			Evidence: map[string]any{
				"sequence": []string{a, b, c, d},
			},
			Recommendation: "the last four iterations alternate between two outcomes; the current approach is not converging",
		}, true
	}
	return Verdict{}, false
}

// detectScopeCreep: the union of files_touched across history contains a
// path outside the declared scope set.
func detectScopeCreep(history []IterationOutcome, declaredScope []string) (Verdict, bool) {
	if len(declaredScope) == 0 {
		return Verdict{}, false
	}
	allowed := make(map[string]struct{}, len(declaredScope))
	for _, p := range declaredScope {
		allowed[p] = struct{}{}
	}

	var outside []string
	seen := make(map[string]struct{})
	for _, o := range history {
		for _, f := range o.FilesTouched {
			if _, ok := allowed[f]; !ok {
				if _, dup := seen[f]; !dup {
					seen[f] = struct{}{}
					outside = append(outside, f)
				}
			}
		}
	}
	if len(outside) == 0 {
		return Verdict{}, false
	}
	return Verdict{
		Detected: true,
		LoopType: LoopScopeCreep,
		Evidence: map[string]any{
			"files_outside_scope": outside,
		},
		Recommendation: "edits have touched files outside the declared scope; request a scope expansion or narrow the fix",
	}, true
}
