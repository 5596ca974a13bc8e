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

// Package step implements the step executor's stage classifier: mapping
// a plan step's free-text description to one of the mission runner's
// stages via priority-ordered regex classification. Dispatch itself
// (edit -> excerpt selection -> llmedit -> evidence -> approval ->
// staleness-check -> checkpoint -> apply; test/repair -> repair
// orchestrator) lives in the mission package, which owns the
// collaborators being dispatched to.
package step

import "regexp"

// Stage is the classifier's output: which kind of work a plan step is.
type Stage string

const (
	StageEdit     Stage = "edit"
	StageRetrieve Stage = "retrieve"
	StageTest     Stage = "test"
	StageRepair   Stage = "repair"
	StagePlan     Stage = "plan"
)

// classifiers is checked in order; the first match wins. This ordering
// is itself load-bearing: it is what keeps a word like "verification" in
// an edit step's description from routing the step to tests, and what
// prefers "repair" over "plan" when a description says both "fix" and
// "design".
var classifiers = []struct {
	stage Stage
	re    *regexp.Regexp
}{
	{StageEdit, regexp.MustCompile(`(?i)\b(implement|create|write|update|modify|add|delete|complete|enhance|connect|build)\b`)},
	{StageRetrieve, regexp.MustCompile(`(?i)\b(analyze|gather|research|review|read|examine)\b`)},
	{StageTest, regexp.MustCompile(`(?i)\b(run test|test suite|execute test)\b`)},
	{StageRepair, regexp.MustCompile(`(?i)\b(fix|debug|resolve)\b`)},
	{StagePlan, regexp.MustCompile(`(?i)\b(design|plan|clarify)\b`)},
}

var filePathHintRe = regexp.MustCompile(`(?i)(\.[a-z]{1,5}\b|/(src|app|lib|components|tests|pkg|internal|cmd)/)`)

// Classify maps a plan step's description to a Stage. Edit keywords are
// checked first, then retrieve, then the narrow test phrasing, then
// repair, then plan. If nothing matches, the description is assumed to
// be an edit when it references file paths or code-tree roots, else a
// retrieve.
func Classify(description string) Stage {
	for _, c := range classifiers {
		if c.re.MatchString(description) {
			return c.stage
		}
	}
	if filePathHintRe.MatchString(description) {
		return StageEdit
	}
	return StageRetrieve
}
