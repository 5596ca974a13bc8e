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

package step_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/step"
)

func TestClassifyEditKeywordsFirst(t *testing.T) {
	require.Equal(t, step.StageEdit, step.Classify("Implement the session verification helper"))
}

func TestClassifyEditBeatsTestKeywordVerification(t *testing.T) {
	// "verification" must not route to the test stage even though it
	// shares a root with "verify"/"test suite" phrasing.
	require.Equal(t, step.StageEdit, step.Classify("Add input verification to the login form"))
}

func TestClassifyNarrowTestPhrasing(t *testing.T) {
	require.Equal(t, step.StageTest, step.Classify("Run test suite for the auth package"))
}

func TestClassifyBareTestWordIsNotTestStage(t *testing.T) {
	require.NotEqual(t, step.StageTest, step.Classify("Check the test coverage numbers"))
}

func TestClassifyRetrieve(t *testing.T) {
	require.Equal(t, step.StageRetrieve, step.Classify("Analyze the existing billing module"))
}

func TestClassifyRepair(t *testing.T) {
	require.Equal(t, step.StageRepair, step.Classify("Fix the failing invoice calculation"))
}

func TestClassifyPlan(t *testing.T) {
	require.Equal(t, step.StagePlan, step.Classify("Design the new retry strategy"))
}

func TestClassifyDefaultToEditWhenFilePathReferenced(t *testing.T) {
	require.Equal(t, step.StageEdit, step.Classify("src/app/session.go needs the new field"))
}

func TestClassifyDefaultToRetrieveOtherwise(t *testing.T) {
	require.Equal(t, step.StageRetrieve, step.Classify("Something about the overall approach"))
}
