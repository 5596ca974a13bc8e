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

package diffpatch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/diffpatch"
)

const samplePatch = `--- a/src/app.go
+++ b/src/app.go
@@ -1,3 +1,4 @@
 package app

-func Run() {}
+func Run() {}
+func Stop() {}
`

func TestParseSimplePatch(t *testing.T) {
	patch, err := diffpatch.Parse(samplePatch)
	require.NoError(t, err)
	require.Len(t, patch.Files, 1)
	f := patch.Files[0]
	require.Equal(t, "src/app.go", f.OldPath)
	require.Equal(t, "src/app.go", f.NewPath)
	require.False(t, f.IsNew)
	require.Len(t, f.Hunks, 1)
	require.Equal(t, 3, patch.ChangedLines())
}

func TestParseNewFile(t *testing.T) {
	text := `--- /dev/null
+++ b/src/new.go
@@ -0,0 +1,2 @@
+package app
+
`
	patch, err := diffpatch.Parse(text)
	require.NoError(t, err)
	require.True(t, patch.Files[0].IsNew)
}

func TestApplySucceeds(t *testing.T) {
	patch, err := diffpatch.Parse(samplePatch)
	require.NoError(t, err)

	original := "package app\n\nfunc Run() {}\n"
	out, err := diffpatch.Apply([]byte(original), patch.Files[0])
	require.NoError(t, err)
	require.Equal(t, "package app\n\nfunc Run() {}\nfunc Stop() {}\n", string(out))
}

func TestApplyMismatchReturnsStructuredError(t *testing.T) {
	patch, err := diffpatch.Parse(samplePatch)
	require.NoError(t, err)

	original := "package app\n\nfunc Run() { /* already changed */ }\n"
	_, err = diffpatch.Apply([]byte(original), patch.Files[0])
	require.Error(t, err)
	var mismatch *diffpatch.MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "src/app.go", mismatch.Path)
}

func TestValidateRejectsDisallowedCreate(t *testing.T) {
	text := `--- /dev/null
+++ b/src/new.go
@@ -0,0 +1,1 @@
+package app
`
	patch, err := diffpatch.Parse(text)
	require.NoError(t, err)

	err = diffpatch.Validate(patch, diffpatch.Policy{AllowFileCreate: false})
	require.Error(t, err)
	var verr *diffpatch.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateMaxChangedLines(t *testing.T) {
	patch, err := diffpatch.Parse(samplePatch)
	require.NoError(t, err)

	err = diffpatch.Validate(patch, diffpatch.Policy{MaxFiles: 0, AllowFileCreate: true, AllowFileDelete: true, AllowFileRename: true})
	require.NoError(t, err)

	err = diffpatch.Validate(patch, diffpatch.Policy{MaxFiles: 0, MaxChangedLines: 1, AllowFileCreate: true, AllowFileDelete: true, AllowFileRename: true})
	require.Error(t, err)
}

func TestValidateBaseSHAMismatch(t *testing.T) {
	patch, err := diffpatch.Parse(samplePatch)
	require.NoError(t, err)

	err = diffpatch.Validate(patch, diffpatch.Policy{
		AllowFileCreate: true, AllowFileDelete: true, AllowFileRename: true,
		BaseSHA:    map[string]string{"src/app.go": "abc123"},
		CurrentSHA: map[string]string{"src/app.go": "def456"},
	})
	require.Error(t, err)
}
