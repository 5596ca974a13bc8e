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

package diffpatch

import "fmt"

// Policy bounds what a Patch is allowed to contain.
type Policy struct {
	MaxFiles         int
	MaxChangedLines  int
	AllowFileCreate  bool
	AllowFileDelete  bool
	AllowFileRename  bool
	// BaseSHA, if non-nil, maps touched path -> the sha the caller
	// expects that file to currently have. Every path the patch touches,
	// except a newly created file, must appear here with a matching value,
	// or validation fails.
	BaseSHA map[string]string
	// CurrentSHA is the caller-supplied "what each path's sha actually is
	// right now" map, compared against BaseSHA for the paths the patch
	// touches.
	CurrentSHA map[string]string
}

// ValidationError is a structured validation failure.
type ValidationError struct {
	Reason string
	Path   string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("diffpatch: validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("diffpatch: validation failed for %q: %s", e.Path, e.Reason)
}

// Validate checks patch against policy: no disallowed file
// creation/deletion/rename, file and changed-line counts within bounds,
// and (if policy.BaseSHA is set) every touched path's declared sha
// matches the caller's current-sha map.
func Validate(patch *Patch, policy Policy) error {
	if policy.MaxFiles > 0 && len(patch.Files) > policy.MaxFiles {
		return &ValidationError{Reason: fmt.Sprintf("patch touches %d files, exceeding max_files=%d", len(patch.Files), policy.MaxFiles)}
	}
	if policy.MaxChangedLines > 0 {
		if changed := patch.ChangedLines(); changed > policy.MaxChangedLines {
			return &ValidationError{Reason: fmt.Sprintf("patch changes %d lines, exceeding max_changed_lines=%d", changed, policy.MaxChangedLines)}
		}
	}

	for _, f := range patch.Files {
		path := f.NewPath
		if path == "" {
			path = f.OldPath
		}

		if f.IsNew && !policy.AllowFileCreate {
			return &ValidationError{Reason: "file creation is not permitted by current policy", Path: path}
		}
		if f.IsDelete && !policy.AllowFileDelete {
			return &ValidationError{Reason: "file deletion is not permitted by current policy", Path: path}
		}
		if f.IsRename && !policy.AllowFileRename {
			return &ValidationError{Reason: "file rename is not permitted by current policy", Path: path}
		}

		if policy.BaseSHA != nil && !f.IsNew {
			expected, ok := policy.BaseSHA[path]
			if !ok {
				return &ValidationError{Reason: "no declared base_sha for a touched path", Path: path}
			}
			actual, ok := policy.CurrentSHA[path]
			if !ok {
				return &ValidationError{Reason: "no current sha available to check against base_sha", Path: path}
			}
			if expected != actual {
				return &ValidationError{Reason: fmt.Sprintf("base_sha mismatch: expected %s, current %s", expected, actual), Path: path}
			}
		}
	}
	return nil
}
