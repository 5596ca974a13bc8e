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

// Package fence implements the create-path fence: a two-layer
// deny-then-allow glob policy gating where new files may be created, plus
// a max-new-file-size check. Missions can expand the allowlist at
// runtime via an approved scope_expansion.
//
// The include/exclude cache-building approach generalizes a single
// include-or-exclude retrieval filter into a denylist-first-then-
// allowlist create-path policy, using bmatcuk/doublestar/v4 instead of
// filepath.Match so "**" patterns can match recursively.
package fence

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultDenyGlobs are security-sensitive roots and artifact patterns
// that are never creatable, regardless of allowlist.
var DefaultDenyGlobs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.bundle.js",
	"**/vendor/**",
	"**/*.pem",
	"**/*.key",
	"**/*secret*",
	"**/*.env",
}

// DefaultAllowGlobs are the source roots new files may normally land in.
var DefaultAllowGlobs = []string{
	"src/**",
	"app/**",
	"components/**",
	"lib/**",
	"tests/**",
	"__tests__/**",
}

// DefaultMaxNewFileSizeLines is the default cap on a newly created
// file's line count.
const DefaultMaxNewFileSizeLines = 500

// Rule identifies which policy layer rejected a path.
type Rule string

const (
	RuleDenylist         Rule = "denylist"
	RuleNotAllowlisted   Rule = "not_allowlisted"
	RuleMaxSize          Rule = "max_new_file_size_lines"
)

// Result is the outcome of validating one candidate create-path.
type Result struct {
	Path                 string
	Allowed              bool
	RejectedBy           Rule
	RequiresScopeExpansion bool
}

// Fence holds a task's current deny/allow glob sets. The allowlist can
// grow at runtime (scope expansion); the denylist is fixed for the life
// of the fence.
type Fence struct {
	mu                  sync.RWMutex
	denyGlobs           []string
	allowGlobs          []string
	maxNewFileSizeLines int
}

// New constructs a Fence. Empty deny/allow slices fall back to the
// package defaults.
func New(denyGlobs, allowGlobs []string, maxNewFileSizeLines int) *Fence {
	if len(denyGlobs) == 0 {
		denyGlobs = DefaultDenyGlobs
	}
	if len(allowGlobs) == 0 {
		allowGlobs = DefaultAllowGlobs
	}
	if maxNewFileSizeLines <= 0 {
		maxNewFileSizeLines = DefaultMaxNewFileSizeLines
	}
	return &Fence{
		denyGlobs:           append([]string(nil), denyGlobs...),
		allowGlobs:          append([]string(nil), allowGlobs...),
		maxNewFileSizeLines: maxNewFileSizeLines,
	}
}

// ExpandAllowlist adds globs to the allowlist, used after an approved
// scope_expansion resolution.
func (f *Fence) ExpandAllowlist(globs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowGlobs = append(f.allowGlobs, globs...)
}

// Validate checks whether path may be created with the given line count.
func (f *Fence) Validate(path string, lineCount int) Result {
	normalized := filepath.ToSlash(path)

	f.mu.RLock()
	denyGlobs := f.denyGlobs
	allowGlobs := f.allowGlobs
	maxLines := f.maxNewFileSizeLines
	f.mu.RUnlock()

	if matchesAny(denyGlobs, normalized) {
		return Result{Path: path, Allowed: false, RejectedBy: RuleDenylist}
	}
	if !matchesAny(allowGlobs, normalized) {
		return Result{Path: path, Allowed: false, RejectedBy: RuleNotAllowlisted, RequiresScopeExpansion: true}
	}
	if lineCount > maxLines {
		return Result{Path: path, Allowed: false, RejectedBy: RuleMaxSize}
	}
	return Result{Path: path, Allowed: true}
}

func matchesAny(globs []string, path string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, path); err == nil && ok {
			return true
		}
		// A glob with no "/" is treated as a bare filename/extension
		// pattern tested against the final path segment, matching the
		// teacher's fast-path dir/ext checks.
		if !strings.Contains(g, "/") {
			if ok, err := doublestar.Match(g, filepath.Base(path)); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// ValidatePattern reports whether pattern is syntactically valid,
// surfaced so configuration loading can reject a malformed glob at
// startup rather than at first use.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("fence: empty glob pattern")
	}
	if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
		return fmt.Errorf("fence: invalid glob pattern %q", pattern)
	}
	return nil
}
