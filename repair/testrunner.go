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
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// DefaultDeniedCommands are base commands a test runner refuses to run
// when TestRunnerConfig.DeniedCommands is nil; a non-nil list replaces
// them.
var DefaultDeniedCommands = []string{
	"rm", "rmdir", "sudo", "su", "chmod", "chown",
	"dd", "mkfs", "fdisk", "mount", "umount",
	"kill", "killall", "pkill", "reboot", "shutdown",
	"passwd", "useradd", "userdel", "groupadd",
}

// DefaultDeniedPatterns are regex patterns a test runner refuses to run
// when TestRunnerConfig.DeniedPatterns is nil; a non-nil list replaces
// them.
var DefaultDeniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-rf|-fr|--recursive)`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),
	regexp.MustCompile(`wget.*\|\s*sh`),
	regexp.MustCompile(`curl.*\|\s*sh`),
	regexp.MustCompile(`eval\s*\$`),
	regexp.MustCompile(`\$\(.*\)\s*>\s*/`),
	regexp.MustCompile(`>\s*/etc/`),
	regexp.MustCompile(`chmod\s+777`),
	regexp.MustCompile(`--no-preserve-root`),
}

// TestRunnerConfig configures a TestRunner. This runner is synchronous,
// with no streaming output, because the re-test step only ever wants
// one pass/fail/output/duration result back, never real-time output for
// a UI.
type TestRunnerConfig struct {
	AllowedCommands []string
	DeniedCommands  []string
	DeniedPatterns  []*regexp.Regexp
	DenyByDefault   bool
	WorkingDir      string
	Timeout         time.Duration
}

// TestRunner executes a single test command synchronously behind a
// denied-command list, a denied-pattern list and, when DenyByDefault is
// set or AllowedCommands is non-empty, an allow list.
type TestRunner struct {
	allowedCommands map[string]bool
	deniedCommands  map[string]bool
	deniedPatterns  []*regexp.Regexp
	denyByDefault   bool
	workingDir      string
	timeout         time.Duration
}

// NewTestRunner constructs a TestRunner.
func NewTestRunner(cfg TestRunnerConfig) *TestRunner {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		allowed[c] = true
	}

	deniedList := cfg.DeniedCommands
	if deniedList == nil {
		deniedList = DefaultDeniedCommands
	}
	denied := make(map[string]bool, len(deniedList))
	for _, c := range deniedList {
		denied[c] = true
	}

	patterns := cfg.DeniedPatterns
	if patterns == nil {
		patterns = DefaultDeniedPatterns
	}

	return &TestRunner{
		allowedCommands: allowed,
		deniedCommands:  denied,
		deniedPatterns:  patterns,
		denyByDefault:   cfg.DenyByDefault,
		workingDir:      cfg.WorkingDir,
		timeout:         timeout,
	}
}

// TestResult is the outcome of one synchronous test command run.
type TestResult struct {
	Command  string
	Passed   bool
	Output   string
	Duration time.Duration
	ExitCode int
}

// Run validates command against policy, then executes it synchronously
// under a timeout, capturing combined stdout+stderr.
func (r *TestRunner) Run(ctx context.Context, command string) (*TestResult, error) {
	if err := r.validateCommand(command); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	if r.workingDir != "" {
		cmd.Dir = r.workingDir
	}

	start := time.Now()
	output, runErr := cmd.CombinedOutput()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("repair: failed to run test command %q: %w", command, runErr)
		}
	}

	return &TestResult{
		Command:  command,
		Passed:   exitCode == 0,
		Output:   string(output),
		Duration: duration,
		ExitCode: exitCode,
	}, nil
}

func (r *TestRunner) validateCommand(command string) error {
	if command == "" {
		return fmt.Errorf("repair: test command is required")
	}
	for _, pattern := range r.deniedPatterns {
		if pattern.MatchString(command) {
			return fmt.Errorf("repair: test command matches denied pattern: %s", pattern.String())
		}
	}
	base := extractBaseCommand(command)
	if base == "" {
		return fmt.Errorf("repair: could not extract base command from %q", command)
	}
	if r.deniedCommands[base] {
		return fmt.Errorf("repair: test command not allowed: %s (in deny list)", base)
	}
	if r.denyByDefault && !r.allowedCommands[base] {
		return fmt.Errorf("repair: test command not allowed: %s (not in allow list)", base)
	}
	if !r.denyByDefault && len(r.allowedCommands) > 0 && !r.allowedCommands[base] {
		return fmt.Errorf("repair: test command not allowed: %s (not in allow list)", base)
	}
	return nil
}

func extractBaseCommand(command string) string {
	parts := strings.FieldsFunc(command, func(c rune) bool {
		return c == '|' || c == '>' || c == '<' || c == ';' || c == '&'
	})
	if len(parts) == 0 {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
