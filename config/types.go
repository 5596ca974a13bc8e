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

package config

import "time"

// DatabaseConfig configures the SQL backing store shared by eventbus and
// evidence: the event log and evidence store are one logical database,
// narrowed to the three dialects this engine's stores implement dialect
// switches for.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"required,oneof=sqlite postgres mysql"`
	DSN    string `yaml:"dsn" validate:"required"`
}

func (d *DatabaseConfig) SetDefaults() {
	if d.Driver == "" {
		d.Driver = "sqlite"
	}
}

// LoggerConfig configures the process-wide slog logger.
type LoggerConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File   string `yaml:"file"`
	Format string `yaml:"format" validate:"omitempty,oneof=simple verbose"`
}

func (l *LoggerConfig) SetDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "simple"
	}
}

// CheckpointConfig configures the checkpoint manager.
type CheckpointConfig struct {
	BaseDir           string        `yaml:"base_dir" validate:"required"`
	MaxIndexEntries   int           `yaml:"max_index_entries" validate:"gte=0"`
	EditTTL           time.Duration `yaml:"edit_ttl"`
	MissionTTL        time.Duration `yaml:"mission_ttl"`
	PruneInterval     time.Duration `yaml:"prune_interval"`
}

func (c *CheckpointConfig) SetDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = ".ordinex/checkpoints"
	}
	if c.MaxIndexEntries == 0 {
		c.MaxIndexEntries = 50
	}
	if c.EditTTL == 0 {
		c.EditTTL = 24 * time.Hour
	}
	if c.MissionTTL == 0 {
		c.MissionTTL = 48 * time.Hour
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = time.Hour
	}
}

// FenceConfig configures the create-path fence.
type FenceConfig struct {
	DenyGlobs            []string `yaml:"deny_globs"`
	AllowGlobs           []string `yaml:"allow_globs"`
	MaxNewFileSizeLines  int      `yaml:"max_new_file_size_lines" validate:"gte=0"`
}

func (f *FenceConfig) SetDefaults() {
	if f.MaxNewFileSizeLines == 0 {
		f.MaxNewFileSizeLines = 500
	}
}

// ExcerptConfig configures the excerpt selector.
type ExcerptConfig struct {
	MaxFiles            int `yaml:"max_files" validate:"gte=0"`
	FullFileThreshold    int `yaml:"full_file_threshold" validate:"gte=0"`
	ImportCapLines       int `yaml:"import_cap_lines" validate:"gte=0"`
	ExportContextLines   int `yaml:"export_context_lines" validate:"gte=0"`
	KeywordContextLines  int `yaml:"keyword_context_lines" validate:"gte=0"`
	MaxTotalLines        int `yaml:"max_total_lines" validate:"gte=0"`
}

func (e *ExcerptConfig) SetDefaults() {
	if e.MaxFiles == 0 {
		e.MaxFiles = 20
	}
	if e.FullFileThreshold == 0 {
		e.FullFileThreshold = 150
	}
	if e.ImportCapLines == 0 {
		e.ImportCapLines = 30
	}
	if e.ExportContextLines == 0 {
		e.ExportContextLines = 5
	}
	if e.KeywordContextLines == 0 {
		e.KeywordContextLines = 3
	}
	if e.MaxTotalLines == 0 {
		e.MaxTotalLines = 2000
	}
}

// LLMEditConfig configures the truncation-safe LLM edit tool.
type LLMEditConfig struct {
	MaxFilesBeforeSplit int `yaml:"max_files_before_split" validate:"gte=0"`
	MaxAttemptsPerFile  int `yaml:"max_attempts_per_file" validate:"gte=0"`
	MaxTotalChunks      int `yaml:"max_total_chunks" validate:"gte=0"`
}

func (l *LLMEditConfig) SetDefaults() {
	if l.MaxFilesBeforeSplit == 0 {
		l.MaxFilesBeforeSplit = 5
	}
	if l.MaxAttemptsPerFile == 0 {
		l.MaxAttemptsPerFile = 2
	}
	if l.MaxTotalChunks == 0 {
		l.MaxTotalChunks = 20
	}
}

// AutonomyConfig configures per-task budgets for the mission runner and
// repair orchestrator.
type AutonomyConfig struct {
	MaxIterations         int           `yaml:"max_iterations" validate:"gte=0"`
	MaxRepairAttempts     int           `yaml:"max_repair_attempts" validate:"gte=0"`
	MaxToolCalls          int           `yaml:"max_tool_calls" validate:"gte=0"`
	// StageTimeout is the fallback ceiling for any stage not named below.
	StageTimeout          time.Duration `yaml:"stage_timeout"`
	// RetrievalTimeout, DiffGenerationTimeout and TestExecutionTimeout are
	// per-stage ceilings: the mission runner runs each of those stages
	// under a context with that deadline, so work still running when it
	// passes is cancelled. The await_* stages have no stage ceiling;
	// ApprovalTimeout, when non-zero, bounds a single approval wait, and
	// zero (the default) waits until the context ends.
	RetrievalTimeout      time.Duration `yaml:"retrieval_timeout"`
	DiffGenerationTimeout time.Duration `yaml:"diff_generation_timeout"`
	TestExecutionTimeout  time.Duration `yaml:"test_execution_timeout"`
	ApprovalTimeout       time.Duration `yaml:"approval_timeout"`
}

func (a *AutonomyConfig) SetDefaults() {
	if a.MaxIterations == 0 {
		a.MaxIterations = 25
	}
	if a.MaxRepairAttempts == 0 {
		a.MaxRepairAttempts = 3
	}
	if a.MaxToolCalls == 0 {
		a.MaxToolCalls = 100
	}
	if a.StageTimeout == 0 {
		a.StageTimeout = 10 * time.Minute
	}
	if a.RetrievalTimeout == 0 {
		a.RetrievalTimeout = 60 * time.Second
	}
	if a.DiffGenerationTimeout == 0 {
		a.DiffGenerationTimeout = 120 * time.Second
	}
	if a.TestExecutionTimeout == 0 {
		a.TestExecutionTimeout = 10 * time.Minute
	}
}

// LLMConfig configures a named LLM provider, narrowed to this engine's
// single collaborator interface (llmclient).
type LLMConfig struct {
	Provider string `yaml:"provider" validate:"required,oneof=anthropic"`
	Model    string `yaml:"model" validate:"required"`
	APIKey   string `yaml:"api_key"`
}

func (l *LLMConfig) SetDefaults() {
	if l.Provider == "" {
		l.Provider = "anthropic"
	}
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled"`
	Exporter       string `yaml:"exporter" validate:"omitempty,oneof=stdout otlp"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

func (o *ObservabilityConfig) SetDefaults() {
	if o.Exporter == "" {
		o.Exporter = "stdout"
	}
	if o.MetricsAddr == "" {
		o.MetricsAddr = ":9090"
	}
}

// RateLimitConfig throttles the process's outbound request/token rate to
// the LLM provider (ratelimit.ScopeProvider), independent of any one
// task's autonomy budgets (which live in TaskState.Budgets instead).
type RateLimitConfig struct {
	Enabled bool             `yaml:"enabled"`
	Limits  []RateLimitRule  `yaml:"limits"`
}

// RateLimitRule mirrors ratelimit.LimitRule in a YAML-friendly shape.
type RateLimitRule struct {
	Type   string `yaml:"type" validate:"required,oneof=requests tokens"`
	Window string `yaml:"window" validate:"required,oneof=minute hour day"`
	Limit  int64  `yaml:"limit" validate:"required,gt=0"`
}

func (r *RateLimitConfig) SetDefaults() {}
