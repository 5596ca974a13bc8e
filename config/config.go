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

// Package config provides configuration loading for Ordinex. Ordinex is
// config-first: one YAML document (ordinex.yaml) describes the
// database, every component's budgets, and the LLM provider; the
// runtime wires these into the concrete components that make up a
// mission run.
//
// Loading cascades SetDefaults then Validate per section against a
// root Config struct tagged for yaml.v3, with go-playground/validator/v10
// struct tags layered on top for leaf field constraints instead of
// hand-written per-field checks.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Version string `yaml:"version"`
	Name    string `yaml:"name"`

	Database      DatabaseConfig      `yaml:"database"`
	Logger        LoggerConfig        `yaml:"logger"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Fence         FenceConfig         `yaml:"fence"`
	Excerpt       ExcerptConfig       `yaml:"excerpt"`
	LLMEdit       LLMEditConfig       `yaml:"llm_edit"`
	Autonomy      AutonomyConfig      `yaml:"autonomy"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
	RateLimiting  RateLimitConfig     `yaml:"rate_limiting"`
}

// Load reads and parses a YAML config file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration in %q: %w", path, err)
	}
	return &cfg, nil
}

// SetDefaults fills in every section's zero-value fields, mirroring the
// teacher's cascading per-section SetDefaults calls.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	c.Database.SetDefaults()
	c.Logger.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Fence.SetDefaults()
	c.Excerpt.SetDefaults()
	c.LLMEdit.SetDefaults()
	c.Autonomy.SetDefaults()
	c.LLM.SetDefaults()
	c.Observability.SetDefaults()
	c.RateLimiting.SetDefaults()
}

// Validate runs struct-tag validation via validator/v10 across every
// section, then the handful of cross-field checks struct tags can't
// express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, g := range c.Fence.DenyGlobs {
		if g == "" {
			return fmt.Errorf("config: fence.deny_globs contains an empty pattern")
		}
	}
	for _, g := range c.Fence.AllowGlobs {
		if g == "" {
			return fmt.Errorf("config: fence.allow_globs contains an empty pattern")
		}
	}
	if c.Autonomy.MaxRepairAttempts > c.Autonomy.MaxIterations {
		return fmt.Errorf("config: autonomy.max_repair_attempts (%d) cannot exceed autonomy.max_iterations (%d)",
			c.Autonomy.MaxRepairAttempts, c.Autonomy.MaxIterations)
	}
	return nil
}
