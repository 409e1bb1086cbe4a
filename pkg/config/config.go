// Copyright 2025 BMAD Labs
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

// Package config loads and validates the per-project configuration
// stored at .bmad/project-config.yaml.
package config

import (
	"fmt"
	"path/filepath"
)

// DefaultConfigPath is the project config location relative to the
// project root.
const DefaultConfigPath = ".bmad/project-config.yaml"

// EscalationsDir is the escalation queue directory relative to the
// project root.
const EscalationsDir = ".bmad/escalations"

// Config is the root project configuration.
type Config struct {
	Project          ProjectConfig              `yaml:"project" mapstructure:"project"`
	Onboarding       OnboardingConfig           `yaml:"onboarding,omitempty" mapstructure:"onboarding"`
	AgentAssignments map[string]AgentAssignment `yaml:"agent_assignments,omitempty" mapstructure:"agent_assignments"`
	CostManagement   CostManagement             `yaml:"cost_management,omitempty" mapstructure:"cost_management"`
	Logging          LoggingConfig              `yaml:"logging,omitempty" mapstructure:"logging"`
	Decision         DecisionConfig             `yaml:"decision,omitempty" mapstructure:"decision"`
	Metrics          MetricsConfig              `yaml:"metrics,omitempty" mapstructure:"metrics"`
}

// ProjectConfig identifies the project.
type ProjectConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Description string `yaml:"description,omitempty" mapstructure:"description"`
	Repository  string `yaml:"repository,omitempty" mapstructure:"repository"`
}

// OnboardingConfig points the decision engine at project-local docs.
type OnboardingConfig struct {
	TechStack            string `yaml:"tech_stack,omitempty" mapstructure:"tech_stack"`
	CodingStandards      string `yaml:"coding_standards,omitempty" mapstructure:"coding_standards"`
	ArchitecturePatterns string `yaml:"architecture_patterns,omitempty" mapstructure:"architecture_patterns"`

	// DocsDir is the directory scanned for onboarding markdown.
	DocsDir string `yaml:"docs_dir,omitempty" mapstructure:"docs_dir"`
}

// AgentAssignment binds a persona to an LLM model. APIKey supports
// ${VAR} expansion; when empty, the provider falls back to its
// conventional environment variable (ANTHROPIC_API_KEY and friends).
type AgentAssignment struct {
	Model     string `yaml:"model" mapstructure:"model"`
	Provider  string `yaml:"provider" mapstructure:"provider"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Reasoning string `yaml:"reasoning,omitempty" mapstructure:"reasoning"`
}

// CostManagement caps and tracks LLM spend.
type CostManagement struct {
	MaxMonthlyBudget float64      `yaml:"max_monthly_budget,omitempty" mapstructure:"max_monthly_budget"`
	AlertThreshold   float64      `yaml:"alert_threshold,omitempty" mapstructure:"alert_threshold"`
	FallbackModel    string       `yaml:"fallback_model,omitempty" mapstructure:"fallback_model"`
	Budget           BudgetConfig `yaml:"budget,omitempty" mapstructure:"budget"`
}

// BudgetConfig holds per-window spend limits.
type BudgetConfig struct {
	Daily   float64  `yaml:"daily,omitempty" mapstructure:"daily"`
	Weekly  float64  `yaml:"weekly,omitempty" mapstructure:"weekly"`
	Monthly float64  `yaml:"monthly,omitempty" mapstructure:"monthly"`
	Alerts  []string `yaml:"alerts,omitempty" mapstructure:"alerts"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" mapstructure:"level"`
	Format string `yaml:"format,omitempty" mapstructure:"format"`
}

// DecisionConfig tunes the decision engine.
type DecisionConfig struct {
	// EscalationThreshold is the confidence below which decisions are
	// flagged for human escalation.
	EscalationThreshold float64 `yaml:"escalation_threshold,omitempty" mapstructure:"escalation_threshold"`

	// RegenerateThreshold gates orchestrator pass/regenerate checks.
	RegenerateThreshold float64 `yaml:"regenerate_threshold,omitempty" mapstructure:"regenerate_threshold"`
}

// MetricsConfig enables the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Port    int  `yaml:"port,omitempty" mapstructure:"port"`
}

// SetDefaults applies defaults to unset fields.
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Decision.EscalationThreshold == 0 {
		c.Decision.EscalationThreshold = 0.75
	}
	if c.Decision.RegenerateThreshold == 0 {
		c.Decision.RegenerateThreshold = 0.85
	}
	if c.CostManagement.AlertThreshold == 0 {
		c.CostManagement.AlertThreshold = 0.8
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9464
	}
	if c.Onboarding.DocsDir == "" {
		c.Onboarding.DocsDir = "docs/onboarding"
	}
}

// Validate checks invariants that SetDefaults cannot repair.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("project.name is required")
	}
	if c.Decision.EscalationThreshold < 0 || c.Decision.EscalationThreshold > 1 {
		return fmt.Errorf("decision.escalation_threshold must be in [0,1], got %v", c.Decision.EscalationThreshold)
	}
	if c.Decision.RegenerateThreshold < 0 || c.Decision.RegenerateThreshold > 1 {
		return fmt.Errorf("decision.regenerate_threshold must be in [0,1], got %v", c.Decision.RegenerateThreshold)
	}
	for name, a := range c.AgentAssignments {
		if a.Model == "" {
			return fmt.Errorf("agent_assignments.%s.model is required", name)
		}
		if a.Provider == "" {
			return fmt.Errorf("agent_assignments.%s.provider is required", name)
		}
	}
	if c.CostManagement.MaxMonthlyBudget < 0 {
		return fmt.Errorf("cost_management.max_monthly_budget cannot be negative")
	}
	return nil
}

// ConfigPath returns the config file path for a project root.
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, filepath.FromSlash(DefaultConfigPath))
}

// EscalationsPath returns the escalation queue directory for a project root.
func EscalationsPath(projectRoot string) string {
	return filepath.Join(projectRoot, filepath.FromSlash(EscalationsDir))
}
