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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmad-labs/bmad/pkg/config"
)

// InitCmd writes a starter project config.
type InitCmd struct {
	Name  string `arg:"" optional:"" help:"Project name (default: directory name)."`
	Force bool   `help:"Overwrite an existing config."`
}

const starterConfig = `project:
  name: %s

# Personas running each phase. The key is the persona name under
# bmad/bmm/agents/, the value picks the model behind it.
agent_assignments:
  john:
    provider: anthropic
    model: claude-sonnet-4-20250514
  winston:
    provider: anthropic
    model: claude-sonnet-4-20250514
  bob:
    provider: anthropic
    model: claude-sonnet-4-20250514

decision:
  escalation_threshold: 0.75

cost_management:
  max_monthly_budget: 100.0
  alert_threshold: 0.8

metrics:
  enabled: false
  port: 9464

logging:
  level: info
  format: text
`

func (c *InitCmd) Run(cli *CLI) error {
	name := c.Name
	if name == "" {
		abs, err := filepath.Abs(cli.Root)
		if err != nil {
			return err
		}
		name = filepath.Base(abs)
	}

	path := config.ConfigPath(cli.Root)
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf(starterConfig, name)), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Set provider API keys in the environment (or a .env file), then:  bmad run")
	return nil
}
