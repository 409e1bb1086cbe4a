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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/config/provider"
	"github.com/bmad-labs/bmad/pkg/orchestrator"
	"github.com/bmad-labs/bmad/pkg/validator"
)

// ValidateCmd validates the project config, and with --docs the
// generated artifacts as well.
type ValidateCmd struct {
	Docs bool `help:"Also validate docs/PRD.md and docs/architecture.md against their gates."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	fp, err := provider.NewFileProvider(cli.configPath())
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	cfg, err := config.NewLoader(fp).Load(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Config OK: project %q, %d agent assignment(s)\n",
		cfg.Project.Name, len(cfg.AgentAssignments))

	if !c.Docs {
		return nil
	}

	prd, err := os.ReadFile(filepath.Join(cli.Root, filepath.FromSlash(orchestrator.PRDArtifact)))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No PRD yet, skipping artifact validation.")
			return nil
		}
		return err
	}

	printReport("PRD", validator.NewPRDValidator().Validate(string(prd)))

	arch, err := os.ReadFile(filepath.Join(cli.Root, filepath.FromSlash(orchestrator.ArchitectureArtifact)))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No architecture document yet.")
			return nil
		}
		return err
	}

	printReport("Architecture", validator.NewArchitectureValidator().Validate(string(arch), string(prd)))

	sec := validator.NewSecurityGateValidator().Validate(string(arch))
	fmt.Println(sec.Summary())
	for category, gaps := range sec.GapsByCategory {
		for _, gap := range gaps {
			fmt.Printf("  [%s] %s\n", category, gap.Check)
		}
	}
	return nil
}

func printReport(name string, r *validator.Report) {
	status := "FAILED"
	if r.Passed {
		status = "PASSED"
	}
	fmt.Printf("%s %s: %.0f (gate %.0f)\n", name, status, r.OverallScore, r.Gate)
	for _, f := range r.Findings {
		fmt.Printf("  %-16s %.0f\n", f.Dimension, f.Score)
		for _, issue := range f.Issues {
			fmt.Printf("    - %s\n", issue)
		}
	}
}
