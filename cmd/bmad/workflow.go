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

	"golang.org/x/term"

	"github.com/bmad-labs/bmad/pkg/state"
	"github.com/bmad-labs/bmad/pkg/workflow"
)

// WorkflowCmd runs a declarative workflow definition step by step.
type WorkflowCmd struct {
	Path    string `arg:"" help:"Path to workflow.yaml, or a directory containing one." type:"path"`
	Project string `help:"Project id for state tracking (default: workflow name)."`
	YOLO    bool   `help:"Non-interactive mode: skip prompts, auto-approve writes."`
	Resume  bool   `help:"Resume a paused or failed run instead of starting over."`
	Output  string `help:"Output directory for template-output files (default: <root>/docs)."`
}

func (c *WorkflowCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	path := c.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "workflow.yaml")
	}
	def, err := workflow.LoadDefinition(path)
	if err != nil {
		return err
	}

	store, err := state.NewStore(filepath.Join(cli.Root, ".bmad", "state"))
	if err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = filepath.Join(cli.Root, "docs")
	}

	yolo := c.YOLO
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		// No terminal to ask questions on.
		yolo = true
	}

	engine, err := workflow.NewEngine(def, store,
		workflow.WithYOLO(yolo),
		workflow.WithOutputDir(output),
		workflow.WithPrompter(promptStep),
		workflow.WithApprover(approveWrite),
	)
	if err != nil {
		return err
	}

	project := c.Project
	if project == "" {
		project = def.Name
	}

	var st *state.WorkflowState
	if c.Resume {
		st, err = engine.Resume(ctx, project)
	} else {
		st, err = engine.Execute(ctx, project)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Workflow %s: %s (step %d of %d)\n", def.Name, st.Status, st.CurrentStep, len(engine.Steps()))
	return nil
}

func promptStep(_ context.Context, question string) (string, error) {
	return prompt(question + " ")
}

func approveWrite(_ context.Context, file, content string) (bool, error) {
	fmt.Printf("\n--- %s (%d bytes) ---\n%s\n---\n", file, len(content), truncate(content, 2000))
	answer, err := prompt("Write this file? [y/N] ")
	if err != nil {
		return false, err
	}
	return answer == "y" || answer == "Y" || answer == "yes", nil
}
