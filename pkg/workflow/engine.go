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

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmad-labs/bmad/pkg/state"
	"github.com/bmad-labs/bmad/pkg/template"
)

// ErrCompleted is returned when resuming an already completed workflow.
var ErrCompleted = errors.New("workflow: already completed")

// ActionRunner executes one action instruction. It may mutate workflow
// variables through st.Variables.
type ActionRunner func(ctx context.Context, step Step, action string, st *state.WorkflowState) error

// Prompter collects human input for ask / elicit-required items in
// interactive mode.
type Prompter func(ctx context.Context, question string) (string, error)

// Approver gates template-output writes in interactive mode.
type Approver func(ctx context.Context, file, content string) (bool, error)

// Engine executes a workflow's instruction steps in order, persisting
// state after every step so a crash resumes at the next one.
type Engine struct {
	def    *Definition
	steps  []Step
	store  *state.Store
	logger *slog.Logger

	yolo      bool
	outputDir string
	runner    ActionRunner
	prompter  Prompter
	approver  Approver
	resolver  *template.Resolver
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithYOLO enables non-interactive mode: ask and elicit-required items
// are skipped, template-output writes auto-approve.
func WithYOLO(enabled bool) EngineOption {
	return func(e *Engine) { e.yolo = enabled }
}

// WithOutputDir sets where template-output files are written.
func WithOutputDir(dir string) EngineOption {
	return func(e *Engine) { e.outputDir = dir }
}

// WithActionRunner sets the action executor.
func WithActionRunner(r ActionRunner) EngineOption {
	return func(e *Engine) { e.runner = r }
}

// WithPrompter sets the interactive input collector.
func WithPrompter(p Prompter) EngineOption {
	return func(e *Engine) { e.prompter = p }
}

// WithApprover sets the interactive write gate.
func WithApprover(a Approver) EngineOption {
	return func(e *Engine) { e.approver = a }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine loads the definition's instructions and builds an engine.
func NewEngine(def *Definition, store *state.Store, opts ...EngineOption) (*Engine, error) {
	if def == nil {
		return nil, fmt.Errorf("workflow definition is required")
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}

	data, err := os.ReadFile(def.InstructionsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read instructions for %q: %w", def.Name, err)
	}
	steps, err := ParseInstructions(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse instructions for %q: %w", def.Name, err)
	}

	e := &Engine{
		def:      def,
		steps:    steps,
		store:    store,
		logger:   slog.Default(),
		resolver: &template.Resolver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Steps returns the parsed instruction steps.
func (e *Engine) Steps() []Step {
	return e.steps
}

// Execute runs the workflow for a project from its persisted position,
// initializing fresh state on first run.
func (e *Engine) Execute(ctx context.Context, projectID string) (*state.WorkflowState, error) {
	st, err := e.store.Load(projectID)
	if errors.Is(err, state.ErrNotFound) {
		st = state.NewWorkflowState(projectID)
		st.Workflow = e.def.Name
		for k, v := range e.def.Variables {
			st.Variables[k] = v
		}
	} else if err != nil {
		return nil, err
	}

	return e.run(ctx, st)
}

// Resume continues a paused or failed workflow. Resuming a completed
// workflow is a precondition error. Resume is idempotent: a second call
// on a completed-through-resume state returns ErrCompleted.
func (e *Engine) Resume(ctx context.Context, projectID string) (*state.WorkflowState, error) {
	st, err := e.store.Load(projectID)
	if err != nil {
		return nil, err
	}
	if st.Status == state.StatusCompleted {
		return st, fmt.Errorf("%w: project %s", ErrCompleted, projectID)
	}
	return e.run(ctx, st)
}

func (e *Engine) run(ctx context.Context, st *state.WorkflowState) (*state.WorkflowState, error) {
	st.Status = state.StatusRunning
	if err := e.store.Save(st); err != nil {
		return st, err
	}

	e.logger.Info("workflow executing",
		"workflow", e.def.Name,
		"project", st.ProjectID,
		"from_step", st.CurrentStep+1,
		"yolo", e.yolo)

	for _, step := range e.steps {
		if step.N <= st.CurrentStep {
			continue
		}
		if err := ctx.Err(); err != nil {
			return e.fail(st, err)
		}

		if step.If != "" {
			ok, err := Evaluate(step.If, st.Variables)
			if err != nil {
				return e.fail(st, fmt.Errorf("step %d guard: %w", step.N, err))
			}
			if !ok {
				e.logger.Debug("step skipped by guard", "step", step.N, "if", step.If)
				st.CurrentStep = step.N
				if err := e.store.Save(st); err != nil {
					return st, err
				}
				continue
			}
		}

		if err := e.runStep(ctx, step, st); err != nil {
			return e.fail(st, fmt.Errorf("step %d: %w", step.N, err))
		}

		st.CurrentStep = step.N
		if err := e.store.Save(st); err != nil {
			return st, err
		}
		e.logger.Debug("step completed", "step", step.N, "goal", step.Goal)
	}

	st.Status = state.StatusCompleted
	if err := e.store.Save(st); err != nil {
		return st, err
	}
	e.logger.Info("workflow completed", "workflow", e.def.Name, "project", st.ProjectID)
	return st, nil
}

func (e *Engine) runStep(ctx context.Context, step Step, st *state.WorkflowState) error {
	for _, item := range step.Body {
		switch item.Kind {
		case ItemAction:
			if err := e.runAction(ctx, step, item.Text, st); err != nil {
				return err
			}

		case ItemCheck:
			ok, err := Evaluate(item.If, st.Variables)
			if err != nil {
				return fmt.Errorf("check guard: %w", err)
			}
			if !ok {
				continue
			}
			for _, action := range item.Actions {
				if err := e.runAction(ctx, step, action, st); err != nil {
					return err
				}
			}

		case ItemAsk, ItemElicitRequired:
			if e.yolo {
				e.logger.Debug("skipping prompt in yolo mode", "step", step.N, "kind", item.Kind)
				continue
			}
			if e.prompter == nil {
				return fmt.Errorf("interactive item %q requires a prompter", item.Kind)
			}
			answer, err := e.prompter(ctx, item.Text)
			if err != nil {
				return fmt.Errorf("prompt failed: %w", err)
			}
			st.Variables["answer_step_"+fmt.Sprint(step.N)] = answer

		case ItemTemplateOutput:
			if err := e.writeOutput(ctx, item, st); err != nil {
				return err
			}

		case ItemOutput:
			e.logger.Info(item.Text, "step", step.N, "workflow", e.def.Name)
		}
	}
	return nil
}

func (e *Engine) runAction(ctx context.Context, step Step, action string, st *state.WorkflowState) error {
	if e.runner == nil {
		e.logger.Debug("no action runner configured, skipping", "action", action)
		return nil
	}
	return e.runner(ctx, step, action, st)
}

func (e *Engine) writeOutput(ctx context.Context, item Item, st *state.WorkflowState) error {
	if item.File == "" {
		return fmt.Errorf("template-output missing file attribute")
	}

	e.resolver.WorkflowVariables = st.Variables
	content := template.Substitute(item.Text, e.resolver.Resolve(nil))

	if !e.yolo {
		if e.approver == nil {
			return fmt.Errorf("template-output %q requires an approver", item.File)
		}
		ok, err := e.approver(ctx, item.File, content)
		if err != nil {
			return fmt.Errorf("approval failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("write of %q rejected", item.File)
		}
	}

	path := item.File
	if e.outputDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(e.outputDir, path)
	}
	if err := template.WriteDocument(path, content); err != nil {
		return err
	}
	e.logger.Info("artifact written", "file", path)
	return nil
}

// fail persists failed status and surfaces the error. The state remains
// resumable at the failed step.
func (e *Engine) fail(st *state.WorkflowState, cause error) (*state.WorkflowState, error) {
	st.Status = state.StatusFailed
	if saveErr := e.store.Save(st); saveErr != nil {
		return st, errors.Join(cause, saveErr)
	}
	return st, cause
}
