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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmad-labs/bmad/pkg/agent"
	"github.com/bmad-labs/bmad/pkg/state"
	"github.com/bmad-labs/bmad/pkg/template"
	"github.com/bmad-labs/bmad/pkg/validator"
)

// PRDArtifact is the PRD path relative to the project root.
const PRDArtifact = "docs/PRD.md"

const defaultPRDPersona = "john"

const prdPrompt = `Draft a complete Product Requirements Document in markdown for this project.

Project: %s
Description: %s

Required sections: Executive Summary, Success Criteria, MVP Scope, Functional Requirements, Success Metrics.
Number every functional requirement FR-001, FR-002, ... and give each one explicit acceptance criteria.
Avoid vague language. Address security and error handling where features imply them.
%s
Respond with the markdown document only.`

// PRDOrchestrator runs the requirements phase: a product-manager
// persona drafts the PRD, the PRD validator gates it, and failures
// regenerate with the validator's findings folded into the prompt.
type PRDOrchestrator struct {
	deps    Deps
	persona string
	retry   RetryPolicy
}

// PRDOption configures the orchestrator.
type PRDOption func(*PRDOrchestrator)

// WithPRDPersona overrides the drafting persona name.
func WithPRDPersona(name string) PRDOption {
	return func(o *PRDOrchestrator) {
		o.persona = name
	}
}

// WithPRDRetry overrides the retry policy.
func WithPRDRetry(p RetryPolicy) PRDOption {
	return func(o *PRDOrchestrator) {
		o.retry = p
	}
}

// NewPRD creates the requirements-phase orchestrator.
func NewPRD(deps Deps, opts ...PRDOption) (*PRDOrchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("prd orchestrator: %w", err)
	}
	o := &PRDOrchestrator{
		deps:    deps,
		persona: defaultPRDPersona,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the phase. On sustained validation failure the decision
// engine chooses between surfacing the error and escalating to a
// human; escalation pauses the workflow and returns ErrSuspended.
func (o *PRDOrchestrator) Run(ctx context.Context) (*PhaseResult, error) {
	d := &o.deps
	st := o.loadOrNewState()
	st.Status = state.StatusRunning
	if err := d.States.Save(st); err != nil {
		return nil, fmt.Errorf("failed to persist workflow state: %w", err)
	}

	persona, err := agent.LoadPersona(d.Root, o.persona)
	if err != nil {
		return nil, fmt.Errorf("prd persona: %w", err)
	}

	a, err := d.Pool.Create(ctx, o.persona, persona, agent.Context{
		TaskDescription:   "Draft the product requirements document",
		WorkflowVariables: st.Variables,
	})
	if err != nil {
		return nil, err
	}
	defer d.Pool.Destroy(a.ID)

	var (
		doc      string
		report   *validator.Report
		feedback string
	)
	attempts, runErr := o.retry.Do(ctx, d.Logger, "prd generation", func(attempt int) error {
		text, err := d.Pool.Invoke(ctx, a.ID, o.buildPrompt(feedback))
		if err != nil {
			return err
		}
		doc = stripFences(text)

		report = validator.NewPRDValidator().Validate(doc)
		d.Logger.Info("prd validated",
			"attempt", attempt,
			"score", report.OverallScore,
			"passed", report.Passed)

		if !report.Passed {
			feedback = formatFindings(report.Findings)
			return fmt.Errorf("%w: score %.0f below gate %.0f",
				ErrValidationFailed, report.OverallScore, report.Gate)
		}
		return nil
	})

	result := &PhaseResult{
		Phase:    PhasePRD,
		Attempts: attempts,
		Cost:     d.Pool.Costs().ByAgent[o.persona],
	}
	if report != nil {
		result.Score = report.OverallScore
		result.Passed = report.Passed
	}
	checkBudgetAlert(d)

	if runErr != nil {
		return o.handleFailure(ctx, st, result, runErr, feedback)
	}

	artifact := filepath.Join(d.Root, filepath.FromSlash(PRDArtifact))
	if err := template.WriteDocument(artifact, doc); err != nil {
		st.Status = state.StatusFailed
		d.States.Save(st)
		return result, err
	}
	result.Artifact = artifact

	st.Status = state.StatusCompleted
	st.CurrentStep = attempts
	st.Variables["prd_score"] = report.OverallScore
	if err := d.States.Save(st); err != nil {
		return result, fmt.Errorf("failed to persist completed state: %w", err)
	}

	if err := recordPhase(d, PhasePRD, PhaseStatus{
		Status:   string(state.StatusCompleted),
		Score:    report.OverallScore,
		Artifact: PRDArtifact,
		Attempts: attempts,
	}); err != nil {
		return result, err
	}

	d.Logger.Info("prd phase completed",
		"score", report.OverallScore,
		"attempts", attempts,
		"artifact", artifact)
	return result, nil
}

// handleFailure asks the decision engine whether the exhausted phase
// should go to a human. Low confidence escalates and pauses.
func (o *PRDOrchestrator) handleFailure(ctx context.Context, st *state.WorkflowState, result *PhaseResult, runErr error, feedback string) (*PhaseResult, error) {
	d := &o.deps

	if errors.Is(runErr, ErrValidationFailed) {
		question := fmt.Sprintf("The PRD failed validation after %d attempts. Should a human revise the requirements?", result.Attempts)
		dec, derr := d.Decision.Decide(ctx, question, map[string]any{"findings": feedback})
		if derr == nil && dec.NeedsEscalation() {
			id, eerr := escalateAndPause(d, st, PhasePRD, question, dec.Reasoning, dec.Confidence)
			if eerr != nil {
				return result, eerr
			}
			result.EscalationID = id
			recordPhase(d, PhasePRD, PhaseStatus{
				Status:       string(state.StatusPaused),
				Score:        result.Score,
				Attempts:     result.Attempts,
				EscalationID: id,
			})
			return result, fmt.Errorf("%w: %s", ErrSuspended, id)
		}
	}

	st.Status = state.StatusFailed
	d.States.Save(st)
	recordPhase(d, PhasePRD, PhaseStatus{
		Status:   string(state.StatusFailed),
		Score:    result.Score,
		Attempts: result.Attempts,
	})
	return result, runErr
}

func (o *PRDOrchestrator) loadOrNewState() *state.WorkflowState {
	if st, err := o.deps.States.Load(PhasePRD); err == nil {
		return st
	}
	st := state.NewWorkflowState(PhasePRD)
	st.Workflow = PhasePRD
	return st
}

func (o *PRDOrchestrator) buildPrompt(feedback string) string {
	extra := ""
	if feedback != "" {
		extra = fmt.Sprintf("\nThe previous draft failed validation. Fix these findings:\n%s\n", feedback)
	}
	return fmt.Sprintf(prdPrompt,
		o.deps.Config.Project.Name,
		o.deps.Config.Project.Description,
		extra)
}

// formatFindings renders validator findings as prompt feedback.
func formatFindings(findings []validator.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		for _, issue := range f.Issues {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Dimension, issue)
		}
		for _, gap := range f.Gaps {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Dimension, gap)
		}
	}
	return b.String()
}
