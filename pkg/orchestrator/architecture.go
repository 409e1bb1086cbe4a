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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/bmad-labs/bmad/pkg/agent"
	"github.com/bmad-labs/bmad/pkg/state"
	"github.com/bmad-labs/bmad/pkg/template"
	"github.com/bmad-labs/bmad/pkg/validator"
)

// Architecture phase artifacts, relative to the project root.
const (
	ArchitectureArtifact = "docs/architecture.md"
	DecisionsArtifact    = "docs/technical-decisions.json"

	// DefaultTemplatePath is the stock architecture template.
	DefaultTemplatePath = "bmad/bmm/workflows/architecture/template.md"
)

const defaultArchPersona = "winston"

const sectionPrompt = `Write the "%s" section of the architecture document for this project.

Project: %s

Product requirements:
%s
%s
Respond with the section's markdown content only, without the section heading.`

const decisionsPrompt = `List the key technical decisions embodied in the architecture document below as a JSON array.

Each element must match this schema:
%s

Architecture document:
%s

Respond with JSON only.`

// adrPayload is the wire shape of one captured decision.
type adrPayload struct {
	Title           string                  `json:"title"`
	Context         string                  `json:"context,omitempty"`
	Decision        string                  `json:"decision"`
	Alternatives    []validator.Alternative `json:"alternatives,omitempty"`
	Rationale       string                  `json:"rationale,omitempty"`
	Consequences    []string                `json:"consequences,omitempty"`
	PRDRequirements []string                `json:"prd_requirements,omitempty"`
}

// ArchitectureOrchestrator runs the architecture phase: an architect
// persona fills the marker-delimited template section by section, the
// architecture and security validators gate the result in parallel,
// and the decision logger captures ADRs from the final document.
type ArchitectureOrchestrator struct {
	deps           Deps
	persona        string
	retry          RetryPolicy
	customTemplate string
	decisions      *validator.DecisionLogger
}

// ArchOption configures the orchestrator.
type ArchOption func(*ArchitectureOrchestrator)

// WithArchPersona overrides the architect persona name.
func WithArchPersona(name string) ArchOption {
	return func(o *ArchitectureOrchestrator) {
		o.persona = name
	}
}

// WithArchRetry overrides the retry policy.
func WithArchRetry(p RetryPolicy) ArchOption {
	return func(o *ArchitectureOrchestrator) {
		o.retry = p
	}
}

// WithCustomTemplate points at an override template; an invalid file
// falls back to the default.
func WithCustomTemplate(path string) ArchOption {
	return func(o *ArchitectureOrchestrator) {
		o.customTemplate = path
	}
}

// NewArchitecture creates the architecture-phase orchestrator.
func NewArchitecture(deps Deps, opts ...ArchOption) (*ArchitectureOrchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("architecture orchestrator: %w", err)
	}
	o := &ArchitectureOrchestrator{
		deps:      deps,
		persona:   defaultArchPersona,
		retry:     DefaultRetryPolicy(),
		decisions: validator.NewDecisionLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Decisions exposes the phase's decision logger.
func (o *ArchitectureOrchestrator) Decisions() *validator.DecisionLogger {
	return o.decisions
}

// Run executes the phase. It requires the PRD artifact from the
// previous phase.
func (o *ArchitectureOrchestrator) Run(ctx context.Context) (*PhaseResult, error) {
	d := &o.deps

	prd, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(PRDArtifact)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s (run the prd phase first)", ErrMissingArtifact, PRDArtifact)
	}

	tmpl, err := template.Load(
		filepath.Join(d.Root, filepath.FromSlash(DefaultTemplatePath)),
		o.customTemplate,
		template.ArchitectureSections,
		d.Logger)
	if err != nil {
		return nil, err
	}

	st := o.loadOrNewState()
	st.Status = state.StatusRunning
	if err := d.States.Save(st); err != nil {
		return nil, fmt.Errorf("failed to persist workflow state: %w", err)
	}

	persona, err := agent.LoadPersona(d.Root, o.persona)
	if err != nil {
		return nil, fmt.Errorf("architect persona: %w", err)
	}

	a, err := d.Pool.Create(ctx, o.persona, persona, agent.Context{
		TaskDescription:   "Design the system architecture",
		WorkflowVariables: st.Variables,
	})
	if err != nil {
		return nil, err
	}
	defer d.Pool.Destroy(a.ID)

	resolver := &template.Resolver{WorkflowVariables: st.Variables}
	vars := resolver.Resolve(map[string]any{
		"project_name": d.Config.Project.Name,
	})

	var (
		doc        string
		archReport *validator.Report
		secReport  *validator.SecurityReport
		feedback   string
	)
	attempts, runErr := o.retry.Do(ctx, d.Logger, "architecture generation", func(attempt int) error {
		assembled, err := o.assemble(ctx, a.ID, tmpl.Content, string(prd), feedback)
		if err != nil {
			return err
		}
		doc = template.Substitute(assembled, vars)

		// The two gates are independent reads of the same document.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			archReport = validator.NewArchitectureValidator().Validate(doc, string(prd))
			return nil
		})
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			secReport = validator.NewSecurityGateValidator().Validate(doc)
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		d.Logger.Info("architecture validated",
			"attempt", attempt,
			"architecture_score", archReport.OverallScore,
			"security_score", secReport.OverallScore,
			"passed", archReport.Passed && secReport.Passed)

		if !archReport.Passed || !secReport.Passed {
			feedback = formatFindings(archReport.Findings) + formatFindings(secReport.Findings)
			return fmt.Errorf("%w: architecture %.0f/%.0f, security %.0f/%.0f",
				ErrValidationFailed,
				archReport.OverallScore, archReport.Gate,
				secReport.OverallScore, secReport.Gate)
		}
		return nil
	})

	result := &PhaseResult{
		Phase:    PhaseArchitecture,
		Attempts: attempts,
		Cost:     d.Pool.Costs().ByAgent[o.persona],
	}
	if archReport != nil {
		result.Score = archReport.OverallScore
		result.Passed = archReport.Passed && secReport.Passed
	}
	checkBudgetAlert(d)

	if runErr != nil {
		return o.handleFailure(ctx, st, result, runErr, feedback)
	}

	if err := o.captureDecisions(ctx, a.ID, doc); err != nil {
		// ADR capture is best-effort; the architecture itself passed.
		d.Logger.Warn("technical decision capture failed", "error", err)
	}

	artifact := filepath.Join(d.Root, filepath.FromSlash(ArchitectureArtifact))
	if err := template.WriteDocument(artifact, doc); err != nil {
		st.Status = state.StatusFailed
		d.States.Save(st)
		return result, err
	}
	result.Artifact = artifact

	st.Status = state.StatusCompleted
	st.CurrentStep = attempts
	st.Variables["architecture_score"] = archReport.OverallScore
	st.Variables["security_score"] = secReport.OverallScore
	if err := d.States.Save(st); err != nil {
		return result, fmt.Errorf("failed to persist completed state: %w", err)
	}

	if err := recordPhase(d, PhaseArchitecture, PhaseStatus{
		Status:   string(state.StatusCompleted),
		Score:    archReport.OverallScore,
		Artifact: ArchitectureArtifact,
		Attempts: attempts,
	}); err != nil {
		return result, err
	}

	d.Logger.Info("architecture phase completed",
		"score", archReport.OverallScore,
		"security_score", secReport.OverallScore,
		"template_source", tmpl.Source)
	return result, nil
}

// assemble fills every template section through the architect agent.
func (o *ArchitectureOrchestrator) assemble(ctx context.Context, agentID, tmpl, prd, feedback string) (string, error) {
	doc := tmpl
	extra := ""
	if feedback != "" {
		extra = fmt.Sprintf("\nA previous draft failed validation. Fix these findings:\n%s\n", feedback)
	}

	for _, section := range template.ArchitectureSections {
		prompt := fmt.Sprintf(sectionPrompt, section, o.deps.Config.Project.Name, prd, extra)
		text, err := o.deps.Pool.Invoke(ctx, agentID, prompt)
		if err != nil {
			return "", fmt.Errorf("section %s: %w", section, err)
		}

		doc, err = template.ReplaceSection(doc, section, stripFences(text))
		if err != nil {
			return "", fmt.Errorf("section %s: %w", section, err)
		}
	}
	return doc, nil
}

// captureDecisions asks the architect to enumerate its decisions and
// records them as ADRs.
func (o *ArchitectureOrchestrator) captureDecisions(ctx context.Context, agentID, doc string) error {
	schema, err := json.Marshal(jsonschema.Reflect(&adrPayload{}))
	if err != nil {
		return fmt.Errorf("failed to build decision schema: %w", err)
	}

	text, err := o.deps.Pool.Invoke(ctx, agentID, fmt.Sprintf(decisionsPrompt, schema, doc))
	if err != nil {
		return err
	}

	var payloads []adrPayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &payloads); err != nil {
		return fmt.Errorf("failed to parse decision list: %w", err)
	}

	for _, p := range payloads {
		if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Decision) == "" {
			continue
		}
		if _, err := o.decisions.Capture(validator.DecisionInput{
			Title:           p.Title,
			Context:         p.Context,
			Decision:        p.Decision,
			Alternatives:    p.Alternatives,
			Rationale:       p.Rationale,
			Consequences:    p.Consequences,
			DecisionMaker:   o.persona,
			PRDRequirements: p.PRDRequirements,
		}); err != nil {
			return err
		}
	}

	path := filepath.Join(o.deps.Root, filepath.FromSlash(DecisionsArtifact))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create docs directory: %w", err)
	}
	return o.decisions.Save(path)
}

func (o *ArchitectureOrchestrator) handleFailure(ctx context.Context, st *state.WorkflowState, result *PhaseResult, runErr error, feedback string) (*PhaseResult, error) {
	d := &o.deps

	if errors.Is(runErr, ErrValidationFailed) {
		question := fmt.Sprintf("The architecture failed its quality gates after %d attempts. Should a human review the design?", result.Attempts)
		dec, derr := d.Decision.Decide(ctx, question, map[string]any{"findings": feedback})
		if derr == nil && dec.NeedsEscalation() {
			id, eerr := escalateAndPause(d, st, PhaseArchitecture, question, dec.Reasoning, dec.Confidence)
			if eerr != nil {
				return result, eerr
			}
			result.EscalationID = id
			recordPhase(d, PhaseArchitecture, PhaseStatus{
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
	recordPhase(d, PhaseArchitecture, PhaseStatus{
		Status:   string(state.StatusFailed),
		Score:    result.Score,
		Attempts: result.Attempts,
	})
	return result, runErr
}

func (o *ArchitectureOrchestrator) loadOrNewState() *state.WorkflowState {
	if st, err := o.deps.States.Load(PhaseArchitecture); err == nil {
		return st
	}
	st := state.NewWorkflowState(PhaseArchitecture)
	st.Workflow = PhaseArchitecture
	return st
}
