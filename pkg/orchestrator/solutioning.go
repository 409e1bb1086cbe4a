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
	"github.com/bmad-labs/bmad/pkg/cis"
	"github.com/bmad-labs/bmad/pkg/graph"
	"github.com/bmad-labs/bmad/pkg/state"
	"github.com/bmad-labs/bmad/pkg/template"
)

// Solutioning phase artifacts, relative to the project root.
const (
	EpicsArtifact = "docs/epics.md"
	GraphArtifact = "docs/dependency-graph.json"
	StoriesDir    = "docs/stories"
)

const defaultSolutioningPersona = "bob"

const epicsPrompt = `Break the product requirements and architecture below into epics.

Product requirements:
%s

Architecture:
%s

Respond with a markdown document: one "## Epic N: <title>" heading per epic with a short description and the stories it contains.`

const storiesPrompt = `Decompose the epics below into implementation stories with dependencies.

Epics:
%s

Respond with JSON only, matching this schema:
%s

Story ids use the form "story-<epic>-<n>". List a dependency only when one story genuinely blocks another; mark type "hard" for build-order blockers and "soft" for preferences. Put genuinely ambiguous sequencing questions in open_questions.`

// storyPlan is the wire shape of the decomposition response.
type storyPlan struct {
	Stories       []storyPayload `json:"stories"`
	OpenQuestions []string       `json:"open_questions,omitempty"`
}

type storyPayload struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Epic      string      `json:"epic,omitempty"`
	Body      string      `json:"body,omitempty"`
	DependsOn []storyDeps `json:"depends_on,omitempty"`
}

type storyDeps struct {
	On        string `json:"on"`
	Type      string `json:"type,omitempty"`
	Blocking  bool   `json:"blocking,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// SolutioningOrchestrator runs the final phase: epics, per-story
// files, and the dependency graph. Ambiguous sequencing questions are
// routed through the CIS personas while the consultation budget lasts.
type SolutioningOrchestrator struct {
	deps    Deps
	persona string
	retry   RetryPolicy
	router  *cis.Router
}

// SolutioningOption configures the orchestrator.
type SolutioningOption func(*SolutioningOrchestrator)

// WithSolutioningPersona overrides the decomposition persona name.
func WithSolutioningPersona(name string) SolutioningOption {
	return func(o *SolutioningOrchestrator) {
		o.persona = name
	}
}

// WithSolutioningRetry overrides the retry policy.
func WithSolutioningRetry(p RetryPolicy) SolutioningOption {
	return func(o *SolutioningOrchestrator) {
		o.retry = p
	}
}

// WithCISRouter enables persona consultations for open questions.
func WithCISRouter(r *cis.Router) SolutioningOption {
	return func(o *SolutioningOrchestrator) {
		o.router = r
	}
}

// NewSolutioning creates the solutioning-phase orchestrator.
func NewSolutioning(deps Deps, opts ...SolutioningOption) (*SolutioningOrchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("solutioning orchestrator: %w", err)
	}
	o := &SolutioningOrchestrator{
		deps:    deps,
		persona: defaultSolutioningPersona,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the phase. It requires the PRD and architecture
// artifacts.
func (o *SolutioningOrchestrator) Run(ctx context.Context) (*PhaseResult, error) {
	d := &o.deps

	prd, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(PRDArtifact)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, PRDArtifact)
	}
	arch, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(ArchitectureArtifact)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, ArchitectureArtifact)
	}

	st := o.loadOrNewState()
	st.Status = state.StatusRunning
	if err := d.States.Save(st); err != nil {
		return nil, fmt.Errorf("failed to persist workflow state: %w", err)
	}

	persona, err := agent.LoadPersona(d.Root, o.persona)
	if err != nil {
		return nil, fmt.Errorf("solutioning persona: %w", err)
	}

	a, err := d.Pool.Create(ctx, o.persona, persona, agent.Context{
		TaskDescription:   "Decompose the plan into epics and stories",
		WorkflowVariables: st.Variables,
	})
	if err != nil {
		return nil, err
	}
	defer d.Pool.Destroy(a.ID)

	result := &PhaseResult{Phase: PhaseSolutioning}

	// Epics first; the story decomposition prompt builds on them.
	epicsText, err := d.Pool.Invoke(ctx, a.ID, fmt.Sprintf(epicsPrompt, prd, arch))
	if err != nil {
		return o.fail(st, result, err)
	}
	epics := stripFences(epicsText)

	var plan storyPlan
	var g *graph.Graph
	attempts, runErr := o.retry.Do(ctx, d.Logger, "story decomposition", func(attempt int) error {
		plan = storyPlan{}
		text, err := d.Pool.Invoke(ctx, a.ID, o.storiesPrompt(epics))
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(extractJSON(text)), &plan); err != nil {
			return fmt.Errorf("%w: story plan is not valid JSON: %v", ErrValidationFailed, err)
		}
		if len(plan.Stories) == 0 {
			return fmt.Errorf("%w: story plan is empty", ErrValidationFailed)
		}

		g, err = buildGraph(plan)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		return nil
	})
	result.Attempts = attempts
	result.Cost = d.Pool.Costs().ByAgent[o.persona]
	checkBudgetAlert(d)

	if runErr != nil {
		return o.fail(st, result, runErr)
	}

	o.consultOpenQuestions(ctx, plan.OpenQuestions)

	if err := o.writeArtifacts(epics, plan, g); err != nil {
		return o.fail(st, result, err)
	}
	result.Artifact = filepath.Join(d.Root, filepath.FromSlash(GraphArtifact))
	result.Passed = true
	result.Score = 100

	st.Status = state.StatusCompleted
	st.CurrentStep = attempts
	st.Variables["story_count"] = len(plan.Stories)
	if err := d.States.Save(st); err != nil {
		return result, fmt.Errorf("failed to persist completed state: %w", err)
	}

	if err := recordPhase(d, PhaseSolutioning, PhaseStatus{
		Status:   string(state.StatusCompleted),
		Score:    100,
		Artifact: GraphArtifact,
		Attempts: attempts,
	}); err != nil {
		return result, err
	}

	d.Logger.Info("solutioning phase completed",
		"stories", len(plan.Stories),
		"critical_path", g.CriticalPath,
		"bottlenecks", g.Bottlenecks)
	return result, nil
}

func (o *SolutioningOrchestrator) storiesPrompt(epics string) string {
	schema, err := json.Marshal(jsonschema.Reflect(&storyPlan{}))
	if err != nil {
		// Reflection over a static type cannot fail at runtime; keep the
		// prompt usable regardless.
		schema = []byte(`{"stories": [{"id": "...", "title": "...", "depends_on": [{"on": "...", "type": "hard|soft"}]}]}`)
	}
	return fmt.Sprintf(storiesPrompt, epics, schema)
}

// buildGraph validates the plan's dependencies as a DAG.
func buildGraph(plan storyPlan) (*graph.Graph, error) {
	ids := make([]string, 0, len(plan.Stories))
	for _, s := range plan.Stories {
		ids = append(ids, s.ID)
	}
	g, err := graph.New(ids...)
	if err != nil {
		return nil, err
	}

	for _, s := range plan.Stories {
		for _, dep := range s.DependsOn {
			edgeType := graph.EdgeType(dep.Type)
			if edgeType != graph.EdgeSoft {
				edgeType = graph.EdgeHard
			}
			if err := g.AddEdge(graph.Edge{
				From:      dep.On,
				To:        s.ID,
				Type:      edgeType,
				Blocking:  dep.Blocking || edgeType == graph.EdgeHard,
				Reasoning: dep.Reasoning,
			}); err != nil {
				return nil, err
			}
		}
	}

	if err := g.Analyze(); err != nil {
		return nil, err
	}
	return g, nil
}

// consultOpenQuestions routes ambiguous sequencing questions through
// the CIS personas. Hitting the consultation cap is expected and
// non-fatal.
func (o *SolutioningOrchestrator) consultOpenQuestions(ctx context.Context, questions []string) {
	if o.router == nil || len(questions) == 0 {
		return
	}
	for _, q := range questions {
		c, err := o.router.RouteDecision(ctx, q)
		if errors.Is(err, cis.ErrLimitExceeded) {
			o.deps.Logger.Info("consultation budget exhausted", "remaining_questions", q)
			return
		}
		if err != nil {
			o.deps.Logger.Warn("consultation failed", "question", q, "error", err)
			continue
		}
		o.deps.Logger.Info("open question consulted",
			"question", q,
			"category", c.Category,
			"recommendation", c.Recommendation)
	}
}

// writeArtifacts persists epics, stories, and the dependency graph.
// Story files are independent and written in parallel.
func (o *SolutioningOrchestrator) writeArtifacts(epics string, plan storyPlan, g *graph.Graph) error {
	d := &o.deps

	if err := template.WriteDocument(filepath.Join(d.Root, filepath.FromSlash(EpicsArtifact)), epics); err != nil {
		return err
	}

	storiesRoot := filepath.Join(d.Root, filepath.FromSlash(StoriesDir))
	if err := os.MkdirAll(storiesRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create stories directory: %w", err)
	}

	var eg errgroup.Group
	eg.SetLimit(8)
	for _, s := range plan.Stories {
		eg.Go(func() error {
			return template.WriteDocument(
				filepath.Join(storiesRoot, s.ID+".md"),
				renderStory(s, g))
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	return g.Save(filepath.Join(d.Root, filepath.FromSlash(GraphArtifact)))
}

func renderStory(s storyPayload, g *graph.Graph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", s.ID, s.Title)
	if s.Epic != "" {
		fmt.Fprintf(&b, "Epic: %s\n\n", s.Epic)
	}
	if s.Body != "" {
		b.WriteString(s.Body)
		b.WriteString("\n")
	}
	if blockers := g.BlockedBy(s.ID); len(blockers) > 0 {
		b.WriteString("\n## Blocked by\n\n")
		for _, blocker := range blockers {
			fmt.Fprintf(&b, "- %s\n", blocker)
		}
	}
	return b.String()
}

func (o *SolutioningOrchestrator) fail(st *state.WorkflowState, result *PhaseResult, cause error) (*PhaseResult, error) {
	st.Status = state.StatusFailed
	o.deps.States.Save(st)
	recordPhase(&o.deps, PhaseSolutioning, PhaseStatus{
		Status:   string(state.StatusFailed),
		Attempts: result.Attempts,
	})
	return result, cause
}

func (o *SolutioningOrchestrator) loadOrNewState() *state.WorkflowState {
	if st, err := o.deps.States.Load(PhaseSolutioning); err == nil {
		return st
	}
	st := state.NewWorkflowState(PhaseSolutioning)
	st.Workflow = PhaseSolutioning
	return st
}
