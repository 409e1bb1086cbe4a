package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bmad-labs/bmad/pkg/logger"
	"github.com/bmad-labs/bmad/pkg/state"
)

const sampleInstructions = `# PRD Workflow

<step n="1" goal="Gather context">
  <action>Collect project onboarding notes</action>
</step>

<step n="2" goal="Clarify scope" optional="true">
  <ask>Which integrations are in scope?</ask>
  <elicit-required>List the target user segments</elicit-required>
</step>

<step n="3" goal="Write the document">
  <check if="phase == 'prd'">
    <action>Draft functional requirements</action>
  </check>
  <template-output file="output.md">## {{project_name}} PRD</template-output>
  <output>PRD draft complete</output>
</step>
`

func writeWorkflow(t *testing.T, dir, instructions string) *Definition {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "instructions.md"), []byte(instructions), 0o644); err != nil {
		t.Fatal(err)
	}
	yml := "name: prd\ndescription: PRD phase\ninstructions: instructions.md\nvariables:\n  phase: prd\n"
	path := filepath.Join(dir, "workflow.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("LoadDefinition() error = %v", err)
	}
	return def
}

func newTestEngine(t *testing.T, instructions string, opts ...EngineOption) (*Engine, *state.Store) {
	t.Helper()
	dir := t.TempDir()
	def := writeWorkflow(t, dir, instructions)
	store, err := state.NewStore(filepath.Join(dir, ".bmad"))
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]EngineOption{
		WithEngineLogger(logger.Nop()),
		WithOutputDir(filepath.Join(dir, "docs")),
	}, opts...)
	e, err := NewEngine(def, store, opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e, store
}

func TestParseInstructions(t *testing.T) {
	steps, err := ParseInstructions(sampleInstructions)
	if err != nil {
		t.Fatalf("ParseInstructions() error = %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}

	if steps[0].Goal != "Gather context" {
		t.Errorf("step 1 goal = %q", steps[0].Goal)
	}
	if !steps[1].Optional {
		t.Error("step 2 should be optional")
	}
	if len(steps[1].Body) != 2 {
		t.Fatalf("step 2 body = %d items, want 2", len(steps[1].Body))
	}
	if steps[1].Body[0].Kind != ItemAsk || steps[1].Body[1].Kind != ItemElicitRequired {
		t.Errorf("step 2 kinds = %v, %v", steps[1].Body[0].Kind, steps[1].Body[1].Kind)
	}

	body := steps[2].Body
	if len(body) != 3 {
		t.Fatalf("step 3 body = %d items, want 3", len(body))
	}
	if body[0].Kind != ItemCheck || body[0].If != "phase == 'prd'" {
		t.Errorf("check = %+v", body[0])
	}
	if len(body[0].Actions) != 1 {
		t.Errorf("check actions = %v", body[0].Actions)
	}
	if body[1].Kind != ItemTemplateOutput || body[1].File != "output.md" {
		t.Errorf("template-output = %+v", body[1])
	}
	if body[2].Kind != ItemOutput {
		t.Errorf("output = %+v", body[2])
	}
}

func TestParseInstructionsIgnoresUnknownElements(t *testing.T) {
	steps, err := ParseInstructions(`<step n="1" goal="g"><mystery>x</mystery><action>real</action></step>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps[0].Body) != 1 || steps[0].Body[0].Text != "real" {
		t.Errorf("body = %+v", steps[0].Body)
	}
}

func TestParseInstructionsBrokenNumbering(t *testing.T) {
	_, err := ParseInstructions(`<step n="1" goal="a"></step><step n="3" goal="b"></step>`)
	if err == nil {
		t.Error("non-sequential step numbers should fail")
	}
	_, err = ParseInstructions(`<step n="1" goal="a"></step><step n="1" goal="b"></step>`)
	if err == nil {
		t.Error("duplicate step numbers should fail")
	}
}

func TestEvaluate(t *testing.T) {
	vars := map[string]any{
		"phase":    "prd",
		"attempts": 2,
		"approved": true,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"phase == 'prd'", true},
		{"phase != 'prd'", false},
		{"phase is 'prd'", true},
		{"phase is not 'arch'", true},
		{"attempts < 3", true},
		{"attempts >= 2", true},
		{"attempts > 2", false},
		{"approved", true},
		{"approved == true", true},
		{"missing", false},
		{"true", true},
		{"false", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, vars)
			if err != nil {
				t.Fatalf("Evaluate(%q) error = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	if _, err := Evaluate("phase == 'unterminated", nil); err == nil {
		t.Error("unterminated string should fail")
	}
	if _, err := Evaluate("a == b == c", nil); err == nil {
		t.Error("chained comparison should fail")
	}
}

func TestExecuteYOLOMode(t *testing.T) {
	e, _ := newTestEngine(t, sampleInstructions, WithYOLO(true))

	var actions []string
	e.runner = func(ctx context.Context, step Step, action string, st *state.WorkflowState) error {
		actions = append(actions, action)
		return nil
	}

	st, err := e.Execute(context.Background(), "proj")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if st.Status != state.StatusCompleted {
		t.Errorf("status = %q, want completed", st.Status)
	}
	if st.CurrentStep != 3 {
		t.Errorf("current_step = %d, want 3", st.CurrentStep)
	}
	if len(actions) != 2 {
		t.Errorf("actions run = %v, want 2 (plain + guarded)", actions)
	}

	out, err := os.ReadFile(filepath.Join(e.outputDir, "output.md"))
	if err != nil {
		t.Fatalf("output file: %v", err)
	}
	if string(out) == "" {
		t.Error("output file empty")
	}
}

func TestExecuteStepGuardSkips(t *testing.T) {
	instructions := `<step n="1" goal="always"><action>one</action></step>
<step n="2" goal="guarded" if="phase == 'arch'"><action>two</action></step>
<step n="3" goal="after"><action>three</action></step>`

	e, _ := newTestEngine(t, instructions, WithYOLO(true))

	var actions []string
	e.runner = func(ctx context.Context, step Step, action string, st *state.WorkflowState) error {
		actions = append(actions, action)
		return nil
	}

	st, err := e.Execute(context.Background(), "proj")
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentStep != 3 {
		t.Errorf("current_step = %d, want 3 (skipped step still advances)", st.CurrentStep)
	}
	if len(actions) != 2 || actions[0] != "one" || actions[1] != "three" {
		t.Errorf("actions = %v", actions)
	}
}

func TestExecuteFailurePersistsAndResumes(t *testing.T) {
	instructions := `<step n="1" goal="ok"><action>one</action></step>
<step n="2" goal="flaky"><action>two</action></step>
<step n="3" goal="rest"><action>three</action></step>`

	e, store := newTestEngine(t, instructions, WithYOLO(true))

	failing := true
	e.runner = func(ctx context.Context, step Step, action string, st *state.WorkflowState) error {
		if action == "two" && failing {
			return fmt.Errorf("transient failure")
		}
		return nil
	}

	_, err := e.Execute(context.Background(), "proj")
	if err == nil {
		t.Fatal("Execute should surface the step failure")
	}

	store.ClearCache()
	st, err := store.Load("proj")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != state.StatusFailed {
		t.Errorf("persisted status = %q, want failed", st.Status)
	}
	if st.CurrentStep != 1 {
		t.Errorf("persisted step = %d, want 1 (step 2 is resumable)", st.CurrentStep)
	}

	failing = false
	st, err = e.Resume(context.Background(), "proj")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if st.Status != state.StatusCompleted || st.CurrentStep != 3 {
		t.Errorf("after resume: status = %q, step = %d", st.Status, st.CurrentStep)
	}
}

func TestResumeCompletedIsPreconditionError(t *testing.T) {
	e, _ := newTestEngine(t, `<step n="1" goal="g"><action>a</action></step>`, WithYOLO(true))

	if _, err := e.Execute(context.Background(), "proj"); err != nil {
		t.Fatal(err)
	}
	_, err := e.Resume(context.Background(), "proj")
	if !errors.Is(err, ErrCompleted) {
		t.Errorf("error = %v, want ErrCompleted", err)
	}
}

func TestInteractivePrompter(t *testing.T) {
	instructions := `<step n="1" goal="clarify"><ask>Which region?</ask></step>`

	var asked string
	e, _ := newTestEngine(t, instructions,
		WithPrompter(func(ctx context.Context, q string) (string, error) {
			asked = q
			return "eu-west-1", nil
		}))

	st, err := e.Execute(context.Background(), "proj")
	if err != nil {
		t.Fatal(err)
	}
	if asked != "Which region?" {
		t.Errorf("asked = %q", asked)
	}
	if st.Variables["answer_step_1"] != "eu-west-1" {
		t.Errorf("answer variable = %v", st.Variables["answer_step_1"])
	}
}

func TestLoadDefinitionErrors(t *testing.T) {
	if _, err := LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("error = %v, want ErrDefinitionNotFound", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	os.WriteFile(path, []byte("description: nameless\n"), 0o644)
	if _, err := LoadDefinition(path); err == nil {
		t.Error("definition without name should fail")
	}
}
