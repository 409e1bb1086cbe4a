package decision

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bmad-labs/bmad/pkg/logger"
	"github.com/bmad-labs/bmad/pkg/testutils"
)

func writeOnboardingDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOnboardingPriority(t *testing.T) {
	dir := t.TempDir()
	writeOnboardingDoc(t, dir, "setup.md", `# Project Setup

Clone the repository and run make setup to install the project toolchain.
The setup script provisions a local Postgres instance.
`)

	mock := testutils.NewMockProvider(`{"decision": "llm answer", "reasoning": "guess", "confidence": 0.6}`)
	e := NewEngine(Config{OnboardingDir: dir}, mock, WithLogger(logger.Nop()))

	d, err := e.Decide(context.Background(), "How do I set up the project?", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Source != SourceOnboarding {
		t.Errorf("source = %q, want onboarding", d.Source)
	}
	if d.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", d.Confidence)
	}
	if !strings.Contains(d.Reasoning, "setup.md") {
		t.Errorf("reasoning should reference the matching file, got %q", d.Reasoning)
	}
	if mock.CallCount() != 0 {
		t.Errorf("LLM called %d times, want 0", mock.CallCount())
	}
}

func TestUnrelatedQuestionFallsBackToLLM(t *testing.T) {
	dir := t.TempDir()
	writeOnboardingDoc(t, dir, "setup.md", "Run make setup to install dependencies.")

	mock := testutils.NewMockProvider(`{"decision": "use Kafka", "reasoning": "event volume", "confidence": 0.82}`)
	e := NewEngine(Config{OnboardingDir: dir}, mock, WithLogger(logger.Nop()))

	d, err := e.Decide(context.Background(), "Which message broker fits our ordering guarantees?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Source != SourceLLM {
		t.Errorf("source = %q, want llm", d.Source)
	}
	if d.Confidence == 0.95 {
		t.Error("llm confidence should not be pinned to 0.95")
	}
	if d.DecisionText != "use Kafka" {
		t.Errorf("decision = %q", d.DecisionText)
	}
	if mock.CallCount() != 1 {
		t.Errorf("LLM called %d times, want 1", mock.CallCount())
	}
}

func TestLowConfidenceFlagsEscalation(t *testing.T) {
	mock := testutils.NewMockProvider(`{"decision": "maybe microservices", "reasoning": "unclear scale", "confidence": 0.6}`)
	e := NewEngine(Config{}, mock, WithLogger(logger.Nop()))

	d, err := e.Decide(context.Background(), "Monolith or microservices?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !d.NeedsEscalation() {
		t.Error("decision at 0.6 should need escalation")
	}
	if !strings.Contains(d.Reasoning, EscalationMarker) {
		t.Errorf("reasoning = %q, want marker", d.Reasoning)
	}
	if !strings.Contains(d.Reasoning, "0.75") {
		t.Errorf("reasoning should include the threshold, got %q", d.Reasoning)
	}
}

func TestHighConfidenceNotFlagged(t *testing.T) {
	mock := testutils.NewMockProvider(`{"decision": "use Postgres", "reasoning": "relational data", "confidence": 0.9}`)
	e := NewEngine(Config{}, mock, WithLogger(logger.Nop()))

	d, err := e.Decide(context.Background(), "Which database?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.NeedsEscalation() {
		t.Error("decision at 0.9 should not need escalation")
	}
}

func TestConfidenceClamped(t *testing.T) {
	mock := testutils.NewMockProvider(`{"decision": "x", "reasoning": "r", "confidence": 1.7}`)
	e := NewEngine(Config{}, mock, WithLogger(logger.Nop()))

	d, err := e.Decide(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", d.Confidence)
	}
}

func TestAuditTrail(t *testing.T) {
	mock := testutils.NewMockProvider(`{"decision": "d", "reasoning": "r", "confidence": 0.8}`)
	e := NewEngine(Config{}, mock, WithLogger(logger.Nop()))

	for _, q := range []string{"first", "second", "third"} {
		if _, err := e.Decide(context.Background(), q, nil); err != nil {
			t.Fatal(err)
		}
	}

	trail := e.AuditTrail()
	if len(trail) != 3 {
		t.Fatalf("audit trail length = %d, want 3", len(trail))
	}
	if trail[1].Question != "second" {
		t.Errorf("trail[1].question = %q", trail[1].Question)
	}
	for _, d := range trail {
		if d.Timestamp.IsZero() {
			t.Error("audit entry missing timestamp")
		}
	}
}

func TestParseLLMDecisionCodeFence(t *testing.T) {
	d := parseLLMDecision("```json\n{\"decision\": \"fenced\", \"reasoning\": \"r\", \"confidence\": 0.5}\n```")
	if d.Decision != "fenced" {
		t.Errorf("decision = %q, want fenced", d.Decision)
	}
}

func TestParseLLMDecisionGarbage(t *testing.T) {
	d := parseLLMDecision("I think you should probably use microservices.")
	if d.Decision != "No recommendation provided" {
		t.Errorf("decision = %q, want default", d.Decision)
	}
	if d.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", d.Confidence)
	}
}

func TestParseLLMDecisionEmbeddedJSON(t *testing.T) {
	d := parseLLMDecision(`Here is my answer: {"decision": "embedded", "reasoning": "r", "confidence": 0.7} hope that helps`)
	if d.Decision != "embedded" {
		t.Errorf("decision = %q, want embedded", d.Decision)
	}
}

func TestEmptyQuestionGoesToLLM(t *testing.T) {
	mock := testutils.NewMockProvider(`{"decision": "nothing to decide", "reasoning": "r", "confidence": 0.8}`)
	e := NewEngine(Config{OnboardingDir: t.TempDir()}, mock, WithLogger(logger.Nop()))

	d, err := e.Decide(context.Background(), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Source != SourceLLM {
		t.Errorf("source = %q, want llm", d.Source)
	}
}
