package cis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bmad-labs/bmad/pkg/testutils"
)

func TestClassify(t *testing.T) {
	r := NewRouter(Config{}, testutils.NewMockProvider("{}"))

	tests := []struct {
		decision string
		want     Category
	}{
		{"Should we shard the database for scalability?", CategoryTechnical},
		{"Is the onboarding flow too long for accessibility?", CategoryUX},
		{"Does the pricing model fit the market roadmap?", CategoryProduct},
		{"Brainstorm an unconventional prototype approach", CategoryInnovation},
		{"Completely unrelated question", CategoryTechnical},
		{"", CategoryTechnical},
	}
	for _, tt := range tests {
		if got := r.Classify(tt.decision); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.decision, got, tt.want)
		}
	}
}

func TestClassifyWordBoundaries(t *testing.T) {
	r := NewRouter(Config{}, testutils.NewMockProvider("{}"))
	// "apiece" must not count as an "api" hit.
	if got := r.Classify("they cost a dollar apiece for the customer market"); got != CategoryProduct {
		t.Errorf("Classify = %q, want product", got)
	}
}

func TestRouteDecision(t *testing.T) {
	provider := testutils.NewMockProvider(
		`{"recommendation": "Shard by tenant", "reasoning": "Isolation", "confidence": 0.8}`)
	r := NewRouter(Config{}, provider)

	c, err := r.RouteDecision(context.Background(), "Should we shard the database?")
	if err != nil {
		t.Fatal(err)
	}
	if c.Recommendation != "Shard by tenant" {
		t.Errorf("recommendation = %q", c.Recommendation)
	}
	if c.Category != CategoryTechnical {
		t.Errorf("category = %q", c.Category)
	}
	if provider.LastCall().System == "" {
		t.Error("persona system prompt missing from request")
	}
}

func TestRouteDecisionFencedJSON(t *testing.T) {
	provider := testutils.NewMockProvider(
		"Here you go:\n```json\n{\"recommendation\": \"Use feature flags\", \"confidence\": 0.7}\n```")
	r := NewRouter(Config{}, provider)

	c, err := r.RouteDecision(context.Background(), "rollout question")
	if err != nil {
		t.Fatal(err)
	}
	if c.Recommendation != "Use feature flags" {
		t.Errorf("recommendation = %q", c.Recommendation)
	}
}

func TestRouteDecisionUnparseableResponse(t *testing.T) {
	provider := testutils.NewMockProvider("just some prose advice")
	r := NewRouter(Config{}, provider)

	c, err := r.RouteDecision(context.Background(), "question")
	if err != nil {
		t.Fatal(err)
	}
	if c.Recommendation != "No recommendation provided" {
		t.Errorf("recommendation = %q, want the default", c.Recommendation)
	}
	if c.Reasoning != "just some prose advice" {
		t.Errorf("reasoning = %q, want the raw response preserved", c.Reasoning)
	}
	if c.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 fallback", c.Confidence)
	}
}

func TestInvocationCap(t *testing.T) {
	provider := testutils.NewMockProvider(`{"recommendation": "ok", "confidence": 0.9}`)
	r := NewRouter(Config{}, provider)
	events := r.Subscribe(16)

	for i := 1; i <= 3; i++ {
		if _, err := r.RouteDecision(context.Background(), fmt.Sprintf("Decision %d", i)); err != nil {
			t.Fatalf("invocation %d: %v", i, err)
		}
	}

	_, err := r.RouteDecision(context.Background(), "Decision 4")
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}
	if !strings.Contains(err.Error(), "invocation limit exceeded") {
		t.Errorf("err = %q, want invocation limit exceeded mentioned", err)
	}
	if provider.CallCount() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.CallCount())
	}

	var limitEvents []Event
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventLimitExceeded {
				limitEvents = append(limitEvents, ev)
			}
			continue
		default:
		}
		break
	}
	if len(limitEvents) != 1 {
		t.Fatalf("limit events = %d, want 1", len(limitEvents))
	}
	p := limitEvents[0].Payload
	if p["decision"] != "Decision 4" || p["count"] != 3 || p["limit"] != 3 {
		t.Errorf("payload = %v, want decision 4 / count 3 / limit 3", p)
	}
}

func TestSuccessEventPayload(t *testing.T) {
	r := NewRouter(Config{}, testutils.NewMockProvider(`{"recommendation": "ok", "confidence": 0.9}`))
	events := r.Subscribe(4)

	if _, err := r.RouteDecision(context.Background(), "shard the database"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Kind != EventSuccess {
			t.Fatalf("kind = %q", ev.Kind)
		}
		if ev.Payload["agent"] != "technical" || ev.Payload["count"] != 1 {
			t.Errorf("payload = %v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}

func TestErrorEventAndHistory(t *testing.T) {
	provider := testutils.NewMockProvider()
	provider.Err = errors.New("upstream down")
	r := NewRouter(Config{}, provider)
	events := r.Subscribe(4)

	if _, err := r.RouteDecision(context.Background(), "question"); err == nil {
		t.Fatal("expected invocation error")
	}

	select {
	case ev := <-events:
		if ev.Kind != EventError {
			t.Fatalf("kind = %q", ev.Kind)
		}
		if ev.Payload["error"] != "upstream down" {
			t.Errorf("payload = %v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}

	history := r.History()
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(history))
	}
	if history[0].Success {
		t.Error("failed invocation recorded as success")
	}
	if history[0].Error != "upstream down" {
		t.Errorf("history error = %q", history[0].Error)
	}
}

func TestHistoryRecordsSuccess(t *testing.T) {
	r := NewRouter(Config{}, testutils.NewMockProvider(`{"recommendation": "ok", "confidence": 0.9}`))

	r.RouteDecision(context.Background(), "first")
	r.RouteDecision(context.Background(), "second")

	history := r.History()
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	for _, inv := range history {
		if !inv.Success {
			t.Errorf("invocation %q not marked successful", inv.Decision)
		}
	}
	if r.Remaining() != 1 {
		t.Errorf("remaining = %d, want 1", r.Remaining())
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	if cfg.Limit != 3 {
		t.Errorf("limit = %d, want 3", cfg.Limit)
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", cfg.Timeout)
	}
}
