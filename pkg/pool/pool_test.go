package pool

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bmad-labs/bmad/pkg/agent"
	"github.com/bmad-labs/bmad/pkg/llms"
	"github.com/bmad-labs/bmad/pkg/logger"
	"github.com/bmad-labs/bmad/pkg/testutils"
)

func testPersona(name string) *agent.Persona {
	return &agent.Persona{Name: name, Body: "You are " + name + "."}
}

func mockFactory(mock *testutils.MockProvider) ProviderFactory {
	return func(name string) (llms.Provider, error) {
		return mock, nil
	}
}

func newTestPool(t *testing.T, cfg Config, mock *testutils.MockProvider) *Pool {
	t.Helper()
	p := New(cfg, mockFactory(mock), WithLogger(logger.Nop()))
	t.Cleanup(p.Shutdown)
	return p
}

func TestCreateInvokeDestroy(t *testing.T) {
	mock := testutils.NewMockProvider("draft PRD content")
	mock.CostPerCall = 0.02
	p := newTestPool(t, Config{MaxConcurrentAgents: 2}, mock)

	a, err := p.Create(context.Background(), "john", testPersona("john"), agent.Context{TaskDescription: "draft PRD"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.State() != StateStarted {
		t.Errorf("state = %q, want started", a.State())
	}

	text, err := p.Invoke(context.Background(), a.ID, "write the PRD")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if text != "draft PRD content" {
		t.Errorf("text = %q", text)
	}
	if a.State() != StateInvoked {
		t.Errorf("state = %q, want invoked", a.State())
	}
	if a.EstimatedCost() != 0.02 {
		t.Errorf("agent cost = %v, want 0.02", a.EstimatedCost())
	}

	if err := p.Destroy(a.ID); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if a.State() != StateCompleted {
		t.Errorf("state = %q, want completed", a.State())
	}
	if _, err := p.Get(a.ID); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("Get after destroy error = %v, want ErrAgentNotFound", err)
	}
}

func TestInvokeSystemPromptIsPersona(t *testing.T) {
	mock := testutils.NewMockProvider("ok")
	p := newTestPool(t, Config{}, mock)

	a, err := p.Create(context.Background(), "winston", testPersona("winston"), agent.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Invoke(context.Background(), a.ID, "design it"); err != nil {
		t.Fatal(err)
	}

	if got := mock.LastCall().System; got != "You are winston." {
		t.Errorf("system prompt = %q", got)
	}
}

func TestQueueingFIFO(t *testing.T) {
	mock := testutils.NewMockProvider("ok")
	p := newTestPool(t, Config{MaxConcurrentAgents: 2}, mock)

	ctx := context.Background()
	first, err := p.Create(ctx, "mary", testPersona("mary"), agent.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Create(ctx, "john", testPersona("john"), agent.Context{}); err != nil {
		t.Fatal(err)
	}

	third := make(chan *Agent, 1)
	go func() {
		a, err := p.Create(ctx, "mary", testPersona("mary"), agent.Context{})
		if err != nil {
			t.Errorf("queued Create() error = %v", err)
		}
		third <- a
	}()

	// Wait for the third request to land in the queue.
	deadline := time.Now().Add(2 * time.Second)
	for p.QueuedTasks() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("queued tasks = %d, want 1", p.QueuedTasks())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := p.Destroy(first.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case a := <-third:
		if a == nil {
			t.Fatal("queued create returned nil agent")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued create did not resolve after Destroy")
	}

	if p.QueuedTasks() != 0 {
		t.Errorf("queued tasks = %d, want 0", p.QueuedTasks())
	}
	if got := len(p.ActiveAgents()); got != 2 {
		t.Errorf("active agents = %d, want 2", got)
	}
}

func TestQueueingDisabled(t *testing.T) {
	mock := testutils.NewMockProvider("ok")
	p := newTestPool(t, Config{MaxConcurrentAgents: 1, DisableQueueing: true}, mock)

	if _, err := p.Create(context.Background(), "a", testPersona("a"), agent.Context{}); err != nil {
		t.Fatal(err)
	}
	_, err := p.Create(context.Background(), "b", testPersona("b"), agent.Context{})
	if !errors.Is(err, ErrQueueDisabled) {
		t.Errorf("error = %v, want ErrQueueDisabled", err)
	}
}

func TestInvokeFailureLeavesAgentRetryable(t *testing.T) {
	mock := testutils.NewMockProvider("recovered")
	mock.Err = fmt.Errorf("rate limited")
	p := newTestPool(t, Config{}, mock)

	a, err := p.Create(context.Background(), "john", testPersona("john"), agent.Context{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Invoke(context.Background(), a.ID, "try"); err == nil {
		t.Fatal("Invoke should fail while provider errors")
	}
	if a.State() != StateInvoked {
		t.Errorf("state after failure = %q, want invoked (retryable)", a.State())
	}

	mock.Err = nil
	text, err := p.Invoke(context.Background(), a.ID, "retry")
	if err != nil {
		t.Fatalf("retry Invoke() error = %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q", text)
	}
}

func TestInvokeDestroyedAgent(t *testing.T) {
	mock := testutils.NewMockProvider("ok")
	p := newTestPool(t, Config{}, mock)

	a, err := p.Create(context.Background(), "x", testPersona("x"), agent.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Destroy(a.ID); err != nil {
		t.Fatal(err)
	}

	_, err = p.Invoke(context.Background(), a.ID, "late")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("error = %v, want ErrAgentNotFound", err)
	}
}

func TestLifecycleEventOrder(t *testing.T) {
	mock := testutils.NewMockProvider("ok")
	p := newTestPool(t, Config{}, mock)
	events := p.Subscribe()

	ctx := context.Background()
	a, err := p.Create(ctx, "john", testPersona("john"), agent.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Invoke(ctx, a.ID, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Invoke(ctx, a.ID, "two"); err != nil {
		t.Fatal(err)
	}
	if err := p.Destroy(a.ID); err != nil {
		t.Fatal(err)
	}

	want := []EventKind{EventStarted, EventInvoked, EventInvoked, EventCompleted}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind {
				t.Errorf("event[%d] = %q, want %q", i, ev.Kind, kind)
			}
			if ev.AgentID != a.ID {
				t.Errorf("event[%d].agent = %q", i, ev.AgentID)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d (%q)", i, kind)
		}
	}
}

func TestCostAccounting(t *testing.T) {
	mock := testutils.NewMockProvider("ok")
	mock.CostPerCall = 0.5
	p := newTestPool(t, Config{MaxConcurrentAgents: 2}, mock)

	ctx := context.Background()
	a1, _ := p.Create(ctx, "john", testPersona("john"), agent.Context{})
	a2, _ := p.Create(ctx, "mary", testPersona("mary"), agent.Context{})

	p.Invoke(ctx, a1.ID, "x")
	p.Invoke(ctx, a1.ID, "y")
	p.Invoke(ctx, a2.ID, "z")

	costs := p.Costs()
	if costs.Total != 1.5 {
		t.Errorf("total = %v, want 1.5", costs.Total)
	}
	if costs.ByAgent["john"] != 1.0 {
		t.Errorf("john = %v, want 1.0", costs.ByAgent["john"])
	}
	if costs.ByAgent["mary"] != 0.5 {
		t.Errorf("mary = %v, want 0.5", costs.ByAgent["mary"])
	}
}

func TestBudgetEnforcement(t *testing.T) {
	mock := testutils.NewMockProvider("ok")
	mock.CostPerCall = 1.0
	p := newTestPool(t, Config{MaxBudget: 2.0}, mock)

	ctx := context.Background()
	a, err := p.Create(ctx, "john", testPersona("john"), agent.Context{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := p.Invoke(ctx, a.ID, "spend"); err != nil {
			t.Fatalf("invoke %d error = %v", i, err)
		}
	}

	_, err = p.Invoke(ctx, a.ID, "over")
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("error = %v, want ErrBudgetExceeded", err)
	}
}

func TestShutdownCancelsQueue(t *testing.T) {
	mock := testutils.NewMockProvider("ok")
	p := New(Config{MaxConcurrentAgents: 1}, mockFactory(mock), WithLogger(logger.Nop()))

	ctx := context.Background()
	if _, err := p.Create(ctx, "a", testPersona("a"), agent.Context{}); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Create(ctx, "b", testPersona("b"), agent.Context{})
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.QueuedTasks() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("request never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Shutdown()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("queued create error = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued create did not resolve on shutdown")
	}

	if len(p.ActiveAgents()) != 0 {
		t.Errorf("active agents after shutdown = %d", len(p.ActiveAgents()))
	}

	if _, err := p.Create(ctx, "c", testPersona("c"), agent.Context{}); !errors.Is(err, ErrCancelled) {
		t.Errorf("Create after shutdown error = %v, want ErrCancelled", err)
	}
}
