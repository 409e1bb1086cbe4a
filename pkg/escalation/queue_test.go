package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bmad-labs/bmad/pkg/logger"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(t.TempDir(), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	return q
}

func TestEscalationLifecycle(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Add(Input{
		WorkflowID:  "prd",
		Step:        3,
		Question:    "Use microservices?",
		AIReasoning: "confidence below threshold",
		Confidence:  0.69,
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !strings.HasPrefix(id, "esc-") {
		t.Errorf("id = %q, want esc- prefix", id)
	}

	pending, err := q.List(Filter{Status: StatusPending})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending = %v, want one entry with id %s", pending, id)
	}

	resolved, err := q.Respond(id, Response{Decision: "yes", Rationale: "team has k8s experience"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Errorf("status = %q, want resolved", resolved.Status)
	}
	if resolved.Response == nil || resolved.Response.Decision != "yes" {
		t.Errorf("response = %+v", resolved.Response)
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedAt.Before(resolved.CreatedAt) {
		t.Errorf("resolvedAt = %v, createdAt = %v", resolved.ResolvedAt, resolved.CreatedAt)
	}
	if want := resolved.ResolvedAt.Sub(resolved.CreatedAt).Milliseconds(); resolved.ResolutionTime != want {
		t.Errorf("resolution_time = %d, want %d", resolved.ResolutionTime, want)
	}

	pending, err = q.List(Filter{Status: StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after respond = %d, want 0", len(pending))
	}
}

func TestRespondNotFound(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Respond("esc-0-deadbeef", Response{Decision: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRespondNotPending(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Add(Input{WorkflowID: "prd", Question: "q", Confidence: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Respond(id, Response{Decision: "a"}); err != nil {
		t.Fatal(err)
	}

	_, err = q.Respond(id, Response{Decision: "b"})
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("error = %v, want ErrNotPending", err)
	}
}

func TestCancel(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Add(Input{WorkflowID: "arch", Question: "q", Confidence: 0.4})
	if err != nil {
		t.Fatal(err)
	}

	esc, err := q.Cancel(id)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if esc.Status != StatusCancelled {
		t.Errorf("status = %q, want cancelled", esc.Status)
	}
	if _, err := q.Respond(id, Response{Decision: "late"}); !errors.Is(err, ErrNotPending) {
		t.Errorf("Respond after cancel error = %v, want ErrNotPending", err)
	}
}

func TestAddValidation(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.Add(Input{Question: "q", Confidence: 0.5}); err == nil {
		t.Error("Add without workflow id should fail")
	}
	if _, err := q.Add(Input{WorkflowID: "w", Confidence: 0.5}); err == nil {
		t.Error("Add without question should fail")
	}
	if _, err := q.Add(Input{WorkflowID: "w", Question: "q", Confidence: 1.5}); err == nil {
		t.Error("Add with out-of-range confidence should fail")
	}
}

func TestListByWorkflow(t *testing.T) {
	q := newTestQueue(t)

	for i := 0; i < 3; i++ {
		if _, err := q.Add(Input{WorkflowID: "prd", Question: fmt.Sprintf("q%d", i), Confidence: 0.5}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := q.Add(Input{WorkflowID: "arch", Question: "other", Confidence: 0.5}); err != nil {
		t.Fatal(err)
	}

	prd, err := q.List(Filter{WorkflowID: "prd"})
	if err != nil {
		t.Fatal(err)
	}
	if len(prd) != 3 {
		t.Errorf("prd escalations = %d, want 3", len(prd))
	}
}

func TestListMissingDirectory(t *testing.T) {
	q := &Queue{root: "/nonexistent/escalations", logger: logger.Nop()}

	list, err := q.List(Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("list = %v, want empty", list)
	}
}

func TestGetMetrics(t *testing.T) {
	q := newTestQueue(t)

	var ids []string
	for i := 0; i < 4; i++ {
		wf := "prd"
		if i >= 3 {
			wf = "arch"
		}
		id, err := q.Add(Input{WorkflowID: wf, Question: fmt.Sprintf("q%d", i), Confidence: 0.5})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if _, err := q.Respond(ids[0], Response{Decision: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Respond(ids[1], Response{Decision: "b"}); err != nil {
		t.Fatal(err)
	}

	m, err := q.GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics() error = %v", err)
	}
	if m.TotalEscalations != 4 {
		t.Errorf("total = %d, want 4", m.TotalEscalations)
	}
	if m.ResolvedCount != 2 {
		t.Errorf("resolved = %d, want 2", m.ResolvedCount)
	}
	if m.CategoryBreakdown["prd"] != 3 || m.CategoryBreakdown["arch"] != 1 {
		t.Errorf("breakdown = %v", m.CategoryBreakdown)
	}
	if m.AverageResolutionTime < 0 {
		t.Errorf("average resolution time = %v", m.AverageResolutionTime)
	}
}

func TestMetricsPerformance(t *testing.T) {
	q := newTestQueue(t)

	for i := 0; i < 50; i++ {
		if _, err := q.Add(Input{WorkflowID: "prd", Question: fmt.Sprintf("q%d", i), Confidence: 0.5}); err != nil {
			t.Fatal(err)
		}
	}

	start := time.Now()
	if _, err := q.GetMetrics(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("GetMetrics over 50 records took %v, want < 500ms", elapsed)
	}
}

func TestWaitForResponse(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Add(Input{WorkflowID: "prd", Question: "q", Confidence: 0.5})
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.Respond(id, Response{Decision: "approved"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	esc, err := q.WaitForResponse(ctx, id)
	if err != nil {
		t.Fatalf("WaitForResponse() error = %v", err)
	}
	if esc.Status != StatusResolved || esc.Response.Decision != "approved" {
		t.Errorf("escalation = %+v", esc)
	}
}

func TestWaitForResponseContextCancelled(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Add(Input{WorkflowID: "prd", Question: "q", Confidence: 0.5})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = q.WaitForResponse(ctx, id)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}
