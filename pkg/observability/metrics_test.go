package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/bmad-labs/bmad/pkg/cis"
	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/pool"
)

func TestInitMetricsDisabled(t *testing.T) {
	r, err := InitMetrics(config.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(NoopMetrics); !ok {
		t.Fatalf("recorder = %T, want NoopMetrics", r)
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Errorf("disabled handler status = %d, want 503", rec.Code)
	}
}

func TestInitMetricsEnabled(t *testing.T) {
	r, err := InitMetrics(config.MetricsConfig{Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	r.RecordInvocation(ctx, "john", 0, nil)
	r.RecordInvocation(ctx, "john", 0, errors.New("boom"))
	r.RecordCost(ctx, "john", 0.12)
	r.RecordEscalation(ctx, "prd", "opened")
	r.RecordDecision(ctx, "llm", 0.8)
	r.RecordConsultation(ctx, "technical", nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Errorf("handler status = %d", rec.Code)
	}
}

func TestWatchPoolAndRouter(t *testing.T) {
	r := NoopMetrics{}

	poolCh := make(chan pool.Event, 2)
	poolCh <- pool.Event{Kind: pool.EventInvoked, AgentName: "john", Cost: 0.1}
	poolCh <- pool.Event{Kind: pool.EventFailed, AgentName: "john", Err: errors.New("x")}
	close(poolCh)
	WatchPool(r, poolCh)

	cisCh := make(chan cis.Event, 2)
	cisCh <- cis.Event{Kind: cis.EventSuccess, Payload: map[string]any{"agent": "ux"}}
	cisCh <- cis.Event{Kind: cis.EventError, Payload: map[string]any{"agent": "ux"}}
	close(cisCh)
	WatchRouter(r, cisCh)
}
