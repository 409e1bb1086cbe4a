package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bmad-labs/bmad/pkg/escalation"
	"github.com/bmad-labs/bmad/pkg/logger"
	"github.com/bmad-labs/bmad/pkg/orchestrator"
	"github.com/bmad-labs/bmad/pkg/state"

	"gopkg.in/yaml.v3"
)

func newTestServer(t *testing.T) (*Server, *escalation.Queue, string) {
	t.Helper()

	root := t.TempDir()
	queue, err := escalation.NewQueue(filepath.Join(root, ".bmad", "escalations"))
	if err != nil {
		t.Fatal(err)
	}

	srv, err := New(Config{Root: root}, queue, WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	return srv, queue, root
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, out
}

func addEscalation(t *testing.T, queue *escalation.Queue, workflow string) string {
	t.Helper()
	id, err := queue.Add(escalation.Input{
		WorkflowID: workflow,
		Question:   "Proceed with the proposed data model?",
		Confidence: 0.4,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestListEscalationsFiltered(t *testing.T) {
	srv, queue, _ := newTestServer(t)
	addEscalation(t, queue, "prd")
	addEscalation(t, queue, "architecture")

	rec, body := doJSON(t, srv.Handler(), "GET", "/v1/escalations?workflow=prd", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}

	rec, body = doJSON(t, srv.Handler(), "GET", "/v1/escalations?status=pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestGetEscalation(t *testing.T) {
	srv, queue, _ := newTestServer(t)
	id := addEscalation(t, queue, "prd")

	rec, body := doJSON(t, srv.Handler(), "GET", "/v1/escalations/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["id"] != id {
		t.Errorf("id = %v, want %s", body["id"], id)
	}

	rec, _ = doJSON(t, srv.Handler(), "GET", "/v1/escalations/esc-0-missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}

func TestRespond(t *testing.T) {
	srv, queue, _ := newTestServer(t)
	id := addEscalation(t, queue, "prd")

	payload := `{"decision": "approve", "rationale": "model is fine", "responder": "alice"}`
	rec, body := doJSON(t, srv.Handler(), "POST", "/v1/escalations/"+id+"/respond", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", rec.Code, body)
	}
	if body["status"] != string(escalation.StatusResolved) {
		t.Errorf("status = %v, want resolved", body["status"])
	}

	// Responding twice conflicts.
	rec, _ = doJSON(t, srv.Handler(), "POST", "/v1/escalations/"+id+"/respond", payload)
	if rec.Code != http.StatusConflict {
		t.Errorf("second respond status = %d, want 409", rec.Code)
	}
}

func TestRespondRequiresDecision(t *testing.T) {
	srv, queue, _ := newTestServer(t)
	id := addEscalation(t, queue, "prd")

	rec, _ := doJSON(t, srv.Handler(), "POST", "/v1/escalations/"+id+"/respond", `{"responder": "alice"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, srv.Handler(), "POST", "/v1/escalations/"+id+"/respond", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestCancel(t *testing.T) {
	srv, queue, _ := newTestServer(t)
	id := addEscalation(t, queue, "solutioning")

	rec, body := doJSON(t, srv.Handler(), "POST", "/v1/escalations/"+id+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != string(escalation.StatusCancelled) {
		t.Errorf("status = %v, want cancelled", body["status"])
	}
}

func TestQueueMetrics(t *testing.T) {
	srv, queue, _ := newTestServer(t)
	id := addEscalation(t, queue, "prd")
	if _, err := queue.Respond(id, escalation.Response{Decision: "approve"}); err != nil {
		t.Fatal(err)
	}

	rec, body := doJSON(t, srv.Handler(), "GET", "/v1/escalations/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["total_escalations"].(float64) != 1 {
		t.Errorf("total = %v", body["total_escalations"])
	}
	if body["resolved_count"].(float64) != 1 {
		t.Errorf("resolved = %v", body["resolved_count"])
	}
}

func TestSchema(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), "GET", "/v1/escalations/schema", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["$schema"] == nil {
		t.Errorf("schema response missing $schema: %v", body)
	}
}

func TestWorkflowStatus(t *testing.T) {
	srv, _, root := newTestServer(t)

	sf := orchestrator.StatusFile{
		Project: "demo",
		Phases: map[string]orchestrator.PhaseStatus{
			"prd": {Status: string(state.StatusCompleted), Score: 92, Artifact: "docs/PRD.md"},
		},
		UpdatedAt: time.Now().UTC(),
	}
	raw, err := yaml.Marshal(&sf)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, orchestrator.StatusPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	rec, body := doJSON(t, srv.Handler(), "GET", "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["project"] != "demo" {
		t.Errorf("project = %v", body["project"])
	}
	phases := body["phases"].(map[string]any)
	if _, ok := phases["prd"]; !ok {
		t.Errorf("phases = %v", phases)
	}
}

func TestStartAndShutdown(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Bind an ephemeral port so parallel test runs do not collide.
	srv.config.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
