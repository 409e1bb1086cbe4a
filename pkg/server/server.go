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

// Package server is the escalation review HTTP API. It exposes the
// same queue directory the pipeline writes, so a reviewer can list
// pending questions and answer them while workflows wait.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/invopop/jsonschema"

	"github.com/bmad-labs/bmad/pkg/escalation"
	"github.com/bmad-labs/bmad/pkg/observability"
	"github.com/bmad-labs/bmad/pkg/orchestrator"
)

// Config configures the review server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Root is the project root, used for the workflow status endpoint.
	Root string
}

// Server serves the escalation review API.
type Server struct {
	config  Config
	queue   *escalation.Queue
	metrics observability.Recorder
	logger  *slog.Logger
	http    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics attaches a metrics recorder and scrape endpoint.
func WithMetrics(r observability.Recorder) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// New creates a review server over the given queue.
func New(cfg Config, queue *escalation.Queue, opts ...Option) (*Server, error) {
	if queue == nil {
		return nil, fmt.Errorf("escalation queue is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{
		config:  cfg,
		queue:   queue,
		metrics: observability.NoopMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the chi router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/escalations", s.handleList)
		r.Get("/escalations/metrics", s.handleMetrics)
		r.Get("/escalations/schema", s.handleSchema)
		r.Get("/escalations/{id}", s.handleGet)
		r.Post("/escalations/{id}/respond", s.handleRespond)
		r.Post("/escalations/{id}/cancel", s.handleCancel)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("escalation review server listening", "addr", s.config.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("review server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.queue.List(escalation.Filter{
		Status:     escalation.Status(r.URL.Query().Get("status")),
		WorkflowID: r.URL.Query().Get("workflow"),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": list, "count": len(list)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	esc, err := s.queue.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var resp escalation.Response
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid response body: %w", err))
		return
	}
	if resp.Decision == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decision is required"))
		return
	}

	id := chi.URLParam(r, "id")
	esc, err := s.queue.Respond(id, resp)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.metrics.RecordEscalation(r.Context(), esc.WorkflowID, "resolved")
	s.logger.Info("escalation resolved via api", "id", id, "responder", resp.Responder)
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	esc, err := s.queue.Cancel(id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.metrics.RecordEscalation(r.Context(), esc.WorkflowID, "cancelled")
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m, err := s.queue.GetMetrics()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jsonschema.Reflect(&escalation.Escalation{}))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sf, err := orchestrator.LoadStatus(s.config.Root)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sf)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, escalation.ErrNotPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
