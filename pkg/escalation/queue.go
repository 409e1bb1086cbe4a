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

package escalation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no escalation exists for an id.
	ErrNotFound = errors.New("escalation: not found")

	// ErrNotPending is returned when responding to a resolved or
	// cancelled escalation.
	ErrNotPending = errors.New("escalation: not pending")
)

// Queue is a filesystem-backed escalation store.
type Queue struct {
	root   string
	logger *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// NewQueue creates a Queue rooted at dir, creating it if needed.
func NewQueue(dir string, opts ...QueueOption) (*Queue, error) {
	if dir == "" {
		return nil, fmt.Errorf("escalation directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create escalation directory: %w", err)
	}

	q := &Queue{root: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Root returns the queue directory.
func (q *Queue) Root() string {
	return q.root
}

// Add persists a new pending escalation and returns its id.
func (q *Queue) Add(in Input) (string, error) {
	if err := in.Validate(); err != nil {
		return "", fmt.Errorf("invalid escalation: %w", err)
	}

	esc := &Escalation{
		ID:          NewID(),
		WorkflowID:  in.WorkflowID,
		Step:        in.Step,
		Question:    in.Question,
		AIReasoning: in.AIReasoning,
		Confidence:  in.Confidence,
		Context:     in.Context,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	if err := q.write(esc); err != nil {
		return "", err
	}

	q.logger.Warn("escalation created, human input required",
		"id", esc.ID,
		"workflow", esc.WorkflowID,
		"question", esc.Question,
		"confidence", esc.Confidence)

	return esc.ID, nil
}

// Respond resolves a pending escalation with the given response.
func (q *Queue) Respond(id string, resp Response) (*Escalation, error) {
	esc, err := q.GetByID(id)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, esc.Status)
	}

	now := time.Now()
	esc.Status = StatusResolved
	esc.Response = &resp
	esc.ResolvedAt = &now
	esc.ResolutionTime = now.Sub(esc.CreatedAt).Milliseconds()

	if err := q.write(esc); err != nil {
		return nil, err
	}

	q.logger.Info("escalation resolved",
		"id", esc.ID,
		"workflow", esc.WorkflowID,
		"resolution_time_ms", esc.ResolutionTime)

	return esc, nil
}

// Cancel marks a pending escalation cancelled.
func (q *Queue) Cancel(id string) (*Escalation, error) {
	esc, err := q.GetByID(id)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, esc.Status)
	}

	esc.Status = StatusCancelled
	if err := q.write(esc); err != nil {
		return nil, err
	}

	q.logger.Info("escalation cancelled", "id", esc.ID)
	return esc, nil
}

// GetByID loads one escalation by id.
func (q *Queue) GetByID(id string) (*Escalation, error) {
	data, err := os.ReadFile(q.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read escalation %s: %w", id, err)
	}

	var esc Escalation
	if err := json.Unmarshal(data, &esc); err != nil {
		return nil, fmt.Errorf("failed to parse escalation %s: %w", id, err)
	}
	return &esc, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status     Status
	WorkflowID string
}

// List enumerates escalations matching the filter, newest first.
// A missing directory yields an empty list.
func (q *Queue) List(f Filter) ([]*Escalation, error) {
	entries, err := os.ReadDir(q.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}

	var result []*Escalation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		esc, err := q.GetByID(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			q.logger.Warn("skipping unreadable escalation file", "file", entry.Name(), "error", err)
			continue
		}

		if f.Status != "" && esc.Status != f.Status {
			continue
		}
		if f.WorkflowID != "" && esc.WorkflowID != f.WorkflowID {
			continue
		}
		result = append(result, esc)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// GetMetrics computes queue metrics over all escalations.
func (q *Queue) GetMetrics() (*Metrics, error) {
	all, err := q.List(Filter{})
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		TotalEscalations:  len(all),
		CategoryBreakdown: make(map[string]int),
	}

	var totalResolution int64
	for _, esc := range all {
		m.CategoryBreakdown[esc.WorkflowID]++
		if esc.Status == StatusResolved {
			m.ResolvedCount++
			totalResolution += esc.ResolutionTime
		}
	}
	if m.ResolvedCount > 0 {
		m.AverageResolutionTime = float64(totalResolution) / float64(m.ResolvedCount)
	}

	return m, nil
}

func (q *Queue) path(id string) string {
	return filepath.Join(q.root, id+".json")
}

func (q *Queue) write(esc *Escalation) error {
	data, err := json.MarshalIndent(esc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize escalation: %w", err)
	}
	if err := os.WriteFile(q.path(esc.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write escalation %s: %w", esc.ID, err)
	}
	return nil
}
