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

// Package state persists per-project workflow state. Writes are atomic
// (temp file plus rename) so a crash mid-write leaves the previous good
// state intact.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the workflow execution status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// WorkflowState is the durable execution record for one workflow run.
type WorkflowState struct {
	ProjectID   string         `json:"project_id"`
	Workflow    string         `json:"workflow,omitempty"`
	Status      Status         `json:"status"`
	CurrentStep int            `json:"current_step"`
	Variables   map[string]any `json:"variables"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewWorkflowState creates a fresh running state for a project.
func NewWorkflowState(projectID string) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		ProjectID:   projectID,
		Status:      StatusRunning,
		CurrentStep: 0,
		Variables:   make(map[string]any),
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the state's internal consistency.
func (s *WorkflowState) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	switch s.Status {
	case StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("invalid status: %q", s.Status)
	}
	if s.CurrentStep < 0 {
		return fmt.Errorf("current_step cannot be negative: %d", s.CurrentStep)
	}
	return nil
}

// Serialize encodes the state as indented JSON.
func (s *WorkflowState) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return data, nil
}

// Deserialize decodes state from JSON.
func Deserialize(data []byte) (*WorkflowState, error) {
	var s WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to deserialize state: %w", err)
	}
	if s.Variables == nil {
		s.Variables = make(map[string]any)
	}
	return &s, nil
}
