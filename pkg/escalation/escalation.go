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

// Package escalation implements a durable queue of pending human-input
// requests. Each escalation is one JSON file under the queue root, so
// concurrent adds across workflows never contend.
package escalation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the escalation lifecycle state. Transitions are monotone:
// pending moves to resolved or cancelled, never back.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolved  Status = "resolved"
	StatusCancelled Status = "cancelled"
)

// Response is the human answer attached on resolution.
type Response struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale,omitempty"`
	Responder string `json:"responder,omitempty"`
}

// Escalation is one pending (or answered) human question.
type Escalation struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Step        int            `json:"step"`
	Question    string         `json:"question"`
	AIReasoning string         `json:"ai_reasoning,omitempty"`
	Confidence  float64        `json:"confidence"`
	Context     map[string]any `json:"context,omitempty"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Response    *Response      `json:"response,omitempty"`

	// ResolutionTime is resolvedAt minus createdAt, in milliseconds.
	ResolutionTime int64 `json:"resolution_time_ms,omitempty"`
}

// Input is the caller-supplied portion of a new escalation.
type Input struct {
	WorkflowID  string
	Step        int
	Question    string
	AIReasoning string
	Confidence  float64
	Context     map[string]any
}

// Validate checks required input fields.
func (in *Input) Validate() error {
	if in.WorkflowID == "" {
		return fmt.Errorf("workflow_id is required")
	}
	if in.Question == "" {
		return fmt.Errorf("question is required")
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", in.Confidence)
	}
	return nil
}

// NewID generates an escalation id of the form esc-<unix-ms>-<rand>.
func NewID() string {
	return fmt.Sprintf("esc-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Metrics summarizes queue activity.
type Metrics struct {
	TotalEscalations      int            `json:"total_escalations"`
	ResolvedCount         int            `json:"resolved_count"`
	AverageResolutionTime float64        `json:"average_resolution_time_ms"`
	CategoryBreakdown     map[string]int `json:"category_breakdown"`
}
