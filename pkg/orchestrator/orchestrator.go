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

// Package orchestrator composes the agent pool, decision engine,
// escalation queue, and validators into delivery phases. Each phase
// reads upstream artifacts from docs/, produces its own, and records
// progress in the workflow status file.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/decision"
	"github.com/bmad-labs/bmad/pkg/escalation"
	"github.com/bmad-labs/bmad/pkg/pool"
	"github.com/bmad-labs/bmad/pkg/state"
)

// Phase names, also used as workflow ids in state and escalations.
const (
	PhasePRD          = "prd"
	PhaseArchitecture = "architecture"
	PhaseSolutioning  = "solutioning"
)

var (
	// ErrSuspended is returned when a phase pauses on a pending
	// escalation. The escalation id is carried in the phase result.
	ErrSuspended = errors.New("orchestrator: suspended pending escalation")

	// ErrValidationFailed marks a generated artifact that did not clear
	// its gate.
	ErrValidationFailed = errors.New("orchestrator: artifact failed validation")

	// ErrMissingArtifact is returned when an upstream phase artifact is
	// absent.
	ErrMissingArtifact = errors.New("orchestrator: upstream artifact missing")
)

// Deps are the shared collaborators every phase needs. All fields are
// required unless noted on the phase.
type Deps struct {
	Config      *config.Config
	Pool        *pool.Pool
	Decision    *decision.Engine
	Escalations *escalation.Queue
	States      *state.Store
	Logger      *slog.Logger

	// Root is the project root; artifacts go under Root/docs.
	Root string
}

func (d *Deps) validate() error {
	if d.Config == nil {
		return fmt.Errorf("config is required")
	}
	if d.Pool == nil {
		return fmt.Errorf("agent pool is required")
	}
	if d.Decision == nil {
		return fmt.Errorf("decision engine is required")
	}
	if d.Escalations == nil {
		return fmt.Errorf("escalation queue is required")
	}
	if d.States == nil {
		return fmt.Errorf("state store is required")
	}
	if d.Root == "" {
		return fmt.Errorf("project root is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}

// PhaseResult summarizes one phase run.
type PhaseResult struct {
	Phase        string  `json:"phase"`
	Score        float64 `json:"score"`
	Passed       bool    `json:"passed"`
	Artifact     string  `json:"artifact,omitempty"`
	Attempts     int     `json:"attempts"`
	EscalationID string  `json:"escalation_id,omitempty"`
	Cost         float64 `json:"cost"`
}

// RetryPolicy retries regeneration after validator or provider
// failures with exponential backoff and jitter.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Do runs fn until it succeeds or attempts run out. fn receives the
// 1-based attempt number. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(attempt int) error) (int, error) {
	p = p.normalize()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == p.Attempts {
			break
		}

		delay := p.BaseDelay << (attempt - 1)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))

		logger.Warn("phase attempt failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
	}
	return p.Attempts, lastErr
}

// escalateAndPause enqueues a human question and pauses the workflow
// state.
func escalateAndPause(d *Deps, st *state.WorkflowState, phase, question, reasoning string, confidence float64) (string, error) {
	id, err := d.Escalations.Add(escalation.Input{
		WorkflowID:  phase,
		Step:        st.CurrentStep,
		Question:    question,
		AIReasoning: reasoning,
		Confidence:  confidence,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue escalation: %w", err)
	}

	st.Status = state.StatusPaused
	if err := d.States.Save(st); err != nil {
		return id, fmt.Errorf("failed to persist paused state: %w", err)
	}
	return id, nil
}

var leadingFenceRe = regexp.MustCompile("^```[a-zA-Z]*\\n")

// stripFences removes a single wrapping code fence from an LLM
// markdown response.
func stripFences(text string) string {
	out := strings.TrimSpace(text)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	out = leadingFenceRe.ReplaceAllString(out, "")
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}

// extractJSON pulls a JSON payload out of an LLM response, tolerating
// code fences and surrounding prose.
func extractJSON(text string) string {
	candidate := strings.TrimSpace(text)
	if m := jsonFenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(candidate, "{") || strings.HasPrefix(candidate, "[") {
		return candidate
	}
	for _, open := range []string{"[", "{"} {
		start := strings.Index(candidate, open)
		if start < 0 {
			continue
		}
		closer := "}"
		if open == "[" {
			closer = "]"
		}
		if end := strings.LastIndex(candidate, closer); end > start {
			return candidate[start : end+1]
		}
	}
	return candidate
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// checkBudgetAlert logs a warning when spend crosses the configured
// alert fraction of the monthly budget.
func checkBudgetAlert(d *Deps) {
	max := d.Config.CostManagement.MaxMonthlyBudget
	if max <= 0 {
		return
	}
	spent := d.Pool.Costs().Total
	if spent >= max*d.Config.CostManagement.AlertThreshold {
		d.Logger.Warn("cost budget alert",
			"spent", spent,
			"budget", max,
			"threshold", d.Config.CostManagement.AlertThreshold)
	}
}
