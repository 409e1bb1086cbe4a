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

// Package decision implements the autonomous decision engine. Questions
// are first matched against project onboarding docs; only unmatched
// questions reach the LLM. Low-confidence answers are flagged for
// escalation.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bmad-labs/bmad/pkg/llms"
)

// Source identifies where a decision came from.
type Source string

const (
	SourceOnboarding Source = "onboarding"
	SourceLLM        Source = "llm"
)

// onboardingConfidence is pinned for decisions answered from docs.
const onboardingConfidence = 0.95

// Decision is one answered question with its confidence and provenance.
type Decision struct {
	Question     string         `json:"question"`
	DecisionText string         `json:"decision"`
	Confidence   float64        `json:"confidence"`
	Reasoning    string         `json:"reasoning"`
	Source       Source         `json:"source"`
	Timestamp    time.Time      `json:"timestamp"`
	Context      map[string]any `json:"context,omitempty"`
}

// NeedsEscalation reports whether the decision fell below the engine's
// threshold.
func (d *Decision) NeedsEscalation() bool {
	return strings.Contains(d.Reasoning, EscalationMarker)
}

// EscalationMarker is embedded in reasoning when confidence is below
// threshold so callers can detect it without re-checking numbers.
const EscalationMarker = "ESCALATION REQUIRED"

// Config configures an Engine.
type Config struct {
	// OnboardingDir holds project markdown docs consulted before the
	// LLM. Empty disables the onboarding pass.
	OnboardingDir string

	// EscalationThreshold flags decisions below it for escalation.
	EscalationThreshold float64

	// Temperature for LLM decision calls.
	Temperature float64
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.EscalationThreshold == 0 {
		c.EscalationThreshold = 0.75
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
}

// Engine answers questions with confidence-scored decisions. Every call
// appends to an in-memory audit trail scoped to the engine instance.
type Engine struct {
	config   Config
	provider llms.Provider
	logger   *slog.Logger

	mu    sync.Mutex
	audit []Decision
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine backed by the given provider.
func NewEngine(cfg Config, provider llms.Provider, opts ...EngineOption) *Engine {
	cfg.SetDefaults()
	e := &Engine{
		config:   cfg,
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide answers a question, trying onboarding docs first and falling
// back to the LLM. An empty question is accepted and goes straight to
// the LLM.
func (e *Engine) Decide(ctx context.Context, question string, decisionContext map[string]any) (*Decision, error) {
	if d := e.tryOnboarding(question); d != nil {
		d.Context = decisionContext
		e.record(*d)
		return d, nil
	}

	d, err := e.askLLM(ctx, question)
	if err != nil {
		return nil, err
	}
	d.Context = decisionContext
	e.finalize(d)
	e.record(*d)
	return d, nil
}

// AuditTrail returns a copy of every decision made by this engine.
func (e *Engine) AuditTrail() []Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Decision, len(e.audit))
	copy(out, e.audit)
	return out
}

// tryOnboarding scans onboarding markdown for keyword overlap with the
// question. A match answers the question at pinned confidence.
func (e *Engine) tryOnboarding(question string) *Decision {
	if e.config.OnboardingDir == "" {
		return nil
	}

	keywords := significantWords(question)
	if len(keywords) == 0 {
		return nil
	}

	entries, err := os.ReadDir(e.config.OnboardingDir)
	if err != nil {
		return nil
	}

	var bestFile string
	var bestScore int
	var bestExcerpt string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(e.config.OnboardingDir, entry.Name()))
		if err != nil {
			continue
		}
		content := strings.ToLower(string(data))

		score := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestFile = entry.Name()
			bestExcerpt = excerpt(string(data))
		}
	}

	// Require most keywords to appear before trusting a doc.
	if bestFile == "" || bestScore*2 < len(keywords) {
		return nil
	}

	e.logger.Debug("question answered from onboarding docs",
		"file", bestFile,
		"matched_keywords", bestScore)

	return &Decision{
		Question:     question,
		DecisionText: bestExcerpt,
		Confidence:   onboardingConfidence,
		Reasoning:    fmt.Sprintf("Answered from onboarding document %s (%d/%d keywords matched)", bestFile, bestScore, len(keywords)),
		Source:       SourceOnboarding,
		Timestamp:    time.Now(),
	}
}

type llmDecision struct {
	Decision   string  `json:"decision"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

const decisionPrompt = `You are making an autonomous engineering decision for a software delivery pipeline.

Question: %s

Respond with JSON only:
{"decision": "<your decision>", "reasoning": "<why>", "confidence": <0.0-1.0>}`

func (e *Engine) askLLM(ctx context.Context, question string) (*Decision, error) {
	resp, err := e.provider.Invoke(ctx, llms.Request{
		Prompt:      fmt.Sprintf(decisionPrompt, question),
		Temperature: llms.Float64Ptr(e.config.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("decision invocation failed: %w", err)
	}

	parsed := parseLLMDecision(resp.Text)

	return &Decision{
		Question:     question,
		DecisionText: parsed.Decision,
		Confidence:   clamp01(parsed.Confidence),
		Reasoning:    parsed.Reasoning,
		Source:       SourceLLM,
		Timestamp:    time.Now(),
	}, nil
}

// finalize appends the escalation marker when confidence falls below
// the threshold.
func (e *Engine) finalize(d *Decision) {
	if d.Confidence < e.config.EscalationThreshold {
		d.Reasoning = fmt.Sprintf("%s %s: confidence %.2f below threshold %.2f",
			strings.TrimSpace(d.Reasoning), EscalationMarker, d.Confidence, e.config.EscalationThreshold)
	}
}

func (e *Engine) record(d Decision) {
	e.mu.Lock()
	e.audit = append(e.audit, d)
	e.mu.Unlock()
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseLLMDecision tolerates raw JSON or JSON inside a code fence, and
// degrades to defaults instead of failing.
func parseLLMDecision(text string) llmDecision {
	candidate := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	var parsed llmDecision
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		// Try the first {...} block inside free text.
		if start := strings.Index(candidate, "{"); start >= 0 {
			if end := strings.LastIndex(candidate, "}"); end > start {
				_ = json.Unmarshal([]byte(candidate[start:end+1]), &parsed)
			}
		}
	}

	if parsed.Decision == "" {
		parsed.Decision = "No recommendation provided"
		parsed.Reasoning = "Response could not be parsed as a structured decision"
		parsed.Confidence = 0
	}
	return parsed
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{2,}`)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "how": true, "what": true,
	"when": true, "where": true, "why": true, "should": true, "would": true,
	"can": true, "could": true, "with": true, "this": true, "that": true,
	"are": true, "does": true, "have": true, "use": true, "you": true,
}

// significantWords extracts lowercase keywords worth matching against
// onboarding docs.
func significantWords(question string) []string {
	var words []string
	for _, w := range wordRe.FindAllString(strings.ToLower(question), -1) {
		if !stopWords[w] {
			words = append(words, w)
		}
	}
	return words
}

// excerpt returns the first meaningful lines of a doc for use as the
// decision text.
func excerpt(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, trimmed)
		if len(lines) >= 5 {
			break
		}
	}
	if len(lines) == 0 {
		return "See onboarding documentation"
	}
	return strings.Join(lines, " ")
}
