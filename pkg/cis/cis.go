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

// Package cis routes high-ambiguity decisions to one of four creative
// intelligence persona agents. Consultations are expensive, so the
// router enforces a hard per-workflow invocation cap.
package cis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bmad-labs/bmad/pkg/llms"
)

// Category is one of the four persona specializations.
type Category string

const (
	CategoryTechnical  Category = "technical"
	CategoryUX         Category = "ux"
	CategoryProduct    Category = "product"
	CategoryInnovation Category = "innovation"
)

// ErrLimitExceeded is returned once the per-workflow invocation cap is
// reached.
var ErrLimitExceeded = errors.New("invocation limit exceeded")

// Event kinds emitted by the router.
const (
	EventSuccess       = "cis.success"
	EventError         = "cis.error"
	EventLimitExceeded = "cis.limit_exceeded"
)

// Event is one router notification. Payload keys depend on the kind:
// success carries agent/decision/count, error carries
// agent/decision/error, limit_exceeded carries decision/count/limit.
type Event struct {
	Kind      string
	Payload   map[string]any
	Timestamp time.Time
}

// Consultation is the parsed persona response.
type Consultation struct {
	Category       Category `json:"category"`
	Recommendation string   `json:"recommendation"`
	Reasoning      string   `json:"reasoning"`
	Confidence     float64  `json:"confidence"`
}

// Invocation is one history record, kept whether or not the
// consultation succeeded.
type Invocation struct {
	Category  Category      `json:"category"`
	Decision  string        `json:"decision"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// categoryKeywords drive classification. Weights let strong signals
// (explicit domain words) outvote generic ones.
var categoryKeywords = map[Category]map[string]int{
	CategoryTechnical: {
		"architecture": 3, "database": 3, "api": 2, "scalability": 3,
		"performance": 2, "infrastructure": 3, "deployment": 2,
		"framework": 2, "protocol": 2, "caching": 2, "technical": 3,
	},
	CategoryUX: {
		"user": 2, "interface": 3, "usability": 3, "accessibility": 3,
		"design": 2, "navigation": 2, "onboarding": 2, "flow": 1,
		"experience": 3, "ux": 3,
	},
	CategoryProduct: {
		"market": 3, "pricing": 3, "roadmap": 3, "feature": 2,
		"customer": 2, "competitor": 3, "mvp": 2, "scope": 2,
		"business": 2, "product": 3,
	},
	CategoryInnovation: {
		"novel": 3, "experiment": 2, "prototype": 2, "disrupt": 3,
		"brainstorm": 3, "creative": 2, "unconventional": 3,
		"alternative": 1, "innovation": 3, "innovative": 3,
	},
}

// personaPrompts are the per-category system instructions.
var personaPrompts = map[Category]string{
	CategoryTechnical:  "You are a principal engineer consulted on an ambiguous technical decision. Weigh tradeoffs concretely.",
	CategoryUX:         "You are a senior UX strategist consulted on an ambiguous experience decision. Advocate for the user.",
	CategoryProduct:    "You are a product leader consulted on an ambiguous product decision. Weigh market and scope impact.",
	CategoryInnovation: "You are an innovation catalyst consulted on an ambiguous decision. Surface unconventional options.",
}

const consultPrompt = `Decision needing consultation:

%s

Respond with JSON only:
{"recommendation": "<your recommendation>", "reasoning": "<why>", "confidence": <0.0-1.0>}`

// Config configures a Router.
type Config struct {
	// Limit caps consultations per workflow.
	Limit int

	// Timeout bounds each persona invocation.
	Timeout time.Duration
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Limit == 0 {
		c.Limit = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Router classifies decisions and dispatches them to persona agents.
// One Router instance is scoped to one workflow run.
type Router struct {
	config   Config
	provider llms.Provider
	logger   *slog.Logger

	mu      sync.Mutex
	count   int
	history []Invocation
	subs    []chan Event
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router's logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a Router backed by the given provider.
func NewRouter(cfg Config, provider llms.Provider, opts ...RouterOption) *Router {
	cfg.SetDefaults()
	r := &Router{
		config:   cfg,
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe returns a channel of router events. Slow subscribers drop
// events rather than block routing.
func (r *Router) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *Router) emit(kind string, payload map[string]any) {
	ev := Event{Kind: kind, Payload: payload, Timestamp: time.Now()}
	r.mu.Lock()
	subs := r.subs
	r.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Classify picks the persona category for a decision by weighted
// keyword scoring. Ties, including no match at all, default to
// technical.
func (r *Router) Classify(decision string) Category {
	lower := strings.ToLower(decision)

	best := CategoryTechnical
	bestScore := scoreCategory(lower, CategoryTechnical)
	for _, cat := range []Category{CategoryUX, CategoryProduct, CategoryInnovation} {
		if s := scoreCategory(lower, cat); s > bestScore {
			best = cat
			bestScore = s
		}
	}
	return best
}

func scoreCategory(lower string, cat Category) int {
	score := 0
	for kw, weight := range categoryKeywords[cat] {
		if containsWord(lower, kw) {
			score += weight
		}
	}
	return score
}

// containsWord matches on word boundaries so "design" does not fire on
// "designated database index".
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// RouteDecision classifies the decision, invokes the matching persona,
// and returns the parsed consultation. Invocations beyond the cap fail
// with ErrLimitExceeded.
func (r *Router) RouteDecision(ctx context.Context, decision string) (*Consultation, error) {
	r.mu.Lock()
	if r.count >= r.config.Limit {
		count, limit := r.count, r.config.Limit
		r.mu.Unlock()
		r.emit(EventLimitExceeded, map[string]any{
			"decision": decision,
			"count":    count,
			"limit":    limit,
		})
		return nil, fmt.Errorf("%w: %d of %d consultations used", ErrLimitExceeded, count, limit)
	}
	r.count++
	count := r.count
	r.mu.Unlock()

	category := r.Classify(decision)
	r.logger.Debug("routing decision to persona agent",
		"category", category,
		"invocation", count,
		"limit", r.config.Limit)

	invokeCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.provider.Invoke(invokeCtx, llms.Request{
		System:      personaPrompts[category],
		Prompt:      fmt.Sprintf(consultPrompt, decision),
		Temperature: llms.Float64Ptr(0.7),
	})
	elapsed := time.Since(start)

	if err != nil {
		r.record(Invocation{Category: category, Decision: decision, Error: err.Error(), Timestamp: start, Duration: elapsed})
		r.emit(EventError, map[string]any{
			"agent":    string(category),
			"decision": decision,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("persona consultation failed: %w", err)
	}

	consultation := parseConsultation(resp.Text)
	consultation.Category = category

	r.record(Invocation{Category: category, Decision: decision, Success: true, Timestamp: start, Duration: elapsed})
	r.emit(EventSuccess, map[string]any{
		"agent":    string(category),
		"decision": decision,
		"count":    count,
	})
	return consultation, nil
}

func (r *Router) record(inv Invocation) {
	r.mu.Lock()
	r.history = append(r.history, inv)
	r.mu.Unlock()
}

// History returns a copy of all invocation records.
func (r *Router) History() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invocation, len(r.history))
	copy(out, r.history)
	return out
}

// Remaining reports how many consultations the workflow has left.
func (r *Router) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.Limit - r.count
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseConsultation tolerates raw JSON or JSON inside a code fence, and
// degrades to default fields instead of failing. The raw text survives
// as reasoning so the advice is not lost.
func parseConsultation(text string) *Consultation {
	candidate := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	var parsed Consultation
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		if start := strings.Index(candidate, "{"); start >= 0 {
			if end := strings.LastIndex(candidate, "}"); end > start {
				_ = json.Unmarshal([]byte(candidate[start:end+1]), &parsed)
			}
		}
	}

	if parsed.Recommendation == "" {
		parsed.Recommendation = "No recommendation provided"
		if parsed.Reasoning == "" {
			parsed.Reasoning = strings.TrimSpace(text)
		}
		parsed.Confidence = 0.5
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return &parsed
}
