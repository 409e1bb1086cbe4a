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

package validator

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ADRStatus is the lifecycle of a technical decision.
type ADRStatus string

const (
	ADRProposed   ADRStatus = "proposed"
	ADRAccepted   ADRStatus = "accepted"
	ADRSuperseded ADRStatus = "superseded"
)

// Alternative is one considered option inside an ADR.
type Alternative struct {
	Option string   `json:"option"`
	Pros   []string `json:"pros,omitempty"`
	Cons   []string `json:"cons,omitempty"`
}

// TechnicalDecision is one architecture decision record.
type TechnicalDecision struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Context         string        `json:"context"`
	Decision        string        `json:"decision"`
	Alternatives    []Alternative `json:"alternatives,omitempty"`
	Rationale       string        `json:"rationale"`
	Consequences    []string      `json:"consequences,omitempty"`
	Status          ADRStatus     `json:"status"`
	DecisionMaker   string        `json:"decision_maker"`
	Date            time.Time     `json:"date"`
	Confidence      float64       `json:"confidence,omitempty"`
	PRDRequirements []string      `json:"prd_requirements,omitempty"`
}

// DecisionInput is the caller-supplied portion of a new ADR.
type DecisionInput struct {
	Title           string
	Context         string
	Decision        string
	Alternatives    []Alternative
	Rationale       string
	Consequences    []string
	DecisionMaker   string
	Confidence      float64
	PRDRequirements []string
}

// DecisionLogger captures technical decisions with sequential ADR ids.
// Ids are never reused, even across save / clear / load cycles.
type DecisionLogger struct {
	mu        sync.Mutex
	decisions []TechnicalDecision
	nextID    int
}

// NewDecisionLogger creates an empty logger starting at ADR-001.
func NewDecisionLogger() *DecisionLogger {
	return &DecisionLogger{nextID: 1}
}

var adrIDRe = regexp.MustCompile(`^ADR-(\d{3,})$`)

// Capture records one decision and allocates the next sequential id.
func (l *DecisionLogger) Capture(in DecisionInput) (*TechnicalDecision, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("decision title is required")
	}
	if in.Decision == "" {
		return nil, fmt.Errorf("decision text is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d := TechnicalDecision{
		ID:              fmt.Sprintf("ADR-%03d", l.nextID),
		Title:           in.Title,
		Context:         in.Context,
		Decision:        in.Decision,
		Alternatives:    in.Alternatives,
		Rationale:       in.Rationale,
		Consequences:    in.Consequences,
		Status:          ADRAccepted,
		DecisionMaker:   in.DecisionMaker,
		Date:            time.Now(),
		Confidence:      in.Confidence,
		PRDRequirements: in.PRDRequirements,
	}
	l.nextID++
	l.decisions = append(l.decisions, d)
	return &d, nil
}

// Merge appends decisions captured by other agents, re-allocating ids
// to keep the sequence strictly monotone.
func (l *DecisionLogger) Merge(others []TechnicalDecision) []TechnicalDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make([]TechnicalDecision, 0, len(others))
	for _, d := range others {
		d.ID = fmt.Sprintf("ADR-%03d", l.nextID)
		l.nextID++
		l.decisions = append(l.decisions, d)
		merged = append(merged, d)
	}
	return merged
}

// Supersede marks an existing decision superseded.
func (l *DecisionLogger) Supersede(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.decisions {
		if l.decisions[i].ID == id {
			l.decisions[i].Status = ADRSuperseded
			return nil
		}
	}
	return fmt.Errorf("decision %s not found", id)
}

// Decisions returns a copy of all captured decisions.
func (l *DecisionLogger) Decisions() []TechnicalDecision {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TechnicalDecision, len(l.decisions))
	copy(out, l.decisions)
	return out
}

// Clear drops the in-memory list without resetting the id sequence.
func (l *DecisionLogger) Clear() {
	l.mu.Lock()
	l.decisions = nil
	l.mu.Unlock()
}

// Save writes the decision list to a JSON file.
func (l *DecisionLogger) Save(path string) error {
	l.mu.Lock()
	data, err := json.MarshalIndent(l.decisions, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialize decisions: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write decision log: %w", err)
	}
	return nil
}

// Load restores decisions from a JSON file. The next id becomes
// max(existing) + 1 so ids are never reused.
func (l *DecisionLogger) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read decision log: %w", err)
	}

	var loaded []TechnicalDecision
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse decision log: %w", err)
	}

	maxID := 0
	for _, d := range loaded {
		if m := adrIDRe.FindStringSubmatch(d.ID); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > maxID {
				maxID = n
			}
		}
	}

	l.mu.Lock()
	l.decisions = loaded
	if maxID+1 > l.nextID {
		l.nextID = maxID + 1
	}
	l.mu.Unlock()
	return nil
}

// SummaryTable renders a markdown table of all decisions.
func (l *DecisionLogger) SummaryTable() string {
	var b strings.Builder
	b.WriteString("| ID | Title | Status | Decision Maker | Date |\n")
	b.WriteString("|----|-------|--------|----------------|------|\n")
	for _, d := range l.Decisions() {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			d.ID, d.Title, d.Status, d.DecisionMaker, d.Date.Format("2006-01-02"))
	}
	return b.String()
}

// Markdown renders the full per-decision document.
func (l *DecisionLogger) Markdown() string {
	var b strings.Builder
	b.WriteString("# Technical Decisions\n\n")
	b.WriteString(l.SummaryTable())
	b.WriteString("\n")

	for _, d := range l.Decisions() {
		fmt.Fprintf(&b, "## %s: %s\n\n", d.ID, d.Title)
		fmt.Fprintf(&b, "**Status:** %s  \n**Decision maker:** %s  \n**Date:** %s\n\n",
			d.Status, d.DecisionMaker, d.Date.Format("2006-01-02"))
		if d.Context != "" {
			fmt.Fprintf(&b, "### Context\n\n%s\n\n", d.Context)
		}
		fmt.Fprintf(&b, "### Decision\n\n%s\n\n", d.Decision)
		if len(d.Alternatives) > 0 {
			b.WriteString("### Alternatives\n\n")
			for _, alt := range d.Alternatives {
				fmt.Fprintf(&b, "- **%s**\n", alt.Option)
				for _, p := range alt.Pros {
					fmt.Fprintf(&b, "  - pro: %s\n", p)
				}
				for _, c := range alt.Cons {
					fmt.Fprintf(&b, "  - con: %s\n", c)
				}
			}
			b.WriteString("\n")
		}
		if d.Rationale != "" {
			fmt.Fprintf(&b, "### Rationale\n\n%s\n\n", d.Rationale)
		}
		if len(d.Consequences) > 0 {
			b.WriteString("### Consequences\n\n")
			for _, c := range d.Consequences {
				fmt.Fprintf(&b, "- %s\n", c)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Traceability maps PRD requirement ids to the ADRs that address them.
func (l *DecisionLogger) Traceability() map[string][]string {
	out := make(map[string][]string)
	for _, d := range l.Decisions() {
		for _, req := range d.PRDRequirements {
			out[req] = append(out[req], d.ID)
		}
	}
	for req := range out {
		sort.Strings(out[req])
	}
	return out
}
