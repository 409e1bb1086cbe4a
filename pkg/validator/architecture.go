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
	"fmt"
	"strings"
	"time"
)

// ArchitectureGate is the pass threshold for architecture documents.
const ArchitectureGate = 85.0

// requiredArchSections maps required section names to their minimum
// word counts.
var requiredArchSections = []struct {
	Name     string
	MinWords int
}{
	{"system overview", 50},
	{"component architecture", 100},
	{"data models", 50},
	{"api specifications", 50},
	{"non-functional requirements", 50},
	{"test strategy", 50},
	{"technical decisions", 30},
}

// testStrategyElements are the five elements a complete test strategy
// must name.
var testStrategyElements = []struct {
	Name     string
	Keywords []string
}{
	{"frameworks", []string{"framework", "jest", "vitest", "pytest", "junit", "testing library"}},
	{"pyramid", []string{"pyramid", "unit test", "integration test", "e2e", "end-to-end"}},
	{"ci/cd pipeline", []string{"ci/cd", "pipeline", "continuous integration", "continuous delivery"}},
	{"quality gates", []string{"quality gate", "coverage threshold", "gate"}},
	{"atdd", []string{"atdd", "acceptance test", "acceptance-test"}},
}

// ContradictionPair is one consistency check: a document mentioning
// both terms without resolution scores zero on consistency.
type ContradictionPair struct {
	A, B string
}

// DefaultContradictions is the suggested vocabulary; it is configurable
// because the pairs are suggestive, not exhaustive.
var DefaultContradictions = []ContradictionPair{
	{"monolith", "microservice"},
	{"synchronous", "asynchronous"},
	{"sql", "nosql"},
	{"stateless", "stateful"},
}

// ArchitectureValidator scores architecture documents across four
// equally weighted dimensions.
type ArchitectureValidator struct {
	Contradictions []ContradictionPair
}

// NewArchitectureValidator creates a validator with the default
// contradiction vocabulary.
func NewArchitectureValidator() *ArchitectureValidator {
	return &ArchitectureValidator{Contradictions: DefaultContradictions}
}

// Validate scores the architecture document, optionally checking
// traceability against a PRD (empty PRD scores traceability 100).
func (v *ArchitectureValidator) Validate(archDoc, prdDoc string) *Report {
	completeness := v.scoreCompleteness(archDoc)
	traceability := v.scoreTraceability(archDoc, prdDoc)
	testStrategy := v.scoreTestStrategy(archDoc)
	consistency := v.scoreConsistency(archDoc)

	overall := (completeness.Score + traceability.Score + testStrategy.Score + consistency.Score) / 4

	return &Report{
		OverallScore: clampScore(overall),
		Findings:     []Finding{completeness, traceability, testStrategy, consistency},
		Passed:       overall >= ArchitectureGate,
		Gate:         ArchitectureGate,
		Timestamp:    time.Now(),
	}
}

func (v *ArchitectureValidator) scoreCompleteness(doc string) Finding {
	f := Finding{Dimension: "completeness"}
	secs := sections(doc)

	complete := 0
	for _, req := range requiredArchSections {
		body, ok := findSection(secs, req.Name)
		if !ok {
			f.Gaps = append(f.Gaps, fmt.Sprintf("missing section: %s", req.Name))
			f.Recommendations = append(f.Recommendations, fmt.Sprintf("add a %q section", req.Name))
			continue
		}
		if words := wordCount(body); words < req.MinWords {
			f.Issues = append(f.Issues, fmt.Sprintf("section %q too thin: %d words, need %d", req.Name, words, req.MinWords))
			continue
		}
		complete++
	}

	f.Score = clampScore(100 * float64(complete) / float64(len(requiredArchSections)))
	return f
}

// TraceabilityEntry maps one PRD requirement to its coverage.
type TraceabilityEntry struct {
	Requirement string `json:"requirement"`
	Covered     bool   `json:"covered"`
	ArchSection string `json:"arch_section,omitempty"`
}

func (v *ArchitectureValidator) scoreTraceability(archDoc, prdDoc string) Finding {
	f := Finding{Dimension: "prd_traceability"}

	reqs := extractRequirementBullets(prdDoc)
	if len(reqs) == 0 {
		f.Score = 100
		return f
	}

	archSecs := sections(archDoc)
	archLower := strings.ToLower(archDoc)

	covered := 0
	for _, req := range reqs {
		entry := traceRequirement(req, archLower, archSecs)
		if entry.Covered {
			covered++
		} else {
			f.Gaps = append(f.Gaps, fmt.Sprintf("requirement not covered: %s", req))
		}
	}

	f.Score = clampScore(100 * float64(covered) / float64(len(reqs)))
	if f.Score < 100 {
		f.Recommendations = append(f.Recommendations, "map each PRD requirement to an architecture section")
	}
	return f
}

// TraceabilityMatrix builds the full requirement -> coverage mapping.
func (v *ArchitectureValidator) TraceabilityMatrix(archDoc, prdDoc string) []TraceabilityEntry {
	reqs := extractRequirementBullets(prdDoc)
	archSecs := sections(archDoc)
	archLower := strings.ToLower(archDoc)

	out := make([]TraceabilityEntry, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, traceRequirement(req, archLower, archSecs))
	}
	return out
}

func traceRequirement(req, archLower string, archSecs map[string]string) TraceabilityEntry {
	entry := TraceabilityEntry{Requirement: req}

	keywords := keywordSet(req)
	if len(keywords) == 0 {
		return entry
	}

	matched := 0
	for _, kw := range keywords {
		if strings.Contains(archLower, kw) {
			matched++
		}
	}
	if matched*2 < len(keywords) {
		return entry
	}
	entry.Covered = true

	// Attribute to the best-matching section.
	best := 0
	for title, body := range archSecs {
		lower := strings.ToLower(body)
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > best {
			best = score
			entry.ArchSection = title
		}
	}
	return entry
}

func (v *ArchitectureValidator) scoreTestStrategy(doc string) Finding {
	f := Finding{Dimension: "test_strategy"}
	lower := strings.ToLower(doc)

	present := 0
	for _, el := range testStrategyElements {
		found := false
		for _, kw := range el.Keywords {
			if strings.Contains(lower, kw) {
				found = true
				break
			}
		}
		if found {
			present++
		} else {
			f.Gaps = append(f.Gaps, fmt.Sprintf("test strategy missing element: %s", el.Name))
		}
	}

	f.Score = clampScore(20 * float64(present))
	return f
}

// scoreConsistency is binary: any unresolved contradiction pair scores
// zero.
func (v *ArchitectureValidator) scoreConsistency(doc string) Finding {
	f := Finding{Dimension: "consistency", Score: 100}
	lower := strings.ToLower(doc)

	pairs := v.Contradictions
	if pairs == nil {
		pairs = DefaultContradictions
	}

	for _, pair := range pairs {
		if containsWord(lower, pair.A) && containsWord(lower, pair.B) {
			f.Score = 0
			f.Issues = append(f.Issues, fmt.Sprintf("document mentions both %q and %q", pair.A, pair.B))
			f.Recommendations = append(f.Recommendations, fmt.Sprintf("resolve the %s vs %s decision explicitly", pair.A, pair.B))
		}
	}
	return f
}
