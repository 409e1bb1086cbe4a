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
	"regexp"
	"strings"
	"time"
)

// PRDGate is the pass threshold for PRD documents.
const PRDGate = 85.0

var requiredPRDSections = []string{
	"executive summary",
	"success criteria",
	"mvp scope",
	"functional requirements",
	"success metrics",
}

// vagueTerms flag imprecise requirement language, by severity.
var vagueTerms = map[string]string{
	"better":    "high",
	"improve":   "high",
	"properly":  "high",
	"fast":      "medium",
	"easy":      "medium",
	"intuitive": "medium",
	"robust":    "medium",
	"seamless":  "low",
}

// gapTriggers flag feature keywords that imply a missing concern.
var gapTriggers = []struct {
	Category string
	Features []string
	Signals  []string
}{
	{
		Category: "security",
		Features: []string{"login", "password", "payment", "account", "personal data", "upload"},
		Signals:  []string{"security", "authentication", "authorization", "encrypt"},
	},
	{
		Category: "error-handling",
		Features: []string{"api", "integration", "import", "export", "sync"},
		Signals:  []string{"error", "failure", "retry", "fallback", "timeout"},
	},
}

var (
	frIDRe     = regexp.MustCompile(`(?m)\bFR-\d{3}\b`)
	acceptRe   = regexp.MustCompile(`(?i)acceptance criteria`)
	wordOnlyRe = regexp.MustCompile(`[a-zA-Z]+`)
)

// PRDValidator checks structure, requirement hygiene, and language
// quality of a PRD. Must stay fast for documents with ~100
// requirements.
type PRDValidator struct {
	Contradictions []ContradictionPair
}

// NewPRDValidator creates a validator with default contradiction pairs.
func NewPRDValidator() *PRDValidator {
	return &PRDValidator{Contradictions: DefaultContradictions}
}

// Validate scores the PRD across structure, requirements, language,
// and gap dimensions, equally weighted.
func (v *PRDValidator) Validate(doc string) *Report {
	structure := v.scoreStructure(doc)
	requirements := v.scoreRequirements(doc)
	language := v.scoreLanguage(doc)
	gaps := v.scoreGaps(doc)

	overall := (structure.Score + requirements.Score + language.Score + gaps.Score) / 4

	return &Report{
		OverallScore: clampScore(overall),
		Findings:     []Finding{structure, requirements, language, gaps},
		Passed:       overall >= PRDGate,
		Gate:         PRDGate,
		Timestamp:    time.Now(),
	}
}

func (v *PRDValidator) scoreStructure(doc string) Finding {
	f := Finding{Dimension: "structure"}
	secs := sections(doc)

	present := 0
	for _, name := range requiredPRDSections {
		if _, ok := findSection(secs, name); ok {
			present++
		} else {
			f.Gaps = append(f.Gaps, fmt.Sprintf("missing section: %s", name))
		}
	}
	f.Score = clampScore(100 * float64(present) / float64(len(requiredPRDSections)))
	return f
}

// scoreRequirements counts FR-NNN requirements and checks each block
// mentions acceptance criteria.
func (v *PRDValidator) scoreRequirements(doc string) Finding {
	f := Finding{Dimension: "requirements"}

	ids := frIDRe.FindAllString(doc, -1)
	unique := make(map[string]bool)
	for _, id := range ids {
		unique[id] = true
	}
	if len(unique) == 0 {
		f.Score = 0
		f.Gaps = append(f.Gaps, "no FR-NNN functional requirements found")
		f.Recommendations = append(f.Recommendations, "number requirements as FR-001, FR-002, ...")
		return f
	}

	// Split the document on requirement ids and check each segment for
	// acceptance criteria.
	withCriteria := 0
	segments := frIDRe.Split(doc, -1)
	for _, seg := range segments[1:] {
		if acceptRe.MatchString(firstN(seg, 600)) {
			withCriteria++
		}
	}

	f.Score = clampScore(100 * float64(withCriteria) / float64(len(segments)-1))
	if withCriteria < len(segments)-1 {
		f.Issues = append(f.Issues, fmt.Sprintf("%d of %d requirements lack acceptance criteria",
			len(segments)-1-withCriteria, len(segments)-1))
	}
	return f
}

func (v *PRDValidator) scoreLanguage(doc string) Finding {
	f := Finding{Dimension: "language"}
	score := 100.0

	for _, w := range wordOnlyRe.FindAllString(strings.ToLower(doc), -1) {
		if severity, vague := vagueTerms[w]; vague {
			f.Issues = append(f.Issues, fmt.Sprintf("vague term %q (severity: %s)", w, severity))
			switch severity {
			case "high":
				score -= 10
			case "medium":
				score -= 5
			default:
				score -= 2
			}
		}
	}

	pairs := v.Contradictions
	if pairs == nil {
		pairs = DefaultContradictions
	}
	lower := strings.ToLower(doc)
	for _, pair := range pairs {
		if containsWord(lower, pair.A) && containsWord(lower, pair.B) {
			f.Issues = append(f.Issues, fmt.Sprintf("contradictory terms: %q and %q", pair.A, pair.B))
			score -= 15
		}
	}

	f.Score = clampScore(score)
	return f
}

func (v *PRDValidator) scoreGaps(doc string) Finding {
	f := Finding{Dimension: "gaps", Score: 100}
	lower := strings.ToLower(doc)

	for _, trigger := range gapTriggers {
		triggered := false
		for _, feature := range trigger.Features {
			if strings.Contains(lower, feature) {
				triggered = true
				break
			}
		}
		if !triggered {
			continue
		}

		addressed := false
		for _, signal := range trigger.Signals {
			if strings.Contains(lower, signal) {
				addressed = true
				break
			}
		}
		if !addressed {
			f.Score -= 50
			f.Gaps = append(f.Gaps, fmt.Sprintf("features imply %s concerns but the PRD never addresses them", trigger.Category))
			f.Recommendations = append(f.Recommendations, fmt.Sprintf("add a %s section covering the affected features", trigger.Category))
		}
	}

	f.Score = clampScore(f.Score)
	return f
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
