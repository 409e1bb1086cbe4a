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

// Package validator analyzes generated artifacts (architecture docs,
// PRDs) and produces scored reports with pass/fail gates. Validators
// read documents and return reports; they own no durable state except
// the technical decision log.
package validator

import (
	"regexp"
	"strings"
	"time"
)

// Finding is one dimension's detail in a report.
type Finding struct {
	Dimension       string   `json:"dimension"`
	Score           float64  `json:"score"`
	Issues          []string `json:"issues,omitempty"`
	Gaps            []string `json:"gaps,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Report is the result of one validation run.
type Report struct {
	OverallScore float64   `json:"overall_score"`
	Findings     []Finding `json:"findings"`
	Passed       bool      `json:"passed"`
	Gate         float64   `json:"gate"`
	Timestamp    time.Time `json:"timestamp"`
}

var (
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	wordRe       = regexp.MustCompile(`\S+`)
)

// sections splits a markdown document into heading -> body, headings
// lowercased. Fenced code blocks stay inside bodies.
func sections(doc string) map[string]string {
	out := make(map[string]string)
	locs := headingRe.FindAllStringSubmatchIndex(doc, -1)
	for i, loc := range locs {
		title := strings.ToLower(strings.TrimSpace(doc[loc[2]:loc[3]]))
		end := len(doc)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[title] = doc[loc[1]:end]
	}
	return out
}

// findSection matches a wanted section name case-insensitively against
// document headings, tolerating extra heading decoration.
func findSection(secs map[string]string, want string) (string, bool) {
	want = strings.ToLower(want)
	for title, body := range secs {
		if strings.Contains(title, want) {
			return body, true
		}
	}
	return "", false
}

// wordCount counts words outside fenced code blocks.
func wordCount(body string) int {
	return len(wordRe.FindAllString(fencedCodeRe.ReplaceAllString(body, ""), -1))
}

var bulletRe = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)

// extractRequirementBullets pulls bulleted requirement lines from a
// PRD document.
func extractRequirementBullets(doc string) []string {
	var out []string
	for _, m := range bulletRe.FindAllStringSubmatch(doc, -1) {
		line := strings.TrimSpace(m[1])
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

var keywordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{3,}`)

var keywordStopWords = map[string]bool{
	"with": true, "that": true, "this": true, "from": true, "must": true,
	"should": true, "shall": true, "will": true, "when": true, "then": true,
	"have": true, "into": true, "their": true, "they": true, "them": true,
	"able": true, "user": true, "users": true, "system": true,
}

// keywordSet extracts lowercase keywords worth matching for coverage.
func keywordSet(text string) []string {
	var out []string
	for _, w := range keywordRe.FindAllString(strings.ToLower(text), -1) {
		if !keywordStopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// containsWord reports whether word occurs in text on word boundaries.
// A plain substring check would match "synchronous" inside
// "asynchronous" and "sql" inside "nosql".
func containsWord(text, word string) bool {
	for idx := 0; idx < len(text); {
		start := strings.Index(text[idx:], word)
		if start < 0 {
			return false
		}
		start += idx
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
