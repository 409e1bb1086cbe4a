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

package template

import (
	"fmt"
	"regexp"
	"strings"
)

// ArchitectureSections is the default marker set for the architecture
// document template.
var ArchitectureSections = []string{
	"system-overview",
	"component-architecture",
	"data-models",
	"api-specifications",
	"non-functional-requirements",
	"test-strategy",
	"technical-decisions",
	"glossary",
	"references",
}

// RecommendedVariables produce warnings, not errors, when absent.
var RecommendedVariables = []string{"project_name", "date", "user_name"}

// ValidationResult reports template structural checks.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

var (
	anyStartRe = regexp.MustCompile(`<!-- SECTION: ([a-z0-9-]+) -->`)
	anyEndRe   = regexp.MustCompile(`<!-- END SECTION: ([a-z0-9-]+) -->`)
)

// Validate checks a template's structure: frontmatter, the required
// section marker set, marker pairing, and balanced placeholders.
func Validate(content string, requiredSections []string) *ValidationResult {
	res := &ValidationResult{}

	if !hasFrontmatter(content) {
		res.Errors = append(res.Errors, "template must begin with YAML frontmatter delimited by --- lines")
	}

	starts := markerNames(anyStartRe, content)
	ends := markerNames(anyEndRe, content)

	for _, section := range requiredSections {
		if !starts[section] {
			res.Errors = append(res.Errors, fmt.Sprintf("missing required section marker: %s", section))
		}
	}

	for name := range starts {
		if !ends[name] {
			res.Errors = append(res.Errors, fmt.Sprintf("section %q has no end marker", name))
		}
	}
	for name := range ends {
		if !starts[name] {
			res.Errors = append(res.Errors, fmt.Sprintf("section %q has an end marker but no start marker", name))
		}
	}

	if err := checkBraceBalance(content); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	for _, v := range RecommendedVariables {
		if !strings.Contains(content, "{{"+v+"}}") {
			res.Warnings = append(res.Warnings, fmt.Sprintf("recommended variable {{%s}} not present", v))
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func hasFrontmatter(content string) bool {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return false
	}
	rest := content[strings.Index(content, "\n")+1:]
	return strings.Contains(rest, "\n---")
}

func markerNames(re *regexp.Regexp, content string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		out[m[1]] = true
	}
	return out
}

// checkBraceBalance verifies {{ and }} pair up in order.
func checkBraceBalance(content string) error {
	depth := 0
	for i := 0; i+1 < len(content); i++ {
		switch content[i : i+2] {
		case "{{":
			depth++
			i++
		case "}}":
			depth--
			i++
			if depth < 0 {
				return fmt.Errorf("unbalanced placeholder braces: }} without matching {{")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced placeholder braces: %d unclosed {{", depth)
	}
	return nil
}
