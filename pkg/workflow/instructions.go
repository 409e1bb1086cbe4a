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

package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ItemKind classifies a body item inside a step.
type ItemKind string

const (
	ItemAction         ItemKind = "action"
	ItemCheck          ItemKind = "check"
	ItemAsk            ItemKind = "ask"
	ItemElicitRequired ItemKind = "elicit-required"
	ItemTemplateOutput ItemKind = "template-output"
	ItemOutput         ItemKind = "output"
)

// Item is one body element of a step, in textual order.
type Item struct {
	Kind ItemKind

	// Text carries the element content (action instruction, question,
	// output text, template content).
	Text string

	// If is the guard on check items.
	If string

	// Actions are the nested actions of a check.
	Actions []string

	// File is the target of a template-output item.
	File string
}

// Step is one parsed instruction step.
type Step struct {
	N        int
	Goal     string
	Optional bool
	If       string
	Body     []Item
}

// The markup is XML-like, not strict XML; unknown elements are ignored.
var (
	stepRe   = regexp.MustCompile(`(?s)<step\s+([^>]*)>(.*?)</step>`)
	attrRe   = regexp.MustCompile(`([a-zA-Z][\w-]*)="([^"]*)"`)
	actionRe = regexp.MustCompile(`(?s)<action[^>]*>(.*?)</action>`)

	itemRe = regexp.MustCompile(`(?s)` +
		`<check\s+([^>]*)>(.*?)</check>` + // 1: attrs, 2: body
		`|<action[^>]*>(.*?)</action>` + // 3
		`|<ask[^>]*>(.*?)</ask>` + // 4
		`|<elicit-required[^>]*/>` +
		`|<elicit-required[^>]*>(.*?)</elicit-required>` + // 5
		`|<template-output\s+([^>]*?)/>` + // 6: attrs
		`|<template-output\s+([^>]*)>(.*?)</template-output>` + // 7: attrs, 8: body
		`|<output[^>]*>(.*?)</output>`) // 9
)

// ParseInstructions parses an instructions document into ordered steps.
// Step numbers must increase monotonically from 1 with no duplicates.
func ParseInstructions(content string) ([]Step, error) {
	matches := stepRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no <step> elements found in instructions")
	}

	steps := make([]Step, 0, len(matches))
	for _, m := range matches {
		attrs := parseAttrs(m[1])

		n, err := strconv.Atoi(attrs["n"])
		if err != nil {
			return nil, fmt.Errorf("step has invalid n=%q", attrs["n"])
		}

		step := Step{
			N:        n,
			Goal:     attrs["goal"],
			Optional: attrs["optional"] == "true",
			If:       attrs["if"],
			Body:     parseBody(m[2]),
		}
		steps = append(steps, step)
	}

	for i, s := range steps {
		if s.N != i+1 {
			return nil, fmt.Errorf("step numbering broken at position %d: got n=%d, want %d", i+1, s.N, i+1)
		}
	}

	return steps, nil
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}

func parseBody(body string) []Item {
	var items []Item
	for _, m := range itemRe.FindAllStringSubmatch(body, -1) {
		switch {
		case m[1] != "" || m[2] != "":
			attrs := parseAttrs(m[1])
			var actions []string
			for _, am := range actionRe.FindAllStringSubmatch(m[2], -1) {
				actions = append(actions, strings.TrimSpace(am[1]))
			}
			items = append(items, Item{Kind: ItemCheck, If: attrs["if"], Actions: actions})

		case m[3] != "":
			items = append(items, Item{Kind: ItemAction, Text: strings.TrimSpace(m[3])})

		case m[4] != "":
			items = append(items, Item{Kind: ItemAsk, Text: strings.TrimSpace(m[4])})

		case m[6] != "" || m[7] != "":
			attrs := parseAttrs(m[6] + m[7])
			items = append(items, Item{
				Kind: ItemTemplateOutput,
				File: attrs["file"],
				Text: strings.TrimSpace(m[8]),
			})

		case m[9] != "":
			items = append(items, Item{Kind: ItemOutput, Text: strings.TrimSpace(m[9])})

		case strings.Contains(m[0], "elicit-required"):
			items = append(items, Item{Kind: ItemElicitRequired, Text: strings.TrimSpace(m[5])})
		}
	}
	return items
}
