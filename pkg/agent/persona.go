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

// Package agent defines persona-backed agents and their execution
// context. Personas are markdown files with optional YAML frontmatter
// describing role and capabilities.
package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrPersonaNotFound is returned when no persona file exists for a name.
var ErrPersonaNotFound = errors.New("agent: persona not found")

// Persona is a markdown-defined agent role. The body becomes the system
// prompt for every invocation by that agent.
type Persona struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`

	// Capabilities advertises what the persona may be routed.
	Capabilities []string `yaml:"capabilities"`

	// Body is the markdown content below the frontmatter.
	Body string `yaml:"-"`
}

// LoadPersona reads bmad/bmm/agents/<name>.md under root.
func LoadPersona(root, name string) (*Persona, error) {
	path := filepath.Join(root, "bmad", "bmm", "agents", name+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrPersonaNotFound, name, path)
		}
		return nil, fmt.Errorf("failed to read persona %s: %w", name, err)
	}

	p, err := ParsePersona(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse persona %s: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// ParsePersona splits optional YAML frontmatter from the markdown body.
func ParsePersona(content string) (*Persona, error) {
	p := &Persona{}

	body := content
	if strings.HasPrefix(content, "---\n") || strings.HasPrefix(content, "---\r\n") {
		rest := content[strings.Index(content, "\n")+1:]
		if idx := strings.Index(rest, "\n---"); idx >= 0 {
			front := rest[:idx]
			if err := yaml.Unmarshal([]byte(front), p); err != nil {
				return nil, fmt.Errorf("invalid persona frontmatter: %w", err)
			}
			body = rest[idx+4:]
			if nl := strings.Index(body, "\n"); nl >= 0 {
				body = body[nl+1:]
			} else {
				body = ""
			}
		}
	}

	p.Body = strings.TrimSpace(body)
	if p.Body == "" {
		return nil, fmt.Errorf("persona has no body content")
	}
	return p, nil
}

// Context is the immutable execution context handed to an agent on
// creation.
type Context struct {
	// OnboardingDocs are paths to project onboarding markdown.
	OnboardingDocs []string

	// WorkflowVariables is a snapshot of the driving workflow's state
	// variables.
	WorkflowVariables map[string]any

	// TaskDescription states what the agent is being asked to do.
	TaskDescription string

	// Extra is an arbitrary kv overlay.
	Extra map[string]any
}
