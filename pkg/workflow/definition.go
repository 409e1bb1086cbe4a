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

// Package workflow parses declarative workflow definitions and executes
// their instruction steps with crash-safe state persistence.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrDefinitionNotFound is returned when a workflow file is absent.
var ErrDefinitionNotFound = errors.New("workflow: definition not found")

// Definition is a declarative workflow loaded from workflow.yaml.
// Immutable per run.
type Definition struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Instructions string         `yaml:"instructions"`
	Variables    map[string]any `yaml:"variables"`
	Standalone   bool           `yaml:"standalone"`

	// InstalledPath is the directory the definition was loaded from;
	// relative instruction paths resolve against it.
	InstalledPath string `yaml:"-"`
}

// LoadDefinition reads and validates a workflow.yaml.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, path)
		}
		return nil, fmt.Errorf("failed to read workflow definition: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("workflow definition missing name: %s", path)
	}
	if def.Instructions == "" {
		return nil, fmt.Errorf("workflow %q missing instructions path", def.Name)
	}
	if def.Variables == nil {
		def.Variables = make(map[string]any)
	}
	def.InstalledPath = filepath.Dir(path)
	return &def, nil
}

// InstructionsPath resolves the instructions file location.
func (d *Definition) InstructionsPath() string {
	if filepath.IsAbs(d.Instructions) {
		return d.Instructions
	}
	return filepath.Join(d.InstalledPath, d.Instructions)
}
