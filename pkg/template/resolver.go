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

// Package template implements deterministic document assembly: variable
// resolution from prioritized sources, {{var}} substitution, idempotent
// marker-delimited section replacement, and structural validation.
package template

import (
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Resolver merges variables from sources in descending priority:
// explicit arguments, workflow state, project config, git identity,
// system defaults. Missing sources degrade silently.
type Resolver struct {
	// ConfigPath points at a project config YAML. Optional; an
	// unparseable file is non-fatal.
	ConfigPath string

	// WorkflowVariables is a snapshot of workflow state variables.
	WorkflowVariables map[string]any

	// gitConfig overrides git probing in tests.
	gitConfig func(key string) string
}

// Resolve computes the final variable map, with args winning over every
// other source.
func (r *Resolver) Resolve(args map[string]any) map[string]string {
	vars := make(map[string]string)

	// Lowest priority first; later sources overwrite.
	now := time.Now()
	vars["date"] = now.Format("2006-01-02")
	vars["timestamp"] = now.Format(time.RFC3339)
	vars["year"] = now.Format("2006")

	if name := r.git("user.name"); name != "" {
		vars["user_name"] = name
	}
	if email := r.git("user.email"); email != "" {
		vars["user_email"] = email
	}

	for k, v := range r.configVars() {
		vars[k] = v
	}

	for k, v := range r.WorkflowVariables {
		vars[k] = stringify(v)
	}

	for k, v := range args {
		vars[k] = stringify(v)
	}

	return vars
}

// configVars flattens the useful project config keys into variables.
func (r *Resolver) configVars() map[string]string {
	if r.ConfigPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.ConfigPath)
	if err != nil {
		return nil
	}

	var raw struct {
		Project struct {
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
			Repository  string `yaml:"repository"`
		} `yaml:"project"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		// Unparseable config is non-fatal; lower-priority sources apply.
		return nil
	}

	vars := make(map[string]string)
	if raw.Project.Name != "" {
		vars["project_name"] = raw.Project.Name
	}
	if raw.Project.Description != "" {
		vars["project_description"] = raw.Project.Description
	}
	if raw.Project.Repository != "" {
		vars["project_repository"] = raw.Project.Repository
	}
	return vars
}

func (r *Resolver) git(key string) string {
	if r.gitConfig != nil {
		return r.gitConfig(key)
	}
	out, err := exec.Command("git", "config", "--get", key).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		data, err := yaml.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	}
}
