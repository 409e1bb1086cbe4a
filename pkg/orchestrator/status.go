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

package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StatusPath is the workflow status file relative to the project root.
const StatusPath = "bmad/workflow-status.yaml"

// PhaseStatus is one phase's entry in the status file.
type PhaseStatus struct {
	Status       string    `yaml:"status" json:"status"`
	Score        float64   `yaml:"score,omitempty" json:"score,omitempty"`
	Artifact     string    `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	Attempts     int       `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	EscalationID string    `yaml:"escalation_id,omitempty" json:"escalation_id,omitempty"`
	UpdatedAt    time.Time `yaml:"updated_at" json:"updated_at"`
}

// StatusFile tracks per-phase pipeline progress.
type StatusFile struct {
	Project   string                 `yaml:"project" json:"project"`
	Phases    map[string]PhaseStatus `yaml:"phases" json:"phases"`
	UpdatedAt time.Time              `yaml:"updated_at" json:"updated_at"`
}

func statusFilePath(root string) string {
	return filepath.Join(root, filepath.FromSlash(StatusPath))
}

// LoadStatus reads the status file, returning an empty file when
// absent.
func LoadStatus(root string) (*StatusFile, error) {
	data, err := os.ReadFile(statusFilePath(root))
	if os.IsNotExist(err) {
		return &StatusFile{Phases: make(map[string]PhaseStatus)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow status: %w", err)
	}

	var sf StatusFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow status: %w", err)
	}
	if sf.Phases == nil {
		sf.Phases = make(map[string]PhaseStatus)
	}
	return &sf, nil
}

// recordPhase updates one phase entry and rewrites the status file
// atomically.
func recordPhase(d *Deps, phase string, ps PhaseStatus) error {
	sf, err := LoadStatus(d.Root)
	if err != nil {
		return err
	}
	sf.Project = d.Config.Project.Name
	ps.UpdatedAt = time.Now()
	sf.Phases[phase] = ps
	sf.UpdatedAt = ps.UpdatedAt

	data, err := yaml.Marshal(sf)
	if err != nil {
		return fmt.Errorf("failed to serialize workflow status: %w", err)
	}

	path := statusFilePath(d.Root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close status file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}
