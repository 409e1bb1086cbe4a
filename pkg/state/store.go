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

package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when no state exists for a project.
var ErrNotFound = errors.New("state: not found")

// Store persists workflow states as one JSON file per project under a
// root directory. A single OS-level writer per project is assumed.
type Store struct {
	root   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*WorkflowState
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &Store{
		root:   dir,
		logger: slog.Default(),
		cache:  make(map[string]*WorkflowState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save persists state atomically: write to a temp file in the same
// directory, then rename over the target. Readers see either the prior
// version or the new one, never a torn file.
func (s *Store) Save(ws *WorkflowState) error {
	if ws == nil {
		return fmt.Errorf("cannot save nil state")
	}
	if err := ws.Validate(); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}

	ws.UpdatedAt = time.Now()

	data, err := ws.Serialize()
	if err != nil {
		return err
	}

	target := s.path(ws.ProjectID)

	tmp, err := os.CreateTemp(s.root, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit state file: %w", err)
	}

	s.mu.Lock()
	s.cache[ws.ProjectID] = ws
	s.mu.Unlock()

	s.logger.Debug("saved workflow state",
		"project", ws.ProjectID,
		"status", ws.Status,
		"step", ws.CurrentStep)

	return nil
}

// Load returns the state for a project, from cache when warm. Returns
// ErrNotFound when no state has been saved.
func (s *Store) Load(projectID string) (*WorkflowState, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	s.mu.RLock()
	cached, ok := s.cache[projectID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: project %q", ErrNotFound, projectID)
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	ws, err := Deserialize(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[projectID] = ws
	s.mu.Unlock()

	return ws, nil
}

// ClearCache drops all cached states so subsequent loads hit disk.
// Needed after external edits to state files.
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]*WorkflowState)
	s.mu.Unlock()
}

// Purge removes a project's state from disk and cache. Purging a
// project with no state is not an error.
func (s *Store) Purge(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}

	s.mu.Lock()
	delete(s.cache, projectID)
	s.mu.Unlock()

	if err := os.Remove(s.path(projectID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to purge state: %w", err)
	}

	s.logger.Debug("purged workflow state", "project", projectID)
	return nil
}

// path maps a project id to its state file. Path separators in ids are
// flattened so ids cannot escape the root.
func (s *Store) path(projectID string) string {
	safe := strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(projectID)
	return filepath.Join(s.root, safe+".state.json")
}
