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

package escalation

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForResponse blocks until the escalation leaves the pending state,
// the context is done, or the poll interval catches a change fsnotify
// missed. The resolved (or cancelled) escalation is returned.
func (q *Queue) WaitForResponse(ctx context.Context, id string) (*Escalation, error) {
	esc, err := q.GetByID(id)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusPending {
		return esc, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(q.root); err != nil {
		return nil, fmt.Errorf("failed to watch escalation directory: %w", err)
	}

	target := q.path(id)

	// Editors may rename over the file, so a periodic re-read backs up
	// the event stream.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("watcher closed while waiting for %s", id)
			}
			if filepath.Clean(event.Name) != filepath.Clean(target) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if esc, done := q.checkResolved(id); done {
				return esc, nil
			}

		case <-ticker.C:
			if esc, done := q.checkResolved(id); done {
				return esc, nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("watcher closed while waiting for %s", id)
			}
			q.logger.Warn("escalation watch error", "id", id, "error", err)
		}
	}
}

func (q *Queue) checkResolved(id string) (*Escalation, bool) {
	esc, err := q.GetByID(id)
	if err != nil {
		return nil, false
	}
	if esc.Status == StatusPending {
		return nil, false
	}
	return esc, true
}
