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

// Package provider defines the config source abstraction. The pipeline
// is filesystem-rooted, so the file provider is the only implementation.
package provider

import (
	"context"
)

// Provider loads raw config bytes and optionally watches for changes.
type Provider interface {
	// Load reads the current config content.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that receives a value whenever the config
	// source changes. The channel closes when ctx is cancelled or the
	// provider is closed.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases watcher resources.
	Close() error
}
