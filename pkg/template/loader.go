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
	"log/slog"
	"os"
)

// TemplateSource marks where a loaded template came from.
type TemplateSource string

const (
	SourceDefault TemplateSource = "default"
	SourceCustom  TemplateSource = "custom"
)

// LoadResult is a loaded, validated template.
type LoadResult struct {
	Content string
	Source  TemplateSource
	Path    string
}

// Load reads the default template, or a custom override when its path
// is set and the file both loads and validates. An invalid custom
// template falls back to the default with a logged warning.
func Load(defaultPath, customPath string, requiredSections []string, logger *slog.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if customPath != "" {
		data, err := os.ReadFile(customPath)
		if err != nil {
			logger.Warn("custom template unreadable, falling back to default",
				"path", customPath, "error", err)
		} else if res := Validate(string(data), requiredSections); !res.Valid {
			logger.Warn("custom template invalid, falling back to default",
				"path", customPath, "errors", res.Errors)
		} else {
			logger.Info("using custom template", "path", customPath)
			return &LoadResult{Content: string(data), Source: SourceCustom, Path: customPath}, nil
		}
	}

	data, err := os.ReadFile(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", defaultPath, err)
	}

	logger.Debug("using default template", "path", defaultPath)
	return &LoadResult{Content: string(data), Source: SourceDefault, Path: defaultPath}, nil
}
