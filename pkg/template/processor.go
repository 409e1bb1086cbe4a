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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrSectionStartMarkerNotFound is returned for an unknown section.
	ErrSectionStartMarkerNotFound = errors.New("template: section start marker not found")

	// ErrSectionEndMarkerNotFound is returned when a start marker has
	// no matching end marker.
	ErrSectionEndMarkerNotFound = errors.New("template: section end marker not found")
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Substitute replaces every {{name}} placeholder present in vars.
// Placeholders without a value are left untouched.
func Substitute(content string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// startMarker and endMarker build the exact marker substrings.
func startMarker(section string) string {
	return fmt.Sprintf("<!-- SECTION: %s -->", section)
}

func endMarker(section string) string {
	return fmt.Sprintf("<!-- END SECTION: %s -->", section)
}

// ReplaceSection swaps the body between a section's markers, keeping
// the markers. Replacement is idempotent under equal content.
func ReplaceSection(doc, section, content string) (string, error) {
	start := startMarker(section)
	end := endMarker(section)

	startIdx := strings.Index(doc, start)
	if startIdx < 0 {
		return "", fmt.Errorf("%w: %q", ErrSectionStartMarkerNotFound, section)
	}
	bodyStart := startIdx + len(start)

	endIdx := strings.Index(doc[bodyStart:], end)
	if endIdx < 0 {
		return "", fmt.Errorf("%w: %q", ErrSectionEndMarkerNotFound, section)
	}
	endIdx += bodyStart

	var b strings.Builder
	b.WriteString(doc[:bodyStart])
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(content, "\n"))
	b.WriteString("\n")
	b.WriteString(doc[endIdx:])
	return b.String(), nil
}

// SectionBody returns the current content between a section's markers.
func SectionBody(doc, section string) (string, error) {
	start := startMarker(section)
	end := endMarker(section)

	startIdx := strings.Index(doc, start)
	if startIdx < 0 {
		return "", fmt.Errorf("%w: %q", ErrSectionStartMarkerNotFound, section)
	}
	bodyStart := startIdx + len(start)

	endIdx := strings.Index(doc[bodyStart:], end)
	if endIdx < 0 {
		return "", fmt.Errorf("%w: %q", ErrSectionEndMarkerNotFound, section)
	}

	return strings.Trim(doc[bodyStart:bodyStart+endIdx], "\n"), nil
}

// WriteDocument writes a document atomically via temp file and rename.
func WriteDocument(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit document: %w", err)
	}
	return nil
}
