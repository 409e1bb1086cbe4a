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

package llms

import (
	"fmt"
	"strings"

	"github.com/bmad-labs/bmad/pkg/registry"
)

// Registry holds named provider instances.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// modelFamilies lists valid model-name prefixes per provider.
var modelFamilies = map[ProviderType][]string{
	ProviderAnthropic: {"claude-"},
	ProviderOpenAI:    {"gpt-", "o1", "o3", "o4"},
	ProviderGemini:    {"gemini-"},
	// Ollama hosts arbitrary local models; any name is accepted.
}

// ValidateModel checks that a model name belongs to the provider family.
func ValidateModel(providerType ProviderType, model string) error {
	prefixes, known := modelFamilies[providerType]
	if !known {
		return nil
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(model, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: model %q is not served by provider %q", ErrUnsupportedModel, model, providerType)
}

// CreateProvider instantiates a provider from config and registers it
// under name.
func (r *Registry) CreateProvider(name string, cfg *ProviderConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("provider config cannot be nil")
	}

	cfg.SetDefaults()

	if err := ValidateModel(cfg.Type, cfg.Model); err != nil {
		return nil, err
	}

	var (
		provider Provider
		err      error
	)

	switch cfg.Type {
	case ProviderAnthropic:
		provider, err = NewAnthropicProvider(cfg)
	case ProviderOpenAI:
		provider, err = NewOpenAIProvider(cfg)
	case ProviderGemini:
		provider, err = NewGeminiProvider(cfg)
	case ProviderOllama:
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %q (supported: anthropic, openai, gemini, ollama)", ErrUnknownProvider, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Type, err)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register provider: %w", err)
	}

	return provider, nil
}

// GetProvider returns a registered provider by name.
func (r *Registry) GetProvider(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("LLM provider %q not found", name)
	}
	return provider, nil
}

// Close closes all registered providers.
func (r *Registry) Close() error {
	var firstErr error
	for _, p := range r.List() {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
