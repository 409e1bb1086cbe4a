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

// Package llms provides the LLM provider contract consumed by the agent
// pool and decision engine, plus adapters for Anthropic, OpenAI, Gemini
// and Ollama. Providers are stateless between invocations.
package llms

import (
	"context"
	"errors"
	"os"
)

var (
	// ErrUnknownProvider is returned for an unrecognized provider type.
	ErrUnknownProvider = errors.New("llms: unknown provider")

	// ErrUnsupportedModel is returned when a model name does not belong
	// to the configured provider family.
	ErrUnsupportedModel = errors.New("llms: unsupported model")

	// ErrInvocation wraps provider API failures.
	ErrInvocation = errors.New("llms: invocation failed")
)

// ProviderType identifies the LLM provider.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderGemini    ProviderType = "gemini"
	ProviderOllama    ProviderType = "ollama"
)

// ProviderConfig configures a provider adapter.
type ProviderConfig struct {
	Type        ProviderType `yaml:"type"`
	Model       string       `yaml:"model"`
	APIKey      string       `yaml:"api_key,omitempty"`
	BaseURL     string       `yaml:"base_url,omitempty"`
	Temperature float64      `yaml:"temperature,omitempty"`
	MaxTokens   int          `yaml:"max_tokens,omitempty"`

	// Timeout in seconds for a single HTTP request.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries bounds transient-failure retries.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelay is the backoff base in seconds.
	RetryDelay int `yaml:"retry_delay,omitempty"`
}

// SetDefaults applies per-provider defaults.
func (c *ProviderConfig) SetDefaults() {
	if c.Model == "" {
		switch c.Type {
		case ProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case ProviderOpenAI:
			c.Model = "gpt-4o"
		case ProviderGemini:
			c.Model = "gemini-2.0-flash"
		case ProviderOllama:
			c.Model = "llama3.1"
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Type)
	}
}

// apiKeyFromEnv returns the conventional environment variable for the
// provider. Ollama runs locally and needs no key.
func apiKeyFromEnv(t ProviderType) string {
	switch t {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

// Request is a single completion request.
type Request struct {
	// System is the system prompt (persona text).
	System string

	// Prompt is the user-turn content.
	Prompt string

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// MaxTokens overrides the provider default when > 0.
	MaxTokens int
}

// TokenUsage reports token consumption for one invocation.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the completion result.
type Response struct {
	Text  string
	Model string
	Usage TokenUsage

	// Cost is the estimated USD cost of this invocation.
	Cost float64
}

// Provider is the capability interface consumed by the core. It must be
// stateless between invocations.
type Provider interface {
	// Invoke sends one completion request.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// EstimateCost converts token usage to USD.
	EstimateCost(usage TokenUsage) float64

	// ModelName returns the configured model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}
