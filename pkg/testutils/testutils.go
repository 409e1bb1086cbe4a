// Package testutils provides shared test doubles for the pipeline packages.
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/llms"
)

// MockProvider is a scripted llms.Provider for tests. Responses are
// returned in order; once exhausted, the last response repeats. Calls
// are captured for assertion.
type MockProvider struct {
	mu        sync.Mutex
	Name      string
	Responses []string
	Err       error

	// CostPerCall is the fixed cost reported per invocation.
	CostPerCall float64

	// Calls captures every request seen by Invoke.
	Calls []llms.Request

	callCount int
}

// NewMockProvider creates a mock returning the given responses in order.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{Name: "mock-model", Responses: responses}
}

func (m *MockProvider) Invoke(ctx context.Context, req llms.Request) (*llms.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return nil, fmt.Errorf("mock provider has no responses")
	}

	idx := m.callCount
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.callCount++

	text := m.Responses[idx]
	usage := llms.TokenUsage{
		InputTokens:  len(req.System) + len(req.Prompt),
		OutputTokens: len(text),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &llms.Response{
		Text:  text,
		Model: m.Name,
		Usage: usage,
		Cost:  m.CostPerCall,
	}, nil
}

func (m *MockProvider) EstimateCost(usage llms.TokenUsage) float64 {
	return m.CostPerCall
}

func (m *MockProvider) ModelName() string {
	return m.Name
}

func (m *MockProvider) Close() error {
	return nil
}

// CallCount reports how many times Invoke was called.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or a zero request.
func (m *MockProvider) LastCall() llms.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return llms.Request{}
	}
	return m.Calls[len(m.Calls)-1]
}

// TestConfig returns a minimal valid project configuration for tests.
func TestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Project.Name = "test-project"
	cfg.AgentAssignments = map[string]config.AgentAssignment{
		"john":    {Model: "claude-sonnet-4-20250514", Provider: "anthropic"},
		"winston": {Model: "claude-opus-4-20250514", Provider: "anthropic"},
	}
	cfg.SetDefaults()
	return cfg
}
