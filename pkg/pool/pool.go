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

// Package pool manages a bounded set of running agents: spawn, invoke,
// destroy, FIFO queueing when saturated, lifecycle events, and cost
// accounting.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bmad-labs/bmad/pkg/agent"
	"github.com/bmad-labs/bmad/pkg/llms"
)

var (
	// ErrAgentNotFound is returned for an unknown agent id.
	ErrAgentNotFound = errors.New("pool: agent not found")

	// ErrAgentDestroyed is returned when invoking a completed or
	// cancelled agent.
	ErrAgentDestroyed = errors.New("pool: agent destroyed")

	// ErrCancelled resolves queued create requests on shutdown.
	ErrCancelled = errors.New("pool: cancelled")

	// ErrBudgetExceeded is returned when an invocation would push the
	// pool past its cost budget.
	ErrBudgetExceeded = errors.New("pool: budget exceeded")

	// ErrQueueDisabled is returned at capacity when queueing is off.
	ErrQueueDisabled = errors.New("pool: capacity exceeded and queueing disabled")
)

// ProviderFactory resolves a persona name to its LLM provider.
type ProviderFactory func(name string) (llms.Provider, error)

// Config configures a Pool.
type Config struct {
	// MaxConcurrentAgents bounds active agents. Default 3.
	MaxConcurrentAgents int

	// DisableQueueing makes Create fail at capacity instead of waiting.
	DisableQueueing bool

	// AutoCleanupHungAgents destroys agents idle in Invoked state
	// longer than HeartbeatTimeout.
	AutoCleanupHungAgents bool

	// HeartbeatTimeout is the hung-agent threshold. Default 10m.
	HeartbeatTimeout time.Duration

	// MaxBudget caps aggregate cost in USD. Zero means unlimited.
	MaxBudget float64
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxConcurrentAgents == 0 {
		c.MaxConcurrentAgents = 3
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Minute
	}
}

type pendingRequest struct {
	name    string
	persona *agent.Persona
	actx    agent.Context
	result  chan createResult
}

type createResult struct {
	agent *Agent
	err   error
}

// CostSummary reports pool-wide cost accounting.
type CostSummary struct {
	Total   float64            `json:"total"`
	ByAgent map[string]float64 `json:"by_agent"`
}

// Pool is the concurrency-limited agent registry.
type Pool struct {
	config  Config
	factory ProviderFactory
	logger  *slog.Logger
	events  eventBus

	mu        sync.Mutex
	agents    map[string]*Agent
	active    int
	queue     []*pendingRequest
	totalCost float64
	byAgent   map[string]float64
	shutdown  bool

	stopCleanup chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates a Pool with the given provider factory.
func New(cfg Config, factory ProviderFactory, opts ...Option) *Pool {
	cfg.SetDefaults()

	p := &Pool{
		config:      cfg,
		factory:     factory,
		logger:      slog.Default(),
		agents:      make(map[string]*Agent),
		byAgent:     make(map[string]float64),
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.AutoCleanupHungAgents {
		go p.cleanupLoop()
	}

	return p
}

// Subscribe returns a channel of lifecycle events. Slow consumers drop
// events.
func (p *Pool) Subscribe() <-chan Event {
	return p.events.subscribe(64)
}

// Create admits a new agent, waiting FIFO when the pool is saturated.
// The returned agent is in the Started state.
func (p *Pool) Create(ctx context.Context, name string, persona *agent.Persona, actx agent.Context) (*Agent, error) {
	if persona == nil {
		return nil, fmt.Errorf("persona is required")
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, ErrCancelled
	}

	if p.active < p.config.MaxConcurrentAgents {
		p.active++
		p.mu.Unlock()

		a, err := p.admit(name, persona, actx)
		if err != nil {
			p.mu.Lock()
			p.active--
			p.serviceQueueLocked()
			p.mu.Unlock()
		}
		return a, err
	}

	if p.config.DisableQueueing {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d active", ErrQueueDisabled, p.config.MaxConcurrentAgents)
	}

	req := &pendingRequest{
		name:    name,
		persona: persona,
		actx:    actx,
		result:  make(chan createResult, 1),
	}
	p.queue = append(p.queue, req)
	p.mu.Unlock()

	p.logger.Debug("agent creation queued", "name", name, "queue_depth", p.QueuedTasks())

	select {
	case <-ctx.Done():
		p.removeQueued(req)
		return nil, ctx.Err()
	case res := <-req.result:
		return res.agent, res.err
	}
}

// admit builds the agent once a slot is held.
func (p *Pool) admit(name string, persona *agent.Persona, actx agent.Context) (*Agent, error) {
	provider, err := p.factory(name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider for %q: %w", name, err)
	}

	a := &Agent{
		ID:       fmt.Sprintf("agent-%s", uuid.NewString()[:8]),
		Name:     name,
		Persona:  persona,
		Context:  actx,
		provider: provider,
	}
	a.setState(StateStarted)

	p.mu.Lock()
	p.agents[a.ID] = a
	p.mu.Unlock()

	p.events.emit(Event{Kind: EventStarted, AgentID: a.ID, AgentName: a.Name})
	p.logger.Info("agent started", "id", a.ID, "name", name)

	return a, nil
}

// Invoke runs one prompt through the agent's provider. On failure the
// agent stays in Invoked so the caller may retry.
func (p *Pool) Invoke(ctx context.Context, id, prompt string) (string, error) {
	a, err := p.Get(id)
	if err != nil {
		return "", err
	}
	if a.terminal() {
		return "", fmt.Errorf("%w: %s", ErrAgentDestroyed, id)
	}

	if err := p.checkBudget(); err != nil {
		return "", err
	}

	a.setState(StateInvoked)

	resp, err := a.provider.Invoke(ctx, llms.Request{
		System: a.Persona.Body,
		Prompt: prompt,
	})
	if err != nil {
		p.events.emit(Event{Kind: EventFailed, AgentID: a.ID, AgentName: a.Name, Err: err})
		p.logger.Warn("agent invocation failed", "id", a.ID, "error", err)
		return "", fmt.Errorf("invocation failed for agent %s: %w", id, err)
	}

	total := a.addCost(resp.Cost)

	p.mu.Lock()
	p.totalCost += resp.Cost
	p.byAgent[a.Name] += resp.Cost
	p.mu.Unlock()

	p.events.emit(Event{Kind: EventInvoked, AgentID: a.ID, AgentName: a.Name, Cost: total})
	p.logger.Debug("agent invoked",
		"id", a.ID,
		"tokens", resp.Usage.TotalTokens,
		"cost", resp.Cost)

	return resp.Text, nil
}

// Destroy detaches the agent, marks it Completed, and services the
// queue head.
func (p *Pool) Destroy(id string) error {
	p.mu.Lock()
	a, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(p.agents, id)
	p.active--
	p.serviceQueueLocked()
	p.mu.Unlock()

	a.setState(StateCompleted)
	if err := a.provider.Close(); err != nil {
		p.logger.Warn("provider close failed", "agent", id, "error", err)
	}

	p.events.emit(Event{Kind: EventCompleted, AgentID: a.ID, AgentName: a.Name, Cost: a.EstimatedCost()})
	p.logger.Info("agent completed", "id", id, "cost", a.EstimatedCost())

	return nil
}

// Get returns an agent by id while it is attached to the pool.
func (p *Pool) Get(id string) (*Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

// ActiveAgents lists currently attached agents.
func (p *Pool) ActiveAgents() []*Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Agent, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a)
	}
	return out
}

// QueuedTasks reports the number of pending create requests.
func (p *Pool) QueuedTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Costs returns a snapshot of pool cost accounting.
func (p *Pool) Costs() CostSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	by := make(map[string]float64, len(p.byAgent))
	for k, v := range p.byAgent {
		by[k] = v
	}
	return CostSummary{Total: p.totalCost, ByAgent: by}
}

// Shutdown destroys all agents and fails queued requests with a
// cancellation error.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	queued := p.queue
	p.queue = nil
	agents := make([]*Agent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.agents = make(map[string]*Agent)
	p.active = 0
	p.mu.Unlock()

	close(p.stopCleanup)

	for _, req := range queued {
		req.result <- createResult{err: ErrCancelled}
	}

	for _, a := range agents {
		a.setState(StateCancelled)
		a.provider.Close()
		p.events.emit(Event{Kind: EventCancelled, AgentID: a.ID, AgentName: a.Name})
	}

	p.events.close()
	p.logger.Info("agent pool shut down", "cancelled_agents", len(agents), "cancelled_queue", len(queued))
}

// serviceQueueLocked admits the earliest queued request. Caller holds
// p.mu; admission runs outside the lock.
func (p *Pool) serviceQueueLocked() {
	if len(p.queue) == 0 || p.active >= p.config.MaxConcurrentAgents {
		return
	}
	req := p.queue[0]
	p.queue = p.queue[1:]
	p.active++

	go func() {
		a, err := p.admit(req.name, req.persona, req.actx)
		if err != nil {
			p.mu.Lock()
			p.active--
			p.serviceQueueLocked()
			p.mu.Unlock()
		}
		req.result <- createResult{agent: a, err: err}
	}()
}

func (p *Pool) removeQueued(req *pendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, q := range p.queue {
		if q == req {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

func (p *Pool) checkBudget() error {
	if p.config.MaxBudget <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.totalCost >= p.config.MaxBudget {
		return fmt.Errorf("%w: spent %.2f of %.2f", ErrBudgetExceeded, p.totalCost, p.config.MaxBudget)
	}
	return nil
}

// cleanupLoop destroys agents stuck in Invoked past the heartbeat
// timeout.
func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(p.config.HeartbeatTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCleanup:
			return
		case <-ticker.C:
			p.reapHungAgents()
		}
	}
}

func (p *Pool) reapHungAgents() {
	cutoff := time.Now().Add(-p.config.HeartbeatTimeout)

	var hung []*Agent
	p.mu.Lock()
	for _, a := range p.agents {
		if a.State() == StateInvoked && a.LastActivity().Before(cutoff) {
			hung = append(hung, a)
		}
	}
	p.mu.Unlock()

	for _, a := range hung {
		p.logger.Warn("destroying hung agent", "id", a.ID, "idle_since", a.LastActivity())
		a.setState(StateFailed)
		p.events.emit(Event{Kind: EventFailed, AgentID: a.ID, AgentName: a.Name, Err: errors.New("heartbeat timeout")})
		p.Destroy(a.ID)
	}
}
