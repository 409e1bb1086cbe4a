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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/bmad-labs/bmad/pkg/cis"
	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/config/provider"
	"github.com/bmad-labs/bmad/pkg/decision"
	"github.com/bmad-labs/bmad/pkg/escalation"
	"github.com/bmad-labs/bmad/pkg/llms"
	"github.com/bmad-labs/bmad/pkg/observability"
	"github.com/bmad-labs/bmad/pkg/orchestrator"
	"github.com/bmad-labs/bmad/pkg/pool"
	"github.com/bmad-labs/bmad/pkg/state"
)

// pipeline bundles the collaborators every pipeline command needs.
type pipeline struct {
	root     string
	cfg      *config.Config
	logger   *slog.Logger
	registry *llms.Registry
	pool     *pool.Pool
	decision *decision.Engine
	queue    *escalation.Queue
	states   *state.Store
	metrics  observability.Recorder
	router   *cis.Router
}

// newPipeline loads config and wires the full runtime.
func newPipeline(ctx context.Context, root, configPath string) (*pipeline, error) {
	log := slog.Default()

	fp, err := provider.NewFileProvider(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	cfg, err := config.NewLoader(fp, config.WithLogger(log)).Load(ctx)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		root:     root,
		cfg:      cfg,
		logger:   log,
		registry: llms.NewRegistry(),
	}

	p.queue, err = escalation.NewQueue(config.EscalationsPath(root), escalation.WithLogger(log))
	if err != nil {
		return nil, err
	}
	p.states, err = state.NewStore(filepath.Join(root, ".bmad", "state"), state.WithLogger(log))
	if err != nil {
		return nil, err
	}

	p.metrics, err = observability.InitMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	p.pool = pool.New(pool.Config{
		MaxBudget: cfg.CostManagement.MaxMonthlyBudget,
	}, p.providerFor, pool.WithLogger(log))
	go observability.WatchPool(p.metrics, p.pool.Subscribe())

	decisionProvider, err := p.decisionProvider()
	if err != nil {
		return nil, err
	}
	p.decision = decision.NewEngine(decision.Config{
		OnboardingDir:       filepath.Join(root, cfg.Onboarding.DocsDir),
		EscalationThreshold: cfg.Decision.EscalationThreshold,
	}, decisionProvider, decision.WithLogger(log))

	p.router = cis.NewRouter(cis.Config{}, decisionProvider, cis.WithRouterLogger(log))
	go observability.WatchRouter(p.metrics, p.router.Subscribe(16))

	return p, nil
}

// providerFor resolves a persona's provider from agent assignments,
// reusing registered instances across agents on the same assignment.
func (p *pipeline) providerFor(name string) (llms.Provider, error) {
	assignment, ok := p.cfg.AgentAssignments[name]
	if !ok {
		return nil, fmt.Errorf("no agent assignment for persona %q", name)
	}

	key := assignment.Provider + "/" + assignment.Model
	if existing, err := p.registry.GetProvider(key); err == nil {
		return existing, nil
	}
	return p.registry.CreateProvider(key, &llms.ProviderConfig{
		Type:   llms.ProviderType(assignment.Provider),
		Model:  assignment.Model,
		APIKey: assignment.APIKey,
	})
}

// decisionProvider picks the provider backing the decision engine and
// CIS router: the "decision" assignment when present, otherwise the
// first assignment by name.
func (p *pipeline) decisionProvider() (llms.Provider, error) {
	if _, ok := p.cfg.AgentAssignments["decision"]; ok {
		return p.providerFor("decision")
	}

	names := make([]string, 0, len(p.cfg.AgentAssignments))
	for name := range p.cfg.AgentAssignments {
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("config has no agent_assignments; at least one persona is required")
	}
	sort.Strings(names)
	return p.providerFor(names[0])
}

func (p *pipeline) deps() orchestrator.Deps {
	return orchestrator.Deps{
		Config:      p.cfg,
		Pool:        p.pool,
		Decision:    p.decision,
		Escalations: p.queue,
		States:      p.states,
		Logger:      p.logger,
		Root:        p.root,
	}
}

func (p *pipeline) Close() {
	p.pool.Shutdown()
	if err := p.registry.Close(); err != nil {
		p.logger.Warn("provider shutdown failed", "error", err)
	}
}
