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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmad-labs/bmad/pkg/escalation"
	"github.com/bmad-labs/bmad/pkg/orchestrator"
	"github.com/bmad-labs/bmad/pkg/state"
)

// pipelinePhases in execution order.
var pipelinePhases = []string{
	orchestrator.PhasePRD,
	orchestrator.PhaseArchitecture,
	orchestrator.PhaseSolutioning,
}

// RunCmd runs one phase, or all phases in order.
type RunCmd struct {
	Phase    string `arg:"" optional:"" help:"Phase to run (prd, architecture, solutioning). Empty runs all."`
	Template string `help:"Custom architecture template path." type:"path"`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, cli.Root, cli.configPath())
	if err != nil {
		return err
	}
	defer p.Close()

	phases := pipelinePhases
	if c.Phase != "" {
		phases = []string{c.Phase}
	}

	for _, phase := range phases {
		result, err := runPhase(ctx, p, phase, c.Template)
		if err != nil {
			if errors.Is(err, orchestrator.ErrSuspended) {
				fmt.Printf("\nPhase %s paused on escalation %s\n", phase, result.EscalationID)
				fmt.Printf("Answer it with:  bmad escalations respond %s\n", result.EscalationID)
				fmt.Printf("Then continue:   bmad resume %s\n", phase)
			}
			return err
		}
		fmt.Printf("Phase %-13s score=%.0f attempts=%d artifact=%s\n",
			result.Phase, result.Score, result.Attempts, result.Artifact)
	}

	costs := p.pool.Costs()
	if costs.Total > 0 {
		fmt.Printf("\nLLM spend this run: $%.4f\n", costs.Total)
	}
	return nil
}

// ResumeCmd re-runs a phase that paused on an escalation.
type ResumeCmd struct {
	Phase string `arg:"" help:"Phase to resume (prd, architecture, solutioning)."`
	Wait  bool   `help:"Block until the pending escalation is answered." default:"true" negatable:""`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, cli.Root, cli.configPath())
	if err != nil {
		return err
	}
	defer p.Close()

	ws, err := p.states.Load(c.Phase)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("phase %q has never run", c.Phase)
		}
		return err
	}
	if ws.Status != state.StatusPaused {
		return fmt.Errorf("phase %q is %s, not paused", c.Phase, ws.Status)
	}

	pending, err := p.queue.List(escalation.Filter{
		Status:     escalation.StatusPending,
		WorkflowID: c.Phase,
	})
	if err != nil {
		return err
	}

	for _, esc := range pending {
		if !c.Wait {
			return fmt.Errorf("escalation %s is still pending; answer it or use --wait", esc.ID)
		}
		fmt.Printf("Waiting for escalation %s: %s\n", esc.ID, esc.Question)
		resolved, err := p.queue.WaitForResponse(ctx, esc.ID)
		if err != nil {
			return err
		}
		if resolved.Response == nil {
			return fmt.Errorf("escalation %s was cancelled; re-run the phase to regenerate", esc.ID)
		}
		fmt.Printf("Answered by %s: %s\n", resolved.Response.Responder, resolved.Response.Decision)
	}

	_, err = runPhase(ctx, p, c.Phase, "")
	return err
}

// runPhase dispatches to the phase orchestrator and records timing.
func runPhase(ctx context.Context, p *pipeline, phase, archTemplate string) (*orchestrator.PhaseResult, error) {
	start := time.Now()
	p.logger.Info("starting phase", "phase", phase)

	var (
		result *orchestrator.PhaseResult
		err    error
	)
	switch phase {
	case orchestrator.PhasePRD:
		var o *orchestrator.PRDOrchestrator
		if o, err = orchestrator.NewPRD(p.deps()); err == nil {
			result, err = o.Run(ctx)
		}
	case orchestrator.PhaseArchitecture:
		var opts []orchestrator.ArchOption
		if archTemplate != "" {
			opts = append(opts, orchestrator.WithCustomTemplate(archTemplate))
		}
		var o *orchestrator.ArchitectureOrchestrator
		if o, err = orchestrator.NewArchitecture(p.deps(), opts...); err == nil {
			result, err = o.Run(ctx)
		}
	case orchestrator.PhaseSolutioning:
		var o *orchestrator.SolutioningOrchestrator
		if o, err = orchestrator.NewSolutioning(p.deps(), orchestrator.WithCISRouter(p.router)); err == nil {
			result, err = o.Run(ctx)
		}
	default:
		return nil, fmt.Errorf("unknown phase %q (expected prd, architecture, or solutioning)", phase)
	}

	if result == nil {
		result = &orchestrator.PhaseResult{Phase: phase}
	}
	p.logger.Info("phase finished",
		"phase", phase,
		"passed", result.Passed,
		"duration", time.Since(start).Round(time.Millisecond),
		"error", err)
	return result, err
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
