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
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/escalation"
	"github.com/bmad-labs/bmad/pkg/logger"
)

// EscalationsCmd groups escalation queue subcommands.
type EscalationsCmd struct {
	List    EscListCmd    `cmd:"" help:"List escalations."`
	Show    EscShowCmd    `cmd:"" help:"Show one escalation."`
	Respond EscRespondCmd `cmd:"" help:"Answer a pending escalation."`
	Cancel  EscCancelCmd  `cmd:"" help:"Cancel a pending escalation."`
	Metrics EscMetricsCmd `cmd:"" help:"Show queue metrics."`
}

func openQueue(cli *CLI) (*escalation.Queue, error) {
	return escalation.NewQueue(config.EscalationsPath(cli.Root), escalation.WithLogger(logger.Nop()))
}

// EscListCmd lists escalations, optionally filtered.
type EscListCmd struct {
	Status   string `help:"Filter by status (pending, resolved, cancelled)."`
	Workflow string `help:"Filter by workflow (prd, architecture, solutioning)."`
}

func (c *EscListCmd) Run(cli *CLI) error {
	queue, err := openQueue(cli)
	if err != nil {
		return err
	}
	list, err := queue.List(escalation.Filter{
		Status:     escalation.Status(c.Status),
		WorkflowID: c.Workflow,
	})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No escalations.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tCONFIDENCE\tQUESTION")
	for _, esc := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
			esc.ID, esc.WorkflowID, esc.Status, esc.Confidence, truncate(esc.Question, 60))
	}
	return w.Flush()
}

// EscShowCmd prints one escalation in full.
type EscShowCmd struct {
	ID string `arg:"" help:"Escalation id."`
}

func (c *EscShowCmd) Run(cli *CLI) error {
	queue, err := openQueue(cli)
	if err != nil {
		return err
	}
	esc, err := queue.GetByID(c.ID)
	if err != nil {
		return err
	}

	fmt.Printf("ID:         %s\n", esc.ID)
	fmt.Printf("Workflow:   %s (step %d)\n", esc.WorkflowID, esc.Step)
	fmt.Printf("Status:     %s\n", esc.Status)
	fmt.Printf("Confidence: %.2f\n", esc.Confidence)
	fmt.Printf("Created:    %s\n", esc.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("\nQuestion:\n  %s\n", esc.Question)
	if esc.AIReasoning != "" {
		fmt.Printf("\nAI reasoning:\n  %s\n", esc.AIReasoning)
	}
	if esc.Response != nil {
		fmt.Printf("\nResponse (%s):\n  %s\n", esc.Response.Responder, esc.Response.Decision)
		if esc.Response.Rationale != "" {
			fmt.Printf("  Rationale: %s\n", esc.Response.Rationale)
		}
	}
	return nil
}

// EscRespondCmd answers a pending escalation. Without --decision it
// prompts interactively when attached to a terminal.
type EscRespondCmd struct {
	ID        string `arg:"" help:"Escalation id."`
	Decision  string `short:"d" help:"The decision text."`
	Rationale string `help:"Why this decision was made."`
	Responder string `help:"Responder name (default: current user)."`
}

func (c *EscRespondCmd) Run(cli *CLI) error {
	queue, err := openQueue(cli)
	if err != nil {
		return err
	}

	if c.Decision == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("--decision is required when stdin is not a terminal")
		}
		esc, err := queue.GetByID(c.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Question: %s\n", esc.Question)
		if esc.AIReasoning != "" {
			fmt.Printf("AI reasoning: %s\n", esc.AIReasoning)
		}
		if c.Decision, err = prompt("Decision: "); err != nil {
			return err
		}
		if c.Decision == "" {
			return fmt.Errorf("empty decision, aborting")
		}
		if c.Rationale, err = prompt("Rationale (optional): "); err != nil {
			return err
		}
	}

	if c.Responder == "" {
		if u, err := user.Current(); err == nil {
			c.Responder = u.Username
		}
	}

	esc, err := queue.Respond(c.ID, escalation.Response{
		Decision:  c.Decision,
		Rationale: c.Rationale,
		Responder: c.Responder,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Escalation %s resolved. Resume with:  bmad resume %s\n", esc.ID, esc.WorkflowID)
	return nil
}

// EscCancelCmd cancels a pending escalation.
type EscCancelCmd struct {
	ID string `arg:"" help:"Escalation id."`
}

func (c *EscCancelCmd) Run(cli *CLI) error {
	queue, err := openQueue(cli)
	if err != nil {
		return err
	}
	esc, err := queue.Cancel(c.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Escalation %s cancelled.\n", esc.ID)
	return nil
}

// EscMetricsCmd prints queue metrics.
type EscMetricsCmd struct{}

func (c *EscMetricsCmd) Run(cli *CLI) error {
	queue, err := openQueue(cli)
	if err != nil {
		return err
	}
	m, err := queue.GetMetrics()
	if err != nil {
		return err
	}
	fmt.Printf("Total:       %d\n", m.TotalEscalations)
	fmt.Printf("Resolved:    %d\n", m.ResolvedCount)
	if m.ResolvedCount > 0 {
		fmt.Printf("Avg resolve: %.0fms\n", m.AverageResolutionTime)
	}
	for workflow, n := range m.CategoryBreakdown {
		fmt.Printf("  %-14s %d\n", workflow, n)
	}
	return nil
}

func prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
