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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bmad-labs/bmad/pkg/orchestrator"
)

// StatusCmd prints the per-phase workflow status.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	sf, err := orchestrator.LoadStatus(cli.Root)
	if err != nil {
		return err
	}
	if len(sf.Phases) == 0 {
		fmt.Println("No phases have run yet. Start with:  bmad run")
		return nil
	}

	if sf.Project != "" {
		fmt.Printf("Project: %s\n\n", sf.Project)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tSTATUS\tSCORE\tATTEMPTS\tARTIFACT")
	for _, phase := range pipelinePhases {
		ps, ok := sf.Phases[phase]
		if !ok {
			fmt.Fprintf(w, "%s\tnot started\t\t\t\n", phase)
			continue
		}
		score := ""
		if ps.Score > 0 {
			score = fmt.Sprintf("%.0f", ps.Score)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", phase, ps.Status, score, ps.Attempts, ps.Artifact)
		if ps.EscalationID != "" {
			fmt.Fprintf(w, "\tescalation: %s\t\t\t\n", ps.EscalationID)
		}
	}
	return w.Flush()
}
