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

// Command bmad drives the delivery pipeline: PRD, architecture, and
// solutioning phases with validation gates and human escalation.
//
// Usage:
//
//	bmad init
//	bmad run
//	bmad run architecture
//	bmad escalations list
//	bmad serve --addr :8080
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/logger"
	"github.com/bmad-labs/bmad/pkg/orchestrator"
)

// Exit codes beyond the generic failure, so scripts can branch on
// pipeline outcomes.
const (
	exitValidationFailed = 2
	exitSuspended        = 3
)

// CLI defines the command-line interface.
type CLI struct {
	Version     VersionCmd     `cmd:"" help:"Show version information."`
	Init        InitCmd        `cmd:"" help:"Write a starter project config."`
	Run         RunCmd         `cmd:"" help:"Run pipeline phases."`
	Resume      ResumeCmd      `cmd:"" help:"Resume a phase paused on an escalation."`
	Status      StatusCmd      `cmd:"" help:"Show workflow status."`
	Escalations EscalationsCmd `cmd:"" help:"Inspect and answer escalations."`
	Validate    ValidateCmd    `cmd:"" help:"Validate configuration and artifacts."`
	Workflow    WorkflowCmd    `cmd:"" help:"Run a declarative workflow definition."`
	Serve       ServeCmd       `cmd:"" help:"Start the escalation review server."`

	Root      string `short:"r" help:"Project root directory." default:"." type:"path"`
	Config    string `short:"c" help:"Path to config file (default: <root>/.bmad/project-config.yaml)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

func (c *CLI) configPath() string {
	if c.Config != "" {
		return c.Config
	}
	return config.ConfigPath(c.Root)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("bmad version %s\n", version)
	return nil
}

func main() {
	config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("bmad"),
		kong.Description("bmad - autonomous software delivery pipeline"),
		kong.UsageOnError(),
	)

	logger.Init(logger.Options{
		Level:  logger.ParseLevel(cli.LogLevel),
		Format: logger.Format(cli.LogFormat),
	})

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "bmad: %v\n", err)
		switch {
		case errors.Is(err, orchestrator.ErrSuspended):
			os.Exit(exitSuspended)
		case errors.Is(err, orchestrator.ErrValidationFailed):
			os.Exit(exitValidationFailed)
		default:
			os.Exit(1)
		}
	}
}
