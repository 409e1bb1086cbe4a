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
	"log/slog"

	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/config/provider"
	"github.com/bmad-labs/bmad/pkg/escalation"
	"github.com/bmad-labs/bmad/pkg/logger"
	"github.com/bmad-labs/bmad/pkg/observability"
	"github.com/bmad-labs/bmad/pkg/server"
)

// ServeCmd starts the escalation review server.
type ServeCmd struct {
	Addr string `help:"Listen address." default:":8080"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := slog.Default()

	fp, err := provider.NewFileProvider(cli.configPath())
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer fp.Close()

	// The server is long-running, so config edits take effect without a
	// restart. Level and format changes reinstall the process logger.
	loader := config.NewLoader(fp,
		config.WithLogger(log),
		config.WithOnChange(func(next *config.Config) {
			logger.Init(logger.Options{
				Level:  logger.ParseLevel(next.Logging.Level),
				Format: logger.Format(next.Logging.Format),
			})
			slog.Info("configuration reloaded",
				"log_level", next.Logging.Level,
				"log_format", next.Logging.Format)
		}))
	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	if err := loader.Watch(ctx); err != nil {
		return err
	}

	queue, err := escalation.NewQueue(config.EscalationsPath(cli.Root), escalation.WithLogger(log))
	if err != nil {
		return err
	}

	metrics, err := observability.InitMetrics(cfg.Metrics)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{Addr: c.Addr, Root: cli.Root}, queue,
		server.WithLogger(log),
		server.WithMetrics(metrics))
	if err != nil {
		return err
	}

	fmt.Printf("Escalation review server on %s\n", c.Addr)
	fmt.Printf("  Escalations:  http://localhost%s/v1/escalations\n", c.Addr)
	fmt.Printf("  Status:       http://localhost%s/v1/status\n", c.Addr)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:      http://localhost%s/metrics\n", c.Addr)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}
