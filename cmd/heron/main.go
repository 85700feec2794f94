// Heron - Hybrid health-risk screening engine.
// Copyright (c) 2025 opensource.health
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-health/heron/internal/config"
	"github.com/opensource-health/heron/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to a heron.yaml config file (optional)",
	Sources: cli.EnvVars("HERON_CONFIG"),
}

// cfg is loaded once in Before and shared by every command.
var cfg *domain.Config

func main() {
	app := &cli.Command{
		Name:    "heron",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Usage:   "Screening-level health-risk scoring (not a diagnosis)",
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			serveCmd,
			assessCmd,
			questionsCmd,
			modelsCmd,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			c, err := config.Load(cmd.String(configFlag.Name))
			if err != nil {
				return ctx, err
			}
			cfg = c

			// serve logs to stdout; the one-shot commands keep stdout for their output
			var w io.Writer = os.Stderr
			if cmd.Args().First() == serveCmd.Name {
				w = os.Stdout
			}
			slog.SetDefault(config.NewLogger(cfg.Logging, w))

			// spans go to a registered provider only when tracing is on
			if !cfg.Tracing.Enabled {
				otel.SetTracerProvider(noop.NewTracerProvider())
			}
			return ctx, nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}
