// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command ariadne is the thin entrypoint that exercises the orchestration
// core end-to-end. The full CLI argument surface, console rendering, and
// report formatting are external-collaborator concerns (§1 Non-goals);
// this binary wires just enough cobra commands to drive a build from a
// specification file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ariadne-build/ariadne/internal/ariadnelog"
	"github.com/ariadne-build/ariadne/internal/buildconfig"
	"github.com/ariadne-build/ariadne/internal/buildmemory"
	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/ariadne-build/ariadne/internal/costledger"
	"github.com/ariadne-build/ariadne/internal/phaseplan"
	"github.com/ariadne-build/ariadne/internal/scheduler"
	"github.com/ariadne-build/ariadne/internal/toolregistry"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	configPath string
	envFile    string
)

func main() {
	root := &cobra.Command{
		Use:   "ariadne",
		Short: "Autonomous multi-phase project builder orchestration core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env overlay")

	root.AddCommand(buildCmd(), resumeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCmd() *cobra.Command {
	var specPath string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Plan and run a build from a specification file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), specPath, false)
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "path to the specification text file")
	cmd.MarkFlagRequired("spec")
	return cmd
}

func resumeCmd() *cobra.Command {
	var specPath string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a build from the newest checkpoint matching the spec hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), specPath, true)
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "path to the specification text file")
	cmd.MarkFlagRequired("spec")
	return cmd
}

func runBuild(ctx context.Context, specPath string, resume bool) error {
	cfg, err := buildconfig.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// A bare tracer provider with no span processor or exporter gives the
	// scheduler/driver spans a provider without standing up a collector;
	// the spans are not exported anywhere. A real deployment would register
	// an OTLP exporter here.
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(ctx)

	level := slog.LevelInfo
	if cfg.LogLevel == "DEBUG" {
		level = slog.LevelDebug
	}
	ariadnelog.SetHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if isatty.IsTerminal(os.Stdout.Fd()) {
		ariadnelog.For("cli").Debug("interactive terminal detected")
	}
	logger := ariadnelog.For("scheduler")

	specBytes, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("read specification: %w", err)
	}
	spec := buildmodel.NewSpecification(string(specBytes))

	memDir := filepath.Join(cfg.OutputDir, ".memory")
	var mem *buildmemory.Memory
	if resume {
		loaded, ok, err := buildmemory.LoadLatest(memDir)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if ok && loaded.SpecificationHash == spec.Hash {
			mem = loaded
		}
	}
	if mem == nil {
		mem = buildmemory.New(filepath.Base(cfg.OutputDir), spec.Hash)
	}

	plan := phaseplan.Validate(phaseplan.DefaultTemplate(), phaseplan.Options{
		MinPhases:        cfg.MinPhases,
		MinTasksPerPhase: cfg.MinTasksPerPhase,
	})

	ledger := costledger.New(costledger.DefaultPricing())
	registry := toolregistry.New()
	_ = registry

	executor := scheduler.PhaseExecutorFunc(func(ctx context.Context, phase *buildmodel.Phase, attempt int) error {
		// The real executor composes a prompt (C5), launches the agent
		// subprocess (C6), and classifies its event stream (C4). This thin
		// entrypoint's job is wiring, not reimplementing those packages;
		// a full product CLI supplies the actual subprocess command here.
		return fmt.Errorf("no agent subprocess command configured")
	})

	sched := scheduler.New(mem, executor, scheduler.Policy{
		MaxRetries:      cfg.MaxRetries,
		BaseRetryDelay:  cfg.BaseRetryDelay,
		ContinueOnError: cfg.ContinueOnError,
	}, memDir, logger)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := sched.Run(sigCtx, plan)
	summary := ledger.Summary()
	logger.Info("build finished", "interrupted", result.Interrupted, "halted", result.Halted, "total_cost_usd", summary.TotalCostUSD)

	if result.Interrupted {
		os.Exit(130)
	}
	if result.Halted {
		os.Exit(1)
	}
	return nil
}
