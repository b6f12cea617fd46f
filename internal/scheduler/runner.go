// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariadne-build/ariadne/internal/buildmemory"
	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/ariadne-build/ariadne/internal/builderr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariadne-build/ariadne/internal/scheduler")

// PhaseExecutor runs one phase attempt (compose prompt, launch subprocess,
// classify events) and reports whether it succeeded. It is the seam
// between the scheduler and C5/C6/C4, kept as an interface so the
// scheduler's retry/dependency/checkpoint logic is testable without a real
// subprocess.
type PhaseExecutor interface {
	ExecutePhase(ctx context.Context, phase *buildmodel.Phase, attempt int) error
}

// PhaseExecutorFunc adapts a function to PhaseExecutor.
type PhaseExecutorFunc func(ctx context.Context, phase *buildmodel.Phase, attempt int) error

// ExecutePhase implements PhaseExecutor.
func (f PhaseExecutorFunc) ExecutePhase(ctx context.Context, phase *buildmodel.Phase, attempt int) error {
	return f(ctx, phase, attempt)
}

// Policy bundles the partial-failure and retry tunables consumed from
// buildconfig.Config.
type Policy struct {
	MaxRetries      int
	BaseRetryDelay  time.Duration
	ContinueOnError bool
}

// Scheduler is C9: it drives a Plan through PhaseExecutor, strictly
// sequentially, with checkpointing after every phase terminal transition.
type Scheduler struct {
	sm       *StateMachine
	memory   *buildmemory.Memory
	executor PhaseExecutor
	policy   Policy
	memDir   string
	logger   *slog.Logger

	interrupted bool
}

// New constructs a Scheduler.
func New(memory *buildmemory.Memory, executor PhaseExecutor, policy Policy, memDir string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{sm: NewStateMachine(), memory: memory, executor: executor, policy: policy, memDir: memDir, logger: logger}
}

// RunResult is the outcome of a full plan run.
type RunResult struct {
	Interrupted bool
	Halted      bool
	FailedPhase string
}

// Run executes every phase of plan in order. It respects dependency
// status, retries failed phases up to policy.MaxRetries with linear
// back-off, skips phases under continue_on_error when a dependency did
// not succeed, and checkpoints after every terminal transition. On ctx
// cancellation it stops at the next safe point and writes an "interrupted"
// checkpoint.
func (s *Scheduler) Run(ctx context.Context, plan *buildmodel.Plan) RunResult {
	for _, phase := range plan.Phases {
		if _, done := s.memory.Phase(phase.ID); !done {
			s.memory.AddPhase(phase)
		}

		select {
		case <-ctx.Done():
			s.writeInterrupted()
			return RunResult{Interrupted: true}
		default:
		}

		if phase.Status == buildmodel.PhaseSuccess {
			continue // already completed in a prior run; resumption case.
		}

		if !s.dependenciesSatisfied(phase) {
			if s.policy.ContinueOnError {
				phase.Status = buildmodel.PhaseSkipped
				s.checkpoint("skipped_" + phase.ID)
				continue
			}
			s.memory.LogError(fmt.Errorf("%w: phase %s", builderr.ErrDependencyUnsatisfied, phase.ID), phase.ID, nil)
			return RunResult{Halted: true, FailedPhase: phase.ID}
		}

		result := s.runPhaseWithRetry(ctx, phase)
		if result.Interrupted {
			return result
		}
		if result.Halted {
			return result
		}
	}
	s.checkpoint("final")
	return RunResult{}
}

func (s *Scheduler) dependenciesSatisfied(phase *buildmodel.Phase) bool {
	for _, depID := range phase.Dependencies {
		dep, ok := s.memory.Phase(depID)
		if !ok || dep.Status != buildmodel.PhaseSuccess {
			return false
		}
	}
	return true
}

func (s *Scheduler) runPhaseWithRetry(ctx context.Context, phase *buildmodel.Phase) RunResult {
	ctx, span := tracer.Start(ctx, "scheduler.runPhase", trace.WithAttributes(
		attribute.String("phase_id", phase.ID),
	))
	defer span.End()

	if err := s.sm.Transition(phase, buildmodel.PhaseRunning); err != nil {
		s.logger.Error("invalid phase transition", "phase", phase.ID, "error", err)
	}
	phase.StartTime = time.Now()

	for {
		select {
		case <-ctx.Done():
			s.sm.Transition(phase, buildmodel.PhaseCancelled)
			s.writeInterrupted()
			return RunResult{Interrupted: true}
		default:
		}

		err := s.executor.ExecutePhase(ctx, phase, phase.RetryCount)
		phase.EndTime = time.Now()

		if err != nil && ctx.Err() != nil {
			s.sm.Transition(phase, buildmodel.PhaseCancelled)
			s.writeInterrupted()
			return RunResult{Interrupted: true}
		}

		if err == nil && phase.Error == "" {
			s.sm.Transition(phase, buildmodel.PhaseSuccess)
			if mErr := s.memory.MarkCompleted(phase.ID, phase.Context); mErr != nil {
				s.logger.Error("mark completed failed", "phase", phase.ID, "error", mErr)
			}
			s.checkpoint("completed_" + phase.ID)
			return RunResult{}
		}

		failErr := err
		if failErr == nil {
			failErr = fmt.Errorf("%w: %s", builderr.ErrPhaseValidation, phase.Error)
		}
		s.sm.Transition(phase, buildmodel.PhaseFailed)
		s.memory.LogError(failErr, phase.ID, nil)

		if phase.RetryCount >= s.policy.MaxRetries {
			s.checkpoint("failed_" + phase.ID)
			if s.policy.ContinueOnError {
				return RunResult{}
			}
			s.checkpoint("failed")
			return RunResult{Halted: true, FailedPhase: phase.ID}
		}

		phase.RetryCount++
		if err := s.sm.Transition(phase, buildmodel.PhaseRetrying); err != nil {
			s.logger.Error("invalid retry transition", "phase", phase.ID, "error", err)
		}
		delay := s.policy.BaseRetryDelay * time.Duration(phase.RetryCount)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.sm.Transition(phase, buildmodel.PhaseCancelled)
			s.writeInterrupted()
			return RunResult{Interrupted: true}
		}
		if err := s.sm.Transition(phase, buildmodel.PhaseRunning); err != nil {
			s.logger.Error("invalid phase transition", "phase", phase.ID, "error", err)
		}
	}
}

func (s *Scheduler) checkpoint(name string) {
	if s.memDir == "" {
		return
	}
	if _, err := s.memory.Checkpoint(s.memDir, name); err != nil {
		// Kind 8: checkpoint I/O failure, logged, does not interrupt the run.
		s.logger.Error("checkpoint write failed", "name", name, "error", err)
	}
}

func (s *Scheduler) writeInterrupted() {
	if s.interrupted {
		return
	}
	s.interrupted = true
	s.checkpoint("interrupted")
}

// EmergencyShutdown is called from a signal handler to guarantee exactly
// one terminal checkpoint is written even if Run's own ctx-cancellation
// path is not reached in time.
func (s *Scheduler) EmergencyShutdown() {
	if s.interrupted {
		return
	}
	s.interrupted = true
	s.checkpoint("emergency_shutdown")
}
