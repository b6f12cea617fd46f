// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariadne-build/ariadne/internal/buildmemory"
	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/stretchr/testify/require"
)

func phase(id string, deps ...string) *buildmodel.Phase {
	return &buildmodel.Phase{ID: id, Name: id, Tasks: []string{"t"}, Dependencies: deps, Status: buildmodel.PhasePending}
}

func succeed(p *buildmodel.Phase) {
	p.FilesCreated = []string{"f.go"}
	p.OutputSummary = "done"
}

func TestHappyPathTwoPhases(t *testing.T) {
	dir := t.TempDir()
	mem := buildmemory.New("proj", "hash")
	plan := &buildmodel.Plan{Phases: []*buildmodel.Phase{phase("phase_1"), phase("phase_2", "phase_1")}}

	executor := PhaseExecutorFunc(func(ctx context.Context, p *buildmodel.Phase, attempt int) error {
		succeed(p)
		return nil
	})
	s := New(mem, executor, Policy{MaxRetries: 0}, dir, nil)
	result := s.Run(context.Background(), plan)

	require.False(t, result.Halted)
	require.False(t, result.Interrupted)
	require.Equal(t, buildmodel.PhaseSuccess, plan.Phases[0].Status)
	require.Equal(t, buildmodel.PhaseSuccess, plan.Phases[1].Status)
}

func TestRetryOnTransientFailure(t *testing.T) {
	dir := t.TempDir()
	mem := buildmemory.New("proj", "hash")
	plan := &buildmodel.Plan{Phases: []*buildmodel.Phase{phase("phase_1")}}

	attempts := 0
	executor := PhaseExecutorFunc(func(ctx context.Context, p *buildmodel.Phase, attempt int) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient failure")
		}
		succeed(p)
		return nil
	})
	s := New(mem, executor, Policy{MaxRetries: 2, BaseRetryDelay: time.Millisecond}, dir, nil)
	result := s.Run(context.Background(), plan)

	require.False(t, result.Halted)
	require.Equal(t, buildmodel.PhaseSuccess, plan.Phases[0].Status)
	require.Equal(t, 1, plan.Phases[0].RetryCount)
}

func TestSkipUnderContinueOnError(t *testing.T) {
	dir := t.TempDir()
	mem := buildmemory.New("proj", "hash")
	plan := &buildmodel.Plan{Phases: []*buildmodel.Phase{phase("phase_a"), phase("phase_b", "phase_a")}}

	executor := PhaseExecutorFunc(func(ctx context.Context, p *buildmodel.Phase, attempt int) error {
		if p.ID == "phase_a" {
			return errors.New("always fails")
		}
		succeed(p)
		return nil
	})
	s := New(mem, executor, Policy{MaxRetries: 0, ContinueOnError: true, BaseRetryDelay: time.Millisecond}, dir, nil)
	result := s.Run(context.Background(), plan)

	require.False(t, result.Halted)
	require.Equal(t, buildmodel.PhaseSkipped, plan.Phases[1].Status)
}

func TestMaxRetriesZeroFailsWithoutRetry(t *testing.T) {
	dir := t.TempDir()
	mem := buildmemory.New("proj", "hash")
	plan := &buildmodel.Plan{Phases: []*buildmodel.Phase{phase("phase_1")}}

	attempts := 0
	executor := PhaseExecutorFunc(func(ctx context.Context, p *buildmodel.Phase, attempt int) error {
		attempts++
		return errors.New("boom")
	})
	s := New(mem, executor, Policy{MaxRetries: 0}, dir, nil)
	result := s.Run(context.Background(), plan)

	require.True(t, result.Halted)
	require.Equal(t, 1, attempts)
	require.Equal(t, buildmodel.PhaseFailed, plan.Phases[0].Status)
}

func TestInterruptMidPhaseWritesInterruptedCheckpoint(t *testing.T) {
	dir := t.TempDir()
	mem := buildmemory.New("proj", "hash")
	plan := &buildmodel.Plan{Phases: []*buildmodel.Phase{phase("phase_1"), phase("phase_2", "phase_1")}}

	ctx, cancel := context.WithCancel(context.Background())
	executor := PhaseExecutorFunc(func(ctx context.Context, p *buildmodel.Phase, attempt int) error {
		if p.ID == "phase_1" {
			succeed(p)
			return nil
		}
		cancel()
		return errors.New("should not complete")
	})
	s := New(mem, executor, Policy{MaxRetries: 0}, dir, nil)
	result := s.Run(ctx, plan)

	require.True(t, result.Interrupted)

	loaded, ok, err := buildmemory.LoadLatest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, loaded.CompletedPhaseIDs, "phase_1")
}

func TestDependencyUnsatisfiedHaltsWithoutContinueOnError(t *testing.T) {
	dir := t.TempDir()
	mem := buildmemory.New("proj", "hash")
	blocked := phase("phase_b", "phase_a")
	mem.AddPhase(&buildmodel.Phase{ID: "phase_a", Name: "phase_a", Status: buildmodel.PhaseFailed})
	plan := &buildmodel.Plan{Phases: []*buildmodel.Phase{blocked}}

	executor := PhaseExecutorFunc(func(ctx context.Context, p *buildmodel.Phase, attempt int) error { return nil })
	s := New(mem, executor, Policy{}, dir, nil)
	result := s.Run(context.Background(), plan)

	require.True(t, result.Halted)
	require.Equal(t, "phase_b", result.FailedPhase)
}
