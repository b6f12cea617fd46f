// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package builderr defines the error taxonomy driven by the scheduler's
// retry/failure state machine, following the sentinel-error convention of
// the agent package this engine was adapted from: one exported var per
// kind, wrapped with context at call sites via fmt.Errorf("...: %w", err).
package builderr

import "errors"

var (
	// ErrSubprocessFailed is kind 1: non-zero exit, stderr preserved.
	ErrSubprocessFailed = errors.New("subprocess exited with non-zero status")
	// ErrSubprocessTimeout is kind 2: forcibly terminated after grace.
	ErrSubprocessTimeout = errors.New("subprocess exceeded phase timeout")
	// ErrSubprocessCancelled is kind 3: interruption signal received.
	ErrSubprocessCancelled = errors.New("subprocess cancelled")
	// ErrEventParseFailed is kind 4: malformed JSON after buffering.
	ErrEventParseFailed = errors.New("event stream parse failure")
	// ErrPhaseValidation is kind 5: agent exited cleanly but postconditions unmet.
	ErrPhaseValidation = errors.New("phase validation failed")
	// ErrDependencyUnsatisfied is kind 6: a dependency is not Success.
	ErrDependencyUnsatisfied = errors.New("phase dependency not satisfied")
	// ErrResearchDegraded is kind 7: an LLM call failed or timed out.
	ErrResearchDegraded = errors.New("llm call failed or timed out, degrading")
	// ErrCheckpointIO is kind 8: checkpoint write/read failure.
	ErrCheckpointIO = errors.New("checkpoint i/o failure")
	// ErrSnapshotCorrupt is kind 9: newest snapshot failed to parse.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")

	// ErrNoResumableState signals that no snapshot in a directory parsed.
	ErrNoResumableState = errors.New("no resumable state")
	// ErrCyclicDependency signals a DAG load detected an unresolved cycle.
	ErrCyclicDependency = errors.New("cyclic phase dependency")
	// ErrToolNotFound is returned by the tool gate/registry for unknown tools.
	ErrToolNotFound = errors.New("tool not found")
)
