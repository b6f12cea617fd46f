// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler implements C9: topological-order phase execution with
// retry, partial-failure policy, checkpointing, and graceful interruption.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
)

// StateMachine enforces the phase lifecycle transition graph of §3/§4.9,
// the same explicit (from,to)-table pattern the orchestration engine's
// agent loop uses for its own state machine.
//
//	Pending  → Running
//	Running  → Success
//	Running  → Failed
//	Running  → Cancelled
//	Failed   → Retrying   (retry_count < max_retries)
//	Retrying → Running
//	Pending  → Skipped    (continue_on_error, unsatisfied dependency)
//	*        → Cancelled  (interruption)
type StateMachine struct {
	mu          sync.RWMutex
	transitions map[buildmodel.PhaseStatus]map[buildmodel.PhaseStatus]bool
}

// NewStateMachine builds the phase transition table.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{transitions: map[buildmodel.PhaseStatus]map[buildmodel.PhaseStatus]bool{}}
	all := []buildmodel.PhaseStatus{
		buildmodel.PhasePending, buildmodel.PhaseRunning, buildmodel.PhaseSuccess,
		buildmodel.PhaseFailed, buildmodel.PhaseSkipped, buildmodel.PhaseCancelled, buildmodel.PhaseRetrying,
	}
	for _, s := range all {
		sm.transitions[s] = map[buildmodel.PhaseStatus]bool{}
	}
	add := func(from, to buildmodel.PhaseStatus) { sm.transitions[from][to] = true }

	add(buildmodel.PhasePending, buildmodel.PhaseRunning)
	add(buildmodel.PhasePending, buildmodel.PhaseSkipped)
	add(buildmodel.PhaseRunning, buildmodel.PhaseSuccess)
	add(buildmodel.PhaseRunning, buildmodel.PhaseFailed)
	add(buildmodel.PhaseFailed, buildmodel.PhaseRetrying)
	add(buildmodel.PhaseRetrying, buildmodel.PhaseRunning)
	for _, s := range all {
		add(s, buildmodel.PhaseCancelled)
	}
	return sm
}

// CanTransition reports whether from→to is a valid transition.
func (sm *StateMachine) CanTransition(from, to buildmodel.PhaseStatus) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.transitions[from][to]
}

// Transition validates and applies a phase status transition.
func (sm *StateMachine) Transition(p *buildmodel.Phase, to buildmodel.PhaseStatus) error {
	if !sm.CanTransition(p.Status, to) {
		return fmt.Errorf("invalid phase transition %s -> %s", p.Status, to)
	}
	p.Status = to
	return nil
}
