// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phaseplan

import (
	"testing"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/stretchr/testify/require"
)

func TestValidateDropsInvalidDependencies(t *testing.T) {
	phases := []*buildmodel.Phase{
		{ID: "a", Name: "A", Description: "d", Tasks: []string{"t"}, Dependencies: []string{"ghost"}},
	}
	plan := Validate(phases, Options{MinPhases: 1, MinTasksPerPhase: 1})
	require.Empty(t, plan.Phases[0].Dependencies)
}

func TestValidateDedupesIDs(t *testing.T) {
	phases := []*buildmodel.Phase{
		{ID: "a", Name: "A1", Description: "d", Tasks: []string{"t"}},
		{ID: "a", Name: "A2", Description: "d", Tasks: []string{"t"}},
	}
	plan := Validate(phases, Options{MinPhases: 2, MinTasksPerPhase: 1})
	require.NotEqual(t, plan.Phases[0].ID, plan.Phases[1].ID)
}

func TestValidatePadsToMinPhases(t *testing.T) {
	phases := []*buildmodel.Phase{
		{ID: "only", Name: "Only", Description: "d", Tasks: []string{"t"}},
	}
	plan := Validate(phases, Options{MinPhases: 5, MinTasksPerPhase: 1})
	require.GreaterOrEqual(t, len(plan.Phases), 5)
}

func TestValidateOrdersDependenciesBeforeDependents(t *testing.T) {
	phases := []*buildmodel.Phase{
		{ID: "b", Name: "B", Description: "d", Tasks: []string{"t"}, Dependencies: []string{"a"}},
		{ID: "a", Name: "A", Description: "d", Tasks: []string{"t"}},
	}
	plan := Validate(phases, Options{MinPhases: 1, MinTasksPerPhase: 1})
	require.Less(t, plan.Index("a"), plan.Index("b"))
}

func TestValidateHandlesCycleByClearingCrossEdges(t *testing.T) {
	phases := []*buildmodel.Phase{
		{ID: "a", Name: "A", Description: "d", Tasks: []string{"t"}, Dependencies: []string{"b"}},
		{ID: "b", Name: "B", Description: "d", Tasks: []string{"t"}, Dependencies: []string{"a"}},
	}
	plan := Validate(phases, Options{MinPhases: 1, MinTasksPerPhase: 1})
	require.Len(t, plan.Phases, 2)
	for _, p := range plan.Phases {
		require.Empty(t, p.Dependencies)
	}
}

func TestIntegrateResearchAddsTasksToMatchingPhase(t *testing.T) {
	plan := &buildmodel.Plan{Phases: DefaultTemplate()}
	findings := map[string][]buildmodel.ResearchFinding{
		"security_analysis": {
			{Recommendations: []string{"r1", "r2", "r3", "r4"}, BestPractices: []string{"bp1", "bp2"}},
		},
	}
	before := len(plan.ByID("phase_5").Tasks)
	IntegrateResearch(plan, findings)
	after := len(plan.ByID("phase_5").Tasks)
	require.Greater(t, after, before)
}

func TestIntegrateResearchCreatesPhaseWhenNoneMatches(t *testing.T) {
	plan := &buildmodel.Plan{Phases: []*buildmodel.Phase{
		{ID: "only", Name: "Only Phase", Description: "d", Tasks: []string{"t"}},
	}}
	findings := map[string][]buildmodel.ResearchFinding{
		"performance_optimization": {{Recommendations: []string{"r1"}}},
	}
	IntegrateResearch(plan, findings)
	require.Len(t, plan.Phases, 2)
}

func TestDefaultTemplateHasTenPhases(t *testing.T) {
	require.Len(t, DefaultTemplate(), 10)
}
