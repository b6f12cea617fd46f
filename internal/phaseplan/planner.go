// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phaseplan implements C8: producing a validated DAG of phases
// from an LLM response or a deterministic default template, including
// dependency pruning, id de-duplication, and cycle handling.
package phaseplan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
)

// DefaultTemplate is the deterministic 10-phase fallback plan: foundation
// → data → business logic → API → security → UI → docs → performance →
// deployment → production-readiness.
func DefaultTemplate() []*buildmodel.Phase {
	type def struct {
		id, name, description string
		tasks                 []string
		deps                  []string
	}
	defs := []def{
		{"phase_1", "Foundation", "Project scaffolding and core structure.", []string{"Initialize module", "Set up directory layout"}, nil},
		{"phase_2", "Data Layer", "Data models and persistence.", []string{"Define models", "Implement storage"}, []string{"phase_1"}},
		{"phase_3", "Business Logic", "Core domain logic.", []string{"Implement core use cases"}, []string{"phase_2"}},
		{"phase_4", "API", "External interface surface.", []string{"Define API contracts", "Implement handlers"}, []string{"phase_3"}},
		{"phase_5", "Security", "Authn/authz and input validation.", []string{"Add authentication", "Harden inputs"}, []string{"phase_4"}},
		{"phase_6", "UI", "User-facing interface.", []string{"Build UI components"}, []string{"phase_4"}},
		{"phase_7", "Documentation", "User and developer docs.", []string{"Write README", "Write API docs"}, []string{"phase_4"}},
		{"phase_8", "Performance", "Optimization and profiling.", []string{"Profile hot paths", "Optimize bottlenecks"}, []string{"phase_6", "phase_7"}},
		{"phase_9", "Deployment", "Packaging and deployment automation.", []string{"Write Dockerfile", "Write deployment scripts"}, []string{"phase_5", "phase_8"}},
		{"phase_10", "Production Readiness", "Final hardening and validation.", []string{"Add monitoring", "Run final validation"}, []string{"phase_9"}},
	}
	phases := make([]*buildmodel.Phase, 0, len(defs))
	for _, d := range defs {
		phases = append(phases, &buildmodel.Phase{
			ID: d.id, Name: d.name, Description: d.description,
			Tasks: d.tasks, Dependencies: d.deps, Status: buildmodel.PhasePending,
		})
	}
	return phases
}

// researchCategoryKeywords maps a research category id to phase-name
// keywords used to find which phases its findings augment.
var researchCategoryKeywords = map[string][]string{
	"security_analysis":        {"security", "auth", "foundation"},
	"performance_optimization": {"optimization", "performance", "scaling"},
	"technology_analysis":      {"foundation", "data"},
	"architecture_patterns":    {"business logic", "api"},
	"testing_strategy":         {"test", "qa"},
	"deployment_strategy":      {"deployment", "production"},
}

// Options controls validation thresholds.
type Options struct {
	MinPhases        int
	MinTasksPerPhase int
}

// Validate applies the load-time validation rules of §4.8: required
// fields, id de-duplication, dependency pruning, padding to MinPhases, and
// topological sort with cycle handling.
func Validate(phases []*buildmodel.Phase, opts Options) *buildmodel.Plan {
	phases = dropIncomplete(phases, opts.MinTasksPerPhase)
	phases = dedupeIDs(phases)
	validIDs := idSet(phases)
	pruneDependencies(phases, validIDs)

	if len(phases) < opts.MinPhases {
		phases = append(phases, padWithDefaults(phases, opts.MinPhases)...)
		validIDs = idSet(phases)
		pruneDependencies(phases, validIDs)
	}

	ordered, cyclic := topoSort(phases)
	for _, p := range cyclic {
		p.Dependencies = nil
	}
	ordered = append(ordered, cyclic...)

	return &buildmodel.Plan{Phases: ordered}
}

func dropIncomplete(phases []*buildmodel.Phase, minTasks int) []*buildmodel.Phase {
	out := phases[:0:0]
	for _, p := range phases {
		if p.ID == "" || p.Name == "" || p.Description == "" || len(p.Tasks) < minTasks {
			continue
		}
		out = append(out, p)
	}
	return out
}

func dedupeIDs(phases []*buildmodel.Phase) []*buildmodel.Phase {
	seen := map[string]int{}
	for _, p := range phases {
		n := seen[p.ID]
		seen[p.ID] = n + 1
		if n > 0 {
			p.ID = fmt.Sprintf("%s_%d", p.ID, n)
		}
	}
	return phases
}

func idSet(phases []*buildmodel.Phase) map[string]struct{} {
	set := make(map[string]struct{}, len(phases))
	for _, p := range phases {
		set[p.ID] = struct{}{}
	}
	return set
}

func pruneDependencies(phases []*buildmodel.Phase, valid map[string]struct{}) {
	for _, p := range phases {
		kept := p.Dependencies[:0:0]
		for _, d := range p.Dependencies {
			if _, ok := valid[d]; ok && d != p.ID {
				kept = append(kept, d)
			}
		}
		p.Dependencies = kept
	}
}

func padWithDefaults(existing []*buildmodel.Phase, minPhases int) []*buildmodel.Phase {
	existingIDs := idSet(existing)
	var pad []*buildmodel.Phase
	for _, d := range DefaultTemplate() {
		if len(existing)+len(pad) >= minPhases {
			break
		}
		if _, ok := existingIDs[d.ID]; ok {
			continue
		}
		pad = append(pad, d)
	}
	return pad
}

// topoSort returns phases in dependency order, and separately the subset
// involved in an unresolved cycle (appended in their original input order
// by the caller, with cross-edges cleared).
func topoSort(phases []*buildmodel.Phase) (ordered, cyclic []*buildmodel.Phase) {
	byID := make(map[string]*buildmodel.Phase, len(phases))
	for _, p := range phases {
		byID[p.ID] = p
	}

	state := map[string]int{} // 0=unvisited 1=visiting 2=done
	var order []*buildmodel.Phase
	var cycleIDs []string

	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		switch state[id] {
		case 2:
			return true
		case 1:
			cycleIDs = append(cycleIDs, path...)
			return false
		}
		state[id] = 1
		p := byID[id]
		for _, dep := range p.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if !visit(dep, append(path, id)) {
				cycleIDs = append(cycleIDs, id)
			}
		}
		if state[id] == 1 {
			state[id] = 2
			order = append(order, p)
		}
		return state[id] == 2
	}

	for _, p := range phases {
		if state[p.ID] == 0 {
			visit(p.ID, nil)
		}
	}

	cycleSet := map[string]bool{}
	for _, id := range cycleIDs {
		cycleSet[id] = true
	}

	ordered = order[:0:0]
	for _, p := range order {
		if !cycleSet[p.ID] {
			ordered = append(ordered, p)
		}
	}
	for _, p := range phases {
		if cycleSet[p.ID] {
			cyclic = append(cyclic, p)
		}
	}
	return ordered, cyclic
}

// IntegrateResearch appends the top-3 recommendations and top-2 best
// practices from matching findings as extra tasks on phases whose name
// matches the category's keywords, attaches patterns to the phase
// context, and appends a new phase if findings demand one that doesn't
// exist (security/optimization only).
func IntegrateResearch(plan *buildmodel.Plan, byCategory map[string][]buildmodel.ResearchFinding) {
	for category, findings := range byCategory {
		keywords, ok := researchCategoryKeywords[category]
		if !ok {
			continue
		}
		matched := matchingPhases(plan, keywords)
		if len(matched) == 0 && (category == "security_analysis" || category == "performance_optimization") {
			newPhase := syntheticPhaseFor(category)
			plan.Phases = append(plan.Phases, newPhase)
			matched = []*buildmodel.Phase{newPhase}
		}
		recs := topN(flattenRecommendations(findings), 3)
		practices := topN(flattenBestPractices(findings), 2)
		for _, p := range matched {
			p.Tasks = append(p.Tasks, recs...)
			p.Tasks = append(p.Tasks, practices...)
			if p.Context == nil {
				p.Context = map[string]any{}
			}
			var patterns []string
			for _, f := range findings {
				patterns = append(patterns, f.BestPractices...)
			}
			p.Context["research_patterns_"+category] = patterns
		}
	}
}

func matchingPhases(plan *buildmodel.Plan, keywords []string) []*buildmodel.Phase {
	var out []*buildmodel.Phase
	for _, p := range plan.Phases {
		lower := strings.ToLower(p.Name)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func syntheticPhaseFor(category string) *buildmodel.Phase {
	name := "Security Hardening"
	if category == "performance_optimization" {
		name = "Performance Optimization"
	}
	return &buildmodel.Phase{
		ID:          "phase_research_" + category,
		Name:        name,
		Description: "Phase synthesized from research findings with no existing matching phase.",
		Tasks:       []string{"Address research findings for " + category},
		Status:      buildmodel.PhasePending,
	}
}

func flattenRecommendations(findings []buildmodel.ResearchFinding) []string {
	var out []string
	for _, f := range findings {
		out = append(out, f.Recommendations...)
	}
	return out
}

func flattenBestPractices(findings []buildmodel.ResearchFinding) []string {
	var out []string
	for _, f := range findings {
		out = append(out, f.BestPractices...)
	}
	return out
}

func topN(items []string, n int) []string {
	sort.Strings(items) // stable, deterministic ordering before truncation
	if len(items) > n {
		items = items[:n]
	}
	return items
}
