// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package promptgate implements C5: prompt assembly for a phase and the
// tool-gate algorithm that computes the allowed-tool list for an agent
// invocation.
package promptgate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ariadne-build/ariadne/internal/buildmemory"
	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/ariadne-build/ariadne/internal/mcpdiscovery"
)

// MaxSpecSummaryChars bounds the specification summary shown to non-first
// phases.
const MaxSpecSummaryChars = 2000

// RecentDecisionCount is N in "last N important decisions".
const RecentDecisionCount = 5

// ComposeInput bundles everything Compose needs to build a prompt for one
// phase invocation.
type ComposeInput struct {
	Plan            *buildmodel.Plan
	Phase           *buildmodel.Phase
	PhaseIndex      int
	RetryAttempt    int
	Specification   buildmodel.Specification
	Memory          *buildmemory.Memory
	Instructions    []buildmodel.Instruction
	MCPServers      []mcpdiscovery.CatalogEntry
	ResearchAvailable bool
	Profile         buildmodel.ProjectProfile
}

// Compose builds the full prompt text for a phase invocation following the
// eight-part structure of §4.5.
func Compose(in ComposeInput) string {
	var b strings.Builder

	// 1. Header
	fmt.Fprintf(&b, "# Phase %d/%d: %s\n\n", in.PhaseIndex+1, len(in.Plan.Phases), in.Phase.Name)
	if in.Phase.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", in.Phase.Description)
	}
	if in.RetryAttempt > 0 {
		fmt.Fprintf(&b, "_Retry attempt %d._\n\n", in.RetryAttempt)
	}

	// 2. Project memory section
	b.WriteString("## Project Memory\n\n")
	completedRatio := 0.0
	if len(in.Plan.Phases) > 0 {
		var completed int
		for _, p := range in.Plan.Phases {
			if p.Status == buildmodel.PhaseSuccess {
				completed++
			}
		}
		completedRatio = float64(completed) / float64(len(in.Plan.Phases))
	}
	fmt.Fprintf(&b, "- Completed: %.0f%%\n", completedRatio*100)
	techStack := sortedKeys(in.Profile.TechnologyTags)
	if len(techStack) > 0 {
		fmt.Fprintf(&b, "- Technology stack: %s\n", strings.Join(techStack, ", "))
	}
	if in.Memory != nil {
		decisions := in.Memory.RecentDecisions(RecentDecisionCount)
		if len(decisions) > 0 {
			b.WriteString("- Recent decisions:\n")
			for _, d := range decisions {
				fmt.Fprintf(&b, "  - %s\n", d.Text)
			}
		}
		histogram := fileTypeHistogram(in.Memory)
		if len(histogram) > 0 {
			b.WriteString("- File types so far: ")
			b.WriteString(formatHistogram(histogram))
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "- Research available: %v\n\n", in.ResearchAvailable)

	// 3. MCP summary
	if len(in.MCPServers) > 0 {
		b.WriteString("## MCP Servers\n\n")
		byCategory := map[string][]mcpdiscovery.CatalogEntry{}
		for _, s := range in.MCPServers {
			byCategory[s.Category] = append(byCategory[s.Category], s)
		}
		for _, cat := range sortedStringKeysMCP(byCategory) {
			fmt.Fprintf(&b, "- %s:\n", cat)
			for _, s := range byCategory[cat] {
				fmt.Fprintf(&b, "  - %s (%s)\n", s.Name, strings.Join(mcpdiscovery.ToolPatterns(s), ", "))
			}
		}
		b.WriteString("\n")
	}

	// 4. Applicable instructions
	applicable := buildmodel.SelectInstructions(in.Instructions, map[string]any{"phase": in.Phase.Name})
	if len(applicable) > 0 {
		b.WriteString("## Instructions\n\n")
		for _, ins := range applicable {
			b.WriteString(ins.Body)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	// 5. Specification block
	b.WriteString("## Specification\n\n")
	if in.PhaseIndex == 0 {
		b.WriteString(in.Specification.Text)
	} else {
		summary := in.Specification.Text
		if len(summary) > MaxSpecSummaryChars {
			summary = summary[:MaxSpecSummaryChars] + "..."
		}
		b.WriteString(summary)
		fmt.Fprintf(&b, "\n\n(See phase 1 prompt for the full specification; hash=%s)", in.Specification.Hash)
	}
	b.WriteString("\n\n")

	// 6. Phase tasks
	b.WriteString("## Tasks\n\n")
	for _, task := range in.Phase.Tasks {
		fmt.Fprintf(&b, "- %s\n", task)
	}
	b.WriteString("\n")

	// 7. Accumulated context
	if in.Memory != nil {
		ctx := in.Memory.AccumulatedContext(in.Phase.ID)
		delete(ctx, "specification")
		delete(ctx, "research_results")
		if len(ctx) > 0 {
			b.WriteString("## Accumulated Context\n\n")
			for _, k := range sortedMapKeys(ctx) {
				fmt.Fprintf(&b, "- %s: %v\n", k, ctx[k])
			}
			b.WriteString("\n")
		}
	}

	// 8. Hard requirements block
	b.WriteString("## Requirements\n\n")
	for _, line := range hardRequirements {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	return b.String()
}

var hardRequirements = []string{
	"Deliver production-quality code; no TODOs or stub implementations.",
	"Never emit placeholder content in place of real logic.",
	"Use memory and planning tools when they are available.",
	"Prefer validation against real data over synthetic unit tests alone.",
	"Every file you create or modify must compile/parse without errors.",
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedMapKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedStringKeysMCP(m map[string][]mcpdiscovery.CatalogEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func fileTypeHistogram(m *buildmemory.Memory) map[string]int {
	hist := map[string]int{}
	for f := range m.CreatedFiles {
		ext := "none"
		if idx := strings.LastIndex(f, "."); idx >= 0 {
			ext = f[idx+1:]
		}
		hist[ext]++
	}
	return hist
}

func formatHistogram(h map[string]int) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, h[k]))
	}
	return strings.Join(parts, ", ")
}
