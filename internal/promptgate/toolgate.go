// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package promptgate

import (
	"sort"
	"strings"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/ariadne-build/ariadne/internal/mcpdiscovery"
	"github.com/ariadne-build/ariadne/internal/toolregistry"
)

// coreTools are always available, regardless of phase or profile.
var coreTools = []string{"create", "write", "edit", "read", "list", "delete"}

// shellPhaseKeywords trigger inclusion of shell/command primitives.
var shellPhaseKeywords = []string{"deploy", "test", "build", "setup", "install", "run"}

var shellTools = []string{"bash", "shell"}

// toolchainByTech maps a technology tag to its toolchain, e.g. python's
// linter/test/format tools.
var toolchainByTech = map[string][]string{
	"python":     {"python", "pip", "pytest", "black"},
	"go":         {"go", "gofmt", "go_test"},
	"javascript": {"node", "npm", "eslint", "jest"},
	"typescript": {"node", "npm", "tsc", "eslint", "jest"},
	"docker":     {"docker", "docker-compose"},
	"kubernetes": {"kubectl"},
}

// alwaysKeepEvenIfWeak are never dropped by the weak-success-rate filter;
// the "mcp__memory" entry covers every mcp__memory__<tool> name.
var alwaysKeepEvenIfWeak = map[string]bool{
	"create": true, "write": true, "edit": true, "mcp__memory": true,
}

// GateInput bundles the inputs to the tool-gate algorithm.
type GateInput struct {
	Profile      buildmodel.ProjectProfile
	Phase        *buildmodel.Phase
	Instructions []buildmodel.Instruction
	MCPServers   []mcpdiscovery.CatalogEntry
	Registry     *toolregistry.Registry
	// DropWeakTools enables the "drop success rate < 0.3" filter.
	DropWeakTools bool
}

// AllowedTools computes the ordered list of tool names the agent may
// invoke during this phase, per the algorithm of §4.5. For a given
// (profile, phase, registry state) the result is deterministic.
func AllowedTools(in GateInput) []string {
	set := map[string]struct{}{}
	add := func(names ...string) {
		for _, n := range names {
			set[n] = struct{}{}
		}
	}

	add(coreTools...)

	lowerName := strings.ToLower(in.Phase.Name)
	for _, kw := range shellPhaseKeywords {
		if strings.Contains(lowerName, kw) {
			add(shellTools...)
			break
		}
	}

	for tag := range in.Profile.TechnologyTags {
		if tools, ok := toolchainByTech[tag]; ok {
			add(tools...)
		}
	}

	for _, server := range in.MCPServers {
		add(mcpdiscovery.ToolPatterns(server)...)
	}

	applicable := buildmodel.SelectInstructions(in.Instructions, map[string]any{"phase": in.Phase.Name})
	for _, ins := range applicable {
		add(ins.RequiredTools...)
	}
	for _, ins := range applicable {
		for _, r := range ins.RestrictedTools {
			delete(set, r)
		}
	}

	if in.Registry != nil {
		for name := range set {
			if in.Registry.IsDisabled(name) {
				delete(set, name)
			}
		}
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}

	sort.SliceStable(names, func(i, j int) bool {
		var ci, cj int
		if in.Registry != nil {
			ci, cj = in.Registry.UsageCount(names[i]), in.Registry.UsageCount(names[j])
		}
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})

	if in.DropWeakTools && in.Registry != nil {
		filtered := names[:0:0]
		for _, n := range names {
			if alwaysKeepEvenIfWeak[n] || strings.HasPrefix(n, "mcp__memory__") || in.Registry.UsageCount(n) == 0 || in.Registry.SuccessRate(n) >= 0.3 {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}

	return names
}
