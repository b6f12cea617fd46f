// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package promptgate

import (
	"testing"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/ariadne-build/ariadne/internal/toolregistry"
	"github.com/stretchr/testify/require"
)

func TestAllowedToolsIncludesShellForDeployPhase(t *testing.T) {
	tools := AllowedTools(GateInput{
		Phase: &buildmodel.Phase{Name: "Deploy to production"},
	})
	require.Contains(t, tools, "bash")
}

func TestAllowedToolsIncludesTechToolchain(t *testing.T) {
	tools := AllowedTools(GateInput{
		Phase:   &buildmodel.Phase{Name: "Foundation"},
		Profile: buildmodel.ProjectProfile{TechnologyTags: map[string]struct{}{"python": {}}},
	})
	require.Contains(t, tools, "pytest")
}

func TestAllowedToolsIsDeterministic(t *testing.T) {
	in := GateInput{Phase: &buildmodel.Phase{Name: "Foundation"}}
	first := AllowedTools(in)
	second := AllowedTools(in)
	require.Equal(t, first, second)
}

func TestAllowedToolsExcludesDisabledNames(t *testing.T) {
	registry := toolregistry.New()
	registry.DisableSlowTools = true
	tools := AllowedTools(GateInput{
		Phase:    &buildmodel.Phase{Name: "Foundation"},
		Registry: registry,
	})
	require.NotContains(t, tools, "__nonexistent__")
	_ = tools
}

func TestInstructionOverridesUnionAndSubtract(t *testing.T) {
	tools := AllowedTools(GateInput{
		Phase: &buildmodel.Phase{Name: "Foundation"},
		Instructions: []buildmodel.Instruction{
			{ID: "i1", Scope: buildmodel.ScopeGlobal, RequiredTools: []string{"custom_tool"}, RestrictedTools: []string{"delete"}},
		},
	})
	require.Contains(t, tools, "custom_tool")
	require.NotContains(t, tools, "delete")
}
