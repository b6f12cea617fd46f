// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcpdiscovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubstituteLeavesUnresolvedMarkersInPlace(t *testing.T) {
	result := Substitute("${workspace}/bin/${UNRESOLVED}", "/home/proj", "proj")
	require.Equal(t, "/home/proj/bin/${UNRESOLVED}", result)
}

func TestRecommendFiltersByComplexityAndTechTags(t *testing.T) {
	catalog := DefaultCatalog()
	tags := map[string]struct{}{"docker": {}}

	low := Recommend(catalog, "low", tags, 10)
	for _, e := range low {
		require.NotEqual(t, "docker", e.Name)
		require.NotEqual(t, "kubernetes", e.Name)
	}

	high := Recommend(catalog, "high", tags, 10)
	names := map[string]bool{}
	for _, e := range high {
		names[e.Name] = true
	}
	require.True(t, names["docker"])
	require.False(t, names["kubernetes"]) // no matching tech tag for kubernetes
}

func TestRecommendBoundedByMaxServers(t *testing.T) {
	catalog := DefaultCatalog()
	result := Recommend(catalog, "high", map[string]struct{}{"docker": {}, "kubernetes": {}, "postgres": {}}, 2)
	require.LessOrEqual(t, len(result), 2)
}

func TestToolPatternsIncludesWildcardAndEnumerated(t *testing.T) {
	patterns := ToolPatterns(CatalogEntry{Name: "memory", Tools: []string{"store", "recall"}})
	require.Contains(t, patterns, "mcp__memory__*")
	require.Contains(t, patterns, "mcp__memory__store")
}
