// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mcpdiscovery implements C10: matching available/installed MCP
// helper servers to a project profile, and rendering the .mcp.json
// configuration document with ${workspace}/${project_name} template
// substitution.
//
// Substitution is intentionally NOT done with text/template: the grammar
// of §6 requires any unresolved ${FOO} marker to survive untouched in the
// output, whereas text/template errors (or requires explicit handling) for
// undefined fields. A small hand-rolled substitutor is the correct,
// narrowly-scoped tool here; see DESIGN.md.
package mcpdiscovery

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// ServerSpec is one MCP server's configuration entry.
type ServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Config is the .mcp.json document shape.
type Config struct {
	MCPServers map[string]ServerSpec `json:"mcpServers"`
	Version    string                `json:"version"`
	Metadata   map[string]any        `json:"metadata,omitempty"`
}

// CatalogEntry is one server known to the discovery catalog, with the
// complexity/technology tags it serves and the tools it exposes.
type CatalogEntry struct {
	Name            string
	Category        string
	Tools           []string
	MinComplexity   string
	TechnologyTags  []string
	Spec            ServerSpec
}

// DefaultCatalog is a small built-in catalog of well-known MCP servers,
// standing in for the "installed helper probe" §6 describes as an
// external collaborator input; callers may substitute their own catalog
// sourced from that probe.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{Name: "memory", Category: "context", Tools: []string{"store", "recall", "search"}, MinComplexity: "low"},
		{Name: "filesystem", Category: "io", Tools: []string{"read", "write", "list"}, MinComplexity: "low"},
		{Name: "git", Category: "vcs", Tools: []string{"status", "diff", "commit"}, MinComplexity: "low"},
		{Name: "postgres", Category: "database", Tools: []string{"query", "schema"}, MinComplexity: "medium", TechnologyTags: []string{"postgres", "sql"}},
		{Name: "docker", Category: "infra", Tools: []string{"build", "run", "logs"}, MinComplexity: "medium", TechnologyTags: []string{"docker", "containers"}},
		{Name: "kubernetes", Category: "infra", Tools: []string{"apply", "get", "logs"}, MinComplexity: "high", TechnologyTags: []string{"kubernetes", "k8s"}},
	}
}

var complexityRank = map[string]int{"low": 0, "medium": 1, "high": 2}

// Recommend selects catalog entries whose MinComplexity is at or below
// complexityTier and, for entries with technology
// tags, at least one tag present in techTags; it then bounds the result to
// maxServers.
func Recommend(catalog []CatalogEntry, complexityTier string, techTags map[string]struct{}, maxServers int) []CatalogEntry {
	tierRank := complexityRank[complexityTier]

	var out []CatalogEntry
	for _, entry := range catalog {
		if complexityRank[entry.MinComplexity] > tierRank {
			continue
		}
		if len(entry.TechnologyTags) > 0 {
			matched := false
			for _, tag := range entry.TechnologyTags {
				if _, ok := techTags[tag]; ok {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > maxServers {
		out = out[:maxServers]
	}
	return out
}

// Render builds a Config from the selected catalog entries and applies
// template substitution over each server's Command/Args/Env values.
func Render(entries []CatalogEntry, workspace, projectName string) Config {
	servers := map[string]ServerSpec{}
	for _, e := range entries {
		spec := e.Spec
		if spec.Command == "" {
			spec.Command = e.Name
		}
		servers[e.Name] = ServerSpec{
			Command: Substitute(spec.Command, workspace, projectName),
			Args:    substituteAll(spec.Args, workspace, projectName),
			Env:     substituteMap(spec.Env, workspace, projectName),
		}
	}
	return Config{
		MCPServers: servers,
		Version:    "1.0",
		Metadata: map[string]any{
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// Substitute replaces ${workspace} with workspace and ${project_name} with
// projectName; any other ${FOO} marker is left in place untouched.
func Substitute(s, workspace, projectName string) string {
	s = strings.ReplaceAll(s, "${workspace}", workspace)
	s = strings.ReplaceAll(s, "${project_name}", projectName)
	return s
}

func substituteAll(ss []string, workspace, projectName string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = Substitute(s, workspace, projectName)
	}
	return out
}

func substituteMap(m map[string]string, workspace, projectName string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Substitute(v, workspace, projectName)
	}
	return out
}

// MarshalJSON renders the config as indented JSON, the shape written to
// <project>/.mcp.json.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	return json.MarshalIndent(alias(c), "", "  ")
}

// ToolPatterns returns the mcp__<server>__<tool> patterns a server
// exposes, used by the Prompt Composer's MCP summary section and the tool
// gate's per-server tool expansion.
func ToolPatterns(entry CatalogEntry) []string {
	patterns := make([]string, 0, len(entry.Tools)+1)
	patterns = append(patterns, "mcp__"+entry.Name+"__*")
	for _, tool := range entry.Tools {
		patterns = append(patterns, "mcp__"+entry.Name+"__"+tool)
	}
	return patterns
}
