// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package toolregistry implements C2: live and completed tool-invocation
// tracking with success-rate and latency aggregation, using streaming
// counters rather than a full rescan on every update (the source's
// rescan-on-update approach is an acceptable but not required equivalent,
// per the design notes).
package toolregistry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
)

// nameStats holds streaming counters for one tool name.
type nameStats struct {
	totalCalls      int
	successfulCalls int
	latencySamples  []time.Duration
}

func (s nameStats) successRate() float64 {
	if s.totalCalls == 0 {
		return 0
	}
	return float64(s.successfulCalls) / float64(s.totalCalls)
}

// Registry is C2's build-scoped state. Safe for concurrent use, though per
// §5 only the event classifier goroutine mutates it during a build.
type Registry struct {
	mu sync.Mutex

	active    map[string]*buildmodel.ToolCall
	completed map[string]*buildmodel.ToolCall
	byName    map[string]*nameStats
	callOrder []string

	// DisableSlowTools opt-in preserves the source's quirk of disabling a
	// tool once its observed duration exceeds 10s. Defaulted off: latency
	// is not reliability, and the design notes flag this behavior as
	// suspect.
	DisableSlowTools bool
	disabled         map[string]bool
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		active:    map[string]*buildmodel.ToolCall{},
		completed: map[string]*buildmodel.ToolCall{},
		byName:    map[string]*nameStats{},
		disabled:  map[string]bool{},
	}
}

// StartCall records a new active call, increments the per-name counter,
// and classifies its category.
func (r *Registry) StartCall(id, name string, params map[string]any, phase string) *buildmodel.ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[id]; ok {
		return existing
	}
	if existing, ok := r.completed[id]; ok {
		return existing
	}

	call := &buildmodel.ToolCall{
		ID:         id,
		Name:       name,
		Parameters: params,
		Phase:      phase,
		Category:   classify(name),
		StartTime:  time.Now(),
	}
	r.active[id] = call
	r.callOrder = append(r.callOrder, id)

	stats, ok := r.byName[name]
	if !ok {
		stats = &nameStats{}
		r.byName[name] = stats
	}
	stats.totalCalls++
	return call
}

// EndCall transitions a call to completed, appends its latency, and
// updates the name's success rate. A second call for the same id is a
// no-op and returns the already-completed call, matching the idempotence
// invariant.
func (r *Registry) EndCall(id string, result any, callErr string) *buildmodel.ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	if done, ok := r.completed[id]; ok {
		return done
	}

	call, ok := r.active[id]
	if !ok {
		// Protocol bug: end for an id we never started. Treat as a
		// redundant end with no observable effect on stats.
		return nil
	}

	call.EndTime = time.Now()
	call.Result = result
	call.Error = callErr
	delete(r.active, id)
	r.completed[id] = call

	stats := r.byName[call.Name]
	duration := call.EndTime.Sub(call.StartTime)
	stats.latencySamples = append(stats.latencySamples, duration)
	if call.Success() {
		stats.successfulCalls++
	}
	if r.DisableSlowTools && duration > 10*time.Second {
		r.disabled[call.Name] = true
	}
	return call
}

func classify(name string) buildmodel.ToolCategory {
	switch {
	case strings.HasPrefix(name, "mcp__"):
		return buildmodel.ToolCategoryMCP
	case name == "bash" || name == "shell" || name == "exec" || name == "run_command":
		return buildmodel.ToolCategoryCommand
	case name == "pytest" || name == "go_test" || name == "test" || strings.Contains(name, "test"):
		return buildmodel.ToolCategoryTesting
	case name == "create" || name == "write" || name == "edit" || name == "read" || name == "delete":
		return buildmodel.ToolCategoryFileOperation
	default:
		return buildmodel.ToolCategoryOther
	}
}

// Stats is the per-name statistics snapshot.
type Stats struct {
	Name            string
	TotalCalls      int
	SuccessfulCalls int
	SuccessRate     float64
	AverageLatency  time.Duration
	FrequencyShare  float64
	EfficiencyScore float64
	Disabled        bool
}

// Statistics computes the registry-wide view: total calls, per-name
// counters, efficiency score (success-rate × frequency-share), top
// performers (>0.8), problem list (<0.5), and disabled names.
type Statistics struct {
	TotalCalls    int
	PerName       map[string]Stats
	TopPerformers []string
	Problems      []string
	Disabled      []string
}

// Statistics computes the aggregate statistics view.
func (r *Registry) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int
	for _, s := range r.byName {
		total += s.totalCalls
	}

	perName := map[string]Stats{}
	var topPerformers, problems, disabledNames []string
	for name, s := range r.byName {
		successRate := s.successRate()
		var avgLatency time.Duration
		if len(s.latencySamples) > 0 {
			var sum time.Duration
			for _, d := range s.latencySamples {
				sum += d
			}
			avgLatency = sum / time.Duration(len(s.latencySamples))
		}
		var freqShare float64
		if total > 0 {
			freqShare = float64(s.totalCalls) / float64(total)
		}
		stat := Stats{
			Name:            name,
			TotalCalls:      s.totalCalls,
			SuccessfulCalls: s.successfulCalls,
			SuccessRate:     successRate,
			AverageLatency:  avgLatency,
			FrequencyShare:  freqShare,
			EfficiencyScore: successRate * freqShare,
			Disabled:        r.disabled[name],
		}
		perName[name] = stat

		if successRate > 0.8 {
			topPerformers = append(topPerformers, name)
		}
		if successRate < 0.5 {
			problems = append(problems, name)
		}
		if stat.Disabled {
			disabledNames = append(disabledNames, name)
		}
	}

	sort.Strings(topPerformers)
	sort.Strings(problems)
	sort.Strings(disabledNames)

	return Statistics{
		TotalCalls:    total,
		PerName:       perName,
		TopPerformers: topPerformers,
		Problems:      problems,
		Disabled:      disabledNames,
	}
}

// IsDisabled reports whether a tool name has been disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled[name]
}

// UsageCount returns the total call count for a name, used by the tool
// gate's "sort by descending historical usage" rule.
func (r *Registry) UsageCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byName[name]; ok {
		return s.totalCalls
	}
	return 0
}

// SuccessRate returns the name's current success rate, used by the tool
// gate's "drop tools with success rate < 0.3" rule.
func (r *Registry) SuccessRate(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byName[name]; ok {
		return s.successRate()
	}
	return 0
}
