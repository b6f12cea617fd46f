// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buildmodel

import (
	"regexp"
	"sort"
	"strings"
)

// matchValue implements the instruction context-filter predicate: equality,
// set-membership when want is a []string, nested map equality when both
// sides are map[string]any, or a "re:<pattern>" marker matched as a regex
// against got when got is a string (any other got matches as "").
func matchValue(want, got any) bool {
	if s, ok := want.(string); ok && strings.HasPrefix(s, "re:") {
		pattern := strings.TrimPrefix(s, "re:")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		gotStr, _ := got.(string)
		return re.MatchString(gotStr)
	}

	if wantList, ok := want.([]string); ok {
		gotStr, ok := got.(string)
		if !ok {
			return false
		}
		for _, candidate := range wantList {
			if candidate == gotStr {
				return true
			}
		}
		return false
	}

	if wantMap, ok := want.(map[string]any); ok {
		gotMap, ok := got.(map[string]any)
		if !ok {
			return false
		}
		if len(wantMap) != len(gotMap) {
			return false
		}
		for k, v := range wantMap {
			if !matchValue(v, gotMap[k]) {
				return false
			}
		}
		return true
	}

	return want == got
}

// SelectInstructions filters ins to those matching ctx and sorts the result
// by descending (priority, scope specificity) — the ordering the Prompt
// Composer concatenates instruction bodies in.
func SelectInstructions(ins []Instruction, ctx map[string]any) []Instruction {
	var applicable []Instruction
	for _, i := range ins {
		if i.Matches(ctx) {
			applicable = append(applicable, i)
		}
	}
	sort.SliceStable(applicable, func(a, b int) bool {
		if applicable[a].Priority != applicable[b].Priority {
			return applicable[a].Priority > applicable[b].Priority
		}
		return applicable[a].Scope.Rank() > applicable[b].Scope.Rank()
	})
	return applicable
}
