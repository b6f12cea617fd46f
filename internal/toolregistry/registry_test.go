// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package toolregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndCallIdempotent(t *testing.T) {
	r := New()
	r.StartCall("call-1", "create", nil, "phase_1")
	first := r.EndCall("call-1", "ok", "")
	second := r.EndCall("call-1", "different result", "boom")

	require.Equal(t, first, second)
	stats := r.Statistics()
	require.Equal(t, 1, stats.PerName["create"].TotalCalls)
	require.Equal(t, 1.0, stats.PerName["create"].SuccessRate)
}

func TestClassifyCategory(t *testing.T) {
	require.Equal(t, "mcp", string(classify("mcp__memory__store")))
	require.Equal(t, "command", string(classify("bash")))
	require.Equal(t, "file_operation", string(classify("write")))
}

func TestStatisticsTopPerformersAndProblems(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		id := "good-" + string(rune('a'+i))
		r.StartCall(id, "reliable_tool", nil, "phase_1")
		r.EndCall(id, "ok", "")
	}
	for i := 0; i < 10; i++ {
		id := "bad-" + string(rune('a'+i))
		r.StartCall(id, "flaky_tool", nil, "phase_1")
		if i < 8 {
			r.EndCall(id, "", "failed")
		} else {
			r.EndCall(id, "ok", "")
		}
	}

	stats := r.Statistics()
	require.Contains(t, stats.TopPerformers, "reliable_tool")
	require.Contains(t, stats.Problems, "flaky_tool")
}

func TestEndCallForUnknownIDIsNoOp(t *testing.T) {
	r := New()
	result := r.EndCall("never-started", "x", "")
	require.Nil(t, result)
	require.Equal(t, 0, r.Statistics().TotalCalls)
}
