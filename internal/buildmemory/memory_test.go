// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buildmemory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New("proj", "hash-1")
	m.AddPhase(&buildmodel.Phase{ID: "phase_1", Name: "Foundation", Status: buildmodel.PhaseSuccess,
		FilesCreated: []string{"main.go"}, OutputSummary: "done"})
	require.NoError(t, m.MarkCompleted("phase_1", map[string]any{"key": "value"}))

	path, err := m.Checkpoint(dir, "completed_phase_1")
	require.NoError(t, err)
	require.FileExists(t, path)

	loaded, ok, err := LoadLatest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m.BuildID, loaded.BuildID)
	require.Equal(t, m.SpecificationHash, loaded.SpecificationHash)
	require.Contains(t, loaded.CompletedPhaseIDs, "phase_1")
	require.Equal(t, "value", loaded.Context["key"])
}

func TestLoadLatestFallsBackPastCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	m := New("proj", "hash-1")
	_, err := m.Checkpoint(dir, "completed_phase_1")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	corruptPath := filepath.Join(dir, "completed_phase_2_9000000000000000000.json")
	require.NoError(t, os.WriteFile(corruptPath, []byte("{not valid json"), 0o644))

	loaded, ok, err := LoadLatest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m.BuildID, loaded.BuildID)
}

func TestLoadLatestNoDirSignalsNoResumableState(t *testing.T) {
	loaded, ok, err := LoadLatest(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, loaded)
}

func TestRetentionKeepsExemptAndRecentCheckpoints(t *testing.T) {
	dir := t.TempDir()
	m := New("proj", "hash-1")

	for i := 0; i < 25; i++ {
		_, err := m.Checkpoint(dir, "completed_phase_n")
		require.NoError(t, err)
	}
	_, err := m.Checkpoint(dir, "emergency_shutdown")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var emergencyKept bool
	nonExempt := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if containsAny(e.Name(), "emergency") {
			emergencyKept = true
			continue
		}
		nonExempt++
	}
	require.True(t, emergencyKept)
	require.LessOrEqual(t, nonExempt, 20)
}

func containsAny(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestAccumulatedContextMergesPrecedingPhasesOnly(t *testing.T) {
	m := New("proj", "hash-1")
	m.AddPhase(&buildmodel.Phase{ID: "phase_1", FilesCreated: []string{"a"}, OutputSummary: "s"})
	m.AddPhase(&buildmodel.Phase{ID: "phase_2", FilesCreated: []string{"b"}, OutputSummary: "s"})
	require.NoError(t, m.MarkCompleted("phase_1", map[string]any{"from_phase_1": true}))
	require.NoError(t, m.MarkCompleted("phase_2", map[string]any{"from_phase_2": true}))

	ctx := m.AccumulatedContext("phase_2")
	require.Equal(t, true, ctx["from_phase_1"])
	require.NotContains(t, ctx, "from_phase_2")
}

func TestDecisionPruneKeepsHighestScored(t *testing.T) {
	m := New("proj", "hash-1")
	for i := 0; i < DefaultMaxDecisions+50; i++ {
		m.AddDecision(Decision{Text: "note", Importance: float64(i % 10)})
	}
	require.LessOrEqual(t, len(m.ImportantDecisions), DefaultMaxDecisions)
}
