// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eventstream

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/ariadne-build/ariadne/internal/costledger"
	"github.com/ariadne-build/ariadne/internal/toolregistry"
	"github.com/stretchr/testify/require"
)

func TestMultiLineJSONAndStrayTextScenario(t *testing.T) {
	ledger := costledger.New(nil)
	phase := &buildmodel.Phase{ID: "phase_1"}
	c := New(Dependencies{Ledger: ledger, Registry: toolregistry.New(), Phase: phase, Logger: slog.Default()})

	stream := strings.Join([]string{
		`{"type":"system",`,
		`"subtype":"init","session_id":"S"}`,
		``,
		`hello`,
		`{"type":"result","subtype":"success","cost_usd":0.5,"num_turns":1}`,
	}, "\n")

	require.NoError(t, c.Consume(context.Background(), strings.NewReader(stream)))

	require.Equal(t, "S", c.SessionID())
	summary := ledger.Summary()
	require.InDelta(t, 0.5, summary.TotalCostUSD, 1e-9)
}

func TestReplayYieldsIdenticalSummary(t *testing.T) {
	events := []string{
		`{"type":"system","session_id":"S"}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"create","input":{}}]}}`,
		`{"type":"tool_result","tool_use_id":"t1","content":"ok"}`,
		`{"type":"result","subtype":"success","cost_usd":0.25,"num_turns":2}`,
	}

	run := func() (costledger.Summary, toolregistry.Statistics) {
		ledger := costledger.New(nil)
		registry := toolregistry.New()
		phase := &buildmodel.Phase{ID: "phase_1"}
		c := New(Dependencies{Ledger: ledger, Registry: registry, Phase: phase, Logger: slog.Default()})
		for _, e := range events {
			c.Feed(e)
		}
		return ledger.Summary(), registry.Statistics()
	}

	s1, r1 := run()
	s2, r2 := run()
	require.Equal(t, s1.TotalCostUSD, s2.TotalCostUSD)
	require.Equal(t, r1.TotalCalls, r2.TotalCalls)
}

func TestDuplicateToolUseIDSecondEndIsRedundant(t *testing.T) {
	registry := toolregistry.New()
	phase := &buildmodel.Phase{ID: "phase_1"}
	c := New(Dependencies{Registry: registry, Phase: phase, Logger: slog.Default(), Ledger: costledger.New(nil)})

	c.Feed(`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"dup","name":"create","input":{}}]}}`)
	c.Feed(`{"type":"tool_result","tool_use_id":"dup","content":"first"}`)
	c.Feed(`{"type":"tool_result","tool_use_id":"dup","content":"second"}`)

	stats := registry.Statistics()
	require.Equal(t, 1, stats.PerName["create"].TotalCalls)
}

func TestErrorEventMarksPhaseError(t *testing.T) {
	phase := &buildmodel.Phase{ID: "phase_1"}
	c := New(Dependencies{Phase: phase, Logger: slog.Default(), Ledger: costledger.New(nil), Registry: toolregistry.New()})
	c.Feed(`{"type":"error","message":"boom"}`)
	require.Equal(t, "boom", phase.Error)
}
