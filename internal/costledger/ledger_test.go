// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package costledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddTokenUsageKnownModel(t *testing.T) {
	l := New([]PricingRow{{Model: "X", InputPerMillion: 1.0, OutputPerMillion: 3.0}})
	entry := l.AddTokenUsage(1234, 5678, "X", "phase_1")
	require.True(t, entry.PricedModel)
	require.InDelta(t, 0.018268, entry.CostUSD, 1e-9)

	summary := l.Summary()
	require.InDelta(t, 0.0183, RoundHalfAwayFromZero(summary.TotalCostUSD), 1e-9)
}

func TestAddTokenUsageUnknownModelRecordsWithoutCost(t *testing.T) {
	l := New(nil)
	entry := l.AddTokenUsage(100, 200, "mystery-model", "phase_1")
	require.False(t, entry.PricedModel)
	require.Zero(t, entry.CostUSD)

	summary := l.Summary()
	require.Zero(t, summary.TotalCostUSD)
	require.Equal(t, 300, summary.TokensByPhase["phase_1"])
}

func TestSummaryRebuildsFromEntries(t *testing.T) {
	l := New(DefaultPricing())
	l.AddTokenUsage(1000, 2000, "claude-3-haiku-20240307", "phase_1")
	l.AddAgentSessionCost(0.5, "sess-1", "phase_1", 1200, 3)

	first := l.Summary()

	replay := New(DefaultPricing())
	for _, e := range l.Entries() {
		switch e.Kind {
		case "token_usage":
			replay.AddTokenUsage(e.InputTokens, e.OutputTokens, e.Model, e.Phase)
		case "agent_session":
			replay.AddAgentSessionCost(e.AgentCostUSD, e.SessionID, e.Phase, e.DurationMS, e.NumTurns)
		}
	}
	second := replay.Summary()

	require.Equal(t, first.TotalCostUSD, second.TotalCostUSD)
	require.Equal(t, first.SessionCount, second.SessionCount)
}

func TestBreakdownSortedByDescendingCost(t *testing.T) {
	l := New(DefaultPricing())
	l.AddTokenUsage(1_000_000, 0, "claude-3-haiku-20240307", "phase_1")
	l.AddTokenUsage(1_000_000, 0, "claude-3-opus-20240229", "phase_2")

	rows := l.Breakdown()
	require.Len(t, rows, 2)
	require.GreaterOrEqual(t, rows[0].TotalCostUSD, rows[1].TotalCostUSD)
}

func TestEndCallIdempotenceIsNotApplicableHereButRoundingIsStable(t *testing.T) {
	require.Equal(t, 0.0183, RoundHalfAwayFromZero(0.018268))
	require.Equal(t, -0.0183, RoundHalfAwayFromZero(-0.018268))
}
