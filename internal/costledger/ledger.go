// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package costledger implements C1: per-phase and per-model token/cost
// accounting rebuilt entirely from append-only entries, so totals always
// equal a re-aggregation of what is stored.
package costledger

import (
	"math"
	"sort"
	"sync"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/prometheus/client_golang/prometheus"
)

// PricingRow is one model's per-million-token price.
type PricingRow struct {
	Model           string
	InputPerMillion float64
	OutputPerMillion float64
}

// DefaultPricing seeds a small static table of known models, ported from
// the cost-estimation constants implied by the original SDK's metrics
// module. Models absent from this table still record usage, with
// PricedModel=false and CostUSD=0 per the contract.
func DefaultPricing() []PricingRow {
	return []PricingRow{
		{Model: "claude-3-opus-20240229", InputPerMillion: 15.0, OutputPerMillion: 75.0},
		{Model: "claude-3-sonnet-20240229", InputPerMillion: 3.0, OutputPerMillion: 15.0},
		{Model: "claude-3-haiku-20240307", InputPerMillion: 0.25, OutputPerMillion: 1.25},
		{Model: "gpt-4-turbo", InputPerMillion: 10.0, OutputPerMillion: 30.0},
		{Model: "gpt-4o", InputPerMillion: 5.0, OutputPerMillion: 15.0},
	}
}

// Ledger is C1's build-scoped state. It is safe for concurrent use, though
// per §5 only the event classifier goroutine mutates it during a build.
type Ledger struct {
	mu      sync.Mutex
	pricing map[string]PricingRow
	entries []buildmodel.CostEntry

	costGauge   prometheus.Gauge
	tokenGauge  prometheus.Gauge
}

// New constructs a Ledger from a pricing table. Prometheus gauges are
// created but not registered to any particular registry; callers register
// them (see Registerer) so the core never starts its own HTTP server.
func New(pricing []PricingRow) *Ledger {
	m := make(map[string]PricingRow, len(pricing))
	for _, p := range pricing {
		m[p.Model] = p
	}
	return &Ledger{
		pricing: m,
		costGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ariadne_build_cost_usd_total",
			Help: "Total accumulated build cost in USD.",
		}),
		tokenGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ariadne_build_tokens_total",
			Help: "Total accumulated input+output tokens.",
		}),
	}
}

// Registerer exposes the ledger's Prometheus collectors for an external
// collaborator to register against its own registry.
func (l *Ledger) Registerer() []prometheus.Collector {
	return []prometheus.Collector{l.costGauge, l.tokenGauge}
}

// AddTokenUsage attributes tokens to totals, per-phase, per-model. Cost is
// computed only when the model is in the pricing table; otherwise the
// usage is recorded with CostUSD=0 and PricedModel=false.
func (l *Ledger) AddTokenUsage(inputTokens, outputTokens int, model, phase string) buildmodel.CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := buildmodel.CostEntry{
		Kind:         buildmodel.CostEntryTokenUsage,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Model:        model,
		Phase:        phase,
	}
	if row, ok := l.pricing[model]; ok {
		entry.PricedModel = true
		entry.CostUSD = float64(inputTokens)/1_000_000*row.InputPerMillion +
			float64(outputTokens)/1_000_000*row.OutputPerMillion
	}
	l.entries = append(l.entries, entry)
	l.costGauge.Add(entry.CostUSD)
	l.tokenGauge.Add(float64(inputTokens + outputTokens))
	return entry
}

// AddAgentSessionCost attributes a scalar subprocess-session cost to
// totals and to the session's phase, and appends a session record.
func (l *Ledger) AddAgentSessionCost(cost float64, sessionID, phase string, durationMS int64, numTurns int) buildmodel.CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := buildmodel.CostEntry{
		Kind:         buildmodel.CostEntryAgentSession,
		AgentCostUSD: cost,
		SessionID:    sessionID,
		Phase:        phase,
		DurationMS:   durationMS,
		NumTurns:     numTurns,
	}
	l.entries = append(l.entries, entry)
	l.costGauge.Add(cost)
	return entry
}

// Entries returns a defensive copy of all recorded entries, used for
// snapshotting and for replay-based invariant tests.
func (l *Ledger) Entries() []buildmodel.CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]buildmodel.CostEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Summary is the aggregate view computed fresh from Entries on every call,
// so rebuilding from entries always yields the same summary.
type Summary struct {
	TotalCostUSD      float64
	TotalInputTokens  int
	TotalOutputTokens int
	CostByPhase       map[string]float64
	TokensByPhase     map[string]int
	UsageByModel      map[string]ModelUsage
	SessionCount      int
	AverageSessionCost float64
	ResearchCostUSD   float64
	AgentCostUSD      float64
	AnalysisCostUSD   float64
}

// ModelUsage aggregates token counts and cost for one model.
type ModelUsage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Calls        int
}

// Summary aggregates every entry recorded so far. The three-way
// research/agent/analysis split is keyed by the Phase field's convention:
// phases named "research" or prefixed "research_" count toward
// ResearchCostUSD, agent-session entries count toward AgentCostUSD, and
// everything else counts toward AnalysisCostUSD.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	entries := make([]buildmodel.CostEntry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	s := Summary{
		CostByPhase:   map[string]float64{},
		TokensByPhase: map[string]int{},
		UsageByModel:  map[string]ModelUsage{},
	}

	var sessionCostSum float64
	for _, e := range entries {
		switch e.Kind {
		case buildmodel.CostEntryTokenUsage:
			s.TotalCostUSD += e.CostUSD
			s.TotalInputTokens += e.InputTokens
			s.TotalOutputTokens += e.OutputTokens
			s.CostByPhase[e.Phase] += e.CostUSD
			s.TokensByPhase[e.Phase] += e.InputTokens + e.OutputTokens
			mu := s.UsageByModel[e.Model]
			mu.InputTokens += e.InputTokens
			mu.OutputTokens += e.OutputTokens
			mu.CostUSD += e.CostUSD
			mu.Calls++
			s.UsageByModel[e.Model] = mu
			if isResearchPhase(e.Phase) {
				s.ResearchCostUSD += e.CostUSD
			} else {
				s.AnalysisCostUSD += e.CostUSD
			}
		case buildmodel.CostEntryAgentSession:
			s.TotalCostUSD += e.AgentCostUSD
			s.CostByPhase[e.Phase] += e.AgentCostUSD
			s.SessionCount++
			sessionCostSum += e.AgentCostUSD
			s.AgentCostUSD += e.AgentCostUSD
		}
	}
	if s.SessionCount > 0 {
		s.AverageSessionCost = sessionCostSum / float64(s.SessionCount)
	}
	return s
}

func isResearchPhase(phase string) bool {
	return phase == "research" || len(phase) >= 9 && phase[:9] == "research_"
}

// BreakdownRow is one row of Breakdown's per-model + synthetic
// agent-execution table.
type BreakdownRow struct {
	Label        string
	Calls        int
	AverageTurns float64
	TotalCostUSD float64
}

// Breakdown returns per-model rows plus a synthetic "agent-execution" row,
// sorted by descending total cost.
func (l *Ledger) Breakdown() []BreakdownRow {
	l.mu.Lock()
	entries := make([]buildmodel.CostEntry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	byModel := map[string]*BreakdownRow{}
	var agentSessions, agentTurns int
	var agentCost float64

	for _, e := range entries {
		switch e.Kind {
		case buildmodel.CostEntryTokenUsage:
			row, ok := byModel[e.Model]
			if !ok {
				row = &BreakdownRow{Label: e.Model}
				byModel[e.Model] = row
			}
			row.Calls++
			row.TotalCostUSD += e.CostUSD
		case buildmodel.CostEntryAgentSession:
			agentSessions++
			agentTurns += e.NumTurns
			agentCost += e.AgentCostUSD
		}
	}

	rows := make([]BreakdownRow, 0, len(byModel)+1)
	for _, row := range byModel {
		rows = append(rows, *row)
	}
	if agentSessions > 0 {
		rows = append(rows, BreakdownRow{
			Label:        "agent-execution",
			Calls:        agentSessions,
			AverageTurns: float64(agentTurns) / float64(agentSessions),
			TotalCostUSD: agentCost,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].TotalCostUSD > rows[j].TotalCostUSD })
	return rows
}

// RoundHalfAwayFromZero rounds v to 4 decimal places, half-away-from-zero,
// for monetary display. Persisted values remain full precision.
func RoundHalfAwayFromZero(v float64) float64 {
	const scale = 10000.0
	if v >= 0 {
		return math.Floor(v*scale+0.5) / scale
	}
	return math.Ceil(v*scale-0.5) / scale
}
