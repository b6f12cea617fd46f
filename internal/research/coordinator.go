// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package research implements C7: parallel specialist LLM queries bounded
// by per-call timeouts, merged into a per-query synthesis and an optional
// executive synthesis pass.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// PerCallTimeout bounds every individual (query, specialist) LLM call.
const PerCallTimeout = 120 * time.Second

// DefaultSpecialists is the specialist roster carried over from
// original_source's ResearchConfig.agents.
var DefaultSpecialists = []string{
	"TechnologyAnalyst",
	"SecuritySpecialist",
	"PerformanceEngineer",
	"SolutionsArchitect",
	"BestPracticesAdvisor",
	"QualityAssuranceExpert",
	"DevOpsSpecialist",
}

// DefaultQueries builds the fixed query set from a profile:
// technology_analysis, security_analysis, architecture_patterns and
// deployment_strategy always, plus performance_optimization (high
// complexity) and testing_strategy (a "testing" tag or non-low complexity).
func DefaultQueries(profile buildmodel.ProjectProfile) []buildmodel.ResearchQuery {
	queries := []buildmodel.ResearchQuery{
		{ID: "technology_analysis", Text: "Analyze the best technology choices for this project.", Priority: 3, EstimatedTime: 2 * time.Minute},
		{ID: "security_analysis", Text: "Identify security requirements and risks for this project.", Priority: 3, EstimatedTime: 2 * time.Minute},
		{ID: "architecture_patterns", Text: "Recommend architecture patterns suited to this project.", Priority: 2, EstimatedTime: 2 * time.Minute},
	}
	if profile.Complexity == buildmodel.ComplexityHigh {
		queries = append(queries, buildmodel.ResearchQuery{ID: "performance_optimization", Text: "Identify performance optimization strategies.", Priority: 2, EstimatedTime: 2 * time.Minute})
	}
	if profile.HasTechnology("testing") || profile.Complexity != buildmodel.ComplexityLow {
		queries = append(queries, buildmodel.ResearchQuery{ID: "testing_strategy", Text: "Propose a testing strategy.", Priority: 1, EstimatedTime: 2 * time.Minute})
	}
	queries = append(queries, buildmodel.ResearchQuery{ID: "deployment_strategy", Text: "Propose a deployment strategy.", Priority: 1, EstimatedTime: 2 * time.Minute})
	for i := range queries {
		queries[i].Status = buildmodel.ResearchQueryPending
	}
	return queries
}

// querySpecialists assigns 1-3 specialists per query by focus area.
var querySpecialists = map[string][]string{
	"technology_analysis":      {"TechnologyAnalyst", "SolutionsArchitect"},
	"security_analysis":        {"SecuritySpecialist"},
	"architecture_patterns":    {"SolutionsArchitect", "BestPracticesAdvisor"},
	"performance_optimization": {"PerformanceEngineer"},
	"testing_strategy":         {"QualityAssuranceExpert"},
	"deployment_strategy":      {"DevOpsSpecialist"},
}

// LLMClient is the minimal surface the coordinator needs from an LLM API
// client, satisfied by an adapter over go-openai's ChatCompletion call.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (text string, inputTokens, outputTokens int, err error)
}

// OpenAIClient adapts github.com/sashabaranov/go-openai to LLMClient.
type OpenAIClient struct {
	Client *openai.Client
	Model  string
}

// Complete issues one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, int, int, error) {
	resp, err := c.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", 0, 0, err
	}
	if len(resp.Choices) == 0 {
		return "", resp.Usage.PromptTokens, resp.Usage.CompletionTokens, fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil
}

// Coordinator runs the fan-out/synthesis pipeline.
type Coordinator struct {
	client  LLMClient
	limiter *rate.Limiter
}

// New constructs a Coordinator. ratePerSecond bounds outbound call rate
// across the whole fan-out, independent of the per-call timeout.
func New(client LLMClient, ratePerSecond float64) *Coordinator {
	return &Coordinator{client: client, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1)}
}

// Run dispatches every (query × specialist) pair concurrently, each with
// an independent PerCallTimeout; failures and timeouts are logged and
// degrade that cell rather than failing the phase. It returns every
// finding gathered (including fallback-parsed ones) and the basic
// per-query synthesis.
func (c *Coordinator) Run(ctx context.Context, queries []buildmodel.ResearchQuery) ([]buildmodel.ResearchFinding, map[string][]buildmodel.ResearchFinding) {
	var mu sync.Mutex
	var findings []buildmodel.ResearchFinding

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		specialists := querySpecialists[q.ID]
		if len(specialists) == 0 {
			specialists = []string{"SolutionsArchitect"}
		}
		for _, specialist := range specialists {
			specialist := specialist
			g.Go(func() error {
				if err := c.limiter.Wait(gctx); err != nil {
					return nil // ctx cancelled upstream; don't fail the whole group
				}
				callCtx, cancel := context.WithTimeout(gctx, PerCallTimeout)
				defer cancel()

				finding, err := c.queryOne(callCtx, q, specialist)
				if err != nil {
					// Kind 7: LLM call failure/timeout degrades locally.
					slog.Warn("research call failed", "query", q.ID, "specialist", specialist, "error", err)
					return nil
				}
				mu.Lock()
				findings = append(findings, finding)
				mu.Unlock()
				return nil
			})
		}
	}
	g.Wait() // errors are swallowed per-cell above; Wait only waits out stragglers.

	byQuery := map[string][]buildmodel.ResearchFinding{}
	for _, f := range findings {
		byQuery[f.QueryID] = append(byQuery[f.QueryID], f)
	}
	return findings, byQuery
}

func (c *Coordinator) queryOne(ctx context.Context, q buildmodel.ResearchQuery, specialist string) (buildmodel.ResearchFinding, error) {
	system := fmt.Sprintf("You are a %s. Respond as compact JSON with keys summary, recommendations, best_practices, tools, pitfalls.", specialist)
	text, _, _, err := c.client.Complete(ctx, system, q.Text)
	if err != nil {
		return buildmodel.ResearchFinding{}, err
	}
	return parseFinding(q.ID, specialist, text), nil
}

type findingJSON struct {
	Summary         string            `json:"summary"`
	Recommendations []string          `json:"recommendations"`
	BestPractices   []string          `json:"best_practices"`
	Tools           map[string]string `json:"tools"`
	Pitfalls        []string          `json:"pitfalls"`
}

// parseFinding attempts structured JSON parsing first; on failure it
// falls back to treating the whole response as the summary, applying a
// 0.8 fallback-confidence multiplier per §4.7.
func parseFinding(queryID, specialist, text string) buildmodel.ResearchFinding {
	var fj findingJSON
	trimmed := strings.TrimSpace(text)
	fallback := false
	if err := json.Unmarshal([]byte(trimmed), &fj); err != nil {
		fj = findingJSON{Summary: trimmed}
		fallback = true
	}

	finding := buildmodel.ResearchFinding{
		QueryID:          queryID,
		Specialist:       specialist,
		Summary:          fj.Summary,
		Recommendations:  fj.Recommendations,
		BestPractices:    fj.BestPractices,
		ToolsAndVersions: fj.Tools,
		Pitfalls:         fj.Pitfalls,
		FallbackParsed:   fallback,
	}
	finding.Confidence = confidenceScore(finding)
	if fallback {
		finding.Confidence *= 0.8
	}
	return finding
}

// confidenceScore: 0.5 base + 0.1 per populated major section, capped at 1.0.
func confidenceScore(f buildmodel.ResearchFinding) float64 {
	score := 0.5
	if f.Summary != "" {
		score += 0.1
	}
	if len(f.Recommendations) >= 4 {
		score += 0.1
	}
	if len(f.BestPractices) >= 4 {
		score += 0.1
	}
	if len(f.Pitfalls) > 0 {
		score += 0.1
	}
	if len(f.ToolsAndVersions) > 0 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// BasicSynthesis merges per-query findings without another LLM call:
// recommendations and tools from every query, and best practices and
// pitfalls from security_analysis only (as security requirements and risk
// mitigations). Other queries' best practices and pitfalls are not merged.
func BasicSynthesis(byQuery map[string][]buildmodel.ResearchFinding) buildmodel.ResearchSynthesis {
	syn := buildmodel.ResearchSynthesis{TechnologyDecisions: map[string]string{}}
	var recs, sec, risks []string

	queryIDs := make([]string, 0, len(byQuery))
	for id := range byQuery {
		queryIDs = append(queryIDs, id)
	}
	sort.Strings(queryIDs)

	for _, qid := range queryIDs {
		for _, f := range byQuery[qid] {
			recs = append(recs, f.Recommendations...)
			if qid == "security_analysis" {
				sec = append(sec, f.BestPractices...)
				risks = append(risks, f.Pitfalls...)
			}
			for tool, version := range f.ToolsAndVersions {
				syn.TechnologyDecisions[tool] = version
			}
		}
	}
	syn.PrioritizedRecommendations = recs
	syn.SecurityRequirements = sec
	syn.RiskMitigations = risks
	if len(recs) > 0 {
		syn.ExecutiveSummary = fmt.Sprintf("%d prioritized recommendations gathered across %d research areas.", len(recs), len(byQuery))
	}
	return syn
}

// ExecutiveSynthesize runs an optional second LLM pass over the basic
// synthesis to produce a prioritized executive summary and roadmap. On
// failure, the basic synthesis already computed is returned unchanged,
// per §4.7's "on LLM failure the basic synthesis is the final output."
func (c *Coordinator) ExecutiveSynthesize(ctx context.Context, basic buildmodel.ResearchSynthesis) buildmodel.ResearchSynthesis {
	callCtx, cancel := context.WithTimeout(ctx, PerCallTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Synthesize into an executive summary and phased roadmap, as JSON with keys executive_summary and phased_roadmap:\n%v", basic.PrioritizedRecommendations)
	text, _, _, err := c.client.Complete(callCtx, "You are a principal architect synthesizing research findings.", prompt)
	if err != nil {
		return basic
	}

	var out struct {
		ExecutiveSummary string   `json:"executive_summary"`
		PhasedRoadmap    []string `json:"phased_roadmap"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return basic
	}
	basic.ExecutiveSummary = out.ExecutiveSummary
	basic.PhasedRoadmap = out.PhasedRoadmap
	return basic
}
