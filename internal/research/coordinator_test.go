// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package research

import (
	"context"
	"testing"
	"time"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	response string
	err      error
	delay    time.Duration
}

func (f *fakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, int, int, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}
	if f.err != nil {
		return "", 0, 0, f.err
	}
	return f.response, 10, 20, nil
}

func TestRunCollectsFindingsAcrossQueries(t *testing.T) {
	client := &fakeClient{response: `{"summary":"ok","recommendations":["a","b","c","d"],"best_practices":["a","b","c","d"],"tools":{"go":"1.25"},"pitfalls":["p1"]}`}
	coord := New(client, 1000)

	profile := buildmodel.ProjectProfile{Complexity: buildmodel.ComplexityHigh}
	queries := DefaultQueries(profile)
	findings, byQuery := coord.Run(context.Background(), queries)

	require.NotEmpty(t, findings)
	require.Contains(t, byQuery, "security_analysis")
	for _, f := range findings {
		require.GreaterOrEqual(t, f.Confidence, 0.5)
	}
}

func TestFallbackParsingAppliesConfidencePenalty(t *testing.T) {
	finding := parseFinding("q1", "TechnologyAnalyst", "not json at all, just prose")
	require.True(t, finding.FallbackParsed)
	require.Less(t, finding.Confidence, 0.7)
}

func TestRunSurvivesClientErrors(t *testing.T) {
	client := &fakeClient{err: context.DeadlineExceeded}
	coord := New(client, 1000)
	findings, byQuery := coord.Run(context.Background(), DefaultQueries(buildmodel.ProjectProfile{}))
	require.Empty(t, findings)
	require.Empty(t, byQuery)
}

func TestBasicSynthesisMergesRecommendations(t *testing.T) {
	byQuery := map[string][]buildmodel.ResearchFinding{
		"technology_analysis": {{Recommendations: []string{"use go"}}},
		"security_analysis":   {{BestPractices: []string{"use tls"}, Pitfalls: []string{"avoid plaintext"}}},
	}
	syn := BasicSynthesis(byQuery)
	require.Contains(t, syn.PrioritizedRecommendations, "use go")
	require.Contains(t, syn.SecurityRequirements, "use tls")
	require.Contains(t, syn.RiskMitigations, "avoid plaintext")
}
