package curation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	text string
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Invoke(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Result{Text: s.text, CostUSD: 0.02}, nil
}

func makeIssues(n int) []issue.Issue {
	out := make([]issue.Issue, n)
	for i := range out {
		out[i] = issue.Issue{
			Kind:     issue.KindError,
			Severity: 1 + i%10,
			Problem:  fmt.Sprintf("problem number %d", i+1),
			Location: &issue.Location{File: "AGENTS.md", StartLine: i + 1, EndLine: i + 1},
		}
	}
	return out
}

func TestCurateSkipsSmallSets(t *testing.T) {
	c := New(&stubProvider{})
	assert.Nil(t, c.Curate(context.Background(), Request{Kind: issue.KindError, Issues: makeIssues(30)}))
	assert.Nil(t, c.Curate(context.Background(), Request{Kind: issue.KindError, Issues: nil}))
}

func TestCurateSelectsByIndices(t *testing.T) {
	issues := makeIssues(40)
	c := New(&stubProvider{text: "```json\n" +
		`{"selectedIndices": [5, 1, 12], "rationale": "these block onboarding"}` + "\n```"},
		WithTopN(3))

	var seen []events.Type
	set := c.Curate(context.Background(), Request{
		Kind:   issue.KindError,
		Issues: issues,
		Notify: func(tp events.Type, data map[string]any) { seen = append(seen, tp) },
	})

	require.NotNil(t, set)
	require.Len(t, set.Issues, 3)
	// Indices are 1-based and preserved in ranked order.
	assert.Equal(t, "problem number 5", set.Issues[0].Problem)
	assert.Equal(t, "problem number 1", set.Issues[1].Problem)
	assert.Equal(t, "problem number 12", set.Issues[2].Problem)

	assert.Equal(t, "these block onboarding", set.Summary.Rationale)
	assert.Equal(t, 40, set.Summary.TotalReviewed)
	assert.Equal(t, 0.02, set.CostUSD)

	assert.Equal(t, []events.Type{events.TypeCurationStarted, events.TypeCurationCompleted}, seen)
}

func TestCurateDropsInvalidIndices(t *testing.T) {
	issues := makeIssues(35)
	c := New(&stubProvider{text: `{"selectedIndices": [0, 2, 2, 99, 7], "rationale": "r"}`},
		WithTopN(10))

	set := c.Curate(context.Background(), Request{Kind: issue.KindError, Issues: issues})
	require.NotNil(t, set)
	require.Len(t, set.Issues, 2)
	assert.Equal(t, "problem number 2", set.Issues[0].Problem)
	assert.Equal(t, "problem number 7", set.Issues[1].Problem)
}

func TestCurateCapsAtTopN(t *testing.T) {
	issues := makeIssues(40)
	c := New(&stubProvider{text: `{"selectedIndices": [1, 2, 3, 4, 5], "rationale": "r"}`},
		WithTopN(2))

	set := c.Curate(context.Background(), Request{Kind: issue.KindError, Issues: issues})
	require.NotNil(t, set)
	assert.Len(t, set.Issues, 2)
}

func TestCurateFallbackOnParseFailure(t *testing.T) {
	issues := makeIssues(40)
	c := New(&stubProvider{text: "no structured selection here"}, WithTopN(5))

	set := c.Curate(context.Background(), Request{Kind: issue.KindError, Issues: issues})
	require.NotNil(t, set)
	require.Len(t, set.Issues, 5)

	// Fallback is severity-descending.
	for i := 1; i < len(set.Issues); i++ {
		assert.GreaterOrEqual(t,
			set.Issues[i-1].EffectiveSeverity(),
			set.Issues[i].EffectiveSeverity())
	}
	assert.Contains(t, set.Summary.Rationale, "severity")
}

func TestCurateFallbackOnProviderError(t *testing.T) {
	issues := makeIssues(40)
	c := New(&stubProvider{err: errors.New("agent unavailable")}, WithTopN(5))

	set := c.Curate(context.Background(), Request{Kind: issue.KindError, Issues: issues})
	require.NotNil(t, set)
	assert.Len(t, set.Issues, 5)
}

func TestCurateNeverMutatesIssues(t *testing.T) {
	issues := makeIssues(40)
	original := issues[4]

	c := New(&stubProvider{text: `{"selectedIndices": [5], "rationale": "r"}`}, WithTopN(1))
	set := c.Curate(context.Background(), Request{Kind: issue.KindError, Issues: issues})

	require.NotNil(t, set)
	require.Len(t, set.Issues, 1)
	assert.Equal(t, original, set.Issues[0])
	assert.Equal(t, original, issues[4])
}

func TestBuildPromptNumbering(t *testing.T) {
	issues := makeIssues(3)
	prompt := buildPrompt(issue.KindError, issues, 2)

	assert.Contains(t, prompt, "1. problem number 1")
	assert.Contains(t, prompt, "3. problem number 3")
	assert.Contains(t, prompt, "[severity 1]")
	assert.Contains(t, prompt, "selectedIndices")
}
