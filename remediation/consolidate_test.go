package remediation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mergeProvider struct {
	text string
	err  error
}

func (m *mergeProvider) Name() string { return "merge-stub" }

func (m *mergeProvider) Invoke(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &provider.Result{Text: m.text, CostUSD: 0.03}, nil
}

func pairDir(t *testing.T, canonical, alias string) (string, issue.ColocatedPair) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "AGENTS.md"), []byte(canonical), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "CLAUDE.md"), []byte(alias), 0644))
	return root, issue.ColocatedPair{
		Directory:     ".",
		CanonicalPath: "AGENTS.md",
		AliasPath:     "CLAUDE.md",
	}
}

func TestNaiveMerge(t *testing.T) {
	got := naiveMerge("# Agents\ncontent\n", "# Claude\nextra\n", "CLAUDE.md")

	assert.Contains(t, got, "# Agents\ncontent")
	assert.Contains(t, got, "<!-- Merged from CLAUDE.md -->")
	assert.Contains(t, got, "# Claude\nextra")
	// Delimiter sits between the two bodies.
	assert.Less(t,
		strings.Index(got, "content"),
		strings.Index(got, "<!-- Merged from"))
	assert.Less(t,
		strings.Index(got, "<!-- Merged from"),
		strings.Index(got, "extra"))
}

func TestConsolidatePairsNaive(t *testing.T) {
	root, pair := pairDir(t, "# Agents\nbuild with make\n", "# Claude\nalso run lint\n")
	o := New(nil)

	issues := []issue.Issue{
		{Kind: issue.KindError, Problem: "x", Location: &issue.Location{File: "CLAUDE.md", StartLine: 2, EndLine: 2}},
	}
	res := &issue.RemediationResult{}

	done, err := o.consolidatePairs(context.Background(), root, []issue.ColocatedPair{pair}, issues, MergeNaive, nil, res)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.True(t, done[0].merged)

	canonical, err := os.ReadFile(filepath.Join(root, "AGENTS.md"))
	require.NoError(t, err)
	assert.Contains(t, string(canonical), "<!-- Merged from CLAUDE.md -->")
	assert.Contains(t, string(canonical), "also run lint")

	alias, err := os.ReadFile(filepath.Join(root, "CLAUDE.md"))
	require.NoError(t, err)
	assert.Equal(t, "@AGENTS.md\n", string(alias))

	// The issue that pointed at the alias follows the content.
	assert.Equal(t, "AGENTS.md", issues[0].Location.File)
}

func TestConsolidatePairsIdempotent(t *testing.T) {
	root, pair := pairDir(t, "# Agents\n", "# Claude\n")
	o := New(nil)
	res := &issue.RemediationResult{}

	_, err := o.consolidatePairs(context.Background(), root, []issue.ColocatedPair{pair}, nil, MergeNaive, nil, res)
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(root, "AGENTS.md"))
	require.NoError(t, err)

	// Second pass sees the alias is already a pointer and changes nothing.
	done, err := o.consolidatePairs(context.Background(), root, []issue.ColocatedPair{pair}, nil, MergeNaive, nil, res)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.False(t, done[0].merged)

	second, err := os.ReadFile(filepath.Join(root, "AGENTS.md"))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestConsolidatePairsSkipsAlreadyConsolidated(t *testing.T) {
	root, pair := pairDir(t, "# Agents\n", "@AGENTS.md\n")
	pair.AlreadyConsolidated = true
	o := New(nil)

	done, err := o.consolidatePairs(context.Background(), root, []issue.ColocatedPair{pair}, nil, MergeNaive, nil, &issue.RemediationResult{})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.False(t, done[0].merged)
}

func TestConsolidateAIMerge(t *testing.T) {
	canonical := "# Agents\nbuild with make and run the linters before pushing\n"
	alias := "# Claude\nalways run gofmt on generated files before committing\n"

	t.Run("accepted", func(t *testing.T) {
		root, pair := pairDir(t, canonical, alias)
		o := New(nil)
		res := &issue.RemediationResult{}
		merged := "# Agents\nbuild with make, run the linters, and gofmt generated files before pushing\n"

		_, err := o.consolidatePairs(context.Background(), root, []issue.ColocatedPair{pair}, nil, MergeAI, &mergeProvider{text: merged}, res)
		require.NoError(t, err)

		got, err := os.ReadFile(filepath.Join(root, "AGENTS.md"))
		require.NoError(t, err)
		assert.NotContains(t, string(got), "<!-- Merged from")
		assert.Contains(t, string(got), "gofmt generated files")
		assert.Equal(t, 0.03, res.CostUSD)
	})

	t.Run("too short falls back to naive", func(t *testing.T) {
		root, pair := pairDir(t, canonical, alias)
		o := New(nil)

		_, err := o.consolidatePairs(context.Background(), root, []issue.ColocatedPair{pair}, nil, MergeAI, &mergeProvider{text: "ok"}, &issue.RemediationResult{})
		require.NoError(t, err)

		got, err := os.ReadFile(filepath.Join(root, "AGENTS.md"))
		require.NoError(t, err)
		assert.Contains(t, string(got), "<!-- Merged from CLAUDE.md -->")
	})

	t.Run("provider error falls back to naive", func(t *testing.T) {
		root, pair := pairDir(t, canonical, alias)
		o := New(nil)

		_, err := o.consolidatePairs(context.Background(), root, []issue.ColocatedPair{pair}, nil, MergeAI, &mergeProvider{err: assert.AnError}, &issue.RemediationResult{})
		require.NoError(t, err)

		got, err := os.ReadFile(filepath.Join(root, "AGENTS.md"))
		require.NoError(t, err)
		assert.Contains(t, string(got), "<!-- Merged from CLAUDE.md -->")
	})
}

func TestRepointIssues(t *testing.T) {
	issues := []issue.Issue{
		{Location: &issue.Location{File: "CLAUDE.md", StartLine: 1, EndLine: 1}},
		{Locations: []issue.Location{
			{File: "CLAUDE.md", StartLine: 1, EndLine: 1},
			{File: "other.md", StartLine: 2, EndLine: 2},
		}},
		{AffectedFiles: []string{"CLAUDE.md", "other.md"}},
	}

	repointIssues(issues, "CLAUDE.md", "AGENTS.md")

	assert.Equal(t, "AGENTS.md", issues[0].Location.File)
	assert.Equal(t, "AGENTS.md", issues[1].Locations[0].File)
	assert.Equal(t, "other.md", issues[1].Locations[1].File)
	assert.Equal(t, []string{"AGENTS.md", "other.md"}, issues[2].AffectedFiles)
}
