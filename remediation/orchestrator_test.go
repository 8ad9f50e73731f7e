package remediation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/faults"
	"github.com/c360studio/docscope/gitws"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixingProvider plays the remediation agent: plan prompts get plan text,
// execute prompts actually edit a file in the workspace and report actions.
type fixingProvider struct {
	name string

	mu         sync.Mutex
	writeCalls int
	batchSizes []int
}

func (f *fixingProvider) Name() string { return f.name }

func (f *fixingProvider) Invoke(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	if !opts.WriteMode {
		return &provider.Result{Text: "1. Correct each listed problem in place.", CostUSD: 0.01,
			Usage: issue.Usage{Input: 200, Output: 40}}, nil
	}

	f.mu.Lock()
	f.writeCalls++
	f.mu.Unlock()

	batch := strings.Count(prompt, "\n   Severity:") + strings.Count(prompt, "\n   Impact:")
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, batch)
	f.mu.Unlock()

	marker := "fixed error batch"
	if strings.Contains(prompt, "Improvements to apply") {
		marker = "applied suggestion batch"
	}

	path := filepath.Join(opts.WorkDir, "AGENTS.md")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, append(content, []byte(marker+"\n")...), 0644); err != nil {
		return nil, err
	}

	var actions []string
	for i := 1; i <= batch; i++ {
		actions = append(actions, fmt.Sprintf(
			`{"issueIndex": %d, "status": "fixed", "file": "AGENTS.md", "shortSummary": "corrected"}`, i))
	}
	text := "Done.\n```json\n{\"actions\": [" + strings.Join(actions, ",") + "]}\n```"
	return &provider.Result{Text: text, CostUSD: 0.05, Usage: issue.Usage{Input: 500, Output: 100}}, nil
}

func registerFixing(t *testing.T) (*fixingProvider, string) {
	t.Helper()
	f := &fixingProvider{name: "fixing-" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))}
	provider.Register(f, "")
	return f, f.name
}

func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	git := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	git("init")
	git("config", "user.email", "dev@example.com")
	git("config", "user.name", "Dev")
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	git("add", "-A")
	git("commit", "-m", "initial")
	return root
}

func selection() []issue.Issue {
	return []issue.Issue{
		{Kind: issue.KindError, Severity: 8, Problem: "wrong build command",
			Location: &issue.Location{File: "AGENTS.md", StartLine: 2, EndLine: 2}},
		{Kind: issue.KindError, Severity: 4, Problem: "stale path reference",
			Location: &issue.Location{File: "AGENTS.md", StartLine: 5, EndLine: 5}},
		{Kind: issue.KindSuggestion, ImpactLevel: issue.ImpactHigh, Problem: "add test instructions",
			Location: &issue.Location{File: "AGENTS.md", StartLine: 1, EndLine: 1}},
	}
}

func TestRunEndToEnd(t *testing.T) {
	_, name := registerFixing(t)
	root := initRepo(t, map[string]string{
		"AGENTS.md": "# Agents\nmake build\n",
		"CLAUDE.md": "# Claude\nextra notes\n",
	})

	var mu sync.Mutex
	var steps []string
	o := New(gitws.NewManager(t.TempDir()))
	res, err := o.Run(context.Background(), Request{
		LocalPath: root,
		Provider:  name,
		Issues:    selection(),
		Pairs: []issue.ColocatedPair{{
			Directory: ".", CanonicalPath: "AGENTS.md", AliasPath: "CLAUDE.md",
		}},
		Notify: func(tp events.Type, data map[string]any) {
			if tp == events.TypeRemediationStepStarted {
				mu.Lock()
				steps = append(steps, data["step"].(string))
				mu.Unlock()
			}
		},
	})
	require.NoError(t, err)

	// Patch covers consolidation and both execute phases.
	assert.Contains(t, res.FullPatch, "AGENTS.md")
	assert.Contains(t, res.FullPatch, "fixed error batch")
	assert.Contains(t, res.FullPatch, "applied suggestion batch")
	assert.Contains(t, res.FullPatch, "Merged from CLAUDE.md")
	require.NotEmpty(t, res.FileChanges)
	assert.Greater(t, res.TotalAdditions, 0)

	// Intermediate diff has the error fixes but not the enrichments.
	assert.Contains(t, res.ErrorFixDiff, "fixed error batch")
	assert.NotContains(t, res.ErrorFixDiff, "applied suggestion batch")

	assert.NotEmpty(t, res.ErrorPlan)
	assert.NotEmpty(t, res.SuggestionPlan)
	require.NotNil(t, res.PhaseStats.ErrorPlan)
	require.NotNil(t, res.PhaseStats.ErrorExecute)
	require.NotNil(t, res.PhaseStats.SuggestionPlan)
	require.NotNil(t, res.PhaseStats.SuggestionExecute)
	assert.NotEmpty(t, res.Actions)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Greater(t, res.Usage.Total(), 0)

	// The working tree is back to HEAD.
	clean, status, err := gitws.CheckClean(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, clean, "tree not reset: %s", status)

	assert.Equal(t, []string{
		stepCheckingGit,
		stepConsolidating,
		stepPlanningErrors,
		stepExecutingErrors,
		stepCapturingErrDiff,
		stepPlanningEnrich,
		stepExecutingEnrich,
		stepCapturingDiff,
		stepResetting,
	}, steps)
}

func TestRunErrorsOnlySkipsSuggestionPhases(t *testing.T) {
	_, name := registerFixing(t)
	root := initRepo(t, map[string]string{"AGENTS.md": "# Agents\n"})

	o := New(gitws.NewManager(t.TempDir()))
	res, err := o.Run(context.Background(), Request{
		LocalPath: root,
		Provider:  name,
		Issues:    selection()[:2],
	})
	require.NoError(t, err)

	assert.NotNil(t, res.PhaseStats.ErrorPlan)
	assert.Nil(t, res.PhaseStats.SuggestionPlan)
	assert.Nil(t, res.PhaseStats.SuggestionExecute)
	assert.Empty(t, res.SuggestionPlan)
}

func TestRunBatchingRemapsIndices(t *testing.T) {
	f, name := registerFixing(t)
	root := initRepo(t, map[string]string{"AGENTS.md": "# Agents\n"})

	var issues []issue.Issue
	for i := 0; i < 5; i++ {
		issues = append(issues, issue.Issue{
			Kind: issue.KindError, Severity: 5,
			Problem:  fmt.Sprintf("problem %d", i),
			Location: &issue.Location{File: "AGENTS.md", StartLine: i + 1, EndLine: i + 1},
		})
	}

	o := New(gitws.NewManager(t.TempDir()), WithBatchSize(2))
	res, err := o.Run(context.Background(), Request{
		LocalPath: root,
		Provider:  name,
		Issues:    issues,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, f.batchSizes)

	var indices []int
	for _, a := range res.Actions {
		indices = append(indices, a.IssueIndex)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, indices)
}

func TestRunDirtyLocalTree(t *testing.T) {
	_, name := registerFixing(t)
	root := initRepo(t, map[string]string{"AGENTS.md": "# Agents\n"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "AGENTS.md"), []byte("edited\n"), 0644))

	o := New(gitws.NewManager(t.TempDir()))
	_, err := o.Run(context.Background(), Request{
		LocalPath: root,
		Provider:  name,
		Issues:    selection(),
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeRepoError, faults.CodeOf(err))
	assert.Contains(t, err.Error(), "uncommitted changes")
}

func TestRunMissingWorkspace(t *testing.T) {
	_, name := registerFixing(t)
	o := New(gitws.NewManager(t.TempDir()))

	_, err := o.Run(context.Background(), Request{Provider: name})
	require.Error(t, err)
	assert.Equal(t, faults.CodeInvalidRequest, faults.CodeOf(err))
}

func TestPartition(t *testing.T) {
	errs, suggestions := partition([]issue.Issue{
		{Kind: issue.KindSuggestion, ImpactLevel: issue.ImpactLow, Title: "s-low"},
		{Kind: issue.KindError, Severity: 3, Title: "e-3"},
		{Kind: issue.KindSuggestion, ImpactLevel: issue.ImpactHigh, Title: "s-high"},
		{Kind: issue.KindError, Severity: 9, Title: "e-9"},
		{Kind: issue.KindSuggestion, ImpactLevel: issue.ImpactMedium, Title: "s-med"},
	})

	require.Len(t, errs, 2)
	assert.Equal(t, "e-9", errs[0].Title)
	assert.Equal(t, "e-3", errs[1].Title)

	require.Len(t, suggestions, 3)
	assert.Equal(t, "s-high", suggestions[0].Title)
	assert.Equal(t, "s-med", suggestions[1].Title)
	assert.Equal(t, "s-low", suggestions[2].Title)
}

func TestParseActions(t *testing.T) {
	text := "Work complete.\n```json\n" +
		`{"actions": [{"issueIndex": 1, "status": "fixed", "file": "AGENTS.md"},
		             {"issueIndex": 2, "status": "skipped", "shortSummary": "not reproducible"}]}` +
		"\n```"

	actions := parseActions(text, 50)
	require.Len(t, actions, 2)
	assert.Equal(t, 51, actions[0].IssueIndex)
	assert.Equal(t, 52, actions[1].IssueIndex)
	assert.Equal(t, issue.ActionFixed, actions[0].Status)
	assert.Equal(t, issue.OutputStandard, actions[0].OutputType, "outputType defaults")

	assert.Nil(t, parseActions("no summary here", 0))
}
