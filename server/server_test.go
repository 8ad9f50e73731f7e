package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docscope/config"
	"github.com/c360studio/docscope/evaluation"
	"github.com/c360studio/docscope/evaluator"
	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/gitws"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/metrics"
	"github.com/c360studio/docscope/provider"
	"github.com/c360studio/docscope/remediation"
	"github.com/c360studio/docscope/store"
)

// apiProvider serves every pipeline stage: issue JSON for evaluator prompts,
// labeled lines for context analysis, plan text for plans, and real file
// edits plus an action summary in write mode.
type apiProvider struct {
	name  string
	block chan struct{}
}

func (p *apiProvider) Name() string { return p.name }

func (p *apiProvider) Invoke(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if opts.WriteMode {
		path := filepath.Join(opts.WorkDir, "AGENTS.md")
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, append(content, []byte("remediated\n")...), 0644); err != nil {
			return nil, err
		}
		return &provider.Result{
			Text:    "Done.\n```json\n{\"actions\": [{\"issueIndex\": 1, \"status\": \"fixed\", \"file\": \"AGENTS.md\"}]}\n```",
			CostUSD: 0.05,
		}, nil
	}

	switch {
	case strings.Contains(prompt, `"issues"`):
		return &provider.Result{
			Text: "```json\n{\"issues\": [{\"kind\": \"error\", \"title\": \"Stale command\", " +
				"\"problem\": \"build command is wrong\", \"severity\": 6, " +
				"\"location\": {\"file\": \"AGENTS.md\", \"startLine\": 1, \"endLine\": 1}}]}\n```",
			CostUSD: 0.01,
		}, nil
	case strings.Contains(prompt, "Key Folders"):
		return &provider.Result{
			Text: "Languages: Go\nFrameworks: none\nArchitecture: CLI\nPatterns: standard library\nKey Folders:\n- cmd: entry point\n",
		}, nil
	default:
		return &provider.Result{Text: "1. Fix each issue in place.", CostUSD: 0.01}, nil
	}
}

func registerAPI(t *testing.T) *apiProvider {
	t.Helper()
	p := &apiProvider{name: "api-" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))}
	provider.Register(p, "")
	return p
}

func fixtureRepo(t *testing.T) string {
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
	require.NoError(t, os.WriteFile(filepath.Join(root, "AGENTS.md"),
		[]byte("# Agents\nmake build\n"), 0644))
	git("add", "-A")
	git("commit", "-m", "initial")
	return root
}

func newTestServer(t *testing.T, providerName string, tweak func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Provider.Default = providerName
	cfg.Workspace.Root = t.TempDir()
	if tweak != nil {
		tweak(cfg)
	}

	workspaces := gitws.NewManager(cfg.Workspace.Root)
	registry := evaluator.NewRegistry()
	srv := New(cfg, Deps{
		Bus:         events.NewBus(),
		Store:       store.NewMemory(),
		Metrics:     metrics.New(),
		Evaluation:  evaluation.New(workspaces, registry),
		Remediation: remediation.New(workspaces),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func waitForState(t *testing.T, handler http.Handler, path, want string) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		rec := doJSON(t, handler, "GET", path, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		last = decode[map[string]any](t, rec)
		return last["status"] == want
	}, 10*time.Second, 20*time.Millisecond, "last status: %v", last)
	return last
}

func TestEvaluateEndToEnd(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)
	repo := fixtureRepo(t)

	rec := doJSON(t, srv.Router(), "POST", "/api/evaluate", map[string]any{
		"repositoryUrl": repo,
		"options":       map[string]any{"provider": p.name},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[evaluateResponse](t, rec)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "/api/evaluate/"+resp.JobID+"/stream", resp.SSEURL)

	status := waitForState(t, srv.Router(), "/api/evaluate/"+resp.JobID, "completed")
	assert.EqualValues(t, 100, status["progress"])
	assert.NotEmpty(t, status["logs"])
	assert.NotNil(t, status["result"])

	detail, ok := status["progressDetail"].(map[string]any)
	require.True(t, ok, "status carries the progress snapshot")
	assert.EqualValues(t, 100, detail["percentage"])
	assert.NotZero(t, detail["totalEvaluators"])
	assert.Equal(t, detail["totalEvaluators"], detail["completedEvaluators"])
	assert.Equal(t, detail["totalFiles"], detail["completedFiles"])

	// The terminal hook stored the record.
	stored := doJSON(t, srv.Router(), "GET", "/api/evaluations/"+resp.JobID, nil)
	require.Equal(t, http.StatusOK, stored.Code)
	record := decode[store.EvaluationRecord](t, stored)
	assert.Equal(t, repo, record.RepositoryURL)
	assert.Equal(t, store.StatusCompleted, record.Status)
	require.NotNil(t, record.Result)
	assert.Greater(t, record.Result.CountIssues(), 0)
}

func TestEvaluateValidation(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)

	rec := doJSON(t, srv.Router(), "POST", "/api/evaluate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "INVALID_REQUEST", body.Error.Code)

	rec = doJSON(t, srv.Router(), "POST", "/api/evaluate", map[string]any{
		"repositoryUrl": "https://example.com/x.git",
		"options":       map[string]any{"concurrency": 64},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Router(), "POST", "/api/evaluate", map[string]any{
		"repositoryUrl": "https://example.com/x.git",
		"options":       map[string]any{"evaluatorFilter": "bogus"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateQueueFull(t *testing.T) {
	p := registerAPI(t)
	p.block = make(chan struct{})
	defer close(p.block)

	srv := newTestServer(t, p.name, func(cfg *config.Config) {
		cfg.Evaluation.QueueCapacity = 1
		cfg.Evaluation.Workers = 1
	})
	repo := fixtureRepo(t)

	submit := func() *httptest.ResponseRecorder {
		return doJSON(t, srv.Router(), "POST", "/api/evaluate", map[string]any{
			"repositoryUrl": repo,
		})
	}

	first := decode[evaluateResponse](t, submit())
	require.Eventually(t, func() bool {
		rec := doJSON(t, srv.Router(), "GET", "/api/evaluate/"+first.JobID, nil)
		return strings.Contains(rec.Body.String(), `"running"`)
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusAccepted, submit().Code)

	rec := submit()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "QUEUE_FULL", body.Error.Code)
}

func TestEvaluateBatchPartialAdmission(t *testing.T) {
	p := registerAPI(t)
	p.block = make(chan struct{})
	defer close(p.block)

	srv := newTestServer(t, p.name, func(cfg *config.Config) {
		cfg.Evaluation.QueueCapacity = 1
		cfg.Evaluation.Workers = 1
	})
	repo := fixtureRepo(t)

	rec := doJSON(t, srv.Router(), "POST", "/api/evaluate/batch", map[string]any{
		"urls": []string{repo, repo, repo, repo},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decode[batchResponse](t, rec)
	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, 4, resp.TotalURLs)
	require.Len(t, resp.Jobs, 4)

	admitted, rejected := 0, 0
	for _, j := range resp.Jobs {
		if j.Status == "queued" {
			admitted++
			assert.NotEmpty(t, j.JobID)
		} else {
			rejected++
			assert.Equal(t, "rejected:QUEUE_FULL", j.Status)
			assert.Empty(t, j.JobID)
		}
	}
	// One in the worker plus one queue slot.
	assert.Equal(t, 2, admitted)
	assert.Equal(t, 2, rejected)
}

func TestEvaluateDelete(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)
	repo := fixtureRepo(t)

	rec := doJSON(t, srv.Router(), "DELETE", "/api/evaluate/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decode[evaluateResponse](t, doJSON(t, srv.Router(), "POST", "/api/evaluate", map[string]any{
		"repositoryUrl": repo,
	}))
	waitForState(t, srv.Router(), "/api/evaluate/"+resp.JobID, "completed")

	rec = doJSON(t, srv.Router(), "DELETE", "/api/evaluate/"+resp.JobID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv.Router(), "DELETE", "/api/evaluate/"+resp.JobID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluateStream(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)
	repo := fixtureRepo(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var resp evaluateResponse
	{
		body, err := json.Marshal(map[string]any{"repositoryUrl": repo})
		require.NoError(t, err)
		res, err := http.Post(ts.URL+"/api/evaluate", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
		res.Body.Close()
	}

	res, err := http.Get(ts.URL + resp.SSEURL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	var names []string
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, resp.JobID)
		}
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, names)
	assert.Equal(t, "job.started", names[0])
	assert.Equal(t, "job.completed", names[len(names)-1])
	assert.Contains(t, names, "discovery.completed")
	assert.Contains(t, names, "file.started")

	rec := doJSON(t, srv.Router(), "GET", "/api/evaluate/unknown/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportValidation(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)

	rec := doJSON(t, srv.Router(), "POST", "/api/evaluations/import", map[string]any{
		"repositoryUrl": "https://example.com/x.git",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Router(), "POST", "/api/evaluations/import", store.EvaluationRecord{
		ID:            "imported-1",
		RepositoryURL: "https://example.com/x.git",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	got := doJSON(t, srv.Router(), "GET", "/api/evaluations/imported-1", nil)
	require.Equal(t, http.StatusOK, got.Code)
	record := decode[store.EvaluationRecord](t, got)
	assert.Equal(t, store.StatusCompleted, record.Status)
	assert.False(t, record.CreatedAt.IsZero())
}

func TestRemediationFlow(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)
	repo := fixtureRepo(t)

	imp := doJSON(t, srv.Router(), "POST", "/api/evaluations/import", store.EvaluationRecord{
		ID:            "eval-1",
		RepositoryURL: repo,
	})
	require.Equal(t, http.StatusCreated, imp.Code)

	issues := []issue.Issue{
		{Kind: issue.KindError, Severity: 6, Problem: "build command is wrong",
			Location: &issue.Location{File: "AGENTS.md", StartLine: 1, EndLine: 1}},
	}

	rec := doJSON(t, srv.Router(), "POST", "/api/remediation/execute", map[string]any{
		"evaluationId": "eval-1",
		"issues":       issues,
		"targetAgent":  "agents-md",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[remediateResponse](t, rec)
	require.NotEmpty(t, resp.RemediationID)

	status := waitForState(t, srv.Router(), "/api/remediation/"+resp.RemediationID, "completed")
	assert.Equal(t, "eval-1", status["evaluationId"])

	patch := doJSON(t, srv.Router(), "GET", "/api/remediation/"+resp.RemediationID+"/patch", nil)
	require.Equal(t, http.StatusOK, patch.Code)
	assert.Equal(t, "text/x-patch", patch.Header().Get("Content-Type"))
	assert.Contains(t, patch.Body.String(), "remediated")

	// Stored record mirrors the result.
	stored, err := srv.store.GetRemediation(resp.RemediationID)
	require.NoError(t, err)
	assert.Equal(t, "eval-1", stored.EvaluationID)
	assert.Contains(t, stored.FullPatch, "remediated")

	// Follow-up evaluation: first call queues, repeat reports the same job.
	follow := doJSON(t, srv.Router(), "POST", "/api/remediation/"+resp.RemediationID+"/evaluate", nil)
	require.Equal(t, http.StatusAccepted, follow.Code, follow.Body.String())
	followResp := decode[map[string]any](t, follow)
	assert.Equal(t, "queued", followResp["status"])
	jobID := followResp["jobId"].(string)

	waitForState(t, srv.Router(), "/api/evaluate/"+jobID, "completed")

	again := doJSON(t, srv.Router(), "POST", "/api/remediation/"+resp.RemediationID+"/evaluate", nil)
	require.Equal(t, http.StatusOK, again.Code)
	againResp := decode[map[string]any](t, again)
	assert.Equal(t, "already_exists", againResp["status"])
	assert.Equal(t, jobID, againResp["jobId"])

	// Delete removes both the job record and the stored record.
	del := doJSON(t, srv.Router(), "DELETE", "/api/remediation/"+resp.RemediationID, nil)
	assert.Equal(t, http.StatusNoContent, del.Code)
	del = doJSON(t, srv.Router(), "DELETE", "/api/remediation/"+resp.RemediationID, nil)
	assert.Equal(t, http.StatusNotFound, del.Code)
}

func TestRemediationExecuteUnknownEvaluation(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)

	rec := doJSON(t, srv.Router(), "POST", "/api/remediation/execute", map[string]any{
		"evaluationId": "missing",
		"issues": []issue.Issue{
			{Kind: issue.KindError, Problem: "x"},
		},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv.Router(), "POST", "/api/remediation/execute", map[string]any{
		"evaluationId": "missing",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty issue selection")
}

func TestRemediationStatusUnknown(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)

	rec := doJSON(t, srv.Router(), "GET", "/api/remediation/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv.Router(), "GET", "/api/remediation/unknown/patch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)

	rec := doJSON(t, srv.Router(), "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docscope_queue_depth")
}

func TestHealthz(t *testing.T) {
	p := registerAPI(t)
	srv := newTestServer(t, p.name, nil)

	rec := doJSON(t, srv.Router(), "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
