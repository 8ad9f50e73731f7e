package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/c360studio/docscope/evaluation"
	"github.com/c360studio/docscope/evaluator"
	"github.com/c360studio/docscope/faults"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/jobs"
	"github.com/c360studio/docscope/store"
)

// evaluateOptions is the per-request tuning block.
type evaluateOptions struct {
	Provider           string   `json:"provider,omitempty"`
	Mode               string   `json:"mode,omitempty"`
	EvaluatorFilter    string   `json:"evaluatorFilter,omitempty"`
	Evaluators         []string `json:"evaluators,omitempty"`
	SelectedEvaluators []string `json:"selectedEvaluators,omitempty"`
	Concurrency        int      `json:"concurrency,omitempty"`
	// Timeout is the per-invocation limit in milliseconds.
	Timeout int64 `json:"timeout,omitempty"`
}

type evaluateRequest struct {
	RepositoryURL string          `json:"repositoryUrl"`
	Branch        string          `json:"branch,omitempty"`
	CommitSHA     string          `json:"commitSha,omitempty"`
	Options       evaluateOptions `json:"options"`
}

type evaluateResponse struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	SSEURL    string    `json:"sseUrl"`
}

// buildEvaluationRequest validates and translates the HTTP body into an
// orchestrator request, filling defaults from configuration.
func (s *Server) buildEvaluationRequest(req evaluateRequest) (evaluation.Request, error) {
	if req.RepositoryURL == "" {
		return evaluation.Request{}, faults.New(faults.CategoryInvalid, faults.CodeInvalidRequest,
			"repositoryUrl is required")
	}
	opt := req.Options
	if opt.Concurrency < 0 || opt.Concurrency > 32 {
		return evaluation.Request{}, faults.New(faults.CategoryInvalid, faults.CodeInvalidRequest,
			"concurrency must be in [1..32]")
	}

	providerName := opt.Provider
	if providerName == "" {
		providerName = s.cfg.Provider.Default
	}
	mode := issue.Mode(opt.Mode)
	if mode == "" {
		mode = issue.Mode(s.cfg.Evaluation.Mode)
	}
	filter := evaluator.Filter(opt.EvaluatorFilter)
	switch filter {
	case "", evaluator.FilterAll, evaluator.FilterErrorsOnly, evaluator.FilterSuggestionsOnly:
	default:
		return evaluation.Request{}, faults.New(faults.CategoryInvalid, faults.CodeInvalidRequest,
			"unknown evaluatorFilter: "+opt.EvaluatorFilter)
	}

	selected := append([]string{}, opt.Evaluators...)
	selected = append(selected, opt.SelectedEvaluators...)

	concurrency := opt.Concurrency
	if concurrency == 0 {
		concurrency = s.cfg.Evaluation.Concurrency
	}
	timeout := time.Duration(opt.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = s.cfg.Provider.Timeout
	}

	return evaluation.Request{
		RepositoryURL:      req.RepositoryURL,
		Branch:             req.Branch,
		CommitSHA:          req.CommitSHA,
		Provider:           providerName,
		Mode:               mode,
		Filter:             filter,
		SelectedEvaluators: selected,
		Concurrency:        concurrency,
		Timeout:            timeout,
	}, nil
}

// submitEvaluation queues an evaluation job and records its metadata for the
// persistence hook.
func (s *Server) submitEvaluation(ereq evaluation.Request) (jobs.Snapshot, error) {
	meta := evalMeta{url: ereq.RepositoryURL, branch: ereq.Branch, sha: ereq.CommitSHA}

	snap, err := s.evalJobs.Submit(func(ctx context.Context, job *jobs.Job) (any, error) {
		s.setEvalMeta(job.ID(), meta)
		r := ereq
		r.Notify = job.Notify
		r.Progress = job.SetProgress
		return s.evalOrch.Run(ctx, r)
	})
	if err != nil {
		return jobs.Snapshot{}, err
	}
	s.setEvalMeta(snap.ID, meta)
	return snap, nil
}

func (s *Server) setEvalMeta(id string, meta evalMeta) {
	s.mu.Lock()
	s.evalMeta[id] = meta
	s.mu.Unlock()
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}

	ereq, err := s.buildEvaluationRequest(req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := s.submitEvaluation(ereq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, evaluateResponse{
		JobID:     snap.ID,
		Status:    string(snap.State),
		CreatedAt: snap.CreatedAt,
		SSEURL:    "/api/evaluate/" + snap.ID + "/stream",
	})
}

type batchRequest struct {
	URLs    []string        `json:"urls"`
	Options evaluateOptions `json:"options"`
}

type batchJob struct {
	URL    string `json:"url"`
	JobID  string `json:"jobId,omitempty"`
	Status string `json:"status"`
}

type batchResponse struct {
	BatchID   string     `json:"batchId"`
	TotalURLs int        `json:"totalUrls"`
	Jobs      []batchJob `json:"jobs"`
	CreatedAt time.Time  `json:"createdAt"`
}

// handleEvaluateBatch admits what fits: each URL is queued independently and
// rejections are reported per URL instead of failing the whole batch.
func (s *Server) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if len(req.URLs) == 0 {
		s.badRequest(w, "urls is required")
		return
	}

	resp := batchResponse{
		BatchID:   uuid.NewString(),
		TotalURLs: len(req.URLs),
		CreatedAt: time.Now().UTC(),
	}
	admitted := 0
	for _, url := range req.URLs {
		ereq, err := s.buildEvaluationRequest(evaluateRequest{RepositoryURL: url, Options: req.Options})
		if err != nil {
			resp.Jobs = append(resp.Jobs, batchJob{URL: url, Status: "rejected:" + faults.CodeOf(err)})
			continue
		}
		snap, err := s.submitEvaluation(ereq)
		if err != nil {
			resp.Jobs = append(resp.Jobs, batchJob{URL: url, Status: "rejected:" + faults.CodeOf(err)})
			continue
		}
		admitted++
		resp.Jobs = append(resp.Jobs, batchJob{URL: url, JobID: snap.ID, Status: string(snap.State)})
	}

	status := http.StatusAccepted
	if admitted == 0 {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleEvaluateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.evalJobs.Get(id)
	if !ok {
		s.notFound(w, "job")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEvaluateDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.evalJobs.Delete(id) {
		s.notFound(w, "job")
		return
	}
	s.mu.Lock()
	delete(s.evalMeta, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluateStream(w http.ResponseWriter, r *http.Request) {
	s.streamJob(w, r, s.evalJobs, chi.URLParam(r, "id"))
}

func (s *Server) handleEvaluationRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetEvaluation(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.notFound(w, "evaluation")
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleEvaluationImport(w http.ResponseWriter, r *http.Request) {
	var rec store.EvaluationRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if rec.ID == "" || rec.RepositoryURL == "" {
		s.badRequest(w, "id and repositoryUrl are required")
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = store.StatusCompleted
	}
	if err := s.store.PutEvaluation(rec); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"evaluationId":  rec.ID,
		"repositoryUrl": rec.RepositoryURL,
		"status":        rec.Status,
	})
}

// persistEvaluation is the terminal hook for evaluation jobs.
func (s *Server) persistEvaluation(snap jobs.Snapshot) {
	s.mu.Lock()
	meta := s.evalMeta[snap.ID]
	s.mu.Unlock()

	rec := store.EvaluationRecord{
		ID:            snap.ID,
		RepositoryURL: meta.url,
		GitBranch:     meta.branch,
		GitCommitSHA:  meta.sha,
		CreatedAt:     snap.CreatedAt,
		Status:        statusFor(snap.State),
	}
	if result, ok := snap.Result.(*issue.EvaluationResult); ok && result != nil {
		rec.Result = result
		rec.CostUSD = result.Metadata.CostUSD
		rec.DurationMs = result.Metadata.DurationMs
	}
	if err := s.store.PutEvaluation(rec); err != nil {
		s.logger.Error("Persisting evaluation record failed", "job_id", snap.ID, "error", err)
	}
	if s.met != nil {
		s.met.JobFinished("evaluation", snap.State)
	}
}

func statusFor(state jobs.State) store.Status {
	switch state {
	case jobs.StateCompleted:
		return store.StatusCompleted
	case jobs.StateCancelled:
		return store.StatusCancelled
	case jobs.StateFailed:
		return store.StatusFailed
	default:
		return store.StatusRunning
	}
}
