package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/c360studio/docscope/evaluation"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/jobs"
	"github.com/c360studio/docscope/remediation"
	"github.com/c360studio/docscope/store"
)

type remediateRequest struct {
	EvaluationID string        `json:"evaluationId"`
	Issues       []issue.Issue `json:"issues"`
	TargetAgent  string        `json:"targetAgent,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	Merge        string        `json:"merge,omitempty"`
}

type remediateResponse struct {
	RemediationID string `json:"remediationId"`
	SSEURL        string `json:"sseUrl"`
	Status        string `json:"status"`
}

func (s *Server) handleRemediationExecute(w http.ResponseWriter, r *http.Request) {
	var req remediateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.EvaluationID == "" {
		s.badRequest(w, "evaluationId is required")
		return
	}
	if len(req.Issues) == 0 {
		s.badRequest(w, "issues is required")
		return
	}

	rec, err := s.store.GetEvaluation(req.EvaluationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.notFound(w, "evaluation")
			return
		}
		s.writeError(w, err)
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = s.cfg.Provider.Default
	}
	var pairs []issue.ColocatedPair
	if rec.Result != nil {
		pairs = rec.Result.Metadata.Context.ColocatedPairs
	}

	rreq := remediation.Request{
		RepositoryURL: rec.RepositoryURL,
		Branch:        rec.GitBranch,
		CommitSHA:     rec.GitCommitSHA,
		Provider:      providerName,
		TargetAgent:   req.TargetAgent,
		Issues:        req.Issues,
		Pairs:         pairs,
		Merge:         remediation.MergeStrategy(req.Merge),
		Timeout:       s.cfg.Provider.Timeout,
	}

	meta := remMeta{evaluationID: req.EvaluationID}
	snap, err := s.remJobs.Submit(func(ctx context.Context, job *jobs.Job) (any, error) {
		s.setRemMeta(job.ID(), meta)
		rr := rreq
		rr.Notify = job.Notify
		return s.remOrch.Run(ctx, rr)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setRemMeta(snap.ID, meta)

	writeJSON(w, http.StatusAccepted, remediateResponse{
		RemediationID: snap.ID,
		SSEURL:        "/api/remediation/" + snap.ID + "/stream",
		Status:        string(snap.State),
	})
}

func (s *Server) setRemMeta(id string, meta remMeta) {
	s.mu.Lock()
	s.remMeta[id] = meta
	s.mu.Unlock()
}

// remediationStatus is a job snapshot annotated with its evaluation id.
type remediationStatus struct {
	jobs.Snapshot
	EvaluationID string `json:"evaluationId,omitempty"`
}

func (s *Server) handleRemediationStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if snap, ok := s.remJobs.Get(id); ok {
		s.mu.Lock()
		meta := s.remMeta[id]
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, remediationStatus{Snapshot: snap, EvaluationID: meta.evaluationID})
		return
	}

	// The job manager forgets jobs across restarts; fall back to the store.
	rec, err := s.store.GetRemediation(id)
	if err != nil {
		s.notFound(w, "remediation")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemediationPatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	patch := ""
	if snap, ok := s.remJobs.Get(id); ok {
		if result, ok := snap.Result.(*issue.RemediationResult); ok && result != nil {
			patch = result.FullPatch
		}
	}
	if patch == "" {
		rec, err := s.store.GetRemediation(id)
		if err != nil {
			s.notFound(w, "remediation")
			return
		}
		patch = rec.FullPatch
	}
	if patch == "" {
		s.notFound(w, "patch")
		return
	}

	w.Header().Set("Content-Type", "text/x-patch")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(patch))
}

func (s *Server) handleRemediationDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	found := s.remJobs.Delete(id)
	if err := s.store.DeleteRemediation(id); err == nil {
		found = true
	}
	if !found {
		s.notFound(w, "remediation")
		return
	}
	s.mu.Lock()
	delete(s.remMeta, id)
	delete(s.remFollowUp, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// handleRemediationEvaluate queues a fresh evaluation of the remediated
// repository. One follow-up per remediation: repeated calls return the
// existing job, and a still-running one is a conflict.
func (s *Server) handleRemediationEvaluate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	evaluationID := ""
	if _, ok := s.remJobs.Get(id); ok {
		s.mu.Lock()
		evaluationID = s.remMeta[id].evaluationID
		s.mu.Unlock()
	} else if rec, err := s.store.GetRemediation(id); err == nil {
		evaluationID = rec.EvaluationID
	} else {
		s.notFound(w, "remediation")
		return
	}

	s.mu.Lock()
	followUp := s.remFollowUp[id]
	s.mu.Unlock()
	if followUp != "" {
		if snap, ok := s.evalJobs.Get(followUp); ok && !snap.State.Terminal() {
			writeJSON(w, http.StatusConflict, errorBody{errorInfo{
				Code:    "ALREADY_RUNNING",
				Message: "follow-up evaluation is still running",
			}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jobId":  followUp,
			"sseUrl": "/api/evaluate/" + followUp + "/stream",
			"status": "already_exists",
		})
		return
	}

	evalRec, err := s.store.GetEvaluation(evaluationID)
	if err != nil {
		s.notFound(w, "evaluation")
		return
	}

	snap, err := s.submitEvaluation(evaluation.Request{
		RepositoryURL: evalRec.RepositoryURL,
		Branch:        evalRec.GitBranch,
		CommitSHA:     evalRec.GitCommitSHA,
		Provider:      s.cfg.Provider.Default,
		Mode:          issue.Mode(s.cfg.Evaluation.Mode),
		Concurrency:   s.cfg.Evaluation.Concurrency,
		Timeout:       s.cfg.Provider.Timeout,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.mu.Lock()
	s.remFollowUp[id] = snap.ID
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  snap.ID,
		"sseUrl": "/api/evaluate/" + snap.ID + "/stream",
		"status": "queued",
	})
}

func (s *Server) handleRemediationStream(w http.ResponseWriter, r *http.Request) {
	s.streamJob(w, r, s.remJobs, chi.URLParam(r, "id"))
}

// persistRemediation is the terminal hook for remediation jobs.
func (s *Server) persistRemediation(snap jobs.Snapshot) {
	s.mu.Lock()
	meta := s.remMeta[snap.ID]
	s.mu.Unlock()

	rec := store.RemediationRecord{
		ID:           snap.ID,
		EvaluationID: meta.evaluationID,
		CreatedAt:    snap.CreatedAt,
		Status:       statusFor(snap.State),
	}
	if result, ok := snap.Result.(*issue.RemediationResult); ok && result != nil {
		rec.FullPatch = result.FullPatch
		rec.FileChanges = result.FileChanges
		rec.TotalAdditions = result.TotalAdditions
		rec.TotalDeletions = result.TotalDeletions
		rec.PhaseStats = result.PhaseStats
	}
	if snap.Error != nil {
		rec.Summary = snap.Error.Message
	}
	if err := s.store.PutRemediation(rec); err != nil {
		s.logger.Error("Persisting remediation record failed", "job_id", snap.ID, "error", err)
	}
	if s.met != nil {
		s.met.JobFinished("remediation", snap.State)
	}
}
