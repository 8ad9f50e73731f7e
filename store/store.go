// Package store defines the persistence contracts for evaluation and
// remediation records, plus an in-memory implementation. The record shapes
// are the wire contract with external storage collaborators; patch text is
// stored verbatim.
package store

import (
	"errors"
	"time"

	"github.com/c360studio/docscope/issue"
)

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("record not found")

// Status is a stored job status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// EvaluationRecord is the canonical stored form of one evaluation.
type EvaluationRecord struct {
	ID            string                  `json:"id"`
	RepositoryURL string                  `json:"repositoryUrl"`
	GitBranch     string                  `json:"gitBranch,omitempty"`
	GitCommitSHA  string                  `json:"gitCommitSha,omitempty"`
	CreatedAt     time.Time               `json:"createdAt"`
	Status        Status                  `json:"status"`
	Result        *issue.EvaluationResult `json:"result,omitempty"`
	CostUSD       float64                 `json:"costUsd"`
	DurationMs    int64                   `json:"durationMs"`
}

// RemediationRecord is the canonical stored form of one remediation.
type RemediationRecord struct {
	ID             string             `json:"id"`
	EvaluationID   string             `json:"evaluationId"`
	CreatedAt      time.Time          `json:"createdAt"`
	Status         Status             `json:"status"`
	FullPatch      string             `json:"fullPatch,omitempty"`
	FileChanges    []issue.FileChange `json:"fileChanges,omitempty"`
	TotalAdditions int                `json:"totalAdditions"`
	TotalDeletions int                `json:"totalDeletions"`
	Summary        string             `json:"summary,omitempty"`
	PhaseStats     issue.PhaseStats   `json:"phaseStats"`
}

// EvaluationStore persists evaluation records.
type EvaluationStore interface {
	PutEvaluation(rec EvaluationRecord) error
	GetEvaluation(id string) (EvaluationRecord, error)
	DeleteEvaluation(id string) error
	ListEvaluations() ([]EvaluationRecord, error)
}

// RemediationStore persists remediation records.
type RemediationStore interface {
	PutRemediation(rec RemediationRecord) error
	GetRemediation(id string) (RemediationRecord, error)
	DeleteRemediation(id string) error
	ListRemediations() ([]RemediationRecord, error)
}

// Store combines both record stores with the boot-time sweep.
type Store interface {
	EvaluationStore
	RemediationStore

	// SweepAbandoned marks every non-terminal record as abandoned and
	// returns how many were changed. Called once at startup; jobs that
	// were running when the process died are never resurrected.
	SweepAbandoned() (int, error)
}
