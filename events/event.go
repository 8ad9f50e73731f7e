// Package events provides the typed per-job progress event bus. Every layer
// of the pipeline publishes here; SSE subscribers are the only observers of
// job progress.
package events

import "time"

// Type identifies an event on the wire. The value is used verbatim as the
// SSE event name.
type Type string

const (
	TypeJobStarted   Type = "job.started"
	TypeJobCompleted Type = "job.completed"
	TypeJobFailed    Type = "job.failed"

	TypeCloneStarted   Type = "clone.started"
	TypeCloneCompleted Type = "clone.completed"
	TypeCloneWarning   Type = "clone.warning"

	TypeDiscoveryStarted   Type = "discovery.started"
	TypeDiscoveryCompleted Type = "discovery.completed"

	TypeContextCloc     Type = "context.cloc"
	TypeContextFolders  Type = "context.folders"
	TypeContextAnalysis Type = "context.analysis"
	TypeContextWarning  Type = "context.warning"

	TypeFileStarted   Type = "file.started"
	TypeFileCompleted Type = "file.completed"

	TypeEvaluatorProgress  Type = "evaluator.progress"
	TypeEvaluatorCompleted Type = "evaluator.completed"
	TypeEvaluatorRetry     Type = "evaluator.retry"
	TypeEvaluatorTimeout   Type = "evaluator.timeout"

	TypeCurationStarted   Type = "curation.started"
	TypeCurationCompleted Type = "curation.completed"

	TypeRemediationStepStarted   Type = "remediation.step.started"
	TypeRemediationStepCompleted Type = "remediation.step.completed"
	TypeRemediationProgress      Type = "remediation.progress"
)

// Terminal reports whether the type ends a job's event stream.
func (t Type) Terminal() bool {
	return t == TypeJobCompleted || t == TypeJobFailed
}

// Event is one progress notification for a job.
type Event struct {
	JobID     string         `json:"jobId"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event stamped with the current time.
func New(jobID string, t Type, data map[string]any) Event {
	return Event{
		JobID:     jobID,
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
