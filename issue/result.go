package issue

import "time"

// Mode selects how evaluators are applied to discovered files.
type Mode string

const (
	// ModeUnified runs each evaluator once across all target files.
	ModeUnified Mode = "unified"
	// ModeIndependent runs each evaluator once per file.
	ModeIndependent Mode = "independent"
)

// Usage holds token counts for one or more provider invocations.
type Usage struct {
	Input       int `json:"input"`
	Output      int `json:"output"`
	CacheCreate int `json:"cacheCreate"`
	CacheRead   int `json:"cacheRead"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheCreate += other.CacheCreate
	u.CacheRead += other.CacheRead
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.Input + u.Output + u.CacheCreate + u.CacheRead
}

// EvaluatorResult wraps one evaluator run: the raw provider response and the
// issues parsed out of it.
type EvaluatorResult struct {
	Evaluator   string  `json:"evaluator"`
	File        string  `json:"file,omitempty"`
	RawResponse string  `json:"rawResponse,omitempty"`
	Issues      []Issue `json:"issues"`
	CostUSD     float64 `json:"costUsd"`
	DurationMs  int64   `json:"durationMs"`
	Usage       Usage   `json:"usage"`
}

// FileResult groups per-evaluator results for one file in independent mode.
type FileResult struct {
	Evaluations     []EvaluatorResult `json:"evaluations"`
	ErrorCount      int               `json:"errorCount"`
	SuggestionCount int               `json:"suggestionCount"`
}

// FailedEvaluator records an evaluator task that did not produce issues.
type FailedEvaluator struct {
	Evaluator string `json:"evaluator"`
	File      string `json:"file,omitempty"`
	Category  string `json:"category"`
	Message   string `json:"message"`
}

// LineCountSummary captures the output of the line-count tool.
type LineCountSummary struct {
	TotalFiles int            `json:"totalFiles"`
	TotalCode  int            `json:"totalCode"`
	ByLanguage map[string]int `json:"byLanguage,omitempty"`
	Raw        string         `json:"raw,omitempty"`
}

// ProjectContext is the AI-assisted summary of the repository.
type ProjectContext struct {
	Languages      string          `json:"languages"`
	Frameworks     string          `json:"frameworks"`
	Architecture   string          `json:"architecture"`
	Patterns       string          `json:"patterns"`
	KeyFolders     []FolderInfo    `json:"keyFolders,omitempty"`
	KnownDocPaths  []string        `json:"knownDocPaths,omitempty"`
	ColocatedPairs []ColocatedPair `json:"colocatedPairs,omitempty"`

	LineCount          *LineCountSummary `json:"lineCount,omitempty"`
	LineCountAvailable bool              `json:"lineCountAvailable"`

	RawResponse string `json:"rawResponse,omitempty"`
}

// FolderInfo describes one notable folder in the repository.
type FolderInfo struct {
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// CurationSummary describes one curation pass.
type CurationSummary struct {
	TotalReviewed int    `json:"totalReviewed"`
	Rationale     string `json:"rationale,omitempty"`
}

// CuratedSet holds curation output for one issue type.
type CuratedSet struct {
	Issues     []Issue         `json:"issues"`
	Summary    CurationSummary `json:"summary"`
	CostUSD    float64         `json:"costUsd"`
	DurationMs int64           `json:"durationMs"`
}

// CurationOutput holds the optional per-type curation blocks.
type CurationOutput struct {
	Errors      *CuratedSet `json:"errors,omitempty"`
	Suggestions *CuratedSet `json:"suggestions,omitempty"`
}

// Metadata describes one evaluation run.
type Metadata struct {
	GeneratedAt      time.Time         `json:"generatedAt"`
	Provider         string            `json:"provider"`
	Mode             Mode              `json:"mode"`
	TotalFiles       int               `json:"totalFiles"`
	Context          ProjectContext    `json:"context"`
	CostUSD          float64           `json:"costUsd"`
	DurationMs       int64             `json:"durationMs"`
	Usage            Usage             `json:"usage"`
	FailedEvaluators []FailedEvaluator `json:"failedEvaluators,omitempty"`
	Curation         *CurationOutput   `json:"curation,omitempty"`
}

// EvaluationResult is the top-level output of one evaluation job. Exactly one
// of Results (unified mode) or Files (independent mode) is populated.
type EvaluationResult struct {
	Metadata Metadata `json:"metadata"`

	// Results holds per-evaluator results in unified mode.
	Results []EvaluatorResult `json:"results,omitempty"`

	// Files maps file path to its evaluations in independent mode.
	Files map[string]*FileResult `json:"files,omitempty"`

	// CrossFileIssues holds issues spanning multiple files in either mode.
	CrossFileIssues []Issue `json:"crossFileIssues,omitempty"`
}

// CountIssues returns the total number of issues across all buckets.
func (r *EvaluationResult) CountIssues() int {
	n := len(r.CrossFileIssues)
	for _, er := range r.Results {
		n += len(er.Issues)
	}
	for _, fr := range r.Files {
		for _, er := range fr.Evaluations {
			n += len(er.Issues)
		}
	}
	return n
}

// AllIssues flattens every issue bucket into a single slice.
func (r *EvaluationResult) AllIssues() []Issue {
	out := make([]Issue, 0, r.CountIssues())
	for _, er := range r.Results {
		out = append(out, er.Issues...)
	}
	for _, fr := range r.Files {
		for _, er := range fr.Evaluations {
			out = append(out, er.Issues...)
		}
	}
	out = append(out, r.CrossFileIssues...)
	return out
}
