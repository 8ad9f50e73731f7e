// Package issue defines the shared data model for evaluation findings:
// issues, evaluation results, curation output, and remediation records.
package issue

import "strings"

// Kind distinguishes the two issue variants.
type Kind string

const (
	// KindError marks a defect with an integer severity.
	KindError Kind = "error"
	// KindSuggestion marks an improvement with a coarse impact level.
	KindSuggestion Kind = "suggestion"
)

// ImpactLevel grades a suggestion's expected impact.
type ImpactLevel string

const (
	ImpactHigh   ImpactLevel = "High"
	ImpactMedium ImpactLevel = "Medium"
	ImpactLow    ImpactLevel = "Low"
)

// Bucket is the 3-level severity grouping used for display and sorting.
type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

// Location identifies a line range within a file. File may be empty when the
// issue targets the file the evaluator was run against.
type Location struct {
	File      string `json:"file,omitempty"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Issue is a single finding emitted by an evaluator. The Kind field selects
// the variant: errors carry Severity, suggestions carry Impact.
type Issue struct {
	Kind        Kind   `json:"kind"`
	Category    string `json:"category,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Problem     string `json:"problem,omitempty"`

	// Location is set for single-location issues, Locations for cross-file
	// issues. Exactly one of the two is populated.
	Location  *Location  `json:"location,omitempty"`
	Locations []Location `json:"locations,omitempty"`

	Snippet        string `json:"snippet,omitempty"`
	Fix            string `json:"fix,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	Impact         string `json:"impact,omitempty"`

	// Evaluator is attached by the aggregator, never by the evaluator itself.
	Evaluator string `json:"evaluator,omitempty"`

	// AffectedFiles is populated for cross-file issues only.
	AffectedFiles []string `json:"affectedFiles,omitempty"`

	// IsPhantomFile marks issues whose target file does not exist yet.
	IsPhantomFile bool `json:"isPhantomFile,omitempty"`

	// Severity is meaningful for KindError only (1..10).
	Severity int `json:"severity,omitempty"`
	// ImpactLevel is meaningful for KindSuggestion only.
	ImpactLevel ImpactLevel `json:"impactLevel,omitempty"`
}

// impactSeverity maps suggestion impact levels onto the error severity scale.
var impactSeverity = map[ImpactLevel]int{
	ImpactHigh:   9,
	ImpactMedium: 6,
	ImpactLow:    3,
}

// EffectiveSeverity returns the issue's severity on the 1..10 scale,
// translating suggestion impact levels through the canonical mapping.
func (i *Issue) EffectiveSeverity() int {
	if i.Kind == KindSuggestion {
		if s, ok := impactSeverity[i.ImpactLevel]; ok {
			return s
		}
		return impactSeverity[ImpactLow]
	}
	return i.Severity
}

// SeverityBucket groups the effective severity into three levels:
// >=8 high, 6-7 medium, <=5 low. This is the only place the integer
// thresholds live.
func (i *Issue) SeverityBucket() Bucket {
	s := i.EffectiveSeverity()
	switch {
	case s >= 8:
		return BucketHigh
	case s >= 6:
		return BucketMedium
	default:
		return BucketLow
	}
}

// PrimaryText returns the first non-empty of problem, description, title,
// category. Deduplication similarity is computed over this text.
func (i *Issue) PrimaryText() string {
	for _, s := range []string{i.Problem, i.Description, i.Title, i.Category} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// AllLocations returns the issue's locations as a slice regardless of which
// representation the issue uses.
func (i *Issue) AllLocations() []Location {
	if i.Location != nil {
		return []Location{*i.Location}
	}
	return i.Locations
}

// IsCrossFile reports whether the issue spans multiple files.
func (i *Issue) IsCrossFile() bool {
	return len(i.AffectedFiles) > 0
}

// ColocatedPair records a directory holding both a canonical documentation
// file (AGENTS.md-class) and an alias (CLAUDE.md-class).
type ColocatedPair struct {
	Directory     string `json:"directory"`
	CanonicalPath string `json:"canonicalPath"`
	AliasPath     string `json:"aliasPath"`
	// AlreadyConsolidated is set when the alias is a reference pointer to
	// the canonical file.
	AlreadyConsolidated bool `json:"alreadyConsolidated,omitempty"`
}

// Progress is the snapshot of evaluation progress attached to a job.
type Progress struct {
	CurrentFile         string `json:"currentFile,omitempty"`
	CurrentEvaluator    string `json:"currentEvaluator,omitempty"`
	CompletedFiles      int    `json:"completedFiles"`
	TotalFiles          int    `json:"totalFiles"`
	CompletedEvaluators int    `json:"completedEvaluators"`
	TotalEvaluators     int    `json:"totalEvaluators"`
	Percentage          int    `json:"percentage"`
}
