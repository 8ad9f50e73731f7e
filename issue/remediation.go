package issue

// FileChangeStatus classifies a file entry in a parsed diff.
type FileChangeStatus string

const (
	FileModified FileChangeStatus = "modified"
	FileAdded    FileChangeStatus = "added"
	FileDeleted  FileChangeStatus = "deleted"
)

// FileChange is one file's portion of a remediation patch.
type FileChange struct {
	Path      string           `json:"path"`
	Status    FileChangeStatus `json:"status"`
	Additions int              `json:"additions"`
	Deletions int              `json:"deletions"`
	Diff      string           `json:"diff"`
}

// PhaseStat records one plan or execute phase of the remediation pipeline.
type PhaseStat struct {
	Prompt     string  `json:"prompt,omitempty"`
	DurationMs int64   `json:"durationMs"`
	CostUSD    float64 `json:"costUsd"`
	Usage      Usage   `json:"usage"`
}

// PhaseStats groups the four remediation phases.
type PhaseStats struct {
	ErrorPlan         *PhaseStat `json:"errorPlan,omitempty"`
	ErrorExecute      *PhaseStat `json:"errorExecute,omitempty"`
	SuggestionPlan    *PhaseStat `json:"suggestionPlan,omitempty"`
	SuggestionExecute *PhaseStat `json:"suggestionExecute,omitempty"`
}

// ActionStatus reports what the agent did with one issue.
type ActionStatus string

const (
	ActionFixed   ActionStatus = "fixed"
	ActionAdded   ActionStatus = "added"
	ActionSkipped ActionStatus = "skipped"
)

// ActionOutputType classifies the artifact an action produced.
type ActionOutputType string

const (
	OutputStandard ActionOutputType = "standard"
	OutputSkill    ActionOutputType = "skill"
	OutputGeneric  ActionOutputType = "generic"
)

// Action is one entry of the structured remediation summary.
type Action struct {
	IssueIndex   int              `json:"issueIndex"`
	Status       ActionStatus     `json:"status"`
	File         string           `json:"file,omitempty"`
	OutputType   ActionOutputType `json:"outputType,omitempty"`
	ShortSummary string           `json:"shortSummary,omitempty"`
}

// RemediationResult is the output of one remediation run.
type RemediationResult struct {
	FullPatch      string       `json:"fullPatch"`
	FileChanges    []FileChange `json:"fileChanges"`
	TotalAdditions int          `json:"totalAdditions"`
	TotalDeletions int          `json:"totalDeletions"`

	PhaseStats PhaseStats `json:"phaseStats"`
	Actions    []Action   `json:"actions,omitempty"`

	// ErrorFixDiff is the intermediate diff captured after the error-fix
	// execute phase, before suggestions run on top.
	ErrorFixDiff string `json:"errorFixDiff,omitempty"`

	ErrorPlan      string `json:"errorPlan,omitempty"`
	SuggestionPlan string `json:"suggestionPlan,omitempty"`

	CostUSD    float64 `json:"costUsd"`
	DurationMs int64   `json:"durationMs"`
	Usage      Usage   `json:"usage"`
}
