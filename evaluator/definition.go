// Package evaluator holds the evaluator definitions and the runner that
// turns one definition plus one target file into a parsed issue list.
package evaluator

import (
	"github.com/c360studio/docscope/issue"
)

// Definition describes one evaluator: the prompt it renders and the issue
// variant it produces.
type Definition struct {
	// ID is the stable identifier used in API requests and prompt overrides.
	ID string `json:"id"`

	// Name is the human-readable label.
	Name string `json:"name"`

	// Kind is the issue variant this evaluator emits.
	Kind issue.Kind `json:"kind"`

	// CrossFile evaluators run once per job against all files together and
	// may emit issues spanning multiple files.
	CrossFile bool `json:"crossFile,omitempty"`

	// DefaultSeverity fills in error issues the provider returned without a
	// severity. Ignored for suggestion evaluators.
	DefaultSeverity int `json:"defaultSeverity,omitempty"`

	// Prompt is the template rendered by the runner. Placeholders:
	// {{FILE_PATH}}, {{FILE_CONTENT}}, {{FILES}}, {{PROJECT_CONTEXT}}.
	Prompt string `json:"-"`
}

// Filter restricts which evaluators run for a job.
type Filter string

const (
	FilterAll             Filter = "all"
	FilterErrorsOnly      Filter = "errors-only"
	FilterSuggestionsOnly Filter = "suggestions-only"
)

// Matches reports whether the definition passes the filter.
func (f Filter) Matches(d Definition) bool {
	switch f {
	case FilterErrorsOnly:
		return d.Kind == issue.KindError
	case FilterSuggestionsOnly:
		return d.Kind == issue.KindSuggestion
	default:
		return true
	}
}

// Defaults returns the built-in evaluator set.
func Defaults() []Definition {
	return []Definition{
		{
			ID:              "accuracy",
			Name:            "Accuracy",
			Kind:            issue.KindError,
			DefaultSeverity: 7,
			Prompt:          accuracyPrompt,
		},
		{
			ID:              "outdated-content",
			Name:            "Outdated Content",
			Kind:            issue.KindError,
			DefaultSeverity: 6,
			Prompt:          outdatedPrompt,
		},
		{
			ID:              "completeness",
			Name:            "Completeness",
			Kind:            issue.KindError,
			DefaultSeverity: 5,
			Prompt:          completenessPrompt,
		},
		{
			ID:     "clarity",
			Name:   "Clarity",
			Kind:   issue.KindSuggestion,
			Prompt: clarityPrompt,
		},
		{
			ID:     "actionability",
			Name:   "Actionability",
			Kind:   issue.KindSuggestion,
			Prompt: actionabilityPrompt,
		},
		{
			ID:              "cross-file-consistency",
			Name:            "Cross-File Consistency",
			Kind:            issue.KindError,
			CrossFile:       true,
			DefaultSeverity: 6,
			Prompt:          crossFilePrompt,
		},
	}
}
