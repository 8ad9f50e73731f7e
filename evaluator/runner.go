package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/faults"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
)

// Notify receives progress events from the runner. May be nil.
type Notify func(t events.Type, data map[string]any)

// Target is one file handed to an evaluator.
type Target struct {
	// Path is the file's repository-relative path.
	Path string
	// Content is the file's text.
	Content string
}

// Task is one evaluator invocation: a definition applied to a single file, or
// to all files together for cross-file and unified runs.
type Task struct {
	Definition Definition

	// Files are the targets. Single-file evaluators receive exactly one;
	// cross-file and unified runs receive all of them.
	Files []Target

	// ContextBlock is the rendered project-context text.
	ContextBlock string

	// WorkDir is the clone root the agent runs in (read-only).
	WorkDir string

	// Timeout bounds each provider attempt.
	Timeout time.Duration

	Notify Notify
}

// File returns the single target path, or "" for multi-file tasks.
func (t *Task) File() string {
	if len(t.Files) == 1 && !t.Definition.CrossFile {
		return t.Files[0].Path
	}
	return ""
}

// Runner executes evaluator tasks against a provider.
type Runner struct {
	provider provider.Provider
	retry    provider.RetryConfig
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg provider.RetryConfig) RunnerOption {
	return func(r *Runner) {
		r.retry = cfg
	}
}

// NewRunner creates a runner backed by the given provider.
func NewRunner(p provider.Provider, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider: p,
		retry:    provider.DefaultRetryConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run renders the task's prompt, invokes the provider read-only with retries,
// and parses the response into normalized issues. A non-nil error means the
// evaluator failed; the caller records it and continues the job.
func (r *Runner) Run(ctx context.Context, task Task) (*issue.EvaluatorResult, error) {
	def := task.Definition
	notify := task.Notify
	if notify == nil {
		notify = func(events.Type, map[string]any) {}
	}

	prompt := renderPrompt(def, task)

	notify(events.TypeEvaluatorProgress, map[string]any{
		"evaluator": def.ID,
		"file":      task.File(),
	})

	opts := provider.Options{WorkDir: task.WorkDir, WriteMode: false, Timeout: task.Timeout}
	cb := provider.Callbacks{
		OnRetry: func(attempt, maxAttempts int, err error, remaining int) {
			notify(events.TypeEvaluatorRetry, map[string]any{
				"evaluator": def.ID,
				"file":      task.File(),
				"attempt":   attempt,
				"max":       maxAttempts,
				"error":     truncate(err.Error(), 200),
				"remaining": remaining,
			})
		},
		OnTimeout: func(attempt int) {
			notify(events.TypeEvaluatorTimeout, map[string]any{
				"evaluator": def.ID,
				"file":      task.File(),
				"attempt":   attempt,
			})
		},
	}

	start := time.Now()
	res, err := provider.InvokeWithRetry(ctx, r.provider, prompt, opts, r.retry, cb)
	if err != nil {
		return nil, fmt.Errorf("evaluator %s: %w", def.ID, err)
	}

	issues, err := r.parseIssues(def, task, res.Text)
	if err != nil {
		return nil, err
	}

	notify(events.TypeEvaluatorCompleted, map[string]any{
		"evaluator": def.ID,
		"file":      task.File(),
		"issues":    len(issues),
	})

	return &issue.EvaluatorResult{
		Evaluator:   def.ID,
		File:        task.File(),
		RawResponse: res.Text,
		Issues:      issues,
		CostUSD:     res.CostUSD,
		DurationMs:  time.Since(start).Milliseconds(),
		Usage:       res.Usage,
	}, nil
}

// parseIssues extracts and normalizes the issue list from a response.
func (r *Runner) parseIssues(def Definition, task Task, text string) ([]issue.Issue, error) {
	raw := provider.ExtractJSON(text, "issues")
	if raw == "" {
		return nil, faults.Wrap(faults.CategoryParsing, faults.CodeParseError,
			fmt.Sprintf("evaluator %s: response contains no issues JSON", def.ID), nil)
	}

	var payload struct {
		Issues []issue.Issue `json:"issues"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, faults.Wrap(faults.CategoryParsing, faults.CodeParseError,
			fmt.Sprintf("evaluator %s: parsing issues JSON", def.ID), err)
	}

	out := make([]issue.Issue, 0, len(payload.Issues))
	for _, iss := range payload.Issues {
		if !r.normalize(&iss, def, task) {
			continue
		}
		out = append(out, iss)
	}
	return out, nil
}

// normalize fills defaults and validates one issue in place. Returns false
// when the issue must be dropped.
func (r *Runner) normalize(iss *issue.Issue, def Definition, task Task) bool {
	if iss.Kind == "" {
		iss.Kind = def.Kind
	}
	iss.Evaluator = def.ID

	if iss.Kind == issue.KindError && iss.Severity == 0 {
		iss.Severity = def.DefaultSeverity
	}
	if iss.Kind == issue.KindSuggestion && iss.ImpactLevel == "" {
		iss.ImpactLevel = issue.ImpactLow
	}

	// A location is required, as an object or an array. Single-file tasks
	// can fall back to a whole-file location; multi-file tasks cannot.
	if iss.Location == nil && len(iss.Locations) == 0 {
		file := task.File()
		if file == "" {
			r.logger.Warn("Dropping issue without location",
				"evaluator", def.ID, "title", iss.Title)
			return false
		}
		iss.Location = &issue.Location{File: file, StartLine: 1, EndLine: 1}
	}

	// Fill in the file on locations the evaluator left unqualified.
	if file := task.File(); file != "" {
		if iss.Location != nil && iss.Location.File == "" {
			iss.Location.File = file
		}
	}

	return true
}

// Failure converts a runner error into the failed-evaluator record attached
// to the job's metadata.
func Failure(def Definition, file string, err error) issue.FailedEvaluator {
	return issue.FailedEvaluator{
		Evaluator: def.ID,
		File:      file,
		Category:  string(faults.CategoryOf(err)),
		Message:   truncate(err.Error(), 500),
	}
}

// renderPrompt substitutes the task's content into the definition's template.
// Multi-file tasks (cross-file and unified runs) render the single-file
// placeholders with all files enumerated.
func renderPrompt(def Definition, task Task) string {
	prompt := def.Prompt
	prompt = strings.ReplaceAll(prompt, "{{PROJECT_CONTEXT}}", task.ContextBlock)

	if len(task.Files) == 1 && !def.CrossFile {
		prompt = strings.ReplaceAll(prompt, "{{FILE_PATH}}", task.Files[0].Path)
		prompt = strings.ReplaceAll(prompt, "{{FILE_CONTENT}}", task.Files[0].Content)
		return prompt
	}

	paths := make([]string, 0, len(task.Files))
	var b strings.Builder
	for _, f := range task.Files {
		paths = append(paths, f.Path)
		b.WriteString("### " + f.Path + "\n")
		b.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	enumerated := strings.TrimRight(b.String(), "\n")

	prompt = strings.ReplaceAll(prompt, "{{FILES}}", enumerated)
	prompt = strings.ReplaceAll(prompt, "{{FILE_PATH}}", strings.Join(paths, ", "))
	prompt = strings.ReplaceAll(prompt, "{{FILE_CONTENT}}", enumerated)
	return prompt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
