// Package remediation drives the 4-phase plan/execute pipeline that turns
// selected evaluation issues into a unified-diff patch: plan and fix errors,
// then plan and apply suggestion enrichments on top, capture the diff, and
// leave the working tree exactly as found.
package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/faults"
	"github.com/c360studio/docscope/gitws"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
)

// DefaultBatchSize bounds how many issues one execute invocation receives.
const DefaultBatchSize = 50

// Pipeline step names carried in remediation.step.* events.
const (
	stepCloning          = "cloning"
	stepCheckingGit      = "checking_git"
	stepConsolidating    = "consolidating_files"
	stepPlanningErrors   = "planning_error_fix"
	stepExecutingErrors  = "executing_error_fix"
	stepCapturingErrDiff = "capturing_error_diff"
	stepPlanningEnrich   = "planning_suggestion_enrich"
	stepExecutingEnrich  = "executing_suggestion_enrich"
	stepCapturingDiff    = "capturing_diff"
	stepResetting        = "resetting"
)

// Notify receives the job's progress events. May be nil.
type Notify func(t events.Type, data map[string]any)

// Orchestrator runs remediation jobs.
type Orchestrator struct {
	workspaces *gitws.Manager
	batchSize  int
	retry      provider.RetryConfig
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithBatchSize overrides the execute-phase batch size.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithRetryConfig overrides the plan-phase retry policy.
func WithRetryConfig(cfg provider.RetryConfig) Option {
	return func(o *Orchestrator) {
		o.retry = cfg
	}
}

// New creates an orchestrator.
func New(workspaces *gitws.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workspaces: workspaces,
		batchSize:  DefaultBatchSize,
		retry:      provider.DefaultRetryConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request describes one remediation job.
type Request struct {
	// RepositoryURL is cloned fresh when set; otherwise LocalPath is used and
	// must have a clean working tree.
	RepositoryURL string
	Branch        string
	CommitSHA     string
	LocalPath     string

	// Provider is the registered provider name.
	Provider string

	// TargetAgent labels the instruction-file class in prompts
	// (agents-md, claude-code, github-copilot, cursor).
	TargetAgent string

	// Issues is the selected mix of errors and suggestions.
	Issues []issue.Issue

	// Pairs are the evaluation's colocated pairs, consolidated before fixing.
	Pairs []issue.ColocatedPair

	// Merge selects the consolidation strategy. Empty means naive.
	Merge MergeStrategy

	// Timeout bounds each provider invocation.
	Timeout time.Duration

	Notify Notify
}

// phaseProgress tracks the running totals carried by remediation.progress.
type phaseProgress struct {
	notify          Notify
	start           time.Time
	completedPhases int
	totalPhases     int
	costUSD         float64
	usage           issue.Usage
}

func (p *phaseProgress) record(res *provider.Result) {
	p.costUSD += res.CostUSD
	p.usage.Add(res.Usage)
	p.notify(events.TypeRemediationProgress, map[string]any{
		"durationMs":      time.Since(p.start).Milliseconds(),
		"costUsd":         p.costUSD,
		"tokens":          p.usage.Total(),
		"completedPhases": p.completedPhases,
		"totalPhases":     p.totalPhases,
	})
}

// Run executes the pipeline. Whatever happens after consolidation, the
// working tree is reset and owned clones are released.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*issue.RemediationResult, error) {
	notify := req.Notify
	if notify == nil {
		notify = func(events.Type, map[string]any) {}
	}

	prov, err := provider.Get(req.Provider)
	if err != nil {
		return nil, faults.Wrap(faults.CategoryProvider, faults.CodeProviderError, "resolving provider", err)
	}

	start := time.Now()
	result := &issue.RemediationResult{}

	// Step: resolve workspace.
	root, owned, err := o.resolveWorkspace(ctx, req, notify)
	if err != nil {
		return nil, err
	}

	// The tree is restored and owned clones deleted on every path out,
	// including cancellation: reset runs on a detached context so a killed
	// job still cleans up.
	dirty := false
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if dirty {
			o.withStep(notify, stepResetting, func() error {
				return gitws.Reset(cleanupCtx, root)
			})
		}
		if owned != nil {
			if err := owned.Release(); err != nil {
				o.logger.Warn("Workspace release failed", "path", root, "error", err)
			}
		}
	}()

	// Step: consolidate colocated pairs. Runs on a private copy of the
	// selection so re-pointed locations never leak back to the caller.
	issues := cloneIssues(req.Issues)

	err = o.withStep(notify, stepConsolidating, func() error {
		dirty = true
		_, cerr := o.consolidatePairs(ctx, root, req.Pairs, issues, req.Merge, prov, result)
		return cerr
	})
	if err != nil {
		return nil, faults.Wrap(faults.CategoryFileSystem, faults.CodeFSError, "consolidating colocated files", err)
	}

	errs, suggestions := partition(issues)

	progress := &phaseProgress{
		notify:      notify,
		start:       start,
		totalPhases: countPhases(errs, suggestions),
	}

	opts := provider.Options{WorkDir: root, Timeout: req.Timeout}

	// Phases 1-2: plan and execute error fixes.
	var errorActions []issue.Action
	if len(errs) > 0 {
		plan, err := o.runPlan(ctx, prov, opts, stepPlanningErrors,
			buildErrorPlanPrompt(errs, req.TargetAgent), notify, progress, &result.PhaseStats.ErrorPlan)
		if err != nil {
			return nil, err
		}
		result.ErrorPlan = plan

		errorActions, err = o.runExecute(ctx, prov, opts, stepExecutingErrors, errs,
			func(batch []issue.Issue) string {
				return buildErrorExecutePrompt(plan, batch, req.TargetAgent)
			}, notify, progress, &result.PhaseStats.ErrorExecute)
		if err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, errorActions...)

		// Intermediate diff before suggestions build on top. No reset here.
		err = o.withStep(notify, stepCapturingErrDiff, func() error {
			diff, derr := gitws.CaptureDiff(ctx, root)
			result.ErrorFixDiff = diff
			return derr
		})
		if err != nil {
			return nil, faults.Wrap(faults.CategoryRepository, faults.CodeRepoError, "capturing error-fix diff", err)
		}
	}

	// Phases 3-4: plan and execute suggestion enrichments.
	if len(suggestions) > 0 {
		plan, err := o.runPlan(ctx, prov, opts, stepPlanningEnrich,
			buildSuggestionPlanPrompt(suggestions, errorActions, req.TargetAgent), notify, progress, &result.PhaseStats.SuggestionPlan)
		if err != nil {
			return nil, err
		}
		result.SuggestionPlan = plan

		actions, err := o.runExecute(ctx, prov, opts, stepExecutingEnrich, suggestions,
			func(batch []issue.Issue) string {
				return buildSuggestionExecutePrompt(plan, batch, req.TargetAgent)
			}, notify, progress, &result.PhaseStats.SuggestionExecute)
		if err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, actions...)
	}

	// Step: capture the final diff.
	err = o.withStep(notify, stepCapturingDiff, func() error {
		patch, derr := gitws.CaptureDiff(ctx, root)
		if derr != nil {
			return derr
		}
		result.FullPatch = patch
		result.FileChanges = gitws.ParseUnifiedDiff(patch)
		for _, fc := range result.FileChanges {
			result.TotalAdditions += fc.Additions
			result.TotalDeletions += fc.Deletions
		}
		return nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.CategoryRepository, faults.CodeRepoError, "capturing final diff", err)
	}

	result.CostUSD += progress.costUSD
	result.Usage.Add(progress.usage)
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// resolveWorkspace clones fresh or adopts a clean local tree. The returned
// workspace is non-nil only for owned clones.
func (o *Orchestrator) resolveWorkspace(ctx context.Context, req Request, notify Notify) (string, *gitws.Workspace, error) {
	if req.RepositoryURL != "" {
		var ws *gitws.Workspace
		err := o.withStep(notify, stepCloning, func() error {
			var cerr error
			ws, cerr = o.workspaces.Clone(ctx, req.RepositoryURL, gitws.CloneOptions{
				Branch:    req.Branch,
				CommitSHA: req.CommitSHA,
			})
			return cerr
		})
		if err != nil {
			return "", nil, faults.Wrap(faults.CategoryRepository, faults.CodeRepoError, "cloning repository", err)
		}
		return ws.Path, ws, nil
	}

	if req.LocalPath == "" {
		return "", nil, faults.New(faults.CategoryInvalid, faults.CodeInvalidRequest,
			"either repositoryUrl or localPath is required")
	}

	err := o.withStep(notify, stepCheckingGit, func() error {
		clean, status, cerr := gitws.CheckClean(ctx, req.LocalPath)
		if cerr != nil {
			return cerr
		}
		if !clean {
			return fmt.Errorf("working tree has uncommitted changes:\n%s", status)
		}
		return nil
	})
	if err != nil {
		return "", nil, faults.Wrap(faults.CategoryRepository, faults.CodeRepoError, "checking working tree", err)
	}
	return req.LocalPath, nil, nil
}

// runPlan executes one read-only planning phase with retries.
func (o *Orchestrator) runPlan(ctx context.Context, prov provider.Provider, opts provider.Options, step, prompt string, notify Notify, progress *phaseProgress, stat **issue.PhaseStat) (string, error) {
	var plan string
	err := o.withStep(notify, step, func() error {
		phaseStart := time.Now()
		opts := opts
		opts.WriteMode = false

		res, err := provider.InvokeWithRetry(ctx, prov, prompt, opts, o.retry, provider.Callbacks{})
		if err != nil {
			return err
		}

		plan = res.Text
		progress.completedPhases++
		progress.record(res)
		*stat = &issue.PhaseStat{
			Prompt:     prompt,
			DurationMs: time.Since(phaseStart).Milliseconds(),
			CostUSD:    res.CostUSD,
			Usage:      res.Usage,
		}
		return nil
	})
	if err != nil {
		return "", phaseFault(ctx, step, err)
	}
	return plan, nil
}

// runExecute executes one write-mode phase, batched. Batches run serially and
// share the phase's running totals; action indices are re-mapped to global
// positions in the phase's issue list.
func (o *Orchestrator) runExecute(ctx context.Context, prov provider.Provider, opts provider.Options, step string, issues []issue.Issue, prompt func(batch []issue.Issue) string, notify Notify, progress *phaseProgress, stat **issue.PhaseStat) ([]issue.Action, error) {
	var actions []issue.Action

	err := o.withStep(notify, step, func() error {
		phaseStart := time.Now()
		phaseStat := &issue.PhaseStat{}

		for batchIndex := 0; batchIndex*o.batchSize < len(issues); batchIndex++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			lo := batchIndex * o.batchSize
			hi := lo + o.batchSize
			if hi > len(issues) {
				hi = len(issues)
			}
			batch := issues[lo:hi]

			execOpts := opts
			execOpts.WriteMode = true
			text := prompt(batch)
			if phaseStat.Prompt == "" {
				phaseStat.Prompt = text
			}

			res, err := prov.Invoke(ctx, text, execOpts)
			if err != nil {
				return err
			}

			progress.record(res)
			phaseStat.CostUSD += res.CostUSD
			phaseStat.Usage.Add(res.Usage)

			batchActions := parseActions(res.Text, batchIndex*o.batchSize)
			if batchActions == nil {
				o.logger.Warn("Execute response carried no action summary",
					"step", step, "batch", batchIndex)
			}
			actions = append(actions, batchActions...)
		}

		progress.completedPhases++
		phaseStat.DurationMs = time.Since(phaseStart).Milliseconds()
		*stat = phaseStat
		return nil
	})
	if err != nil {
		return nil, phaseFault(ctx, step, err)
	}
	return actions, nil
}

// withStep brackets fn with step started/completed events.
func (o *Orchestrator) withStep(notify Notify, step string, fn func() error) error {
	notify(events.TypeRemediationStepStarted, map[string]any{"step": step})
	err := fn()
	notify(events.TypeRemediationStepCompleted, map[string]any{"step": step, "ok": err == nil})
	return err
}

// phaseFault categorizes a phase failure for the job record.
func phaseFault(ctx context.Context, step string, err error) error {
	if ctx.Err() == context.Canceled {
		return faults.Wrap(faults.CategoryCancelled, faults.CodeCancelled, "job cancelled", err)
	}
	category := faults.CategoryOf(err)
	code := faults.CodeProviderError
	switch category {
	case faults.CategoryTimeout:
		code = faults.CodeTimeout
	case faults.CategoryParsing:
		code = faults.CodeParseError
	case faults.CategoryRepository:
		code = faults.CodeRepoError
	case faults.CategoryFileSystem:
		code = faults.CodeFSError
	case faults.CategoryInternal:
		code = faults.CodeInternal
	}
	return faults.Wrap(category, code, fmt.Sprintf("remediation %s failed", step), err)
}

// partition splits the selection into errors sorted by severity descending
// and suggestions sorted High to Low. Sorts are stable so equal entries keep
// their selection order.
func partition(issues []issue.Issue) (errs, suggestions []issue.Issue) {
	for _, iss := range issues {
		if iss.Kind == issue.KindSuggestion {
			suggestions = append(suggestions, iss)
		} else {
			errs = append(errs, iss)
		}
	}

	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Severity > errs[j].Severity
	})
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].EffectiveSeverity() > suggestions[j].EffectiveSeverity()
	})
	return errs, suggestions
}

// cloneIssues deep-copies the location data so consolidation can re-point
// files without mutating the caller's slice.
func cloneIssues(in []issue.Issue) []issue.Issue {
	out := make([]issue.Issue, len(in))
	for i, iss := range in {
		if iss.Location != nil {
			loc := *iss.Location
			iss.Location = &loc
		}
		iss.Locations = append([]issue.Location(nil), iss.Locations...)
		iss.AffectedFiles = append([]string(nil), iss.AffectedFiles...)
		out[i] = iss
	}
	return out
}

// countPhases is the total used in remediation.progress payloads.
func countPhases(errs, suggestions []issue.Issue) int {
	n := 0
	if len(errs) > 0 {
		n += 2
	}
	if len(suggestions) > 0 {
		n += 2
	}
	return n
}
