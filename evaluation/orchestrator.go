// Package evaluation sequences one evaluation job: clone, discovery, context
// analysis, parallel evaluator fan-out, aggregation, deduplication, and
// curation. The top level is linear; parallelism lives only in the fan-out
// worker pool.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/docscope/curation"
	"github.com/c360studio/docscope/dedup"
	"github.com/c360studio/docscope/discovery"
	"github.com/c360studio/docscope/evaluator"
	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/faults"
	"github.com/c360studio/docscope/gitws"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
	"github.com/c360studio/docscope/repocontext"
)

// DefaultConcurrency bounds parallel provider invocations per job.
const DefaultConcurrency = 4

// Notify receives the job's progress events. May be nil.
type Notify func(t events.Type, data map[string]any)

// Orchestrator runs evaluation jobs.
type Orchestrator struct {
	workspaces  *gitws.Manager
	registry    *evaluator.Registry
	dedupOpts   dedup.Options
	curationTop int
	retry       provider.RetryConfig
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithDedupOptions overrides the deduplication thresholds.
func WithDedupOptions(opts dedup.Options) Option {
	return func(o *Orchestrator) {
		o.dedupOpts = opts
	}
}

// WithCurationTopN overrides the curation threshold and selection size.
func WithCurationTopN(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.curationTop = n
		}
	}
}

// WithRetryConfig overrides the per-evaluator retry policy.
func WithRetryConfig(cfg provider.RetryConfig) Option {
	return func(o *Orchestrator) {
		o.retry = cfg
	}
}

// New creates an orchestrator.
func New(workspaces *gitws.Manager, registry *evaluator.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workspaces:  workspaces,
		registry:    registry,
		dedupOpts:   dedup.DefaultOptions(),
		curationTop: curation.DefaultTopN,
		retry:       provider.DefaultRetryConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request describes one evaluation job.
type Request struct {
	// RepositoryURL is cloned when set; otherwise LocalPath is used directly.
	RepositoryURL string
	LocalPath     string
	Branch        string
	CommitSHA     string

	// Provider is the registered provider name.
	Provider string

	Mode               issue.Mode
	Filter             evaluator.Filter
	SelectedEvaluators []string

	// Concurrency bounds parallel provider invocations. Zero uses the default.
	Concurrency int

	// Timeout bounds each provider attempt.
	Timeout time.Duration

	Notify Notify

	// Progress receives the job's progress snapshot as the fan-out advances.
	// May be nil.
	Progress ProgressFunc
}

// taskResult is one completed fan-out unit.
type taskResult struct {
	def    evaluator.Definition
	file   string
	result *issue.EvaluatorResult
	err    error
}

// Run executes the job. Repository errors are fatal; per-evaluator failures
// are recorded in the result's metadata and do not fail the job.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*issue.EvaluationResult, error) {
	notify := req.Notify
	if notify == nil {
		notify = func(events.Type, map[string]any) {}
	}
	if req.Mode == "" {
		req.Mode = issue.ModeIndependent
	}
	if req.Filter == "" {
		req.Filter = evaluator.FilterAll
	}

	prov, err := provider.Get(req.Provider)
	if err != nil {
		return nil, faults.Wrap(faults.CategoryProvider, faults.CodeProviderError, "resolving provider", err)
	}

	start := time.Now()

	// Phase: clone (or adopt a local path).
	root, release, err := o.resolveWorkspace(ctx, req, notify)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	// Phase: discovery.
	notify(events.TypeDiscoveryStarted, nil)
	disc, err := discovery.Discover(root)
	if err != nil {
		return nil, faults.Wrap(faults.CategoryFileSystem, faults.CodeFSError, "discovering documentation files", err)
	}
	notify(events.TypeDiscoveryCompleted, map[string]any{"files": len(disc.Files)})

	result := &issue.EvaluationResult{
		Metadata: issue.Metadata{
			GeneratedAt: time.Now().UTC(),
			Provider:    req.Provider,
			Mode:        req.Mode,
			TotalFiles:  len(disc.Files),
		},
	}

	// Nothing to evaluate is a successful empty result.
	if len(disc.Files) == 0 {
		result.Metadata.DurationMs = time.Since(start).Milliseconds()
		return result, nil
	}

	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	// Phase: context analysis. Never fails the job.
	analyzer := repocontext.NewAnalyzer(prov, repocontext.WithLogger(o.logger))
	pc := analyzer.Analyze(ctx, repocontext.Request{
		WorkDir:       root,
		Timeout:       req.Timeout,
		KnownDocPaths: docPaths(disc.Files),
		Notify:        repocontext.Notify(notify),
	})
	pc.ColocatedPairs = disc.ColocatedPairs
	result.Metadata.Context = pc

	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	// Phase: parallel evaluator fan-out.
	defs, err := o.registry.Select(req.Filter, req.SelectedEvaluators)
	if err != nil {
		return nil, faults.Wrap(faults.CategoryInvalid, faults.CodeInvalidRequest, "selecting evaluators", err)
	}

	targets, err := loadTargets(root, disc.Files)
	if err != nil {
		return nil, faults.Wrap(faults.CategoryFileSystem, faults.CodeFSError, "reading documentation files", err)
	}

	runner := evaluator.NewRunner(prov,
		evaluator.WithRunnerLogger(o.logger),
		evaluator.WithRetryConfig(o.retry))

	o.fanOut(ctx, fanOutArgs{
		req:     req,
		runner:  runner,
		defs:    defs,
		targets: targets,
		ctxText: contextBlock(&pc),
		root:    root,
		notify:  notify,
		result:  result,
	})

	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	// Phase: dedup then curation.
	o.deduplicate(result)

	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	o.curate(ctx, prov, req, root, result, notify)

	result.Metadata.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// resolveWorkspace clones the repository or validates the local path. The
// returned release func is a no-op for local paths.
func (o *Orchestrator) resolveWorkspace(ctx context.Context, req Request, notify Notify) (string, func(), error) {
	if req.RepositoryURL == "" {
		if req.LocalPath == "" {
			return "", nil, faults.New(faults.CategoryInvalid, faults.CodeInvalidRequest,
				"either repositoryUrl or localPath is required")
		}
		info, err := os.Stat(req.LocalPath)
		if err != nil || !info.IsDir() {
			return "", nil, faults.Wrap(faults.CategoryFileSystem, faults.CodeFSError,
				fmt.Sprintf("local path %s is not a directory", req.LocalPath), err)
		}
		return req.LocalPath, func() {}, nil
	}

	notify(events.TypeCloneStarted, map[string]any{"url": req.RepositoryURL})
	ws, err := o.workspaces.Clone(ctx, req.RepositoryURL, gitws.CloneOptions{
		Branch:    req.Branch,
		CommitSHA: req.CommitSHA,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, cancelled(ctx)
		}
		return "", nil, faults.Wrap(faults.CategoryRepository, faults.CodeRepoError, "cloning repository", err)
	}
	notify(events.TypeCloneCompleted, map[string]any{"path": ws.Path})

	return ws.Path, func() {
		if err := ws.Release(); err != nil {
			o.logger.Warn("Workspace release failed", "path", ws.Path, "error", err)
		}
	}, nil
}

type fanOutArgs struct {
	req     Request
	runner  *evaluator.Runner
	defs    []evaluator.Definition
	targets []evaluator.Target
	ctxText string
	root    string
	notify  Notify
	result  *issue.EvaluationResult
}

// fanOut schedules evaluator tasks through the worker pool and aggregates
// completed results as they arrive.
func (o *Orchestrator) fanOut(ctx context.Context, args fanOutArgs) {
	tracker := newProgressTracker(args.notify, args.req.Progress)
	tasks := buildTasks(args, tracker)
	tracker.announce()

	concurrency := args.req.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}

	if args.req.Mode == issue.ModeIndependent {
		args.result.Files = make(map[string]*issue.FileResult)
	}

	for res := range runPool(ctx, concurrency, tasks) {
		o.aggregate(args.result, args.req.Mode, res)
	}
}

// buildTasks creates one task per evaluator×file pair in independent mode,
// or per evaluator in unified mode. Cross-file evaluators always run once
// against all files.
func buildTasks(args fanOutArgs, tracker *progressTracker) []task {
	var tasks []task

	add := func(def evaluator.Definition, files []evaluator.Target, file string) {
		t := evaluator.Task{
			Definition:   def,
			Files:        files,
			ContextBlock: args.ctxText,
			WorkDir:      args.root,
			Timeout:      args.req.Timeout,
			Notify:       evaluator.Notify(tracker.enrich(args.notify)),
		}
		tracker.register(file)
		tasks = append(tasks, task{run: func(ctx context.Context) taskResult {
			tracker.starting(file, def.ID)
			res, err := args.runner.Run(ctx, t)
			tracker.finished(file)
			return taskResult{def: def, file: file, result: res, err: err}
		}})
	}

	for _, def := range args.defs {
		if def.CrossFile || args.req.Mode == issue.ModeUnified {
			add(def, args.targets, "")
			continue
		}
		for _, target := range args.targets {
			add(def, []evaluator.Target{target}, target.Path)
		}
	}

	return tasks
}

// aggregate folds one completed task into the result. Failures become
// failedEvaluators entries; cross-file issues go to the dedicated bucket.
func (o *Orchestrator) aggregate(result *issue.EvaluationResult, mode issue.Mode, res taskResult) {
	if res.err != nil {
		o.logger.Warn("Evaluator failed",
			"evaluator", res.def.ID, "file", res.file, "error", res.err)
		result.Metadata.FailedEvaluators = append(result.Metadata.FailedEvaluators,
			evaluator.Failure(res.def, res.file, res.err))
		return
	}

	er := *res.result
	var local []issue.Issue
	for _, iss := range er.Issues {
		if iss.IsCrossFile() {
			result.CrossFileIssues = append(result.CrossFileIssues, iss)
		} else {
			local = append(local, iss)
		}
	}
	er.Issues = local

	result.Metadata.CostUSD += er.CostUSD
	result.Metadata.Usage.Add(er.Usage)

	if res.def.CrossFile {
		// Everything a cross-file evaluator finds belongs in the dedicated
		// bucket, marked or not.
		result.CrossFileIssues = append(result.CrossFileIssues, er.Issues...)
		return
	}

	if mode == issue.ModeUnified {
		result.Results = append(result.Results, er)
		return
	}

	fr := result.Files[res.file]
	if fr == nil {
		fr = &issue.FileResult{}
		result.Files[res.file] = fr
	}
	fr.Evaluations = append(fr.Evaluations, er)
	for _, iss := range er.Issues {
		if iss.Kind == issue.KindSuggestion {
			fr.SuggestionCount++
		} else {
			fr.ErrorCount++
		}
	}
}

// deduplicate runs the deduplicator over every issue bucket and removes the
// clustered duplicates in place.
func (o *Orchestrator) deduplicate(result *issue.EvaluationResult) {
	all := result.AllIssues()
	if len(all) <= 1 {
		return
	}

	dres := dedup.Deduplicate(all, o.dedupOpts)
	if len(dres.Removed) == 0 {
		return
	}
	o.logger.Info("Deduplicated issues",
		"input", len(all), "kept", len(dres.Kept), "removed", len(dres.Removed))

	removed := newMultiset(dres.Removed)
	for i := range result.Results {
		result.Results[i].Issues = removed.filter(result.Results[i].Issues)
	}
	for _, fr := range result.Files {
		fr.ErrorCount, fr.SuggestionCount = 0, 0
		for i := range fr.Evaluations {
			fr.Evaluations[i].Issues = removed.filter(fr.Evaluations[i].Issues)
			for _, iss := range fr.Evaluations[i].Issues {
				if iss.Kind == issue.KindSuggestion {
					fr.SuggestionCount++
				} else {
					fr.ErrorCount++
				}
			}
		}
	}
	result.CrossFileIssues = removed.filter(result.CrossFileIssues)
}

// curate runs the per-kind curation passes over the deduplicated issues.
func (o *Orchestrator) curate(ctx context.Context, prov provider.Provider, req Request, root string, result *issue.EvaluationResult, notify Notify) {
	var errs, suggestions []issue.Issue
	for _, iss := range result.AllIssues() {
		if iss.Kind == issue.KindSuggestion {
			suggestions = append(suggestions, iss)
		} else {
			errs = append(errs, iss)
		}
	}

	curator := curation.New(prov, curation.WithLogger(o.logger), curation.WithTopN(o.curationTop))
	cnotify := curation.Notify(notify)

	var out issue.CurationOutput
	out.Errors = curator.Curate(ctx, curation.Request{
		Kind: issue.KindError, Issues: errs, WorkDir: root, Timeout: req.Timeout, Notify: cnotify,
	})
	out.Suggestions = curator.Curate(ctx, curation.Request{
		Kind: issue.KindSuggestion, Issues: suggestions, WorkDir: root, Timeout: req.Timeout, Notify: cnotify,
	})

	if out.Errors != nil || out.Suggestions != nil {
		result.Metadata.Curation = &out
		if out.Errors != nil {
			result.Metadata.CostUSD += out.Errors.CostUSD
		}
		if out.Suggestions != nil {
			result.Metadata.CostUSD += out.Suggestions.CostUSD
		}
	}
}

// loadTargets reads each discovered file's content once.
func loadTargets(root string, files []discovery.File) ([]evaluator.Target, error) {
	targets := make([]evaluator.Target, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(root, f.Path))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Path, err)
		}
		targets = append(targets, evaluator.Target{Path: f.Path, Content: string(content)})
	}
	return targets, nil
}

func docPaths(files []discovery.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

// contextBlock renders the project context as the labeled block embedded in
// evaluator prompts.
func contextBlock(pc *issue.ProjectContext) string {
	var b strings.Builder
	b.WriteString("Languages: " + pc.Languages + "\n")
	b.WriteString("Frameworks: " + pc.Frameworks + "\n")
	b.WriteString("Architecture: " + pc.Architecture + "\n")
	b.WriteString("Patterns: " + pc.Patterns + "\n")
	if len(pc.KeyFolders) > 0 {
		b.WriteString("Key folders:\n")
		for _, f := range pc.KeyFolders {
			b.WriteString("- " + f.Path)
			if f.Description != "" {
				b.WriteString(": " + f.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// cancelled converts a cancelled or expired context into the job-level fault.
func cancelled(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return faults.Wrap(faults.CategoryTimeout, faults.CodeJobTimeout, "job deadline exceeded", ctx.Err())
	default:
		return faults.Wrap(faults.CategoryCancelled, faults.CodeCancelled, "job cancelled", ctx.Err())
	}
}
