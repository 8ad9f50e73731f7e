// Package repocontext builds the project-context block used by evaluator
// prompts: line counts, directory structure, detected config files, and an
// AI-assisted summary of languages, frameworks, and architecture.
package repocontext

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
)

// maxKeyFolders caps the folder list passed to and parsed from the provider.
const maxKeyFolders = 20

// folderDepth bounds directory enumeration.
const folderDepth = 3

// excludedFolders are never enumerated.
var excludedFolders = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"out":          true,
	".idea":        true,
	".vscode":      true,
	"__pycache__":  true,
	".next":        true,
	"coverage":     true,
}

// configProbes are well-known files whose presence hints at the stack.
var configProbes = []string{
	"package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml",
	"go.mod", "go.sum",
	"Cargo.toml", "pyproject.toml", "requirements.txt", "setup.py",
	"pom.xml", "build.gradle", "Gemfile", "composer.json",
	"Dockerfile", "docker-compose.yml", "Makefile", "CMakeLists.txt",
}

// Notify receives progress notifications from the analyzer. May be nil.
type Notify func(t events.Type, data map[string]any)

// Analyzer derives project context for a working directory.
type Analyzer struct {
	provider    provider.Provider
	clocTimeout time.Duration
	logger      *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithClocTimeout bounds the line-count subprocess.
func WithClocTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		a.clocTimeout = d
	}
}

// NewAnalyzer creates an analyzer backed by the given provider.
func NewAnalyzer(p provider.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		provider:    p,
		clocTimeout: 60 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Request carries the inputs for one analysis pass.
type Request struct {
	WorkDir       string
	Timeout       time.Duration
	KnownDocPaths []string
	Notify        Notify
}

// Analyze runs the line-count tool and folder enumeration in parallel, probes
// well-known config files, then asks the provider to summarize the project.
// It never fails the job: any error yields the default "Unknown" context.
func (a *Analyzer) Analyze(ctx context.Context, req Request) issue.ProjectContext {
	notify := req.Notify
	if notify == nil {
		notify = func(events.Type, map[string]any) {}
	}

	pc := defaultContext()
	pc.KnownDocPaths = req.KnownDocPaths

	var (
		wg      sync.WaitGroup
		cloc    *issue.LineCountSummary
		folders []string
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		notify(events.TypeContextCloc, map[string]any{"status": "started"})
		summary, err := a.runLineCount(ctx, req.WorkDir)
		if err != nil {
			a.logger.Warn("Line count failed", "error", err)
			notify(events.TypeContextWarning, map[string]any{"message": "line count unavailable: " + err.Error()})
			notify(events.TypeContextCloc, map[string]any{"status": "completed", "available": false})
			return
		}
		cloc = summary
		notify(events.TypeContextCloc, map[string]any{"status": "completed", "available": true})
	}()
	go func() {
		defer wg.Done()
		notify(events.TypeContextFolders, map[string]any{"status": "started"})
		folders = enumerateFolders(req.WorkDir, folderDepth)
		notify(events.TypeContextFolders, map[string]any{"status": "completed", "count": len(folders)})
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return pc
	}

	pc.LineCount = cloc
	pc.LineCountAvailable = cloc != nil

	structure := probeStructure(req.WorkDir)
	prompt := buildPrompt(cloc, structure, folders)

	notify(events.TypeContextAnalysis, map[string]any{"status": "started"})
	opts := provider.Options{WorkDir: req.WorkDir, WriteMode: false, Timeout: req.Timeout}
	res, err := a.provider.Invoke(ctx, prompt, opts)
	if err != nil {
		a.logger.Warn("Context analysis failed, using defaults", "error", err)
		notify(events.TypeContextWarning, map[string]any{"message": "context analysis failed: " + err.Error()})
		notify(events.TypeContextAnalysis, map[string]any{"status": "completed", "ok": false})
		return pc
	}

	parseResponse(res.Text, &pc)
	pc.RawResponse = res.Text
	notify(events.TypeContextAnalysis, map[string]any{"status": "completed", "ok": true})

	return pc
}

func defaultContext() issue.ProjectContext {
	return issue.ProjectContext{
		Languages:    "Unknown",
		Frameworks:   "Unknown",
		Architecture: "Unknown",
		Patterns:     "Unknown",
	}
}

// runLineCount shells out to cloc with its own timeout.
func (a *Analyzer) runLineCount(ctx context.Context, workdir string) (*issue.LineCountSummary, error) {
	clocCtx, cancel := context.WithTimeout(ctx, a.clocTimeout)
	defer cancel()

	cmd := exec.CommandContext(clocCtx, "cloc", ".", "--quiet", "--csv")
	cmd.Dir = workdir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("cloc: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseClocCSV(stdout.String()), nil
}

// enumerateFolders lists directories up to depth levels below root,
// skipping the exclusion list. Results are root-relative and sorted.
func enumerateFolders(root string, depth int) []string {
	var out []string

	var walk func(dir string, level int)
	walk = func(dir string, level int) {
		if level > depth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() || excludedFolders[e.Name()] || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			full := filepath.Join(dir, e.Name())
			rel, err := filepath.Rel(root, full)
			if err != nil {
				continue
			}
			out = append(out, filepath.ToSlash(rel))
			walk(full, level+1)
		}
	}
	walk(root, 1)

	sort.Strings(out)
	return out
}

// probeStructure reads the top-level listing and flags known config files.
func probeStructure(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	present := make(map[string]bool)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
		present[e.Name()] = true
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Top-level entries:\n")
	for _, n := range names {
		b.WriteString("- " + n + "\n")
	}

	var detected []string
	for _, probe := range configProbes {
		if present[probe] {
			detected = append(detected, probe)
		}
	}
	if len(detected) > 0 {
		b.WriteString("Detected config files: " + strings.Join(detected, ", ") + "\n")
	}
	return b.String()
}
