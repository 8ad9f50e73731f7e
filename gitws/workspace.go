// Package gitws manages ephemeral git workspaces: isolated clones, tree
// cleanliness checks, unified-diff capture, and best-effort reset. Every
// operation shells out to git and embeds the subprocess stderr in its error.
package gitws

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// allowedProtocols defines the git URL protocols that are permitted.
var allowedProtocols = map[string]bool{
	"https": true,
	"git":   true,
	"ssh":   true,
}

// ValidateGitURL validates that a git URL uses an allowed protocol.
func ValidateGitURL(rawURL string) error {
	// Handle SSH shorthand (git@github.com:owner/repo.git)
	if strings.HasPrefix(rawURL, "git@") {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !allowedProtocols[scheme] {
		return fmt.Errorf("protocol %q not allowed; must be https, git, or ssh", scheme)
	}

	return nil
}

// CloneOptions selects what to check out.
type CloneOptions struct {
	Branch    string
	CommitSHA string
}

// Workspace is an ephemeral clone owned by exactly one pipeline phase.
type Workspace struct {
	Path string

	releaseOnce sync.Once
	releaseErr  error
}

// Release deletes the workspace directory tree. Idempotent.
func (w *Workspace) Release() error {
	w.releaseOnce.Do(func() {
		w.releaseErr = os.RemoveAll(w.Path)
	})
	return w.releaseErr
}

// Manager creates workspaces under a managed root directory.
type Manager struct {
	root         string
	cloneTimeout time.Duration
	cloneDepth   int
	logger       *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithCloneTimeout bounds a single clone operation.
func WithCloneTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.cloneTimeout = d
	}
}

// WithCloneDepth limits clone history depth (0 = full history).
func WithCloneDepth(depth int) ManagerOption {
	return func(m *Manager) {
		m.cloneDepth = depth
	}
}

// NewManager creates a workspace manager rooted at root.
func NewManager(root string, opts ...ManagerOption) *Manager {
	m := &Manager{
		root:         root,
		cloneTimeout: 5 * time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Clone clones url into a fresh temp directory under the managed root.
// When opts.CommitSHA is set the clone is followed by a detached checkout of
// that SHA (depth limits are skipped so the SHA is reachable). Clones are
// never shared between jobs.
func (m *Manager) Clone(ctx context.Context, rawURL string, opts CloneOptions) (*Workspace, error) {
	if err := ValidateGitURL(rawURL); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}

	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("clone: create workspace root: %w", err)
	}
	dest := filepath.Join(m.root, "ws-"+uuid.New().String())

	cloneCtx := ctx
	if m.cloneTimeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, m.cloneTimeout)
		defer cancel()
	}

	args := []string{"clone"}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	if m.cloneDepth > 0 && opts.CommitSHA == "" {
		args = append(args, "--depth", strconv.Itoa(m.cloneDepth))
	}
	args = append(args, rawURL, dest)

	if _, err := runGit(cloneCtx, "", args...); err != nil {
		_ = os.RemoveAll(dest)
		return nil, fmt.Errorf("clone %s: %w", rawURL, err)
	}

	if opts.CommitSHA != "" {
		if _, err := runGit(cloneCtx, dest, "checkout", "--detach", opts.CommitSHA); err != nil {
			_ = os.RemoveAll(dest)
			return nil, fmt.Errorf("checkout %s: %w", opts.CommitSHA, err)
		}
	}

	m.logger.Debug("Cloned repository", "url", rawURL, "path", dest)
	return &Workspace{Path: dest}, nil
}

// CheckClean reports whether the working tree at cwd has no pending changes.
// The porcelain status text is returned for diagnostics.
func CheckClean(ctx context.Context, cwd string) (bool, string, error) {
	out, err := runGit(ctx, cwd, "status", "--porcelain")
	if err != nil {
		return false, "", fmt.Errorf("check clean: %w", err)
	}
	status := strings.TrimSpace(out)
	return status == "", status, nil
}

// CaptureDiff stages all changes (including untracked files) and returns the
// unified diff of the index against HEAD. New files appear as full-add hunks.
func CaptureDiff(ctx context.Context, cwd string) (string, error) {
	if _, err := runGit(ctx, cwd, "add", "-A"); err != nil {
		return "", fmt.Errorf("capture diff: stage: %w", err)
	}
	out, err := runGit(ctx, cwd, "diff", "--cached")
	if err != nil {
		return "", fmt.Errorf("capture diff: %w", err)
	}
	return out, nil
}

// Reset returns the working tree to HEAD byte-for-byte: unstages everything,
// reverts tracked files, and removes untracked files and directories.
func Reset(ctx context.Context, cwd string) error {
	if _, err := runGit(ctx, cwd, "reset", "HEAD", "."); err != nil {
		return fmt.Errorf("reset: unstage: %w", err)
	}
	if _, err := runGit(ctx, cwd, "checkout", "--", "."); err != nil {
		return fmt.Errorf("reset: revert tracked: %w", err)
	}
	if _, err := runGit(ctx, cwd, "clean", "-fd"); err != nil {
		return fmt.Errorf("reset: remove untracked: %w", err)
	}
	return nil
}

// ApplyPatch applies patchText to the tree at cwd with whitespace fixing.
// The temp patch file is removed on both success and failure.
func ApplyPatch(ctx context.Context, cwd, patchText string) error {
	tmp, err := os.CreateTemp(cwd, "docscope-*.patch")
	if err != nil {
		return fmt.Errorf("apply patch: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(patchText); err != nil {
		tmp.Close()
		return fmt.Errorf("apply patch: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("apply patch: close temp file: %w", err)
	}

	if _, err := runGit(ctx, cwd, "apply", "--whitespace=fix", tmpPath); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	return nil
}

// HeadCommit returns the SHA of HEAD at cwd.
func HeadCommit(ctx context.Context, cwd string) (string, error) {
	out, err := runGit(ctx, cwd, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("head commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the branch checked out at cwd.
func CurrentBranch(ctx context.Context, cwd string) (string, error) {
	out, err := runGit(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// runGit executes git with the given args, returning stdout. Failures embed
// stderr in the error.
func runGit(ctx context.Context, cwd string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
