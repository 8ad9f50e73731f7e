// Package provider abstracts invocation of external AI coding agents.
// Each provider shells out to a user-installed CLI (claude, codex, ...)
// with an explicit working directory and write-mode, and normalizes the
// agent's usage and cost reporting.
package provider

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/c360studio/docscope/issue"
)

// Options controls a single provider invocation.
type Options struct {
	// WorkDir is the directory the agent runs in. Relative file operations
	// performed by the agent target this directory.
	WorkDir string

	// WriteMode permits the agent to modify files under WorkDir.
	// When false the invocation is read-only analysis.
	WriteMode bool

	// Timeout bounds this attempt. Zero uses the provider default.
	Timeout time.Duration
}

// Result is the normalized outcome of one invocation.
type Result struct {
	Text     string
	Usage    issue.Usage
	CostUSD  float64
	Duration time.Duration
}

// Provider invokes an external AI agent.
type Provider interface {
	// Name returns the provider identifier (e.g., "claude", "codex").
	Name() string

	// Invoke runs the agent once with the given prompt. Cancelling ctx
	// kills the child process; the call returns a cancellation error
	// within the kill grace period.
	Invoke(ctx context.Context, prompt string, opts Options) (*Result, error)
}

// entry pairs a provider with its installation probe.
type entry struct {
	provider Provider
	// binary is probed with exec.LookPath; empty means always available.
	binary string
}

var (
	registry   = make(map[string]entry)
	registryMu sync.RWMutex
)

// Register adds a provider to the registry. binary is the executable probed
// for availability; pass "" for providers with no external dependency.
func Register(p Provider, binary string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name()] = entry{provider: p, binary: binary}
}

// Wrap replaces every registered provider with fn(provider), keeping the
// installation probe intact. Used to layer instrumentation over the registry.
func Wrap(fn func(Provider) Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for name, e := range registry {
		e.provider = fn(e.provider)
		registry[name] = e
	}
}

// Get retrieves a provider by name, verifying the backing agent is installed.
func Get(name string) (Provider, error) {
	registryMu.RLock()
	e, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if e.binary != "" {
		if _, err := exec.LookPath(e.binary); err != nil {
			return nil, fmt.Errorf("provider %s: agent %q is not installed: %w", name, e.binary, err)
		}
	}
	return e.provider, nil
}

// List returns all registered provider names.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
