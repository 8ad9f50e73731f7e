package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry holds the active evaluator definitions. Prompt overrides loaded
// from a directory replace the built-in prompt text while keeping the
// definition's identity and issue kind.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]Definition
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry seeded with the built-in definitions.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defs:   make(map[string]Definition),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, d := range Defaults() {
		r.defs[d.ID] = d
	}
	return r
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// List returns all definitions sorted by id.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select returns the definitions passing the filter and, when ids is
// non-empty, restricted to that allow-list. Unknown ids are reported.
func (r *Registry) Select(filter Filter, ids []string) ([]Definition, error) {
	if len(ids) > 0 {
		allowed := make([]Definition, 0, len(ids))
		for _, id := range ids {
			d, ok := r.Get(id)
			if !ok {
				return nil, fmt.Errorf("unknown evaluator: %s", id)
			}
			if filter.Matches(d) {
				allowed = append(allowed, d)
			}
		}
		return allowed, nil
	}

	var out []Definition
	for _, d := range r.List() {
		if filter.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// LoadDir applies prompt overrides from dir. Each <id>.md file replaces the
// prompt of the matching definition; files for unknown ids are skipped with
// a warning. A missing directory is not an error.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading prompts dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".md")

		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			r.logger.Warn("Failed to read prompt override", "file", e.Name(), "error", err)
			continue
		}
		if len(strings.TrimSpace(string(content))) == 0 {
			r.logger.Warn("Ignoring empty prompt override", "file", e.Name())
			continue
		}

		r.mu.Lock()
		d, ok := r.defs[id]
		if !ok {
			r.mu.Unlock()
			r.logger.Warn("Prompt override for unknown evaluator", "id", id)
			continue
		}
		d.Prompt = string(content)
		r.defs[id] = d
		r.mu.Unlock()

		r.logger.Info("Loaded prompt override", "id", id)
	}

	return nil
}

// resetPrompts restores the built-in prompt for definitions whose override
// was removed.
func (r *Registry) resetPrompts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range Defaults() {
		cur := r.defs[d.ID]
		cur.Prompt = d.Prompt
		r.defs[d.ID] = cur
	}
}

// Watch reloads prompt overrides when files in dir change. It returns after
// starting the watch goroutine; cancelling ctx stops it.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		// Debounce: editors fire several events per save.
		const debounce = 200 * time.Millisecond
		var timer *time.Timer
		reload := func() {
			r.resetPrompts()
			if err := r.LoadDir(dir); err != nil {
				r.logger.Warn("Prompt reload failed", "error", err)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".md") {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, reload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("Prompt watcher error", "error", err)
			}
		}
	}()

	r.logger.Info("Watching evaluator prompts", "dir", dir)
	return nil
}
