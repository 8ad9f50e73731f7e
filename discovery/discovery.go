// Package discovery locates AI-agent instruction files (AGENTS.md-class and
// their CLAUDE.md-class aliases) in a repository, classifies reference
// pointers, and detects colocated canonical/alias pairs.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/docscope/issue"
)

// Canonical and alias file classes. Canonical files hold content; aliases
// should eventually become reference pointers to their canonical sibling.
var (
	canonicalNames = []string{"AGENTS.md"}
	aliasNames     = []string{"CLAUDE.md", "GEMINI.md", ".cursorrules"}
)

// excludedDirs are never descended into during discovery.
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

// File is one discovered documentation file.
type File struct {
	// Path is relative to the repository root.
	Path string
	// Canonical is true for AGENTS.md-class files, false for aliases.
	Canonical bool
	// ReferencePointer is true when the file's entire non-blank content
	// is an @PATH pointer.
	ReferencePointer bool
	// Target is the pointer target when ReferencePointer is set.
	Target string
}

// Result is the outcome of one discovery pass.
type Result struct {
	Files          []File
	ColocatedPairs []issue.ColocatedPair
}

// Discover walks root for documentation files and groups colocated pairs.
func Discover(root string) (*Result, error) {
	var patterns []string
	for _, name := range append(append([]string{}, canonicalNames...), aliasNames...) {
		patterns = append(patterns, "**/"+name)
	}

	seen := make(map[string]bool)
	var files []File

	fsys := os.DirFS(root)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("discover %q: %w", pattern, err)
		}
		for _, rel := range matches {
			if seen[rel] || inExcludedDir(rel) {
				continue
			}
			seen[rel] = true

			content, err := os.ReadFile(filepath.Join(root, rel))
			if err != nil {
				return nil, fmt.Errorf("discover read %s: %w", rel, err)
			}

			f := File{
				Path:      rel,
				Canonical: isCanonicalName(filepath.Base(rel)),
			}
			if target, ok := ReferenceTarget(string(content)); ok {
				f.ReferencePointer = true
				f.Target = target
			}
			files = append(files, f)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return &Result{
		Files:          files,
		ColocatedPairs: colocatedPairs(files),
	}, nil
}

// colocatedPairs groups files by directory and pairs every canonical with an
// alias sharing its directory. Pairs whose alias already points at the
// canonical are flagged consolidated.
func colocatedPairs(files []File) []issue.ColocatedPair {
	byDir := make(map[string][]File)
	for _, f := range files {
		dir := filepath.Dir(f.Path)
		byDir[dir] = append(byDir[dir], f)
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var pairs []issue.ColocatedPair
	for _, dir := range dirs {
		group := byDir[dir]
		var canonical *File
		for i := range group {
			if group[i].Canonical {
				canonical = &group[i]
				break
			}
		}
		if canonical == nil {
			continue
		}
		for i := range group {
			alias := group[i]
			if alias.Canonical {
				continue
			}
			pair := issue.ColocatedPair{
				Directory:     dir,
				CanonicalPath: canonical.Path,
				AliasPath:     alias.Path,
			}
			if alias.ReferencePointer && pointsTo(alias, canonical.Path) {
				pair.AlreadyConsolidated = true
			}
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

// pointsTo reports whether alias's pointer target resolves to canonicalPath.
func pointsTo(alias File, canonicalPath string) bool {
	target := strings.TrimPrefix(alias.Target, "./")
	resolved := filepath.Join(filepath.Dir(alias.Path), target)
	return resolved == canonicalPath || target == filepath.Base(canonicalPath)
}

// IsReferencePointer reports whether content is solely an @PATH pointer.
func IsReferencePointer(content string) bool {
	_, ok := ReferenceTarget(content)
	return ok
}

// ReferenceTarget extracts the pointer target from content if the only
// non-blank content is `@PATH` (optionally with a ./ prefix).
func ReferenceTarget(content string) (string, bool) {
	var pointer string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if pointer != "" {
			// A second non-blank line disqualifies the file.
			return "", false
		}
		pointer = line
	}

	if !strings.HasPrefix(pointer, "@") || len(pointer) < 2 {
		return "", false
	}
	target := pointer[1:]
	if strings.ContainsAny(target, " \t") {
		return "", false
	}
	return target, true
}

func isCanonicalName(name string) bool {
	for _, c := range canonicalNames {
		if name == c {
			return true
		}
	}
	return false
}

func inExcludedDir(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if excludedDirs[part] {
			return true
		}
	}
	return false
}
