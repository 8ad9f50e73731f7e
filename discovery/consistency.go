package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/docscope/issue"
)

// Packmind-managed sections are tool-owned and excluded from comparison.
const (
	packmindStart = "<!-- start: Packmind standards -->"
	packmindEnd   = "<!-- end: Packmind standards -->"
)

// CheckPairConsistency compares a colocated pair's contents and returns a
// file-consistency issue when they differ materially. Differences limited to
// trailing whitespace, Packmind-delimited sections, or one file being a
// reference pointer to the other are not conflicts.
func CheckPairConsistency(root string, pair issue.ColocatedPair) (*issue.Issue, error) {
	canonical, err := os.ReadFile(filepath.Join(root, pair.CanonicalPath))
	if err != nil {
		return nil, fmt.Errorf("consistency read %s: %w", pair.CanonicalPath, err)
	}
	alias, err := os.ReadFile(filepath.Join(root, pair.AliasPath))
	if err != nil {
		return nil, fmt.Errorf("consistency read %s: %w", pair.AliasPath, err)
	}

	if Consistent(string(canonical), string(alias), pair.CanonicalPath) {
		return nil, nil
	}

	return &issue.Issue{
		Kind:     issue.KindError,
		Category: "file-consistency",
		Problem: fmt.Sprintf("%s and %s have diverged; the alias should be a reference pointer to the canonical file",
			pair.CanonicalPath, pair.AliasPath),
		Locations: []issue.Location{
			{File: pair.CanonicalPath, StartLine: 1, EndLine: 1},
			{File: pair.AliasPath, StartLine: 1, EndLine: 1},
		},
		AffectedFiles: []string{pair.CanonicalPath, pair.AliasPath},
		Severity:      6,
	}, nil
}

// Consistent reports whether two documentation files agree after stripping
// Packmind sections and trailing whitespace. A file that is a reference
// pointer to the other is always consistent.
func Consistent(canonical, alias, canonicalPath string) bool {
	if target, ok := ReferenceTarget(alias); ok {
		t := strings.TrimPrefix(target, "./")
		return t == canonicalPath || t == filepath.Base(canonicalPath)
	}

	return normalize(canonical) == normalize(alias)
}

// normalize strips Packmind-delimited sections and trailing whitespace.
func normalize(content string) string {
	content = stripPackmind(content)

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// stripPackmind removes every start/end delimited Packmind block, including
// the delimiter lines.
func stripPackmind(content string) string {
	for {
		start := strings.Index(content, packmindStart)
		if start < 0 {
			return content
		}
		end := strings.Index(content[start:], packmindEnd)
		if end < 0 {
			// Unterminated block: drop to end of content.
			return content[:start]
		}
		content = content[:start] + content[start+end+len(packmindEnd):]
	}
}
