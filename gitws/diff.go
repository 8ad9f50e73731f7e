package gitws

import (
	"strings"

	"github.com/c360studio/docscope/issue"
)

// ParseUnifiedDiff splits a multi-file unified diff into per-file changes.
// For each file it extracts the path (from the b/ side of the header), the
// status (added, deleted, or modified), and the +/- line counts inside hunks,
// ignoring the +++/--- header lines. The full per-file diff text is preserved.
func ParseUnifiedDiff(patch string) []issue.FileChange {
	if strings.TrimSpace(patch) == "" {
		return nil
	}

	var changes []issue.FileChange

	// Segments start at each "diff --git " boundary; anything before the
	// first boundary is not part of a file diff.
	segments := strings.Split(patch, "diff --git ")
	for _, segment := range segments[1:] {
		text := "diff --git " + segment
		change := issue.FileChange{
			Path:   diffPath(segment),
			Status: issue.FileModified,
			Diff:   text,
		}

		inHunk := false
		for _, line := range strings.Split(segment, "\n") {
			switch {
			case strings.HasPrefix(line, "new file mode"):
				change.Status = issue.FileAdded
			case strings.HasPrefix(line, "deleted file mode"):
				change.Status = issue.FileDeleted
			case strings.HasPrefix(line, "@@"):
				inHunk = true
			case !inHunk:
				// Header lines (+++/--- included) are never counted.
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			case strings.HasPrefix(line, "+"):
				change.Additions++
			case strings.HasPrefix(line, "-"):
				change.Deletions++
			}
		}

		changes = append(changes, change)
	}

	return changes
}

// diffPath extracts the b/ side path from a "diff --git a/X b/Y" header
// segment (the leading "diff --git " already stripped).
func diffPath(segment string) string {
	header := segment
	if i := strings.IndexByte(header, '\n'); i >= 0 {
		header = header[:i]
	}
	if i := strings.Index(header, " b/"); i >= 0 {
		return header[i+3:]
	}
	return strings.TrimSpace(header)
}
