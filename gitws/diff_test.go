package gitws

import (
	"testing"

	"github.com/c360studio/docscope/issue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/AGENTS.md b/AGENTS.md
index 3b18e51..9daeafb 100644
--- a/AGENTS.md
+++ b/AGENTS.md
@@ -1,4 +1,5 @@
 # Agents
-old line
+new line
+another line
 unchanged
@@ -10,3 +11,2 @@
 context
-removed one
-removed two
+replacement
diff --git a/docs/CLAUDE.md b/docs/CLAUDE.md
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/docs/CLAUDE.md
@@ -0,0 +1,2 @@
+@AGENTS.md
+
diff --git a/OLD.md b/OLD.md
deleted file mode 100644
index e69de29..0000000
--- a/OLD.md
+++ /dev/null
@@ -1,1 +0,0 @@
-obsolete
`

func TestParseUnifiedDiffMultiFile(t *testing.T) {
	changes := ParseUnifiedDiff(sampleDiff)
	require.Len(t, changes, 3)

	modified := changes[0]
	assert.Equal(t, "AGENTS.md", modified.Path)
	assert.Equal(t, issue.FileModified, modified.Status)
	assert.Equal(t, 3, modified.Additions)
	assert.Equal(t, 3, modified.Deletions)
	assert.Contains(t, modified.Diff, "diff --git a/AGENTS.md b/AGENTS.md")
	assert.Contains(t, modified.Diff, "@@ -10,3 +11,2 @@")

	added := changes[1]
	assert.Equal(t, "docs/CLAUDE.md", added.Path)
	assert.Equal(t, issue.FileAdded, added.Status)
	assert.Equal(t, 2, added.Additions)
	assert.Equal(t, 0, added.Deletions)

	deleted := changes[2]
	assert.Equal(t, "OLD.md", deleted.Path)
	assert.Equal(t, issue.FileDeleted, deleted.Status)
	assert.Equal(t, 0, deleted.Additions)
	assert.Equal(t, 1, deleted.Deletions)
}

func TestParseUnifiedDiffEmpty(t *testing.T) {
	assert.Nil(t, ParseUnifiedDiff(""))
	assert.Nil(t, ParseUnifiedDiff("  \n"))
	assert.Nil(t, ParseUnifiedDiff("no diff markers here"))
}

func TestParseUnifiedDiffHeaderLinesNotCounted(t *testing.T) {
	patch := "diff --git a/x.md b/x.md\n--- a/x.md\n+++ b/x.md\n@@ -1 +1 @@\n-a\n+b\n"
	changes := ParseUnifiedDiff(patch)
	require.Len(t, changes, 1)
	assert.Equal(t, 1, changes[0].Additions)
	assert.Equal(t, 1, changes[0].Deletions)
}

func TestValidateGitURL(t *testing.T) {
	assert.NoError(t, ValidateGitURL("https://example.com/acme/repo.git"))
	assert.NoError(t, ValidateGitURL("git@github.com:acme/repo.git"))
	assert.NoError(t, ValidateGitURL("ssh://git@example.com/repo.git"))
	assert.Error(t, ValidateGitURL("ftp://example.com/repo.git"))
	assert.Error(t, ValidateGitURL("file:///etc/passwd"))
}
