package repocontext

import (
	"strconv"
	"strings"

	"github.com/c360studio/docscope/issue"
)

// analysisPrompt is the template sent to the provider. Placeholders are
// substituted literally; the expected response format is parsed by
// parseResponse.
const analysisPrompt = `Analyze this repository and summarize its technical profile.

Line count summary:
{{CLOC_OUTPUT}}

Repository structure:
{{REPO_STRUCTURE}}

Folders (to depth 3):
{{FOLDER_LIST}}

Respond with exactly these labeled lines:
Languages: <comma-separated primary languages>
Frameworks: <comma-separated frameworks and notable libraries>
Architecture: <one-line architectural style>
Patterns: <one-line notable patterns>
Key Folders:
- <folder>: <one-line description>
(list at most 20 folders)`

// buildPrompt substitutes the template placeholders.
func buildPrompt(cloc *issue.LineCountSummary, structure string, folders []string) string {
	clocOut := "unavailable"
	if cloc != nil && cloc.Raw != "" {
		clocOut = cloc.Raw
	}

	folderList := "none"
	if len(folders) > 0 {
		folderList = "- " + strings.Join(folders, "\n- ")
	}

	prompt := analysisPrompt
	prompt = strings.ReplaceAll(prompt, "{{CLOC_OUTPUT}}", clocOut)
	prompt = strings.ReplaceAll(prompt, "{{REPO_STRUCTURE}}", structure)
	prompt = strings.ReplaceAll(prompt, "{{FOLDER_LIST}}", folderList)
	return prompt
}

// parseResponse fills pc from the provider's labeled-line response.
// Unmatched fields keep their "Unknown" defaults.
func parseResponse(text string, pc *issue.ProjectContext) {
	lines := strings.Split(text, "\n")
	inFolders := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "Languages:"):
			setIfNotEmpty(&pc.Languages, trimmed[len("Languages:"):])
			inFolders = false
		case strings.HasPrefix(trimmed, "Frameworks:"):
			setIfNotEmpty(&pc.Frameworks, trimmed[len("Frameworks:"):])
			inFolders = false
		case strings.HasPrefix(trimmed, "Architecture:"):
			setIfNotEmpty(&pc.Architecture, trimmed[len("Architecture:"):])
			inFolders = false
		case strings.HasPrefix(trimmed, "Patterns:"):
			setIfNotEmpty(&pc.Patterns, trimmed[len("Patterns:"):])
			inFolders = false
		case strings.HasPrefix(trimmed, "Key Folders:"):
			inFolders = true
		case inFolders && strings.HasPrefix(trimmed, "-"):
			if len(pc.KeyFolders) >= maxKeyFolders {
				continue
			}
			entry := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
			path, desc, _ := strings.Cut(entry, ":")
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			pc.KeyFolders = append(pc.KeyFolders, issue.FolderInfo{
				Path:        path,
				Description: strings.TrimSpace(desc),
			})
		case inFolders && trimmed != "":
			inFolders = false
		}
	}
}

func setIfNotEmpty(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

// parseClocCSV extracts totals from cloc's CSV output. The raw text is kept
// for prompt embedding regardless of parse success.
func parseClocCSV(raw string) *issue.LineCountSummary {
	summary := &issue.LineCountSummary{
		Raw:        strings.TrimSpace(raw),
		ByLanguage: make(map[string]int),
	}

	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Split(strings.TrimSpace(line), ",")
		// cloc CSV: files,language,blank,comment,code
		if len(fields) < 5 || fields[0] == "files" {
			continue
		}
		files, err1 := strconv.Atoi(fields[0])
		code, err2 := strconv.Atoi(fields[4])
		if err1 != nil || err2 != nil {
			continue
		}
		lang := fields[1]
		if lang == "SUM" {
			summary.TotalFiles = files
			summary.TotalCode = code
			continue
		}
		summary.ByLanguage[lang] = code
	}

	return summary
}
