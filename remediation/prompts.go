package remediation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
)

// actionSchema instructs execute phases to report what they did per issue.
const actionSchema = `When done, report what you did in a ` + "```json" + ` fenced block:
{
  "actions": [
    {
      "issueIndex": <1-based index from the list above>,
      "status": "fixed" | "added" | "skipped",
      "file": "<path you changed>",
      "outputType": "standard",
      "shortSummary": "<one line>"
    }
  ]
}`

// describeIssue renders one issue for a remediation prompt, numbered within
// the current batch.
func describeIssue(n int, iss *issue.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s", n, iss.PrimaryText())
	if locs := iss.AllLocations(); len(locs) > 0 {
		fmt.Fprintf(&b, "\n   Location: %s:%d-%d", locs[0].File, locs[0].StartLine, locs[0].EndLine)
	}
	if iss.Kind == issue.KindError {
		fmt.Fprintf(&b, "\n   Severity: %d", iss.Severity)
		if iss.Fix != "" {
			fmt.Fprintf(&b, "\n   Suggested fix: %s", iss.Fix)
		}
	} else {
		if iss.ImpactLevel != "" {
			fmt.Fprintf(&b, "\n   Impact: %s", iss.ImpactLevel)
		}
		if iss.Recommendation != "" {
			fmt.Fprintf(&b, "\n   Recommendation: %s", iss.Recommendation)
		}
	}
	if iss.Snippet != "" {
		fmt.Fprintf(&b, "\n   Snippet: %s", iss.Snippet)
	}
	return b.String()
}

func listIssues(issues []issue.Issue) string {
	var b strings.Builder
	for i := range issues {
		b.WriteString(describeIssue(i+1, &issues[i]))
		b.WriteString("\n")
	}
	return b.String()
}

// buildErrorPlanPrompt asks for a fix plan without touching files.
func buildErrorPlanPrompt(issues []issue.Issue, targetAgent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following errors were found in this repository's %s instruction files.\n", agentLabel(targetAgent))
	b.WriteString("Write a concise plan for fixing each one. Do NOT modify any files yet.\n\n")
	b.WriteString(listIssues(issues))
	b.WriteString("\nRespond with the plan as plain text.\n")
	return b.String()
}

// buildErrorExecutePrompt embeds the plan and asks for the fixes.
func buildErrorExecutePrompt(plan string, batch []issue.Issue, targetAgent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix the following errors in this repository's %s instruction files,\n", agentLabel(targetAgent))
	b.WriteString("following the plan below. Edit the files in place.\n\n")
	b.WriteString("Plan:\n" + plan + "\n\n")
	b.WriteString("Errors to fix now:\n" + listIssues(batch))
	b.WriteString("\n" + actionSchema + "\n")
	return b.String()
}

// buildSuggestionPlanPrompt embeds a bullet summary of the executed error
// fixes so the enrichment plan builds on them instead of re-doing them.
func buildSuggestionPlanPrompt(issues []issue.Issue, errorActions []issue.Action, targetAgent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following improvement suggestions apply to this repository's %s instruction files.\n", agentLabel(targetAgent))
	b.WriteString("Write a concise plan for applying each one. Do NOT modify any files yet.\n\n")

	if len(errorActions) > 0 {
		b.WriteString("Error fixes already applied in this session:\n")
		for _, a := range errorActions {
			fmt.Fprintf(&b, "- [%s] %s", a.Status, a.File)
			if a.ShortSummary != "" {
				b.WriteString(": " + a.ShortSummary)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(listIssues(issues))
	b.WriteString("\nRespond with the plan as plain text.\n")
	return b.String()
}

// buildSuggestionExecutePrompt embeds the plan and asks for the enrichments.
func buildSuggestionExecutePrompt(plan string, batch []issue.Issue, targetAgent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Apply the following improvements to this repository's %s instruction files,\n", agentLabel(targetAgent))
	b.WriteString("following the plan below. Edit the files in place.\n\n")
	b.WriteString("Plan:\n" + plan + "\n\n")
	b.WriteString("Improvements to apply now:\n" + listIssues(batch))
	b.WriteString("\n" + actionSchema + "\n")
	return b.String()
}

// agentLabel maps the target-agent option to the file class named in prompts.
func agentLabel(targetAgent string) string {
	switch targetAgent {
	case "claude-code":
		return "CLAUDE.md"
	case "github-copilot":
		return "GitHub Copilot"
	case "cursor":
		return "Cursor rules"
	default:
		return "AGENTS.md"
	}
}

// parseActions extracts the structured action summary from an execute
// response. Batch-local indices are shifted to global ones by offset.
// An unparseable summary is not fatal; the diff still stands.
func parseActions(text string, offset int) []issue.Action {
	raw := provider.ExtractJSON(text, "actions")
	if raw == "" {
		return nil
	}

	var payload struct {
		Actions []issue.Action `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}

	for i := range payload.Actions {
		payload.Actions[i].IssueIndex += offset
		if payload.Actions[i].OutputType == "" {
			payload.Actions[i].OutputType = issue.OutputStandard
		}
	}
	return payload.Actions
}
