package evaluator

// Built-in prompt templates. Each instructs the agent to answer with a JSON
// object under an "issues" key; the runner's extraction tolerates surrounding
// prose and fenced blocks.

const issueSchema = `Respond with a JSON object in a ` + "```json" + ` fenced block:
{
  "issues": [
    {
      "title": "<short title>",
      "problem": "<what is wrong>",
      "description": "<details>",
      "location": {"startLine": <n>, "endLine": <n>},
      "snippet": "<the offending text>",
      "fix": "<concrete correction>",
      "severity": <1-10>
    }
  ]
}
Return {"issues": []} when nothing qualifies.`

const suggestionSchema = `Respond with a JSON object in a ` + "```json" + ` fenced block:
{
  "issues": [
    {
      "title": "<short title>",
      "problem": "<what could be better>",
      "description": "<details>",
      "location": {"startLine": <n>, "endLine": <n>},
      "recommendation": "<concrete improvement>",
      "impact": "<why it helps>",
      "impactLevel": "High" | "Medium" | "Low"
    }
  ]
}
Return {"issues": []} when nothing qualifies.`

const accuracyPrompt = `You are reviewing an AI-agent instruction file for factual accuracy
against the repository it lives in.

Project context:
{{PROJECT_CONTEXT}}

File: {{FILE_PATH}}
---
{{FILE_CONTENT}}
---

Verify every command, path, tool name, and claim against the actual repository
in the working directory. Report statements that are wrong: commands that do
not exist, paths that do not resolve, described behavior that contradicts the
code. Do not report style or completeness concerns.

` + issueSchema

const outdatedPrompt = `You are reviewing an AI-agent instruction file for content the
repository has since moved past.

Project context:
{{PROJECT_CONTEXT}}

File: {{FILE_PATH}}
---
{{FILE_CONTENT}}
---

Look for references to renamed or deleted files, retired tooling, obsolete
version pins, and workflow steps the repository no longer supports. Confirm
against the working directory before reporting.

` + issueSchema

const completenessPrompt = `You are reviewing an AI-agent instruction file for gaps an agent
would stumble on.

Project context:
{{PROJECT_CONTEXT}}

File: {{FILE_PATH}}
---
{{FILE_CONTENT}}
---

Report missing essentials: undocumented build or test commands an agent needs,
absent setup steps, unexplained project-specific conventions visible in the
code. Only report gaps whose answer exists in the repository.

` + issueSchema

const clarityPrompt = `You are reviewing an AI-agent instruction file for clarity.

Project context:
{{PROJECT_CONTEXT}}

File: {{FILE_PATH}}
---
{{FILE_CONTENT}}
---

Suggest improvements for ambiguous instructions, vague references ("the usual
way", "as before"), and sections an agent could reasonably misread.

` + suggestionSchema

const actionabilityPrompt = `You are reviewing an AI-agent instruction file for actionability.

Project context:
{{PROJECT_CONTEXT}}

File: {{FILE_PATH}}
---
{{FILE_CONTENT}}
---

Suggest rewrites that turn descriptions into executable steps: exact commands
instead of prose, concrete file paths instead of area names, explicit
do/don't rules instead of general advice.

` + suggestionSchema

const crossFilePrompt = `You are reviewing all AI-agent instruction files in a repository for
contradictions between them.

Project context:
{{PROJECT_CONTEXT}}

Files:
{{FILES}}

Report instructions that conflict across files: different commands for the
same task, contradictory conventions, duplicated sections that have drifted
apart. Each issue must name every involved file in "affectedFiles" and carry a
"locations" array with one entry per file.

` + issueSchema
