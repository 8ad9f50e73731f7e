package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/docscope/issue"
)

// Random is a provider that fabricates plausible agent responses without
// calling any external tool. It inspects the prompt to decide which response
// shape to produce, so the full pipeline can run offline. A fixed seed makes
// the output deterministic for tests.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a random provider with the given seed.
func NewRandom(seed int64) *Random {
	return &Random{
		rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1)),
	}
}

// Name returns the provider identifier.
func (r *Random) Name() string {
	return "random"
}

// Invoke fabricates a response matched to the prompt shape.
func (r *Random) Invoke(ctx context.Context, prompt string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var text string
	switch {
	case strings.Contains(prompt, "selectedIndices"):
		text = r.curationResponse(prompt)
	case strings.Contains(prompt, `"actions"`):
		text = r.actionsResponse()
	case strings.Contains(prompt, "Key Folders"):
		text = r.contextResponse()
	case strings.Contains(prompt, `"issues"`):
		text = r.issuesResponse()
	default:
		text = "Plan:\n1. Review the documentation files.\n2. Apply the requested changes."
	}

	cost := float64(r.rng.IntN(40)+10) / 1000.0
	return &Result{
		Text:    text,
		CostUSD: cost,
		Usage: issue.Usage{
			Input:  r.rng.IntN(4000) + 500,
			Output: r.rng.IntN(1500) + 100,
		},
		Duration: time.Duration(r.rng.IntN(80)+20) * time.Millisecond,
	}, nil
}

var sampleProblems = []string{
	"Setup instructions are vague and omit required environment variables",
	"Build commands are outdated and reference a removed Makefile target",
	"No guidance on how tests are organized or invoked",
	"Directory overview does not match the actual repository layout",
	"Coding conventions section contradicts the linter configuration",
}

func (r *Random) issuesResponse() string {
	n := r.rng.IntN(3) + 1
	var b strings.Builder
	b.WriteString("Here is the analysis.\n\n```json\n{\n  \"issues\": [\n")
	for i := 0; i < n; i++ {
		problem := sampleProblems[r.rng.IntN(len(sampleProblems))]
		start := r.rng.IntN(40) + 1
		fmt.Fprintf(&b, "    {\"category\": \"clarity\", \"problem\": %q, \"location\": {\"startLine\": %d, \"endLine\": %d}, \"severity\": %d}",
			problem, start, start+r.rng.IntN(10), r.rng.IntN(9)+1)
		if i < n-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("  ]\n}\n```\n")
	return b.String()
}

func (r *Random) curationResponse(prompt string) string {
	// Count the numbered descriptors to stay within range.
	n := strings.Count(prompt, "\n#")
	if n == 0 {
		n = 5
	}
	k := n
	if k > 3 {
		k = 3
	}
	var idx []string
	for i := 1; i <= k; i++ {
		idx = append(idx, fmt.Sprintf("%d", i))
	}
	return fmt.Sprintf("```json\n{\"selectedIndices\": [%s], \"rationale\": \"Ranked by breadth of impact on onboarding.\"}\n```",
		strings.Join(idx, ", "))
}

func (r *Random) actionsResponse() string {
	return "Done.\n\n```json\n{\"actions\": [{\"issueIndex\": 0, \"status\": \"fixed\", \"file\": \"AGENTS.md\", \"outputType\": \"standard\", \"shortSummary\": \"Clarified setup instructions\"}]}\n```"
}

func (r *Random) contextResponse() string {
	return strings.Join([]string{
		"Languages: Go, Markdown",
		"Frameworks: chi, cobra",
		"Architecture: Modular HTTP service with worker pools",
		"Patterns: Dependency injection, typed events",
		"Key Folders:",
		"- cmd: binary entry points",
		"- internal: service implementation",
	}, "\n")
}
