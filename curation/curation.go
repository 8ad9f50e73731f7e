// Package curation selects the top-K issues of one kind via a ranking prompt,
// with a deterministic severity-sort fallback when the provider response is
// unusable. Curation selects, it never edits.
package curation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
)

// DefaultTopN is the selection size and the skip threshold.
const DefaultTopN = 30

// Notify receives curation progress events. May be nil.
type Notify func(t events.Type, data map[string]any)

// Curator ranks issues through the provider.
type Curator struct {
	provider provider.Provider
	topN     int
	logger   *slog.Logger
}

// Option configures a Curator.
type Option func(*Curator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Curator) {
		c.logger = logger
	}
}

// WithTopN overrides the selection size and skip threshold.
func WithTopN(n int) Option {
	return func(c *Curator) {
		if n > 0 {
			c.topN = n
		}
	}
}

// New creates a Curator.
func New(p provider.Provider, opts ...Option) *Curator {
	c := &Curator{
		provider: p,
		topN:     DefaultTopN,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request carries the inputs for one curation pass.
type Request struct {
	// Kind labels the pass in events ("error" or "suggestion" issues).
	Kind issue.Kind

	Issues []issue.Issue

	// WorkDir is the directory the provider runs in.
	WorkDir string

	// Timeout bounds the provider invocation.
	Timeout time.Duration

	Notify Notify
}

// Curate selects the top issues of one kind. Returns nil when the input is at
// or under the threshold: small sets are presented whole.
func (c *Curator) Curate(ctx context.Context, req Request) *issue.CuratedSet {
	if len(req.Issues) <= c.topN {
		return nil
	}

	notify := req.Notify
	if notify == nil {
		notify = func(events.Type, map[string]any) {}
	}

	notify(events.TypeCurationStarted, map[string]any{
		"type":  string(req.Kind),
		"total": len(req.Issues),
	})

	start := time.Now()
	set := c.curate(ctx, req)
	set.DurationMs = time.Since(start).Milliseconds()
	set.Summary.TotalReviewed = len(req.Issues)

	notify(events.TypeCurationCompleted, map[string]any{
		"type":     string(req.Kind),
		"selected": len(set.Issues),
	})

	return set
}

func (c *Curator) curate(ctx context.Context, req Request) *issue.CuratedSet {
	prompt := buildPrompt(req.Kind, req.Issues, c.topN)

	res, err := c.provider.Invoke(ctx, prompt, provider.Options{
		WorkDir:   req.WorkDir,
		WriteMode: false,
		Timeout:   req.Timeout,
	})
	if err != nil {
		c.logger.Warn("Curation invocation failed, using severity fallback",
			"kind", req.Kind, "error", err)
		return c.fallback(req.Issues)
	}

	indices, rationale, err := parseSelection(res.Text, len(req.Issues))
	if err != nil {
		c.logger.Warn("Curation response unusable, using severity fallback",
			"kind", req.Kind, "error", err)
		set := c.fallback(req.Issues)
		set.CostUSD = res.CostUSD
		return set
	}

	if len(indices) > c.topN {
		indices = indices[:c.topN]
	}

	selected := make([]issue.Issue, 0, len(indices))
	for _, idx := range indices {
		selected = append(selected, req.Issues[idx-1])
	}

	return &issue.CuratedSet{
		Issues:  selected,
		Summary: issue.CurationSummary{Rationale: rationale},
		CostUSD: res.CostUSD,
	}
}

// fallback sorts by effective severity descending and takes the first topN.
// The sort is stable so equal-severity issues keep input order.
func (c *Curator) fallback(input []issue.Issue) *issue.CuratedSet {
	sorted := make([]issue.Issue, len(input))
	copy(sorted, input)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveSeverity() > sorted[j].EffectiveSeverity()
	})

	return &issue.CuratedSet{
		Issues: sorted[:c.topN],
		Summary: issue.CurationSummary{
			Rationale: "Selected by severity (ranking response was unusable)",
		},
	}
}

// buildPrompt lists compact 1-based descriptors and asks for the top-K.
func buildPrompt(kind issue.Kind, issues []issue.Issue, topN int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following %d %s issues were found in a repository's AI-agent instruction files.\n", len(issues), kind)
	fmt.Fprintf(&b, "Select the %d most impactful ones.\n\n", topN)

	for i, iss := range issues {
		fmt.Fprintf(&b, "%d. %s", i+1, descriptor(&iss))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nRespond with a JSON object in a ```json fenced block:\n")
	fmt.Fprintf(&b, "{\"selectedIndices\": [<1-based indices, ranked by impact>], \"rationale\": \"<one paragraph>\"}\n")
	return b.String()
}

// descriptor is the one-line summary of an issue used in the ranking prompt.
func descriptor(iss *issue.Issue) string {
	text := iss.PrimaryText()
	if len(text) > 160 {
		text = text[:160] + "..."
	}

	loc := ""
	if locs := iss.AllLocations(); len(locs) > 0 {
		loc = fmt.Sprintf(" (%s:%d)", locs[0].File, locs[0].StartLine)
	}

	grade := ""
	if iss.Kind == issue.KindError {
		grade = fmt.Sprintf(" [severity %d]", iss.Severity)
	} else if iss.ImpactLevel != "" {
		grade = fmt.Sprintf(" [impact %s]", iss.ImpactLevel)
	}

	return text + loc + grade
}

// parseSelection extracts and validates the selected indices. Out-of-range
// and repeated indices are dropped; an empty valid set is an error so the
// caller falls back.
func parseSelection(text string, n int) ([]int, string, error) {
	raw := provider.ExtractJSON(text, "selectedIndices")
	if raw == "" {
		return nil, "", fmt.Errorf("response contains no selection JSON")
	}

	var payload struct {
		SelectedIndices []int  `json:"selectedIndices"`
		Rationale       string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, "", fmt.Errorf("parsing selection JSON: %w", err)
	}

	seen := make(map[int]bool)
	var indices []int
	for _, idx := range payload.SelectedIndices {
		if idx < 1 || idx > n || seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	if len(indices) == 0 {
		return nil, "", fmt.Errorf("selection contains no valid indices")
	}

	return indices, payload.Rationale, nil
}
