package remediation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/docscope/discovery"
	"github.com/c360studio/docscope/issue"
	"github.com/c360studio/docscope/provider"
)

// MergeStrategy selects how alias content is folded into the canonical file.
type MergeStrategy string

const (
	// MergeNaive appends the alias content under a delimiter comment.
	MergeNaive MergeStrategy = "naive"
	// MergeAI asks the provider to merge, falling back to naive when the
	// response is empty or implausibly short.
	MergeAI MergeStrategy = "ai"
)

// aiMergeMinRatio is the minimum acceptable AI merge length relative to the
// smaller input. Shorter output means the agent dropped content.
const aiMergeMinRatio = 0.2

// consolidation records what one pair consolidation did.
type consolidation struct {
	pair   issue.ColocatedPair
	merged bool
}

// consolidatePairs rewrites each colocated alias into an @pointer and folds
// its content into the canonical file. Already-consolidated pairs and aliases
// that are reference pointers are skipped, making the pass idempotent.
// Issue locations that pointed at an alias are re-pointed to its canonical.
func (o *Orchestrator) consolidatePairs(ctx context.Context, root string, pairs []issue.ColocatedPair, issues []issue.Issue, strategy MergeStrategy, prov provider.Provider, res *issue.RemediationResult) ([]consolidation, error) {
	var done []consolidation

	for _, pair := range pairs {
		if pair.AlreadyConsolidated {
			done = append(done, consolidation{pair: pair})
			continue
		}

		aliasFull := filepath.Join(root, pair.AliasPath)
		canonicalFull := filepath.Join(root, pair.CanonicalPath)

		aliasContent, err := os.ReadFile(aliasFull)
		if err != nil {
			return nil, fmt.Errorf("consolidate: reading %s: %w", pair.AliasPath, err)
		}
		if discovery.IsReferencePointer(string(aliasContent)) {
			done = append(done, consolidation{pair: pair})
			continue
		}

		canonicalContent, err := os.ReadFile(canonicalFull)
		if err != nil {
			return nil, fmt.Errorf("consolidate: reading %s: %w", pair.CanonicalPath, err)
		}

		merged := o.merge(ctx, string(canonicalContent), string(aliasContent), pair, strategy, prov, res)

		if err := os.WriteFile(canonicalFull, []byte(merged), 0644); err != nil {
			return nil, fmt.Errorf("consolidate: writing %s: %w", pair.CanonicalPath, err)
		}
		pointer := "@" + filepath.Base(pair.CanonicalPath) + "\n"
		if err := os.WriteFile(aliasFull, []byte(pointer), 0644); err != nil {
			return nil, fmt.Errorf("consolidate: writing %s: %w", pair.AliasPath, err)
		}

		repointIssues(issues, pair.AliasPath, pair.CanonicalPath)
		done = append(done, consolidation{pair: pair, merged: true})
	}

	return done, nil
}

// merge combines canonical and alias content per the strategy.
func (o *Orchestrator) merge(ctx context.Context, canonical, alias string, pair issue.ColocatedPair, strategy MergeStrategy, prov provider.Provider, res *issue.RemediationResult) string {
	if strategy != MergeAI {
		return naiveMerge(canonical, alias, pair.AliasPath)
	}

	prompt := buildMergePrompt(pair.CanonicalPath, canonical, pair.AliasPath, alias)
	out, err := prov.Invoke(ctx, prompt, provider.Options{WriteMode: false})
	if err != nil {
		o.logger.Warn("AI merge failed, using naive merge",
			"alias", pair.AliasPath, "error", err)
		return naiveMerge(canonical, alias, pair.AliasPath)
	}

	res.CostUSD += out.CostUSD
	res.Usage.Add(out.Usage)

	merged := strings.TrimSpace(out.Text)
	smaller := len(canonical)
	if len(alias) < smaller {
		smaller = len(alias)
	}
	if merged == "" || float64(len(merged)) < aiMergeMinRatio*float64(smaller) {
		o.logger.Warn("AI merge output implausibly short, using naive merge",
			"alias", pair.AliasPath, "got", len(merged), "smaller_input", smaller)
		return naiveMerge(canonical, alias, pair.AliasPath)
	}
	return merged + "\n"
}

// naiveMerge appends the alias content under a delimiter comment.
func naiveMerge(canonical, alias, aliasPath string) string {
	base := strings.TrimRight(canonical, "\n")
	return base + "\n\n<!-- Merged from " + filepath.Base(aliasPath) + " -->\n\n" +
		strings.TrimRight(alias, "\n") + "\n"
}

// repointIssues rewrites locations and affected files targeting the alias so
// they reference the canonical file instead.
func repointIssues(issues []issue.Issue, aliasPath, canonicalPath string) {
	for i := range issues {
		if issues[i].Location != nil && issues[i].Location.File == aliasPath {
			issues[i].Location.File = canonicalPath
		}
		for j := range issues[i].Locations {
			if issues[i].Locations[j].File == aliasPath {
				issues[i].Locations[j].File = canonicalPath
			}
		}
		for j, f := range issues[i].AffectedFiles {
			if f == aliasPath {
				issues[i].AffectedFiles[j] = canonicalPath
			}
		}
	}
}

func buildMergePrompt(canonicalPath, canonical, aliasPath, alias string) string {
	var b strings.Builder
	b.WriteString("Merge these two AI-agent instruction files into one coherent document.\n")
	b.WriteString("Keep every unique instruction; fold duplicated sections together.\n")
	b.WriteString("Respond with the merged markdown only, no commentary.\n\n")
	fmt.Fprintf(&b, "## %s\n%s\n\n## %s\n%s\n", canonicalPath, canonical, aliasPath, alias)
	return b.String()
}
