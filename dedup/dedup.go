// Package dedup clusters duplicate issues by location overlap and text
// similarity, keeping one representative per equivalence class.
package dedup

import (
	"fmt"

	"github.com/c360studio/docscope/issue"
)

// Options tunes the deduplication thresholds.
type Options struct {
	// LineTolerance is the ± line slack when testing location overlap.
	LineTolerance int
	// SimilarityThreshold is the minimum blended text similarity for two
	// issues to be considered duplicates.
	SimilarityThreshold float64
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		LineTolerance:       5,
		SimilarityThreshold: 0.75,
	}
}

// Cluster records one equivalence class: the kept representative, the issues
// it absorbed, and a human-readable reason.
type Cluster struct {
	Representative issue.Issue   `json:"representative"`
	Duplicates     []issue.Issue `json:"duplicates"`
	Reason         string        `json:"reason"`
}

// Result is the outcome of one dedup run. kept ∪ removed equals the input;
// every removed issue appears in exactly one cluster's duplicates.
type Result struct {
	Kept     []issue.Issue `json:"kept"`
	Removed  []issue.Issue `json:"removed"`
	Clusters []Cluster     `json:"clusters"`

	// LocationCandidates are location clusters whose members overlapped but
	// never crossed the text-similarity threshold; surfaced for future
	// semantic dedup.
	LocationCandidates [][]issue.Issue `json:"locationCandidates,omitempty"`

	// EntityCandidates groups issues sharing a detected technology token.
	EntityCandidates map[string][]issue.Issue `json:"entityCandidates,omitempty"`
}

// Deduplicate runs the two-stage algorithm: location-overlap clustering, then
// text similarity + union-find within each cluster. O(n²) pair scans are fine
// at per-job issue counts.
func Deduplicate(input []issue.Issue, opts Options) *Result {
	result := &Result{
		EntityCandidates: entityCandidates(input),
	}

	if len(input) <= 1 {
		result.Kept = append(result.Kept, input...)
		return result
	}

	for _, cluster := range locationClusters(input, opts.LineTolerance) {
		if len(cluster) == 1 {
			result.Kept = append(result.Kept, cluster[0])
			continue
		}
		dedupeCluster(cluster, opts, result)
	}

	return result
}

// locationClusters groups issues whose locations overlap within tolerance.
func locationClusters(input []issue.Issue, tolerance int) [][]issue.Issue {
	clustered := make([]bool, len(input))
	var clusters [][]issue.Issue

	for i := range input {
		if clustered[i] {
			continue
		}
		cluster := []issue.Issue{input[i]}
		clustered[i] = true

		for j := i + 1; j < len(input); j++ {
			if clustered[j] {
				continue
			}
			if locationsOverlap(&input[i], &input[j], tolerance) {
				cluster = append(cluster, input[j])
				clustered[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}

	return clusters
}

// locationsOverlap tests any location of a against any location of b.
func locationsOverlap(a, b *issue.Issue, tolerance int) bool {
	for _, la := range a.AllLocations() {
		for _, lb := range b.AllLocations() {
			if la.File != lb.File {
				continue
			}
			if la.StartLine-tolerance <= lb.EndLine && lb.StartLine-tolerance <= la.EndLine {
				return true
			}
		}
	}
	return false
}

// dedupeCluster marks similar pairs inside one location cluster, unions them
// into equivalence classes, and appends kept/removed/clusters to result.
func dedupeCluster(cluster []issue.Issue, opts Options, result *Result) {
	n := len(cluster)
	uf := newUnionFind(n)

	type pairScore struct {
		a, b  int
		score float64
	}
	var similar []pairScore

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			score := textSimilarity(cluster[i].PrimaryText(), cluster[j].PrimaryText())
			if score >= opts.SimilarityThreshold {
				similar = append(similar, pairScore{i, j, score})
				uf.union(i, j)
			}
		}
	}

	if len(similar) == 0 {
		// Overlapping locations but no textual match: keep everything and
		// surface the cluster as a candidate for semantic dedup.
		result.Kept = append(result.Kept, cluster...)
		result.LocationCandidates = append(result.LocationCandidates, cluster)
		return
	}

	maxScore := make(map[int]float64)
	for _, p := range similar {
		root := uf.find(p.a)
		if p.score > maxScore[root] {
			maxScore[root] = p.score
		}
	}

	classes := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		classes[root] = append(classes[root], i)
	}

	for root, members := range classes {
		if len(members) == 1 {
			result.Kept = append(result.Kept, cluster[members[0]])
			continue
		}

		best := members[0]
		for _, m := range members[1:] {
			if representativeScore(&cluster[m]) > representativeScore(&cluster[best]) {
				best = m
			}
		}

		rep := cluster[best]
		var dups []issue.Issue
		for _, m := range members {
			if m != best {
				dups = append(dups, cluster[m])
			}
		}

		result.Kept = append(result.Kept, rep)
		result.Removed = append(result.Removed, dups...)
		result.Clusters = append(result.Clusters, Cluster{
			Representative: rep,
			Duplicates:     dups,
			Reason: fmt.Sprintf("Same location (±%d lines), %.0f%% similar",
				opts.LineTolerance, maxScore[root]*100),
		})
	}
}

// representativeScore ranks issues within an equivalence class: base score by
// severity or impact, plus small completeness bonuses.
func representativeScore(i *issue.Issue) float64 {
	var score float64
	if i.Kind == issue.KindError {
		score = float64(i.Severity * 10)
	} else {
		switch i.ImpactLevel {
		case issue.ImpactHigh:
			score = 80
		case issue.ImpactMedium:
			score = 50
		default:
			score = 30
		}
	}

	if i.Problem != "" {
		score += 5
	}
	if i.Impact != "" {
		score += 5
	}
	if i.Fix != "" || i.Recommendation != "" {
		score += 5
	}
	if i.Snippet != "" {
		score += 5
	}
	score += float64(len(i.Description)) / 100

	return score
}

// entityCandidates groups issues by shared technology token.
func entityCandidates(input []issue.Issue) map[string][]issue.Issue {
	groups := make(map[string][]issue.Issue)
	for _, iss := range input {
		for _, token := range entityTokens(iss.PrimaryText()) {
			groups[token] = append(groups[token], iss)
		}
	}
	for token, members := range groups {
		if len(members) < 2 {
			delete(groups, token)
		}
	}
	if len(groups) == 0 {
		return nil
	}
	return groups
}
