package dedup

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity weights. Levenshtein dominates because duplicate findings from
// different evaluators tend to be near-rewordings of the same sentence.
const (
	levenshteinWeight = 0.6
	jaccardWeight     = 0.4
)

// textSimilarity scores two lowercased texts in [0, 1] as a weighted blend
// of normalized Levenshtein similarity and word-set Jaccard similarity.
func textSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return levenshteinWeight*levenshteinSimilarity(a, b) + jaccardWeight*jaccardSimilarity(a, b)
}

// levenshteinSimilarity normalizes edit distance by the longer length.
func levenshteinSimilarity(a, b string) float64 {
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// jaccardSimilarity is |intersection| / |union| over word sets.
func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// Technology tokens used for entity-candidate grouping: issues mentioning
// the same database, ORM, or address are surfaced for future semantic dedup.
var (
	ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	technologyTokens = []string{
		"postgres", "postgresql", "mysql", "sqlite", "mongodb", "redis",
		"kafka", "rabbitmq", "nats", "elasticsearch",
		"prisma", "typeorm", "sequelize", "sqlalchemy", "gorm", "hibernate",
		"docker", "kubernetes", "terraform",
	}
)

// entityTokens extracts detected technology tokens (and IP addresses) from
// text, lowercased.
func entityTokens(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	for _, token := range technologyTokens {
		if strings.Contains(lower, token) {
			tokens = append(tokens, token)
		}
	}
	tokens = append(tokens, ipPattern.FindAllString(lower, -1)...)
	return tokens
}
