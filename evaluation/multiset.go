package evaluation

import (
	"reflect"

	"github.com/c360studio/docscope/issue"
)

// multiset tracks issues removed by deduplication so they can be filtered out
// of the result buckets. Issues carry slices and pointers, so membership is
// by deep equality; each removed issue is consumed at most once.
type multiset struct {
	items    []issue.Issue
	consumed []bool
}

func newMultiset(items []issue.Issue) *multiset {
	return &multiset{
		items:    items,
		consumed: make([]bool, len(items)),
	}
}

// take consumes one occurrence equal to iss, reporting whether one was found.
func (m *multiset) take(iss *issue.Issue) bool {
	for i := range m.items {
		if m.consumed[i] {
			continue
		}
		if reflect.DeepEqual(m.items[i], *iss) {
			m.consumed[i] = true
			return true
		}
	}
	return false
}

// filter returns bucket without the issues present in the multiset.
func (m *multiset) filter(bucket []issue.Issue) []issue.Issue {
	out := bucket[:0]
	for i := range bucket {
		if !m.take(&bucket[i]) {
			out = append(out, bucket[i])
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
