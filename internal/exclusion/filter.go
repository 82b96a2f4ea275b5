package exclusion

import (
	"strings"

	"github.com/helixir/paper-recommender/internal/domain"
)

// Matcher answers whether an item is covered by a set of excludes.
type Matcher struct {
	dois   stringSet
	arxiv  stringSet
	s2     stringSet
	titles stringSet
}

// NewMatcher indexes the non-empty keys of excludes.
func NewMatcher(excludes []domain.RecommendationExclude) *Matcher {
	m := &Matcher{}
	for _, e := range excludes {
		m.dois.add(strings.TrimSpace(e.DOINorm))
		m.arxiv.add(strings.TrimSpace(e.ArxivID))
		m.s2.add(strings.TrimSpace(e.SemanticScholarPaperID))
		m.titles.add(strings.TrimSpace(e.TitleNorm))
	}
	return m
}

// Excluded reports whether any key of item matches an exclude.
func (m *Matcher) Excluded(item domain.RecommendationItem) bool {
	k := KeysFor(item)
	return m.s2.has(k.SemanticScholarPaperID) ||
		m.dois.has(k.DOINorm) ||
		m.arxiv.has(k.ArxivID) ||
		m.titles.has(k.TitleNorm)
}

// Filter returns the items no exclude matches, in their original order.
func Filter(items []domain.RecommendationItem, excludes []domain.RecommendationExclude) []domain.RecommendationItem {
	if len(items) == 0 || len(excludes) == 0 {
		return items
	}
	m := NewMatcher(excludes)
	out := make([]domain.RecommendationItem, 0, len(items))
	for _, it := range items {
		if !m.Excluded(it) {
			out = append(out, it)
		}
	}
	return out
}
