// Package exclusion hides recommendations the user dismissed.
//
// Excludes are never applied to stored runs. They are matched at read time
// against four normalized identities of each item: DOI, arXiv id, Semantic
// Scholar paper id and title.
package exclusion

import (
	"regexp"
	"sort"
	"strings"

	"github.com/helixir/paper-recommender/internal/domain"
)

// UntitledTitleNorm is stored when an excluded item has no usable title.
const UntitledTitleNorm = "(untitled)"

var (
	doiPattern      = regexp.MustCompile(`(?i)(10\.\d{4,9}/[-._;()/:A-Z0-9]+)`)
	arxivPattern    = regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/([^?#\s<>]+)`)
	titleSeparators = regexp.MustCompile(`[^0-9a-z가-힣]+`)
	doiPrefixes     = []string{"doi:", "https://doi.org/", "http://doi.org/"}
)

// NormalizeDOI extracts the first DOI in text and lowercases it.
// It returns "" when text holds no DOI.
func NormalizeDOI(text string) string {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return ""
	}
	if m := doiPattern.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}

	lowered := strings.ToLower(raw)
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			if m := doiPattern.FindStringSubmatch(strings.TrimSpace(raw[len(prefix):])); m != nil {
				return strings.ToLower(strings.TrimSpace(m[1]))
			}
			return ""
		}
	}
	return ""
}

// ExtractArxivID returns the versionless arXiv id of an abs or pdf URL, or "".
func ExtractArxivID(text string) string {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return ""
	}
	m := arxivPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}

	id := strings.ToLower(strings.TrimSpace(m[1]))
	id = strings.TrimSuffix(id, ".pdf")
	if i := strings.LastIndex(id, "v"); i > 0 && isDigits(id[i+1:]) {
		id = id[:i]
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeTitle lowercases text, turns every run of characters other than
// ASCII digits, ASCII letters and Hangul syllables into one space and trims.
func NormalizeTitle(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(titleSeparators.ReplaceAllString(s, " ")), " ")
}

// KeysFor derives the exclusion keys of an item. The DOI comes from the doi
// field, else from the URL.
func KeysFor(item domain.RecommendationItem) domain.ExclusionKeys {
	doi := NormalizeDOI(item.DOI)
	if doi == "" {
		doi = NormalizeDOI(item.URL)
	}
	return domain.ExclusionKeys{
		DOINorm:                doi,
		ArxivID:                ExtractArxivID(item.URL),
		SemanticScholarPaperID: strings.TrimSpace(item.SemanticScholarPaperID),
		TitleNorm:              NormalizeTitle(item.Title),
	}
}

// KeySetFor collects the distinct keys of items, each list sorted.
func KeySetFor(items []domain.RecommendationItem) domain.ExclusionKeySet {
	var dois, arxiv, s2, titles stringSet
	for _, it := range items {
		k := KeysFor(it)
		dois.add(k.DOINorm)
		arxiv.add(k.ArxivID)
		s2.add(k.SemanticScholarPaperID)
		titles.add(k.TitleNorm)
	}
	return domain.ExclusionKeySet{
		DOIs:     dois.sorted(),
		ArxivIDs: arxiv.sorted(),
		S2IDs:    s2.sorted(),
		Titles:   titles.sorted(),
	}
}

type stringSet map[string]struct{}

func (s *stringSet) add(v string) {
	if v == "" {
		return
	}
	if *s == nil {
		*s = make(stringSet)
	}
	(*s)[v] = struct{}{}
}

func (s stringSet) has(v string) bool {
	_, ok := s[v]
	return v != "" && ok
}

func (s stringSet) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
