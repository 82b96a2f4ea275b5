package recommender

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/llm"
	"github.com/helixir/paper-recommender/internal/observability"
)

const (
	queryAttempts     = 3
	querySeedLimit    = 8
	seedAbstractLimit = 500
	queryMaxTerms     = 10
	queryTopTerms     = 30
)

const querySystemPrompt = "You generate short keyword search queries for Semantic Scholar. " +
	"You must be precise and concise."

var (
	wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{2,}`)

	stopWords = map[string]struct{}{
		"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "from": {},
		"into": {}, "using": {}, "use": {}, "used": {}, "based": {}, "via": {},
		"towards": {}, "toward": {}, "approach": {}, "approaches": {}, "method": {},
		"methods": {}, "model": {}, "models": {}, "paper": {}, "study": {}, "studies": {},
		"results": {}, "result": {}, "analysis": {}, "data": {}, "new": {}, "novel": {},
		"system": {}, "systems": {}, "framework": {}, "frameworks": {}, "review": {},
	}

	defaultTopTerms = []string{"research", "paper", "method", "application", "experiment"}
	adjacentFields  = []string{"biology", "optics", "physics", "medical", "imaging", "neuroscience", "robotics"}
	paddingTerms    = []string{"research", "study", "method"}
)

// QueryGenerator writes keyword queries for one folder or for the whole library.
type QueryGenerator struct {
	llm     llm.JSONGenerator
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewQueryGenerator creates a QueryGenerator. metrics may be nil.
func NewQueryGenerator(gen llm.JSONGenerator, metrics *observability.Metrics, logger zerolog.Logger) *QueryGenerator {
	return &QueryGenerator{
		llm:     gen,
		metrics: metrics,
		logger:  logger.With().Str("component", "query_generator").Logger(),
	}
}

// Generate returns exactly max(1, n) non-empty queries. It tries the LLM up to
// three times and then falls back to deterministic keyword extraction.
func (g *QueryGenerator) Generate(ctx context.Context, folderName string, seeds []domain.LibraryPaper, n int, crossDomain bool) Result[[]string] {
	if n < 1 {
		n = 1
	}

	schema := querySchema(n)
	user := queryPrompt(folderName, seeds, n, crossDomain)

	var lastErr error
	for attempt := 1; attempt <= queryAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		out, err := g.llm.GenerateJSON(ctx, querySystemPrompt, user, schema)
		if err == nil {
			var queries []string
			queries, err = cleanQueries(out, n)
			if err == nil {
				return okResult(queries)
			}
		}
		lastErr = err
		g.logger.Warn().Err(err).
			Str("folder", folderName).
			Int("attempt", attempt).
			Msg("query generation attempt failed")
	}

	reason := "query generation failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	if g.metrics != nil {
		g.metrics.RecordFallback("query", "llm")
	}
	return fallbackResult(FallbackQueries(folderName, seeds, n, crossDomain), reason)
}

func querySchema(n int) llm.JSONSchema {
	return llm.JSONSchema{
		Name: "semantic_scholar_queries",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"queries": map[string]interface{}{
					"type":     "array",
					"items":    map[string]interface{}{"type": "string"},
					"minItems": n,
					"maxItems": n,
				},
			},
			"required":             []string{"queries"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func queryPrompt(folderName string, seeds []domain.LibraryPaper, n int, crossDomain bool) string {
	mode := "in-domain"
	if crossDomain {
		mode = "cross-domain"
	}

	if len(seeds) > querySeedLimit {
		seeds = seeds[:querySeedLimit]
	}
	briefs := make([]string, 0, len(seeds))
	for _, s := range seeds {
		briefs = append(briefs, seedBrief(s))
	}
	seedText := strings.Join(briefs, "\n")
	if seedText == "" {
		seedText = "(no seeds)"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: Generate %d Semantic Scholar search queries.\n", n)
	fmt.Fprintf(&sb, "Mode: %s\n", mode)
	fmt.Fprintf(&sb, "Folder: %s\n\n", folderName)
	sb.WriteString("Constraints:\n")
	sb.WriteString("- Each query should be 4-10 keywords.\n")
	sb.WriteString("- Do NOT use quotes, parentheses, or boolean operators.\n")
	sb.WriteString("- Use plain English keywords (technical terms OK).\n")
	sb.WriteString("- Cross-domain mode: include at least 1 query that would surface papers from a different field " +
		"but plausibly applicable to the folder topic.\n\n")
	fmt.Fprintf(&sb, "Seeds:\n%s\n", seedText)
	return sb.String()
}

func seedBrief(p domain.LibraryPaper) string {
	title := strings.TrimSpace(p.Title)
	abstract := strings.TrimSpace(p.Abstract)
	if title == "" && abstract == "" {
		return "(missing title/abstract)"
	}
	if abstract == "" {
		return "- " + title
	}
	return "- " + title + "\n  " + clip(abstract, seedAbstractLimit, "...")
}

// cleanQueries keeps the trimmed non-empty strings of out["queries"] and
// requires at least n of them.
func cleanQueries(out map[string]interface{}, n int) ([]string, error) {
	raw, ok := out["queries"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("LLM did not return queries[]")
	}

	cleaned := make([]string, 0, len(raw))
	for _, q := range raw {
		s, ok := q.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) < n {
		return nil, fmt.Errorf("LLM returned too few queries: %d/%d", len(cleaned), n)
	}
	return cleaned[:n], nil
}

// FallbackQueries derives n keyword queries from the folder name and seeds
// without any external call. The output depends only on its inputs.
func FallbackQueries(folderName string, seeds []domain.LibraryPaper, n int, crossDomain bool) []string {
	if n < 1 {
		n = 1
	}

	texts := make([]string, 0, 1+2*len(seeds))
	texts = append(texts, folderName)
	for _, s := range seeds {
		texts = append(texts, s.Title)
	}
	for _, s := range seeds {
		texts = append(texts, s.Abstract)
	}

	top := topTerms(tokenize(strings.Join(texts, " ")), queryTopTerms)
	if len(top) == 0 {
		top = defaultTopTerms
	}
	folderTokens := tokenize(folderName)

	queries := make([]string, 0, n)
	for i := 0; i < n; i++ {
		terms := window(top, i*6, i*6+8)
		if len(terms) < 4 {
			terms = capTerms(append(terms, top...), 8)
		}
		if len(folderTokens) > 0 {
			terms = capTerms(append(terms, folderTokens...), queryMaxTerms)
		}
		if crossDomain {
			field := adjacentFields[i%len(adjacentFields)]
			if !contains(terms, field) {
				terms = capTerms(append(terms, "application", field), queryMaxTerms)
			}
		} else if !contains(terms, "survey") {
			terms = capTerms(append(terms, "survey"), queryMaxTerms)
		}
		if len(terms) < 4 {
			terms = capTerms(append(terms, paddingTerms...), 4)
		}
		queries = append(queries, strings.Join(terms, " "))
	}
	return queries
}

// tokenize lowercases text and returns its words minus stop words, in order.
func tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := words[:0]
	for _, w := range words {
		if _, stop := stopWords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}

// topTerms returns up to limit distinct words by descending frequency,
// ties broken by first occurrence.
func topTerms(words []string, limit int) []string {
	counts := make(map[string]int, len(words))
	var order []string
	for _, w := range words {
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

// window returns a fresh copy of s[lo:hi] clamped to the slice bounds.
func window(s []string, lo, hi int) []string {
	if lo > len(s) {
		lo = len(s)
	}
	if hi > len(s) {
		hi = len(s)
	}
	out := make([]string, hi-lo)
	copy(out, s[lo:hi])
	return out
}

func capTerms(terms []string, n int) []string {
	if len(terms) > n {
		return terms[:n]
	}
	return terms
}

func contains(terms []string, s string) bool {
	for _, t := range terms {
		if t == s {
			return true
		}
	}
	return false
}

// clip trims s and cuts it to n runes, appending suffix when it was cut.
func clip(s string, n int, suffix string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimRightFunc(string(r[:n]), unicode.IsSpace) + suffix
}
