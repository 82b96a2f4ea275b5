package recommender

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
)

// SearchClient is the external scholarly index. Implementations return an
// empty result for unknown DOIs.
type SearchClient interface {
	Search(ctx context.Context, query string, limit, offset int) ([]domain.Candidate, error)
	References(ctx context.Context, doi string, limit, offset int) ([]domain.Candidate, error)
	Citations(ctx context.Context, doi string, limit, offset int) ([]domain.Candidate, error)
}

// Search operations, used as metric labels.
const (
	opSearch     = "search"
	opReferences = "references"
	opCitations  = "citations"
)

// CandidatePool holds every candidate seen during a run, keyed by identity.
// The first record seen for a key wins.
type CandidatePool struct {
	byKey map[string]domain.Candidate
	order []string
}

// NewCandidatePool creates an empty pool.
func NewCandidatePool() *CandidatePool {
	return &CandidatePool{byKey: make(map[string]domain.Candidate)}
}

// Get returns the candidate stored under key.
func (p *CandidatePool) Get(key string) (domain.Candidate, bool) {
	c, ok := p.byKey[key]
	return c, ok
}

// Len returns the number of distinct candidates.
func (p *CandidatePool) Len() int {
	return len(p.order)
}

// add stores c if its key is new and returns the key. Untitled candidates
// are dropped and yield "".
func (p *CandidatePool) add(c domain.Candidate) string {
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return ""
	}
	key := domain.CandidateKey(c.DOI, c.PaperExternalID, c.Title)
	if _, seen := p.byKey[key]; !seen {
		c.Key = key
		p.byKey[key] = c
		p.order = append(p.order, key)
	}
	return key
}

// KeySet is an insertion-ordered set of candidate keys belonging to one group.
type KeySet struct {
	keys []string
	seen map[string]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// Add inserts key unless it is already present.
func (s *KeySet) Add(key string) {
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.keys = append(s.keys, key)
}

// Keys returns the keys in insertion order.
func (s *KeySet) Keys() []string {
	return s.keys
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	return len(s.keys)
}

// retain keeps only the keys for which keep returns true, preserving order.
func (s *KeySet) retain(keep func(string) bool) {
	kept := s.keys[:0]
	for _, k := range s.keys {
		if keep(k) {
			kept = append(kept, k)
		} else {
			delete(s.seen, k)
		}
	}
	s.keys = kept
}

// Aggregator collects candidates for a group by running its queries and
// walking its seeds' references and citations, one call at a time.
type Aggregator struct {
	client   SearchClient
	metrics  *observability.Metrics
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	progress func(string)
}

// NewAggregator creates an Aggregator. metrics may be nil.
func NewAggregator(client SearchClient, metrics *observability.Metrics, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		client:   client,
		metrics:  metrics,
		logger:   logger.With().Str("component", "aggregator").Logger(),
		sleep:    sleepContext,
		progress: func(string) {},
	}
}

// Collect adds everything the group's queries and seeds turn up to pool and
// group. A failed external call is logged and counted and yields nothing; only
// context cancellation aborts collection.
func (a *Aggregator) Collect(
	ctx context.Context,
	cfg domain.RecommenderConfig,
	pool *CandidatePool,
	group *KeySet,
	queries []string,
	seeds []domain.LibraryPaper,
) error {
	for _, q := range queries {
		a.progress("Search: " + q)
		a.absorb(pool, group, a.call(ctx, opSearch, q, func() ([]domain.Candidate, error) {
			return a.client.Search(ctx, q, cfg.SearchLimit, 0)
		}))
		if err := a.sleep(ctx, cfg.PoliteSleep); err != nil {
			return err
		}
	}

	for _, s := range seeds {
		doi := strings.TrimSpace(s.DOI)
		if doi == "" {
			continue
		}
		a.progress("References/Citations: doi=" + doi)

		a.absorb(pool, group, a.call(ctx, opReferences, doi, func() ([]domain.Candidate, error) {
			return a.client.References(ctx, doi, cfg.RefLimit, 0)
		}))
		if err := a.sleep(ctx, cfg.PoliteSleep); err != nil {
			return err
		}

		a.absorb(pool, group, a.call(ctx, opCitations, doi, func() ([]domain.Candidate, error) {
			return a.client.Citations(ctx, doi, cfg.CitationLimit, 0)
		}))
		if err := a.sleep(ctx, cfg.PoliteSleep); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (a *Aggregator) call(ctx context.Context, op, arg string, fn func() ([]domain.Candidate, error)) []domain.Candidate {
	if ctx.Err() != nil {
		return nil
	}
	if a.metrics != nil {
		a.metrics.RecordSearchStarted(op)
	}

	start := time.Now()
	results, err := fn()
	elapsed := time.Since(start).Seconds()
	if err != nil {
		l := observability.WithSearchContext(a.logger, arg, op)
		l.Warn().Err(err).
			Msg("external search failed, continuing with no results")
		if a.metrics != nil {
			a.metrics.RecordSearchFailed(op, elapsed)
		}
		return nil
	}

	if a.metrics != nil {
		a.metrics.RecordSearchCompleted(op, len(results), elapsed)
	}
	return results
}

func (a *Aggregator) absorb(pool *CandidatePool, group *KeySet, results []domain.Candidate) {
	for _, c := range results {
		if key := pool.add(c); key != "" {
			group.Add(key)
		}
	}
}

// LibraryIndex answers whether a candidate is already in the library, by
// lowercase DOI or lowercase title.
type LibraryIndex struct {
	dois   map[string]struct{}
	titles map[string]struct{}
}

// NewLibraryIndex indexes papers by DOI and title.
func NewLibraryIndex(papers []domain.LibraryPaper) *LibraryIndex {
	idx := &LibraryIndex{
		dois:   make(map[string]struct{}, len(papers)),
		titles: make(map[string]struct{}, len(papers)),
	}
	for _, p := range papers {
		if d := strings.ToLower(strings.TrimSpace(p.DOI)); d != "" {
			idx.dois[d] = struct{}{}
		}
		if t := strings.ToLower(strings.TrimSpace(p.Title)); t != "" {
			idx.titles[t] = struct{}{}
		}
	}
	return idx
}

// Contains reports whether c matches a library paper.
func (idx *LibraryIndex) Contains(c domain.Candidate) bool {
	if d := strings.ToLower(strings.TrimSpace(c.DOI)); d != "" {
		if _, ok := idx.dois[d]; ok {
			return true
		}
	}
	if t := strings.ToLower(strings.TrimSpace(c.Title)); t != "" {
		if _, ok := idx.titles[t]; ok {
			return true
		}
	}
	return false
}

// ExcludeLibrary drops from every group the candidates already in the library.
func ExcludeLibrary(pool *CandidatePool, idx *LibraryIndex, groups ...*KeySet) {
	for _, g := range groups {
		g.retain(func(key string) bool {
			c, ok := pool.Get(key)
			return ok && !idx.Contains(c)
		})
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("polite sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
