package recommender

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/llm"
	"github.com/helixir/paper-recommender/internal/observability"
)

const (
	itemAbstractLimit = 1500
	untitled          = "(untitled)"
	crossDomainLabel  = "cross-domain"
	crossDomainFolder = "(cross-domain)"
	unnamedFolder     = "(folder)"
)

// PipelineDeps holds the collaborators of a Pipeline.
type PipelineDeps struct {
	Search     SearchClient
	Embedder   llm.Embedder
	QueryLLM   llm.JSONGenerator
	DeciderLLM llm.JSONGenerator
	// Seeds defaults to RandomSeedSelector.
	Seeds SeedSelector
	// Metrics may be nil.
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Pipeline produces one recommendation run from a library snapshot.
type Pipeline struct {
	search   SearchClient
	embedder llm.Embedder
	queries  *QueryGenerator
	decider  *Decider
	seeds    SeedSelector
	queryLLM llm.JSONGenerator
	decLLM   llm.JSONGenerator
	metrics  *observability.Metrics
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a Pipeline.
func NewPipeline(deps PipelineDeps) *Pipeline {
	seeds := deps.Seeds
	if seeds == nil {
		seeds = RandomSeedSelector{}
	}
	return &Pipeline{
		search:   deps.Search,
		embedder: deps.Embedder,
		queries:  NewQueryGenerator(deps.QueryLLM, deps.Metrics, deps.Logger),
		decider:  NewDecider(deps.DeciderLLM, deps.Metrics, deps.Logger),
		seeds:    seeds,
		queryLLM: deps.QueryLLM,
		decLLM:   deps.DeciderLLM,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "pipeline").Logger(),
		sleep:    sleepContext,
	}
}

// Input is everything one run reads.
type Input struct {
	Library domain.Library
	// Vectors maps every library paper id to its stored unit vector.
	Vectors map[uuid.UUID][]float32
	Config  domain.RecommenderConfig
	// Progress receives human-readable status lines. May be nil.
	Progress func(string)
}

// fallbackRecord is one degraded step, kept in run meta.
type fallbackRecord struct {
	Stage  string `json:"stage"`
	Group  string `json:"group"`
	Reason string `json:"reason"`
}

type seedRef struct {
	Title string `json:"title"`
	DOI   string `json:"doi,omitempty"`
}

// folderGroup is the per-folder working state of a run.
type folderGroup struct {
	id      string
	name    string
	papers  []domain.LibraryPaper
	seeds   []domain.LibraryPaper
	queries []string
	keys    *KeySet
}

// Run executes the pipeline: seeds, queries, collection, library exclusion,
// scoring and decisions, in that order. It fails only on invalid config,
// context cancellation, or structural errors such as an embedding mismatch.
func (p *Pipeline) Run(ctx context.Context, in Input) (*domain.RunCreate, error) {
	cfg := in.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recommender config: %w", err)
	}
	progress := in.Progress
	if progress == nil {
		progress = func(string) {}
	}
	rng := newRand(cfg.RandomSeed)

	folderNames := make(map[string]string, len(in.Library.Folders))
	for _, f := range in.Library.Folders {
		folderNames[f.ID.String()] = f.Name
	}

	// Folders are visited in order of first appearance in the library.
	var groups []*folderGroup
	byID := make(map[string]*folderGroup)
	for _, paper := range in.Library.Papers {
		fid := paper.FolderKey()
		if fid == "" {
			continue
		}
		g, ok := byID[fid]
		if !ok {
			name := strings.TrimSpace(folderNames[fid])
			if name == "" {
				name = unnamedFolder
			}
			g = &folderGroup{id: fid, name: name, keys: NewKeySet()}
			byID[fid] = g
			groups = append(groups, g)
		}
		g.papers = append(g.papers, paper)
	}
	progress(fmt.Sprintf("Prepared library: %d folder(s), %d paper(s).", len(groups), len(in.Library.Papers)))

	var fallbacks []fallbackRecord
	noteFallback := func(stage, group, reason string) {
		fallbacks = append(fallbacks, fallbackRecord{Stage: stage, Group: group, Reason: reason})
	}

	for _, g := range groups {
		g.seeds = p.seeds.Select(g.papers, cfg.SeedsPerFolder, rng)
		res := p.queries.Generate(ctx, g.name, g.seeds, cfg.QueriesPerFolder, false)
		if res.IsFallback() {
			noteFallback("query", g.name, res.Reason)
		}
		g.queries = res.Value
	}
	progress(fmt.Sprintf("Generated in-domain queries for %d folder(s).", len(groups)))

	crossSeeds := p.seeds.Select(in.Library.Papers, cfg.SeedsPerFolder, rng)
	crossRes := p.queries.Generate(ctx, crossDomainFolder, crossSeeds, cfg.QueriesPerFolder, true)
	if crossRes.IsFallback() {
		noteFallback("query", crossDomainLabel, crossRes.Reason)
	}
	crossQueries := crossRes.Value
	progress("Generated cross-domain queries.")

	pool := NewCandidatePool()
	agg := NewAggregator(p.search, p.metrics, p.logger)
	agg.sleep = p.sleep
	agg.progress = progress

	for _, g := range groups {
		progress("Collecting candidates: folder=" + g.name)
		if err := agg.Collect(ctx, cfg, pool, g.keys, g.queries, g.seeds); err != nil {
			return nil, fmt.Errorf("collecting candidates for folder %s: %w", g.id, err)
		}
	}
	progress("Collecting candidates: cross-domain")
	crossKeys := NewKeySet()
	if err := agg.Collect(ctx, cfg, pool, crossKeys, crossQueries, crossSeeds); err != nil {
		return nil, fmt.Errorf("collecting cross-domain candidates: %w", err)
	}

	keySets := make([]*KeySet, 0, len(groups)+1)
	for _, g := range groups {
		keySets = append(keySets, g.keys)
	}
	keySets = append(keySets, crossKeys)
	ExcludeLibrary(pool, NewLibraryIndex(in.Library.Papers), keySets...)

	folderTotal := 0
	for _, g := range groups {
		folderTotal += g.keys.Len()
		if p.metrics != nil {
			p.metrics.RecordCandidates(string(domain.ItemKindFolder), g.keys.Len())
		}
	}
	if p.metrics != nil {
		p.metrics.RecordCandidates(string(domain.ItemKindCrossDomain), crossKeys.Len())
	}
	progress(fmt.Sprintf("Filtered candidates already in library: folders=%d cross=%d", folderTotal, crossKeys.Len()))

	reps, err := p.representatives(groups, in.Vectors)
	if err != nil {
		return nil, err
	}
	repByFolder := make(map[string]Representative, len(reps))
	for _, r := range reps {
		repByFolder[r.FolderID] = r
	}
	progress(fmt.Sprintf("Folder representatives: %d", len(reps)))

	allKeys := unionKeys(keySets...)
	progress(fmt.Sprintf("Embedding candidates: %d", len(allKeys)))
	vectors, err := p.embedCandidates(ctx, pool, allKeys)
	if err != nil {
		return nil, err
	}

	folderScored := make(map[string][]domain.ScoredCandidate, len(groups))
	for _, g := range groups {
		rep, ok := repByFolder[g.id]
		if !ok {
			continue
		}
		scored, err := ScoreInDomain(g.keys.Keys(), pool, vectors, rep, cfg.TopCandidatesPerFolder)
		if err != nil {
			return nil, err
		}
		folderScored[g.id] = scored
	}
	crossScored, err := ScoreCrossDomain(crossKeys.Keys(), pool, vectors, reps, cfg.CrossDomainTopN, cfg.TopCandidatesCrossDomain)
	if err != nil {
		return nil, err
	}

	var items []domain.ItemIn
	for _, g := range groups {
		candidates := folderScored[g.id]
		if len(candidates) == 0 {
			continue
		}
		progress("Deciding: folder=" + g.name)
		res := p.decider.Decide(ctx, g.name, candidates, cfg.PerFolder, ModeFolder)
		if res.IsFallback() {
			noteFallback("decider", g.name, res.Reason)
			l := observability.WithFolderContext(p.logger, g.id, g.name)
			l.Info().
				Str("reason", res.Reason).
				Msg("folder picks fell back to rank order")
		}
		folderID, err := uuid.Parse(g.id)
		if err != nil {
			return nil, fmt.Errorf("folder id %q: %w", g.id, domain.ErrInvalidInput)
		}
		for i, c := range res.Value {
			items = append(items, toItem(domain.ItemKindFolder, &folderID, i+1, c))
		}
	}

	if len(crossScored) > 0 {
		progress("Deciding: cross-domain")
		res := p.decider.Decide(ctx, crossDomainLabel, crossScored, cfg.CrossDomain, ModeCrossDomain)
		if res.IsFallback() {
			noteFallback("decider", crossDomainLabel, res.Reason)
		}
		for i, c := range res.Value {
			items = append(items, toItem(domain.ItemKindCrossDomain, nil, i+1, c))
		}
	}
	if items == nil {
		items = []domain.ItemIn{}
	}

	return &domain.RunCreate{
		Source: domain.SourceLocalRecommender,
		Meta:   p.meta(cfg, groups, crossSeeds, crossQueries, len(in.Library.Papers), len(allKeys), fallbacks),
		Items:  items,
	}, nil
}

// representatives averages the stored vectors of each folder's papers.
func (p *Pipeline) representatives(groups []*folderGroup, vectors map[uuid.UUID][]float32) ([]Representative, error) {
	ids := make([]string, 0, len(groups))
	byFolder := make(map[string][][]float32, len(groups))
	for _, g := range groups {
		ids = append(ids, g.id)
		for _, paper := range g.papers {
			vec, ok := vectors[paper.ID]
			if !ok {
				return nil, fmt.Errorf("library paper %s has no embedding: %w", paper.ID, domain.ErrNotFound)
			}
			byFolder[g.id] = append(byFolder[g.id], vec)
		}
	}
	return Representatives(ids, byFolder)
}

func (p *Pipeline) embedCandidates(ctx context.Context, pool *CandidatePool, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	texts := make([]string, 0, len(keys))
	for _, k := range keys {
		c, _ := pool.Get(k)
		texts = append(texts, c.EmbeddingText())
	}

	vecs, err := p.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding candidates: %w", err)
	}
	if len(vecs) != len(keys) {
		return nil, domain.NewEmbeddingMismatchError("candidates", len(keys), len(vecs))
	}
	for i, k := range keys {
		out[k] = vecs[i]
	}
	return out, nil
}

func (p *Pipeline) meta(
	cfg domain.RecommenderConfig,
	groups []*folderGroup,
	crossSeeds []domain.LibraryPaper,
	crossQueries []string,
	libraryCount, candidateCount int,
	fallbacks []fallbackRecord,
) map[string]interface{} {
	queriesByFolder := make(map[string][]string, len(groups))
	seedsByFolder := make(map[string][]seedRef, len(groups))
	for _, g := range groups {
		queriesByFolder[g.id] = g.queries
		seedsByFolder[g.id] = seedRefs(g.seeds)
	}
	if fallbacks == nil {
		fallbacks = []fallbackRecord{}
	}

	return map[string]interface{}{
		"config":        cfg,
		"seed_selector": p.seeds.Name(),
		"queries": map[string]interface{}{
			"by_folder":    queriesByFolder,
			"cross_domain": crossQueries,
		},
		"seeds": map[string]interface{}{
			"by_folder":    seedsByFolder,
			"cross_domain": seedRefs(crossSeeds),
		},
		"embeddings": identity(p.embedder),
		"llm": map[string]interface{}{
			"query":   identity(p.queryLLM),
			"decider": identity(p.decLLM),
		},
		"counts": map[string]int{
			"library":          libraryCount,
			"folders":          len(groups),
			"candidates_total": candidateCount,
		},
		"fallbacks": fallbacks,
	}
}

type identified interface {
	Provider() string
	Model() string
}

func identity(v identified) map[string]string {
	if v == nil {
		return map[string]string{"provider": "unknown", "model": "unknown"}
	}
	return map[string]string{"provider": v.Provider(), "model": v.Model()}
}

func seedRefs(seeds []domain.LibraryPaper) []seedRef {
	out := make([]seedRef, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, seedRef{Title: s.Title, DOI: s.DOI})
	}
	return out
}

// unionKeys returns the sorted union of the sets' keys.
func unionKeys(sets ...*KeySet) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range sets {
		for _, k := range s.Keys() {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func toItem(kind domain.ItemKind, folderID *uuid.UUID, rank int, c domain.ScoredCandidate) domain.ItemIn {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = untitled
	}

	oneLiner := strings.TrimSpace(c.OneLiner)
	if oneLiner == "" && len(c.Reasons) > 0 {
		n := len(c.Reasons)
		if n > 2 {
			n = 2
		}
		oneLiner = strings.Join(c.Reasons[:n], "; ")
	}

	var rationale map[string]interface{}
	if len(c.Reasons) > 0 {
		rationale = map[string]interface{}{"reasons": c.Reasons}
	}
	if kind == domain.ItemKindCrossDomain && len(c.TopFolders) > 0 {
		if rationale == nil {
			rationale = map[string]interface{}{}
		}
		rationale["top_folders"] = c.TopFolders
	}

	score := c.Score
	return domain.ItemIn{
		Kind:                   kind,
		FolderID:               folderID,
		Rank:                   rank,
		SemanticScholarPaperID: strings.TrimSpace(c.PaperExternalID),
		Title:                  title,
		DOI:                    strings.TrimSpace(c.DOI),
		URL:                    strings.TrimSpace(c.URL),
		Year:                   c.Year,
		Venue:                  strings.TrimSpace(c.Venue),
		Authors:                c.Authors,
		Abstract:               clip(c.Abstract, itemAbstractLimit, "…"),
		Score:                  &score,
		OneLiner:               oneLiner,
		Summary:                c.Summary,
		Rationale:              rationale,
	}
}
