package recommender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/llm"
)

var pickCountPattern = regexp.MustCompile(`Pick exactly (\d+) papers`)

// queryLLM answers with n numbered queries, n taken from the schema.
func queryLLM() *fakeGenerator {
	return &fakeGenerator{fn: func(_ context.Context, _ string, user string, schema llm.JSONSchema) (map[string]interface{}, error) {
		props := schema.Schema["properties"].(map[string]interface{})
		n := props["queries"].(map[string]interface{})["minItems"].(int)
		out := make([]interface{}, n)
		for i := range out {
			out[i] = fmt.Sprintf("graph query %d", i+1)
		}
		return map[string]interface{}{"queries": out}, nil
	}}
}

// deciderLLM picks the first n candidates shown in the prompt.
func deciderLLM() *fakeGenerator {
	return &fakeGenerator{fn: func(_ context.Context, _ string, user string, _ llm.JSONSchema) (map[string]interface{}, error) {
		m := pickCountPattern.FindStringSubmatch(user)
		if m == nil {
			return nil, errors.New("no pick count in prompt")
		}
		n, _ := strconv.Atoi(m[1])

		raw := user[strings.Index(user, "Candidates (JSON):\n")+len("Candidates (JSON):\n"):]
		var rows []struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rows); err != nil {
			return nil, err
		}
		picks := make([]interface{}, 0, n)
		for _, r := range rows[:n] {
			picks = append(picks, map[string]interface{}{
				"id":        r.ID,
				"summary":   "summary",
				"one_liner": "",
				"reasons":   []interface{}{"close to the folder", "recent", "cited"},
			})
		}
		return map[string]interface{}{"picks": picks}, nil
	}}
}

type pipelineFixture struct {
	folder   uuid.UUID
	library  domain.Library
	vectors  map[uuid.UUID][]float32
	embedder *keywordEmbedder
	search   *fakeSearch
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	folder := uuid.New()
	papers := []domain.LibraryPaper{
		libraryPaper(folder, "Graph neural networks", "10.1/lib-a", "Learning on graph structured data."),
		libraryPaper(folder, "Message passing on graphs", "10.1/lib-b", "Neural message passing for graph learning."),
		libraryPaper(folder, "Graph attention networks", "10.1/lib-c", "Attention over graph neighborhoods."),
	}
	emb := &keywordEmbedder{keywords: []string{"graph", "optic", "protein"}}

	vectors := make(map[uuid.UUID][]float32, len(papers))
	for _, p := range papers {
		vectors[p.ID] = emb.embed([]string{p.EmbeddingText()})[0]
	}

	search := &fakeSearch{
		searchFn: func(context.Context, string, int, int) ([]domain.Candidate, error) {
			return []domain.Candidate{
				candidate("Graph neural networks (preprint)", "10.1/LIB-A", ""),
				candidate("message passing on graphs", "", "s-dup-title"),
				candidate("Graph transformers", "10.1/new-1", ""),
				candidate("Scalable graph sampling", "", "s-new-2"),
				candidate("Optical lens design", "10.1/new-3", ""),
				candidate("Protein folding with graph models", "10.1/new-4", ""),
			}, nil
		},
	}

	return &pipelineFixture{
		folder: folder,
		library: domain.Library{
			Folders: []domain.Folder{{ID: folder, Name: "Graphs"}},
			Papers:  papers,
		},
		vectors:  vectors,
		embedder: emb,
		search:   search,
	}
}

func (f *pipelineFixture) pipeline(query, decider llm.JSONGenerator) *Pipeline {
	p := NewPipeline(PipelineDeps{
		Search:     f.search,
		Embedder:   f.embedder,
		QueryLLM:   query,
		DeciderLLM: decider,
		Logger:     zerolog.Nop(),
	})
	p.sleep = noSleep
	return p
}

func testConfig() domain.RecommenderConfig {
	cfg := domain.DefaultRecommenderConfig()
	cfg.SeedsPerFolder = 5
	cfg.PerFolder = 2
	cfg.CrossDomain = 1
	seed := int64(11)
	cfg.RandomSeed = &seed
	return cfg
}

func itemsOfKind(items []domain.ItemIn, kind domain.ItemKind) []domain.ItemIn {
	var out []domain.ItemIn
	for _, it := range items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

func TestPipeline_Run_SingleFolder(t *testing.T) {
	f := newPipelineFixture(t)
	qllm := queryLLM()
	var progress []string

	run, err := f.pipeline(qllm, deciderLLM()).Run(context.Background(), Input{
		Library:  f.library,
		Vectors:  f.vectors,
		Config:   testConfig(),
		Progress: func(s string) { progress = append(progress, s) },
	})
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, domain.SourceLocalRecommender, run.Source)
	assert.GreaterOrEqual(t, qllm.callCount(), 1)

	folderItems := itemsOfKind(run.Items, domain.ItemKindFolder)
	require.Len(t, folderItems, 2)
	ranks := map[int]bool{}
	for _, it := range folderItems {
		ranks[it.Rank] = true
		require.NotNil(t, it.FolderID)
		assert.Equal(t, f.folder, *it.FolderID)
		require.NotNil(t, it.Score)
		assert.Equal(t, "close to the folder; recent", it.OneLiner)
		assert.Equal(t, []string{"close to the folder", "recent", "cited"}, it.Rationale["reasons"])

		for _, lib := range f.library.Papers {
			assert.NotEqual(t, strings.ToLower(lib.DOI), strings.ToLower(it.DOI))
			assert.NotEqual(t, strings.ToLower(lib.Title), strings.ToLower(it.Title))
		}
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, ranks)

	// Graph-heavy candidates outrank the optics paper for a graph folder.
	for _, it := range folderItems {
		assert.NotEqual(t, "Optical lens design", it.Title)
	}

	cross := itemsOfKind(run.Items, domain.ItemKindCrossDomain)
	require.Len(t, cross, 1)
	assert.Nil(t, cross[0].FolderID)
	assert.Equal(t, 1, cross[0].Rank)
	assert.Equal(t, []string{f.folder.String()}, cross[0].Rationale["top_folders"])

	assert.Equal(t, "Prepared library: 1 folder(s), 3 paper(s).", progress[0])
	assert.Contains(t, progress, "Generated in-domain queries for 1 folder(s).")
	assert.Contains(t, progress, "Collecting candidates: folder=Graphs")
	assert.Contains(t, progress, "Filtered candidates already in library: folders=4 cross=4")
	assert.Contains(t, progress, "Folder representatives: 1")
	assert.Contains(t, progress, "Embedding candidates: 4")
	assert.Contains(t, progress, "Deciding: folder=Graphs")
	assert.Contains(t, progress, "Deciding: cross-domain")
}

func TestPipeline_Run_Meta(t *testing.T) {
	f := newPipelineFixture(t)

	run, err := f.pipeline(queryLLM(), deciderLLM()).Run(context.Background(), Input{
		Library: f.library,
		Vectors: f.vectors,
		Config:  testConfig(),
	})
	require.NoError(t, err)

	meta := run.Meta
	assert.Equal(t, "random", meta["seed_selector"])
	assert.Equal(t, map[string]int{"library": 3, "folders": 1, "candidates_total": 4}, meta["counts"])
	assert.Equal(t, map[string]string{"provider": "fake-embed", "model": "kw-1"}, meta["embeddings"])
	assert.Empty(t, meta["fallbacks"])

	seeds := meta["seeds"].(map[string]interface{})["by_folder"].(map[string][]seedRef)
	assert.Len(t, seeds[f.folder.String()], 3, "all papers become seeds when the folder is small")

	queries := meta["queries"].(map[string]interface{})
	assert.Len(t, queries["by_folder"].(map[string][]string)[f.folder.String()], 3)
	assert.Len(t, queries["cross_domain"], 3)

	cfg, err := json.Marshal(meta["config"])
	require.NoError(t, err)
	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal(cfg, &stored))
	assert.Equal(t, testConfig().PoliteSleep.String(), stored["polite_sleep"])
}

func TestPipeline_Run_FallbacksStillProduceItems(t *testing.T) {
	f := newPipelineFixture(t)
	failing := &fakeGenerator{fn: func(context.Context, string, string, llm.JSONSchema) (map[string]interface{}, error) {
		return nil, errors.New("llm unavailable")
	}}

	run, err := f.pipeline(failing, failing).Run(context.Background(), Input{
		Library: f.library,
		Vectors: f.vectors,
		Config:  testConfig(),
	})
	require.NoError(t, err)

	assert.Len(t, itemsOfKind(run.Items, domain.ItemKindFolder), 2)
	assert.Len(t, itemsOfKind(run.Items, domain.ItemKindCrossDomain), 1)

	fallbacks := run.Meta["fallbacks"].([]fallbackRecord)
	assert.Equal(t, []fallbackRecord{
		{Stage: "query", Group: "Graphs", Reason: "llm unavailable"},
		{Stage: "query", Group: "cross-domain", Reason: "llm unavailable"},
		{Stage: "decider", Group: "Graphs", Reason: "llm unavailable"},
		{Stage: "decider", Group: "cross-domain", Reason: "llm unavailable"},
	}, fallbacks)
}

func TestPipeline_Run_SameSeedSameRun(t *testing.T) {
	f := newPipelineFixture(t)
	in := Input{Library: f.library, Vectors: f.vectors, Config: testConfig()}

	a, err := f.pipeline(queryLLM(), deciderLLM()).Run(context.Background(), in)
	require.NoError(t, err)
	b, err := f.pipeline(queryLLM(), deciderLLM()).Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, a.Items, b.Items)
	assert.Equal(t, a.Meta["seeds"], b.Meta["seeds"])
}

func TestPipeline_Run_Errors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		f := newPipelineFixture(t)
		cfg := testConfig()
		cfg.PerFolder = 0
		_, err := f.pipeline(queryLLM(), deciderLLM()).Run(context.Background(), Input{Library: f.library, Vectors: f.vectors, Config: cfg})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("missing library vector", func(t *testing.T) {
		f := newPipelineFixture(t)
		delete(f.vectors, f.library.Papers[1].ID)
		_, err := f.pipeline(queryLLM(), deciderLLM()).Run(context.Background(), Input{Library: f.library, Vectors: f.vectors, Config: testConfig()})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("embedder returns too few vectors", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.embedder.short = true
		_, err := f.pipeline(queryLLM(), deciderLLM()).Run(context.Background(), Input{Library: f.library, Vectors: f.vectors, Config: testConfig()})
		assert.ErrorIs(t, err, domain.ErrEmbeddingMismatch)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newPipelineFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.pipeline(queryLLM(), deciderLLM()).Run(ctx, Input{Library: f.library, Vectors: f.vectors, Config: testConfig()})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPipeline_Run_EmptyLibrary(t *testing.T) {
	f := newPipelineFixture(t)
	run, err := f.pipeline(queryLLM(), deciderLLM()).Run(context.Background(), Input{Config: testConfig()})
	require.NoError(t, err)
	assert.NotNil(t, run.Items)
	assert.Empty(t, itemsOfKind(run.Items, domain.ItemKindFolder))
}

func TestToItem(t *testing.T) {
	year := 2021
	c := domain.ScoredCandidate{
		Candidate: domain.Candidate{
			Key:             "ss:1",
			PaperExternalID: " s1 ",
			Title:           "  ",
			Year:            &year,
			Abstract:        strings.Repeat("a", 1600),
		},
		Score:      0.5,
		OneLiner:   "  ",
		TopFolders: []string{"f1"},
	}

	item := toItem(domain.ItemKindCrossDomain, nil, 3, c)
	assert.Equal(t, "(untitled)", item.Title)
	assert.Equal(t, "s1", item.SemanticScholarPaperID)
	assert.Equal(t, 3, item.Rank)
	assert.Empty(t, item.OneLiner)
	assert.Equal(t, map[string]interface{}{"top_folders": []string{"f1"}}, item.Rationale)
	assert.Equal(t, strings.Repeat("a", 1500)+"…", item.Abstract)
	require.NotNil(t, item.Score)
	assert.Equal(t, 0.5, *item.Score)

	folderItem := toItem(domain.ItemKindFolder, nil, 1, c)
	assert.Nil(t, folderItem.Rationale)
}
