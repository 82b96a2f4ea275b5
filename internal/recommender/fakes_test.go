package recommender

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/llm"
)

// fakeGenerator implements llm.JSONGenerator with a function field.
type fakeGenerator struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, system, user string, schema llm.JSONSchema) (map[string]interface{}, error)
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, system, user string, schema llm.JSONSchema) (map[string]interface{}, error) {
	f.mu.Lock()
	f.calls = append(f.calls, user)
	f.mu.Unlock()
	return f.fn(ctx, system, user, schema)
}

func (f *fakeGenerator) Provider() string { return "fake" }
func (f *fakeGenerator) Model() string    { return "fake-model" }

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeSearch implements SearchClient with function fields; nil fields return nothing.
type fakeSearch struct {
	mu          sync.Mutex
	searches    []string
	dois        []string
	searchFn    func(ctx context.Context, query string, limit, offset int) ([]domain.Candidate, error)
	referenceFn func(ctx context.Context, doi string, limit, offset int) ([]domain.Candidate, error)
	citationFn  func(ctx context.Context, doi string, limit, offset int) ([]domain.Candidate, error)
}

func (f *fakeSearch) Search(ctx context.Context, query string, limit, offset int) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.searches = append(f.searches, query)
	f.mu.Unlock()
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(ctx, query, limit, offset)
}

func (f *fakeSearch) References(ctx context.Context, doi string, limit, offset int) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.dois = append(f.dois, "ref:"+doi)
	f.mu.Unlock()
	if f.referenceFn == nil {
		return nil, nil
	}
	return f.referenceFn(ctx, doi, limit, offset)
}

func (f *fakeSearch) Citations(ctx context.Context, doi string, limit, offset int) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.dois = append(f.dois, "cit:"+doi)
	f.mu.Unlock()
	if f.citationFn == nil {
		return nil, nil
	}
	return f.citationFn(ctx, doi, limit, offset)
}

// keywordEmbedder maps text onto one axis per keyword plus a constant bias
// axis, then normalizes. Texts sharing keywords land close together.
type keywordEmbedder struct {
	keywords []string
	// short drops the last vector of every call when set.
	short bool
}

func (e *keywordEmbedder) embed(texts []string) [][]float32 {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		lower := strings.ToLower(t)
		v := make([]float32, len(e.keywords)+1)
		for i, k := range e.keywords {
			v[i] = float32(strings.Count(lower, k))
		}
		v[len(e.keywords)] = 0.1
		out = append(out, llm.Normalize(v))
	}
	if e.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out
}

func (e *keywordEmbedder) EmbedPassages(_ context.Context, texts []string) ([][]float32, error) {
	return e.embed(texts), nil
}

func (e *keywordEmbedder) EmbedQueries(_ context.Context, texts []string) ([][]float32, error) {
	return e.embed(texts), nil
}

func (e *keywordEmbedder) Provider() string { return "fake-embed" }
func (e *keywordEmbedder) Model() string    { return "kw-1" }

func libraryPaper(folder uuid.UUID, title, doi, abstract string) domain.LibraryPaper {
	f := folder
	return domain.LibraryPaper{
		ID:       uuid.New(),
		FolderID: &f,
		Title:    title,
		DOI:      doi,
		Abstract: abstract,
	}
}

func candidate(title, doi, externalID string) domain.Candidate {
	return domain.Candidate{Title: title, DOI: doi, PaperExternalID: externalID}
}

func noSleep(context.Context, time.Duration) error { return nil }
