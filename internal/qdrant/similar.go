package qdrant

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/repository"
)

// Similar lookup bounds.
const (
	DefaultSimilarLimit = 10
	MaxSimilarLimit     = 50
)

// SimilarPaper is a library paper close to the queried one.
type SimilarPaper struct {
	Paper domain.LibraryPaper `json:"paper"`
	Score float32             `json:"score"`
}

// SimilarFinder answers similarity lookups for library papers.
type SimilarFinder struct {
	store      VectorStore
	library    repository.LibraryRepository
	embeddings repository.EmbeddingRepository
}

// NewSimilarFinder creates a SimilarFinder.
func NewSimilarFinder(store VectorStore, library repository.LibraryRepository, embeddings repository.EmbeddingRepository) *SimilarFinder {
	return &SimilarFinder{store: store, library: library, embeddings: embeddings}
}

// Similar returns up to limit library papers most similar to paperID, best
// first. The paper itself is never returned. Returns domain.ErrNotFound when
// the paper or its embedding does not exist.
func (f *SimilarFinder) Similar(ctx context.Context, paperID uuid.UUID, limit int) ([]SimilarPaper, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	if limit > MaxSimilarLimit {
		limit = MaxSimilarLimit
	}

	if _, err := f.library.GetPaper(ctx, paperID); err != nil {
		return nil, err
	}
	embs, err := f.embeddings.GetByPaperIDs(ctx, []uuid.UUID{paperID})
	if err != nil {
		return nil, err
	}
	emb, ok := embs[paperID]
	if !ok {
		return nil, domain.NewNotFoundError("paper embedding", paperID.String())
	}

	hits, err := f.store.Search(ctx, emb.Vector, uint64(limit), paperID)
	if err != nil {
		return nil, err
	}

	out := make([]SimilarPaper, 0, len(hits))
	for _, h := range hits {
		if h.PaperID == paperID {
			continue
		}
		p, err := f.library.GetPaper(ctx, h.PaperID)
		if err != nil {
			// The mirror can lag behind deletions.
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, SimilarPaper{Paper: *p, Score: h.Score})
	}
	return out, nil
}
