package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/paper-recommender/internal/domain"
)

// LibraryRepository reads the user's library. The recommender never writes to it.
type LibraryRepository interface {
	// ListFolders returns every folder, oldest first.
	ListFolders(ctx context.Context) ([]domain.Folder, error)

	// ListPapers returns every library paper, newest first.
	ListPapers(ctx context.Context) ([]domain.LibraryPaper, error)

	// GetPaper retrieves one library paper.
	// Returns domain.ErrNotFound if the paper does not exist.
	GetPaper(ctx context.Context, id uuid.UUID) (*domain.LibraryPaper, error)
}

// EmbeddingRepository caches one vector per library paper.
type EmbeddingRepository interface {
	// GetByPaperIDs returns the stored embeddings of the given papers, keyed by
	// paper id. Papers without a row are absent from the map.
	GetByPaperIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.PaperEmbedding, error)

	// Upsert inserts or replaces the given embeddings atomically.
	// Returns domain.ErrInvalidInput when a vector is empty or its Dim disagrees with it.
	Upsert(ctx context.Context, embeddings []domain.PaperEmbedding) error
}
