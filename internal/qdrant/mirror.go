package qdrant

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
)

// Mirror copies freshly synced library embeddings into a VectorStore.
type Mirror struct {
	store      VectorStore
	vectorSize uint64
	logger     zerolog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewMirror creates a Mirror. Vectors whose length differs from vectorSize are skipped.
func NewMirror(store VectorStore, vectorSize uint64, logger zerolog.Logger) *Mirror {
	return &Mirror{
		store:      store,
		vectorSize: vectorSize,
		logger:     logger.With().Str("component", "qdrant_mirror").Logger(),
	}
}

// Store returns the underlying vector store.
func (m *Mirror) Store() VectorStore {
	return m.store
}

// ensure creates the collection once per process. A failure is retried on the next call.
func (m *Mirror) ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ensured {
		return nil
	}
	if err := m.store.EnsureCollection(ctx); err != nil {
		return err
	}
	m.ensured = true
	return nil
}

// Mirror upserts embeddings with their paper payload and returns the number
// of points written.
func (m *Mirror) Mirror(ctx context.Context, embeddings []domain.PaperEmbedding, papers map[uuid.UUID]domain.LibraryPaper) (int, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}
	if err := m.ensure(ctx); err != nil {
		return 0, err
	}

	points := make([]PaperPoint, 0, len(embeddings))
	for _, e := range embeddings {
		if uint64(len(e.Vector)) != m.vectorSize {
			l := observability.WithPaperContext(m.logger, e.PaperID.String(), papers[e.PaperID].DOI)
			l.Warn().
				Int("dim", len(e.Vector)).
				Uint64("want", m.vectorSize).
				Msg("skipping embedding with unexpected dimension")
			continue
		}
		p := papers[e.PaperID]
		points = append(points, PaperPoint{
			PaperID:  e.PaperID,
			Vector:   e.Vector,
			FolderID: p.FolderKey(),
			Title:    p.Title,
			Model:    e.Model,
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	if err := m.store.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("mirror embeddings: %w", err)
	}
	return len(points), nil
}
