package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-recommender/internal/domain"
)

// Compile-time interface verification.
var _ EmbeddingRepository = (*PgEmbeddingRepository)(nil)

// PgEmbeddingRepository is a PostgreSQL implementation of EmbeddingRepository.
// Vectors are stored as REAL[] alongside their provider, model and dimension.
type PgEmbeddingRepository struct {
	db DBTX
}

// NewPgEmbeddingRepository creates a new PostgreSQL embedding repository.
func NewPgEmbeddingRepository(db DBTX) *PgEmbeddingRepository {
	return &PgEmbeddingRepository{db: db}
}

// GetByPaperIDs returns the stored embeddings of the given papers.
func (r *PgEmbeddingRepository) GetByPaperIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.PaperEmbedding, error) {
	out := make(map[uuid.UUID]domain.PaperEmbedding, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT paper_id, provider, model, dim, vector, updated_at
		FROM paper_embeddings
		WHERE paper_id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.PaperEmbedding
		if err := rows.Scan(&e.PaperID, &e.Provider, &e.Model, &e.Dim, &e.Vector, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		out[e.PaperID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces the given embeddings in one transaction.
func (r *PgEmbeddingRepository) Upsert(ctx context.Context, embeddings []domain.PaperEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	for i, e := range embeddings {
		if e.PaperID == uuid.Nil {
			return domain.NewValidationError("paper_id", fmt.Sprintf("embedding at index %d has no paper id", i))
		}
		if len(e.Vector) == 0 || e.Dim != len(e.Vector) {
			return domain.NewValidationError("vector", fmt.Sprintf("embedding at index %d has dim %d but %d values", i, e.Dim, len(e.Vector)))
		}
	}

	query := `
		INSERT INTO paper_embeddings (paper_id, provider, model, dim, vector, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (paper_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			dim = EXCLUDED.dim,
			vector = EXCLUDED.vector,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range embeddings {
			batch.Queue(query, e.PaperID, e.Provider, e.Model, e.Dim, e.Vector, now)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range embeddings {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				if isPgForeignKeyViolation(err) {
					return domain.NewNotFoundError("paper", embeddings[i].PaperID.String())
				}
				return fmt.Errorf("failed to upsert embedding at index %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close embedding batch: %w", err)
		}
		return nil
	})
}
