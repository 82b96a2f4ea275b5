package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-recommender/internal/domain"
)

// Compile-time interface verification.
var _ ExcludeRepository = (*PgExcludeRepository)(nil)

const excludeColumns = `id, doi_norm, arxiv_id, semantic_scholar_paper_id, title, title_norm, reason, source_item_id, created_at`

// PgExcludeRepository is a PostgreSQL implementation of ExcludeRepository.
type PgExcludeRepository struct {
	db DBTX
}

// NewPgExcludeRepository creates a new PostgreSQL exclude repository.
func NewPgExcludeRepository(db DBTX) *PgExcludeRepository {
	return &PgExcludeRepository{db: db}
}

// Create inserts a new exclude.
func (r *PgExcludeRepository) Create(ctx context.Context, ex *domain.RecommendationExclude) error {
	if ex == nil {
		return domain.NewValidationError("exclude", "exclude cannot be nil")
	}
	if ex.ID == uuid.Nil {
		return domain.NewValidationError("id", "exclude ID is required")
	}
	if ex.TitleNorm == "" {
		return domain.NewValidationError("title_norm", "normalized title is required")
	}

	query := `
		INSERT INTO recommendation_excludes (` + excludeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		ex.ID, nullString(ex.DOINorm), nullString(ex.ArxivID), nullString(ex.SemanticScholarPaperID),
		ex.Title, ex.TitleNorm, nullString(ex.Reason), ex.SourceItemID, ex.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("exclude", ex.ID.String())
		}
		return fmt.Errorf("failed to create exclude: %w", err)
	}
	return nil
}

// FindLatestMatch returns the newest exclude matching any non-empty key.
func (r *PgExcludeRepository) FindLatestMatch(ctx context.Context, keys domain.ExclusionKeys) (*domain.RecommendationExclude, error) {
	if keys.IsEmpty() {
		return nil, domain.NewNotFoundError("exclude", "no keys")
	}

	query := `SELECT ` + excludeColumns + `
		FROM recommendation_excludes
		WHERE ($1::text <> '' AND doi_norm = $1)
			OR ($2::text <> '' AND arxiv_id = $2)
			OR ($3::text <> '' AND semantic_scholar_paper_id = $3)
			OR ($4::text <> '' AND title_norm = $4)
		ORDER BY created_at DESC
		LIMIT 1`

	ex, err := scanExclude(r.db.QueryRow(ctx, query,
		keys.DOINorm, keys.ArxivID, keys.SemanticScholarPaperID, keys.TitleNorm))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("exclude", "match")
		}
		return nil, fmt.Errorf("failed to find exclude: %w", err)
	}
	return ex, nil
}

// FindMatching returns every exclude matching any key of the set.
func (r *PgExcludeRepository) FindMatching(ctx context.Context, keys domain.ExclusionKeySet) ([]domain.RecommendationExclude, error) {
	if keys.IsEmpty() {
		return []domain.RecommendationExclude{}, nil
	}

	query := `SELECT ` + excludeColumns + `
		FROM recommendation_excludes
		WHERE doi_norm = ANY($1)
			OR semantic_scholar_paper_id = ANY($2)
			OR arxiv_id = ANY($3)
			OR title_norm = ANY($4)`

	return r.queryExcludes(ctx, query,
		nonNil(keys.DOIs), nonNil(keys.S2IDs), nonNil(keys.ArxivIDs), nonNil(keys.Titles))
}

// SetReason stores reason on an exclude and returns the updated row.
func (r *PgExcludeRepository) SetReason(ctx context.Context, id uuid.UUID, reason string) (*domain.RecommendationExclude, error) {
	query := `
		UPDATE recommendation_excludes
		SET reason = $2
		WHERE id = $1
		RETURNING ` + excludeColumns

	ex, err := scanExclude(r.db.QueryRow(ctx, query, id, nullString(reason)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("exclude", id.String())
		}
		return nil, fmt.Errorf("failed to update exclude reason: %w", err)
	}
	return ex, nil
}

// List returns excludes newest first.
func (r *PgExcludeRepository) List(ctx context.Context, limit, offset int) ([]domain.RecommendationExclude, error) {
	query := `SELECT ` + excludeColumns + `
		FROM recommendation_excludes
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	return r.queryExcludes(ctx, query, limit, offset)
}

func (r *PgExcludeRepository) queryExcludes(ctx context.Context, query string, args ...interface{}) ([]domain.RecommendationExclude, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query excludes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RecommendationExclude, 0)
	for rows.Next() {
		ex, err := scanExclude(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exclude: %w", err)
		}
		out = append(out, *ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating excludes: %w", err)
	}
	return out, nil
}

func scanExclude(row rowScanner) (*domain.RecommendationExclude, error) {
	var (
		ex                     domain.RecommendationExclude
		doi, arxiv, s2, reason *string
	)
	err := row.Scan(&ex.ID, &doi, &arxiv, &s2, &ex.Title, &ex.TitleNorm, &reason, &ex.SourceItemID, &ex.CreatedAt)
	if err != nil {
		return nil, err
	}
	ex.DOINorm = derefString(doi)
	ex.ArxivID = derefString(arxiv)
	ex.SemanticScholarPaperID = derefString(s2)
	ex.Reason = derefString(reason)
	return &ex, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
