package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-recommender/internal/domain"
)

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

const itemColumns = `id, run_id, kind, folder_id, rank, semantic_scholar_paper_id, title, doi, url, year,
	venue, authors, abstract, score, one_liner, summary, rationale, created_at`

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db DBTX
}

// NewPgRunRepository creates a new PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db}
}

// Create stores a run and all of its items in one transaction.
func (r *PgRunRepository) Create(ctx context.Context, in *domain.RunCreate) (*domain.RecommendationRun, error) {
	if in == nil {
		return nil, domain.NewValidationError("run", "run cannot be nil")
	}
	if in.Source == "" {
		return nil, domain.NewValidationError("source", "run source is required")
	}

	meta := in.Meta
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run meta: %w", err)
	}

	now := time.Now().UTC()
	run := &domain.RecommendationRun{
		ID:        uuid.New(),
		Source:    in.Source,
		Meta:      meta,
		Items:     make([]domain.RecommendationItem, 0, len(in.Items)),
		CreatedAt: now,
	}

	itemQuery := `
		INSERT INTO recommendation_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	batch := &pgx.Batch{}
	for i, it := range in.Items {
		if it.Rank < 1 {
			return nil, domain.NewValidationError("rank", fmt.Sprintf("item at index %d has rank %d", i, it.Rank))
		}
		item := domain.RecommendationItem{ID: uuid.New(), RunID: run.ID, ItemIn: it, CreatedAt: now}
		args, err := itemArgs(item)
		if err != nil {
			return nil, fmt.Errorf("item at index %d: %w", i, err)
		}
		batch.Queue(itemQuery, args...)
		run.Items = append(run.Items, item)
	}

	err = inTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO recommendation_runs (id, source, meta, created_at) VALUES ($1, $2, $3, $4)`,
			run.ID, run.Source, metaJSON, run.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		if batch.Len() == 0 {
			return nil
		}

		br := tx.SendBatch(ctx, batch)
		for i := range run.Items {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				if isPgUniqueViolation(err) {
					return fmt.Errorf("duplicate rank for item at index %d: %w", i, domain.ErrConflict)
				}
				return fmt.Errorf("failed to insert item at index %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close item batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Latest returns the newest run with its ordered items.
func (r *PgRunRepository) Latest(ctx context.Context) (*domain.RecommendationRun, error) {
	var (
		run      domain.RecommendationRun
		metaJSON []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, source, meta, created_at
		FROM recommendation_runs
		ORDER BY created_at DESC
		LIMIT 1`).Scan(&run.ID, &run.Source, &metaJSON, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("recommendation run", "latest")
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &run.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run meta: %w", err)
		}
	}

	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+`
		FROM recommendation_items
		WHERE run_id = $1
		ORDER BY kind ASC, folder_id ASC NULLS FIRST, rank ASC`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run items: %w", err)
	}
	defer rows.Close()

	run.Items = make([]domain.RecommendationItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run item: %w", err)
		}
		run.Items = append(run.Items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run items: %w", err)
	}
	return &run, nil
}

// GetItem retrieves one recommendation item.
func (r *PgRunRepository) GetItem(ctx context.Context, id uuid.UUID) (*domain.RecommendationItem, error) {
	item, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM recommendation_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("recommendation item", id.String())
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func itemArgs(item domain.RecommendationItem) ([]interface{}, error) {
	authors := item.Authors
	if authors == nil {
		authors = []domain.Author{}
	}
	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authors: %w", err)
	}
	var rationaleJSON []byte
	if item.Rationale != nil {
		if rationaleJSON, err = json.Marshal(item.Rationale); err != nil {
			return nil, fmt.Errorf("failed to marshal rationale: %w", err)
		}
	}

	return []interface{}{
		item.ID, item.RunID, string(item.Kind), item.FolderID, item.Rank,
		nullString(item.SemanticScholarPaperID), item.Title, nullString(item.DOI), nullString(item.URL), item.Year,
		nullString(item.Venue), authorsJSON, nullString(item.Abstract), item.Score,
		nullString(item.OneLiner), nullString(item.Summary), rationaleJSON, item.CreatedAt,
	}, nil
}

// itemScanDest holds the destination pointers for scanning a RecommendationItem row.
type itemScanDest struct {
	item          domain.RecommendationItem
	kind          string
	s2ID          *string
	doi           *string
	url           *string
	venue         *string
	abstract      *string
	oneLiner      *string
	summary       *string
	authorsJSON   []byte
	rationaleJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *itemScanDest) destinations() []interface{} {
	return []interface{}{
		&d.item.ID, &d.item.RunID, &d.kind, &d.item.FolderID, &d.item.Rank,
		&d.s2ID, &d.item.Title, &d.doi, &d.url, &d.item.Year,
		&d.venue, &d.authorsJSON, &d.abstract, &d.item.Score,
		&d.oneLiner, &d.summary, &d.rationaleJSON, &d.item.CreatedAt,
	}
}

// finalize converts scanned nullable and JSON columns into the item.
func (d *itemScanDest) finalize() (*domain.RecommendationItem, error) {
	it := d.item
	it.Kind = domain.ItemKind(d.kind)
	it.SemanticScholarPaperID = derefString(d.s2ID)
	it.DOI = derefString(d.doi)
	it.URL = derefString(d.url)
	it.Venue = derefString(d.venue)
	it.Abstract = derefString(d.abstract)
	it.OneLiner = derefString(d.oneLiner)
	it.Summary = derefString(d.summary)

	if len(d.authorsJSON) > 0 {
		if err := json.Unmarshal(d.authorsJSON, &it.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	if len(d.rationaleJSON) > 0 {
		if err := json.Unmarshal(d.rationaleJSON, &it.Rationale); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rationale: %w", err)
		}
	}
	return &it, nil
}

func scanItem(row rowScanner) (*domain.RecommendationItem, error) {
	var dest itemScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
