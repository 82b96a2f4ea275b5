package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-recommender/internal/domain"
)

// Compile-time interface verification.
var _ LibraryRepository = (*PgLibraryRepository)(nil)

const paperColumns = `id, folder_id, title, doi, abstract, authors, year, venue, url, created_at`

// PgLibraryRepository is a PostgreSQL implementation of LibraryRepository.
type PgLibraryRepository struct {
	db DBTX
}

// NewPgLibraryRepository creates a new PostgreSQL library repository.
func NewPgLibraryRepository(db DBTX) *PgLibraryRepository {
	return &PgLibraryRepository{db: db}
}

// ListFolders returns every folder, oldest first.
func (r *PgLibraryRepository) ListFolders(ctx context.Context) ([]domain.Folder, error) {
	query := `
		SELECT id, name, parent_id, created_at
		FROM folders
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	folders := make([]domain.Folder, 0)
	for rows.Next() {
		var f domain.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.ParentID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}
	return folders, nil
}

// ListPapers returns every library paper, newest first.
func (r *PgLibraryRepository) ListPapers(ctx context.Context) ([]domain.LibraryPaper, error) {
	query := `SELECT ` + paperColumns + `
		FROM papers
		ORDER BY created_at DESC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	papers := make([]domain.LibraryPaper, 0)
	for rows.Next() {
		var dest paperScanDest
		if err := rows.Scan(dest.destinations()...); err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}
		p, err := dest.finalize()
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating papers: %w", err)
	}
	return papers, nil
}

// GetPaper retrieves one library paper.
func (r *PgLibraryRepository) GetPaper(ctx context.Context, id uuid.UUID) (*domain.LibraryPaper, error) {
	query := `SELECT ` + paperColumns + ` FROM papers WHERE id = $1`

	var dest paperScanDest
	if err := r.db.QueryRow(ctx, query, id).Scan(dest.destinations()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", id.String())
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}
	p, err := dest.finalize()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// paperScanDest holds the destination pointers for scanning a LibraryPaper row.
type paperScanDest struct {
	paper       domain.LibraryPaper
	doi         *string
	abstract    *string
	venue       *string
	url         *string
	authorsJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *paperScanDest) destinations() []interface{} {
	return []interface{}{
		&d.paper.ID, &d.paper.FolderID, &d.paper.Title, &d.doi, &d.abstract,
		&d.authorsJSON, &d.paper.Year, &d.venue, &d.url, &d.paper.CreatedAt,
	}
}

// finalize converts scanned nullable columns into the LibraryPaper.
func (d *paperScanDest) finalize() (domain.LibraryPaper, error) {
	p := d.paper
	p.DOI = derefString(d.doi)
	p.Abstract = derefString(d.abstract)
	p.Venue = derefString(d.venue)
	p.URL = derefString(d.url)
	if len(d.authorsJSON) > 0 {
		if err := json.Unmarshal(d.authorsJSON, &p.Authors); err != nil {
			return domain.LibraryPaper{}, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	return p, nil
}
