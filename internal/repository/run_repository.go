package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/paper-recommender/internal/domain"
)

// RunRepository persists recommendation runs. Runs are immutable once written.
type RunRepository interface {
	// Create stores a run and all of its items in one transaction.
	Create(ctx context.Context, run *domain.RunCreate) (*domain.RecommendationRun, error)

	// Latest returns the newest run with its items ordered by kind, folder and rank.
	// Returns domain.ErrNotFound if there are no runs.
	Latest(ctx context.Context) (*domain.RecommendationRun, error)

	// GetItem retrieves one recommendation item.
	// Returns domain.ErrNotFound if the item does not exist.
	GetItem(ctx context.Context, id uuid.UUID) (*domain.RecommendationItem, error)
}

// ExcludeRepository persists read-time exclusion rules.
type ExcludeRepository interface {
	// Create inserts a new exclude.
	Create(ctx context.Context, exclude *domain.RecommendationExclude) error

	// FindLatestMatch returns the newest exclude matching any non-empty key.
	// Returns domain.ErrNotFound if none matches.
	FindLatestMatch(ctx context.Context, keys domain.ExclusionKeys) (*domain.RecommendationExclude, error)

	// FindMatching returns every exclude matching any key of the set.
	FindMatching(ctx context.Context, keys domain.ExclusionKeySet) ([]domain.RecommendationExclude, error)

	// SetReason stores reason on an exclude and returns the updated row.
	// Returns domain.ErrNotFound if the exclude does not exist.
	SetReason(ctx context.Context, id uuid.UUID, reason string) (*domain.RecommendationExclude, error)

	// List returns excludes newest first.
	List(ctx context.Context, limit, offset int) ([]domain.RecommendationExclude, error)
}
