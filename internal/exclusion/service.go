package exclusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
	"github.com/helixir/paper-recommender/internal/repository"
)

// List paging bounds.
const (
	DefaultListLimit = 500
	MaxListLimit     = 5000
)

// Service reads the latest run through the exclusion filter and manages excludes.
type Service struct {
	runs     repository.RunRepository
	excludes repository.ExcludeRepository
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a Service. metrics may be nil.
func NewService(
	runs repository.RunRepository,
	excludes repository.ExcludeRepository,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		runs:     runs,
		excludes: excludes,
		metrics:  metrics,
		logger:   logger.With().Str("component", "exclusion").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Latest returns the newest run with excluded items removed.
// Returns domain.ErrNotFound when no run exists.
func (s *Service) Latest(ctx context.Context) (*domain.RecommendationRun, error) {
	run, err := s.runs.Latest(ctx)
	if err != nil {
		return nil, err
	}

	keys := KeySetFor(run.Items)
	if keys.IsEmpty() {
		return run, nil
	}
	excludes, err := s.excludes.FindMatching(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load excludes: %w", err)
	}

	before := len(run.Items)
	run.Items = Filter(run.Items, excludes)
	if hidden := before - len(run.Items); hidden > 0 {
		s.logger.Debug().
			Str("run_id", run.ID.String()).
			Int("hidden", hidden).
			Msg("excluded recommendation items")
		if s.metrics != nil {
			s.metrics.RecordItemsExcluded(hidden)
		}
	}
	return run, nil
}

// CreateFromItem excludes a stored recommendation item. When an exclude
// already matches one of the item's keys, the newest such exclude is returned
// with created=false; its reason is filled in only if it had none.
func (s *Service) CreateFromItem(ctx context.Context, itemID uuid.UUID, reason string) (ex *domain.RecommendationExclude, created bool, err error) {
	item, err := s.runs.GetItem(ctx, itemID)
	if err != nil {
		return nil, false, err
	}

	keys := KeysFor(*item)
	if keys.IsEmpty() {
		return nil, false, fmt.Errorf("cannot build exclusion key from item %s: %w", itemID, domain.ErrNoExclusionKey)
	}
	reason = strings.TrimSpace(reason)

	existing, err := s.excludes.FindLatestMatch(ctx, keys)
	switch {
	case err == nil:
		if reason != "" && strings.TrimSpace(existing.Reason) == "" {
			if existing, err = s.excludes.SetReason(ctx, existing.ID, reason); err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, err
	}

	titleNorm := keys.TitleNorm
	if titleNorm == "" {
		titleNorm = UntitledTitleNorm
	}
	ex = &domain.RecommendationExclude{
		ID:                     uuid.New(),
		DOINorm:                keys.DOINorm,
		ArxivID:                keys.ArxivID,
		SemanticScholarPaperID: keys.SemanticScholarPaperID,
		Title:                  strings.TrimSpace(item.Title),
		TitleNorm:              titleNorm,
		Reason:                 reason,
		SourceItemID:           &item.ID,
		CreatedAt:              s.now(),
	}
	if err := s.excludes.Create(ctx, ex); err != nil {
		return nil, false, err
	}

	s.logger.Info().
		Str("exclude_id", ex.ID.String()).
		Str("item_id", itemID.String()).
		Msg("created recommendation exclude")
	return ex, true, nil
}

// List returns excludes newest first. limit is clamped to 1..MaxListLimit and
// a negative offset becomes 0.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.RecommendationExclude, error) {
	limit, offset = ClampPage(limit, offset)
	return s.excludes.List(ctx, limit, offset)
}

// ClampPage applies the listing bounds.
func ClampPage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
