package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/database"
	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/llm"
	"github.com/helixir/paper-recommender/internal/observability"
	"github.com/helixir/paper-recommender/internal/repository"
)

// DefaultSyncBatchSize is the number of library papers embedded per batch.
const DefaultSyncBatchSize = 64

// Locker runs fn while holding a named cross-process lock.
// *database.DB implements it with a PostgreSQL advisory lock.
type Locker interface {
	WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// VectorMirror copies freshly stored embeddings into a secondary vector index.
type VectorMirror interface {
	Mirror(ctx context.Context, embeddings []domain.PaperEmbedding, papers map[uuid.UUID]domain.LibraryPaper) (int, error)
}

// EmbeddingSync keeps every library paper embedded with the active embedder.
type EmbeddingSync struct {
	library    repository.LibraryRepository
	embeddings repository.EmbeddingRepository
	embedder   llm.Embedder
	batchSize  int
	locker     Locker
	mirror     VectorMirror
	metrics    *observability.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// SyncOption configures an EmbeddingSync.
type SyncOption func(*EmbeddingSync)

// WithSyncBatchSize sets the number of papers per embedding batch.
func WithSyncBatchSize(n int) SyncOption {
	return func(s *EmbeddingSync) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLocker serializes syncs across processes.
func WithLocker(l Locker) SyncOption {
	return func(s *EmbeddingSync) { s.locker = l }
}

// WithMirror copies every synced batch into m. Mirror failures are logged only.
func WithMirror(m VectorMirror) SyncOption {
	return func(s *EmbeddingSync) { s.mirror = m }
}

// NewEmbeddingSync creates an EmbeddingSync. metrics may be nil.
func NewEmbeddingSync(
	library repository.LibraryRepository,
	embeddings repository.EmbeddingRepository,
	embedder llm.Embedder,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	opts ...SyncOption,
) *EmbeddingSync {
	s := &EmbeddingSync{
		library:    library,
		embeddings: embeddings,
		embedder:   embedder,
		batchSize:  DefaultSyncBatchSize,
		metrics:    metrics,
		logger:     logger.With().Str("component", "embedding_sync").Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot is the library as it was embedded by one sync. Every paper in
// Papers has an entry in Vectors.
type Snapshot struct {
	Papers  []domain.LibraryPaper
	Vectors map[uuid.UUID][]float32
	Synced  int
}

// Sync embeds every paper whose stored vector is missing or was produced by
// another provider or model, and returns how many it stored. progress
// receives human-readable status lines and may be nil.
func (s *EmbeddingSync) Sync(ctx context.Context, progress func(string)) (int, error) {
	snap, err := s.Snapshot(ctx, progress)
	if snap == nil {
		return 0, err
	}
	return snap.Synced, err
}

// Snapshot syncs the library and returns the papers it listed together with
// their vectors. Papers added after the listing are not part of the snapshot,
// so callers score exactly what was embedded.
func (s *EmbeddingSync) Snapshot(ctx context.Context, progress func(string)) (*Snapshot, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if s.locker == nil {
		return s.snapshot(ctx, progress)
	}

	var snap *Snapshot
	err := s.locker.WithAdvisoryLock(ctx, database.LockEmbeddingSync, func(ctx context.Context) error {
		var err error
		snap, err = s.snapshot(ctx, progress)
		return err
	})
	return snap, err
}

func (s *EmbeddingSync) snapshot(ctx context.Context, progress func(string)) (*Snapshot, error) {
	papers, err := s.library.ListPapers(ctx)
	if err != nil {
		return nil, err
	}
	synced, err := s.sync(ctx, papers, progress)
	if err != nil {
		return &Snapshot{Papers: papers, Synced: synced}, err
	}
	vectors, err := s.Vectors(ctx, papers)
	if err != nil {
		return &Snapshot{Papers: papers, Synced: synced}, err
	}
	for _, p := range papers {
		if _, ok := vectors[p.ID]; !ok {
			return nil, fmt.Errorf("library paper %s has no %s/%s embedding after sync: %w",
				p.ID, s.embedder.Provider(), s.embedder.Model(), domain.ErrConflict)
		}
	}
	return &Snapshot{Papers: papers, Vectors: vectors, Synced: synced}, nil
}

func (s *EmbeddingSync) sync(ctx context.Context, papers []domain.LibraryPaper, progress func(string)) (int, error) {
	provider, model := s.embedder.Provider(), s.embedder.Model()
	if len(papers) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(papers))
	for _, p := range papers {
		ids = append(ids, p.ID)
	}
	existing, err := s.embeddings.GetByPaperIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	var missing []domain.LibraryPaper
	for _, p := range papers {
		if e, ok := existing[p.ID]; !ok || !e.Matches(provider, model) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		progress(fmt.Sprintf("Embeddings: up-to-date (%s/%s).", provider, model))
		return 0, nil
	}
	progress(fmt.Sprintf("Embeddings: syncing %d paper(s) (%s/%s).", len(missing), provider, model))

	byID := make(map[uuid.UUID]domain.LibraryPaper, len(missing))
	for _, p := range missing {
		byID[p.ID] = p
	}

	total := len(missing)
	batches := (total + s.batchSize - 1) / s.batchSize
	upserts := 0
	for start := 0; start < total; start += s.batchSize {
		end := start + s.batchSize
		if end > total {
			end = total
		}
		chunk := missing[start:end]
		batch := start/s.batchSize + 1
		progress(fmt.Sprintf("Embeddings: batch %d/%d (%d paper(s))...", batch, batches, len(chunk)))

		rows, err := s.embedBatch(ctx, chunk, provider, model)
		if err != nil {
			return upserts, err
		}
		if err := s.embeddings.Upsert(ctx, rows); err != nil {
			return upserts, fmt.Errorf("failed to store embeddings: %w", err)
		}
		upserts += len(rows)
		s.mirrorBatch(ctx, rows, byID)

		progress(fmt.Sprintf("Embeddings: batch %d/%d done (%d/%d).", batch, batches, upserts, total))
	}

	progress(fmt.Sprintf("Embeddings: synced %d paper(s).", upserts))
	if s.metrics != nil {
		s.metrics.RecordEmbeddingsSynced(upserts)
	}
	return upserts, nil
}

func (s *EmbeddingSync) embedBatch(ctx context.Context, chunk []domain.LibraryPaper, provider, model string) ([]domain.PaperEmbedding, error) {
	texts := make([]string, 0, len(chunk))
	for _, p := range chunk {
		texts = append(texts, p.EmbeddingText())
	}

	start := time.Now()
	vecs, err := s.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed library papers: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordEmbeddingRequest(provider, model, len(texts), time.Since(start).Seconds())
	}
	if len(vecs) != len(chunk) {
		return nil, domain.NewEmbeddingMismatchError("library sync count", len(chunk), len(vecs))
	}

	dim := len(vecs[0])
	now := s.now().UTC()
	rows := make([]domain.PaperEmbedding, 0, len(chunk))
	for i, p := range chunk {
		if len(vecs[i]) != dim {
			return nil, domain.NewEmbeddingMismatchError("library sync dimension", dim, len(vecs[i]))
		}
		rows = append(rows, domain.PaperEmbedding{
			PaperID:   p.ID,
			Provider:  provider,
			Model:     model,
			Dim:       dim,
			Vector:    vecs[i],
			UpdatedAt: now,
		})
	}
	return rows, nil
}

func (s *EmbeddingSync) mirrorBatch(ctx context.Context, rows []domain.PaperEmbedding, papers map[uuid.UUID]domain.LibraryPaper) {
	if s.mirror == nil {
		return
	}
	n, err := s.mirror.Mirror(ctx, rows, papers)
	if err != nil {
		s.logger.Warn().Err(err).Int("batch_size", len(rows)).Msg("vector mirror failed, continuing")
		return
	}
	l := observability.WithProviderContext(s.logger, s.embedder.Provider(), s.embedder.Model())
	l.Debug().Int("mirrored", n).Msg("mirrored embeddings")
}

// Vectors returns the stored vectors of papers that were produced by the
// active embedder, keyed by paper id.
func (s *EmbeddingSync) Vectors(ctx context.Context, papers []domain.LibraryPaper) (map[uuid.UUID][]float32, error) {
	provider, model := s.embedder.Provider(), s.embedder.Model()

	ids := make([]uuid.UUID, 0, len(papers))
	for _, p := range papers {
		ids = append(ids, p.ID)
	}
	stored, err := s.embeddings.GetByPaperIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID][]float32, len(stored))
	for id, e := range stored {
		if e.Matches(provider, model) {
			out[id] = e.Vector
		}
	}
	return out, nil
}
