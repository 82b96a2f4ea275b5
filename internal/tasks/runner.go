package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/events"
	"github.com/helixir/paper-recommender/internal/observability"
	"github.com/helixir/paper-recommender/internal/recommender"
	"github.com/helixir/paper-recommender/internal/repository"
)

// Pipeline produces a recommendation run from a library snapshot.
type Pipeline interface {
	Run(ctx context.Context, in recommender.Input) (*domain.RunCreate, error)
}

// Identity names a model backend in task logs.
type Identity interface {
	Provider() string
	Model() string
}

// RunnerDeps holds the collaborators of a Runner.
type RunnerDeps struct {
	Supervisor *Supervisor
	Tasks      repository.TaskRepository
	Library    repository.LibraryRepository
	Runs       repository.RunRepository
	Sync       *EmbeddingSync
	Pipeline   Pipeline
	// Publisher defaults to events.NopPublisher.
	Publisher  events.Publisher
	QueryLLM   Identity
	DeciderLLM Identity
	Embedder   Identity
	// Config is the default pipeline configuration that task overrides apply to.
	Config  domain.RecommenderConfig
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Runner enqueues recommendation tasks and executes them in the background.
type Runner struct {
	sup        *Supervisor
	tasks      repository.TaskRepository
	library    repository.LibraryRepository
	runs       repository.RunRepository
	sync       *EmbeddingSync
	pipeline   Pipeline
	publisher  events.Publisher
	queryLLM   Identity
	deciderLLM Identity
	embedder   Identity
	config     domain.RecommenderConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDeps) *Runner {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Runner{
		sup:        deps.Supervisor,
		tasks:      deps.Tasks,
		library:    deps.Library,
		runs:       deps.Runs,
		sync:       deps.Sync,
		pipeline:   deps.Pipeline,
		publisher:  publisher,
		queryLLM:   deps.QueryLLM,
		deciderLLM: deps.DeciderLLM,
		embedder:   deps.Embedder,
		config:     deps.Config,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With().Str("component", "task_runner").Logger(),
	}
}

// Enqueue starts a task unless one is already running, in which case the
// running task is returned with created=false. The task goroutine is detached
// from ctx cancellation.
func (r *Runner) Enqueue(ctx context.Context, trigger domain.TaskTrigger, overrides domain.ConfigOverrides) (*domain.RecommendationTask, bool, error) {
	task, created, err := r.sup.Start(ctx, trigger, overrides)
	if err != nil {
		return nil, false, err
	}
	if created {
		go r.execute(context.WithoutCancel(ctx), task)
	}
	return task, created, nil
}

// Get returns a task, failing it first if it claims to run without a live goroutine.
func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*domain.RecommendationTask, error) {
	task, err := r.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.sup.Refresh(ctx, task)
}

// Latest returns the newest task, failing it first if it is stale.
func (r *Runner) Latest(ctx context.Context) (*domain.RecommendationTask, error) {
	task, err := r.tasks.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return r.sup.Refresh(ctx, task)
}

// Reconcile fails every running task left behind by a previous process.
func (r *Runner) Reconcile(ctx context.Context) (int, error) {
	n, err := r.sup.Reconcile(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		r.logger.Warn().Int("count", n).Msg("reconciled stale running tasks")
	}
	return n, nil
}

// Wait blocks until the goroutine of id has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context, id uuid.UUID) error {
	select {
	case <-r.sup.Done(id):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs one task to a terminal state. It never returns early without
// finishing the task and always unregisters it.
func (r *Runner) execute(ctx context.Context, task *domain.RecommendationTask) {
	defer r.sup.Unregister(task.ID)

	ctx = observability.WithTask(ctx, task.ID.String(), string(task.Trigger))
	logger := observability.WithTaskContext(r.logger, task.ID.String(), string(task.Trigger))
	started := time.Now()

	run, err := r.runSafely(ctx, task)
	if err == nil {
		err = r.sup.Succeed(ctx, task.ID, run.ID)
		if err == nil {
			elapsed := time.Since(started).Seconds()
			if r.metrics != nil {
				r.metrics.RecordTaskSucceeded(string(task.Trigger), elapsed)
			}
			logger.Info().
				Str("run_id", run.ID.String()).
				Int("items", len(run.Items)).
				Float64("duration_seconds", elapsed).
				Msg("recommendation task succeeded")
			r.publish(ctx, logger, task.ID, len(run.Items))
			return
		}
		logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to mark task succeeded")
		err = fmt.Errorf("failed to mark task succeeded: %w", err)
	}

	elapsed := time.Since(started).Seconds()
	logger.Error().Err(err).Msg("recommendation task failed")
	if ferr := r.sup.Fail(ctx, task.ID, err); ferr != nil {
		if errors.Is(ferr, domain.ErrConflict) {
			// Already terminal, e.g. taken over as stale by another process.
			logger.Warn().Err(ferr).Msg("task finished elsewhere")
		} else {
			logger.Error().Err(ferr).Msg("failed to mark task failed")
		}
	}
	if r.metrics != nil {
		r.metrics.RecordTaskFailed(string(task.Trigger), elapsed)
	}
	r.publish(ctx, logger, task.ID, 0)
}

// runSafely turns a panic in the pipeline into an error.
func (r *Runner) runSafely(ctx context.Context, task *domain.RecommendationTask) (run *domain.RecommendationRun, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return r.run(ctx, task)
}

func (r *Runner) run(ctx context.Context, task *domain.RecommendationTask) (*domain.RecommendationRun, error) {
	progress := func(msg string) {
		r.sup.Log(ctx, task.ID, domain.LogLevelInfo, msg)
	}

	progress("Started recommendation run.")

	cfg := task.Config.Apply(r.config)
	progress(fmt.Sprintf("LLM: query=%s decider=%s", identity(r.queryLLM), identity(r.deciderLLM)))
	progress("Embeddings: " + identity(r.embedder))

	// The pipeline scores the papers this sync embedded; anything added
	// meanwhile waits for the next run.
	snap, err := r.sync.Snapshot(ctx, progress)
	if err != nil {
		return nil, err
	}

	folders, err := r.library.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	progress(fmt.Sprintf("Loaded library: %d folder(s), %d paper(s).", len(folders), len(snap.Papers)))

	payload, err := r.pipeline.Run(ctx, recommender.Input{
		Library:  domain.Library{Folders: folders, Papers: snap.Papers},
		Vectors:  snap.Vectors,
		Config:   cfg,
		Progress: progress,
	})
	if err != nil {
		return nil, err
	}

	progress(fmt.Sprintf("Generated payload: %d item(s). Saving to DB...", len(payload.Items)))
	run, err := r.runs.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	progress(fmt.Sprintf("Saved recommendations: run_id=%s.", run.ID))

	if r.metrics != nil {
		counts := make(map[domain.ItemKind]int)
		for _, item := range payload.Items {
			counts[item.Kind]++
		}
		for kind, n := range counts {
			r.metrics.RecordItemsRecommended(string(kind), n)
		}
	}
	return run, nil
}

// publish sends the completion event. Failures are logged only.
func (r *Runner) publish(ctx context.Context, logger zerolog.Logger, id uuid.UUID, itemCount int) {
	task, err := r.tasks.Get(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to reload task for completion event")
		return
	}
	event, err := events.TaskFinishedEvent(task, itemCount)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to build completion event")
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Str("event_type", event.EventType).Msg("failed to publish completion event")
	}
}

// panicError is a recovered panic of a task goroutine.
type panicError struct {
	value interface{}
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// Kind names the error class in the task log.
func (e *panicError) Kind() string { return "Panic" }

func identity(id Identity) string {
	if id == nil {
		return "?/?"
	}
	return id.Provider() + "/" + id.Model()
}
