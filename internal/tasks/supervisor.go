package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
	"github.com/helixir/paper-recommender/internal/repository"
)

// handle is the in-process record of a live task goroutine.
type handle struct {
	trigger domain.TaskTrigger
	started time.Time
	done    chan struct{}
}

// Supervisor tracks the task goroutines of this process. It is the only code
// that moves a task between statuses.
type Supervisor struct {
	tasks   repository.TaskRepository
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	// enqueueMu is held across the whole enqueue transaction and the
	// registration that follows it.
	enqueueMu sync.Mutex

	mu      sync.Mutex
	handles map[uuid.UUID]*handle
}

// NewSupervisor creates a Supervisor. metrics may be nil.
func NewSupervisor(tasks repository.TaskRepository, metrics *observability.Metrics, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		tasks:   tasks,
		metrics: metrics,
		logger:  logger.With().Str("component", "task_supervisor").Logger(),
		now:     time.Now,
		handles: make(map[uuid.UUID]*handle),
	}
}

// IsAlive reports whether id has a live goroutine in this process.
func (s *Supervisor) IsAlive(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[id]
	return ok
}

// Register records a live goroutine for id.
// Returns domain.ErrConflict if id is already registered.
func (s *Supervisor) Register(id uuid.UUID, trigger domain.TaskTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[id]; ok {
		return fmt.Errorf("task %s is already registered: %w", id, domain.ErrConflict)
	}
	s.handles[id] = &handle{trigger: trigger, started: s.now(), done: make(chan struct{})}
	return nil
}

// Unregister forgets id and wakes every Done waiter. It is a no-op for an
// unknown id.
func (s *Supervisor) Unregister(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[id]; ok {
		close(h.done)
		delete(s.handles, id)
	}
}

// Done returns a channel closed once id is unregistered. For an id that is
// not registered the channel is already closed.
func (s *Supervisor) Done(id uuid.UUID) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[id]; ok {
		return h.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Active returns the number of live task goroutines.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Start returns the running task, creating and registering a new one unless
// a live one exists. created is false when an existing task was returned.
// A running row without a live goroutine is failed as stale first.
func (s *Supervisor) Start(ctx context.Context, trigger domain.TaskTrigger, overrides domain.ConfigOverrides) (task *domain.RecommendationTask, created bool, err error) {
	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	stale := 0
	err = s.tasks.WithEnqueueLock(ctx, func(repo repository.TaskRepository) error {
		running, err := repo.LatestRunning(ctx)
		switch {
		case err == nil:
			if s.IsAlive(running.ID) {
				task = running
				return nil
			}
			if err := s.markStale(ctx, repo, running.ID); err != nil {
				return err
			}
			stale++
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("failed to load running task: %w", err)
		}

		now := s.now().UTC()
		task = &domain.RecommendationTask{
			ID:      uuid.New(),
			Trigger: trigger,
			Status:  domain.TaskStatusRunning,
			Config:  overrides,
			Logs: []domain.TaskLogEntry{{
				TS:      now,
				Level:   domain.LogLevelInfo,
				Message: fmt.Sprintf("Task created (trigger=%s).", trigger),
			}},
			StartedAt: &now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.Create(ctx, task); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueue recommendation task: %w", err)
	}

	if s.metrics != nil && stale > 0 {
		s.metrics.RecordTasksStale(stale)
	}
	if !created {
		if s.metrics != nil {
			s.metrics.RecordTaskReused()
		}
		return task, false, nil
	}

	if err := s.Register(task.ID, trigger); err != nil {
		return nil, false, err
	}
	if s.metrics != nil {
		s.metrics.RecordTaskStarted(string(trigger))
	}
	s.logger.Info().
		Str("task_id", task.ID.String()).
		Str("trigger", string(trigger)).
		Int("stale_taken_over", stale).
		Msg("recommendation task created")
	return task, true, nil
}

// Succeed marks a running task succeeded with its run.
func (s *Supervisor) Succeed(ctx context.Context, id, runID uuid.UUID) error {
	now := s.now().UTC()
	return s.tasks.Finish(ctx, id, repository.TaskFinish{
		Status:     domain.TaskStatusSucceeded,
		RunID:      &runID,
		FinishedAt: now,
		Log:        domain.TaskLogEntry{TS: now, Level: domain.LogLevelInfo, Message: "Done."},
	})
}

// Fail marks a running task failed with cause. The task error keeps the
// message; the log line also names the error kind.
func (s *Supervisor) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	now := s.now().UTC()
	msg := cause.Error()
	return s.tasks.Finish(ctx, id, repository.TaskFinish{
		Status:     domain.TaskStatusFailed,
		Error:      msg,
		FinishedAt: now,
		Log: domain.TaskLogEntry{
			TS:      now,
			Level:   domain.LogLevelError,
			Message: fmt.Sprintf("Failed: %s: %s", domain.ErrorKind(cause), msg),
		},
	})
}

func (s *Supervisor) markStale(ctx context.Context, repo repository.TaskRepository, id uuid.UUID) error {
	now := s.now().UTC()
	err := repo.Finish(ctx, id, repository.TaskFinish{
		Status:     domain.TaskStatusFailed,
		Error:      domain.StaleTaskMessage,
		FinishedAt: now,
		Log:        domain.TaskLogEntry{TS: now, Level: domain.LogLevelError, Message: domain.StaleTaskMessage},
	})
	if err != nil {
		return fmt.Errorf("failed to mark task %s stale: %w", id, err)
	}
	s.logger.Warn().Str("task_id", id.String()).Msg("marked stale running task as failed")
	return nil
}

// Reconcile fails every running task that has no live goroutine in this
// process and returns how many it failed.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	running, err := s.tasks.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running tasks: %w", err)
	}

	count := 0
	for _, t := range running {
		if s.IsAlive(t.ID) {
			continue
		}
		if err := s.markStale(ctx, s.tasks, t.ID); err != nil {
			// Finished by its goroutine in the meantime.
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return count, err
		}
		count++
	}

	if s.metrics != nil && count > 0 {
		s.metrics.RecordTasksStale(count)
	}
	return count, nil
}

// Refresh returns task with a stale running status corrected. Tasks that are
// terminal or alive are returned unchanged.
func (s *Supervisor) Refresh(ctx context.Context, task *domain.RecommendationTask) (*domain.RecommendationTask, error) {
	if task == nil || task.Status != domain.TaskStatusRunning {
		return task, nil
	}

	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	if s.IsAlive(task.ID) {
		return task, nil
	}
	err := s.markStale(ctx, s.tasks, task.ID)
	switch {
	case err == nil:
		if s.metrics != nil {
			s.metrics.RecordTasksStale(1)
		}
	case !errors.Is(err, domain.ErrConflict):
		return nil, err
	}
	return s.tasks.Get(ctx, task.ID)
}

// Log appends a task log line. Failures are logged and swallowed.
func (s *Supervisor) Log(ctx context.Context, id uuid.UUID, level, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	entry := domain.TaskLogEntry{TS: s.now().UTC(), Level: level, Message: message}
	if err := s.tasks.AppendLog(ctx, id, entry); err != nil {
		s.logger.Warn().Err(err).
			Str("task_id", id.String()).
			Str("message", message).
			Msg("failed to append task log")
	}
}
