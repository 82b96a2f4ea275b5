package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-recommender/internal/domain"
)

// TaskRepository handles recommendation task persistence.
//
// Status transitions out of running are guarded in SQL: Finish only affects a
// row that is still running, so every task reaches exactly one terminal state
// even when recovery and the executing goroutine race.
type TaskRepository interface {
	// Create inserts a new task.
	// Returns domain.ErrAlreadyExists if the id is taken, and domain.ErrConflict
	// if another task is already running.
	Create(ctx context.Context, task *domain.RecommendationTask) error

	// Get retrieves a task by id.
	// Returns domain.ErrNotFound if no task exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.RecommendationTask, error)

	// Latest returns the most recently created task.
	// Returns domain.ErrNotFound if there are no tasks.
	Latest(ctx context.Context) (*domain.RecommendationTask, error)

	// LatestRunning returns the most recently created running task.
	// Returns domain.ErrNotFound if none is running.
	LatestRunning(ctx context.Context) (*domain.RecommendationTask, error)

	// ListRunning returns every running task, newest first.
	ListRunning(ctx context.Context) ([]*domain.RecommendationTask, error)

	// AppendLog appends one entry to the task log.
	// Returns domain.ErrNotFound if the task does not exist.
	AppendLog(ctx context.Context, id uuid.UUID, entry domain.TaskLogEntry) error

	// Finish moves a running task to a terminal status, appending a final log entry.
	// Returns domain.ErrConflict if the task is not running.
	Finish(ctx context.Context, id uuid.UUID, update TaskFinish) error

	// WithEnqueueLock runs fn in one transaction holding the cross-process
	// enqueue advisory lock. The repository passed to fn is bound to that transaction.
	WithEnqueueLock(ctx context.Context, fn func(TaskRepository) error) error
}

// TaskFinish describes a terminal transition.
type TaskFinish struct {
	Status     domain.TaskStatus
	RunID      *uuid.UUID
	Error      string
	FinishedAt time.Time
	Log        domain.TaskLogEntry
}
