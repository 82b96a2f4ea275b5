package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-recommender/internal/database"
	"github.com/helixir/paper-recommender/internal/domain"
)

// Compile-time interface verification.
var _ TaskRepository = (*PgTaskRepository)(nil)

// runningTaskIndex is the partial unique index allowing one running task.
const runningTaskIndex = "uq_recommendation_tasks_running"

const taskColumns = `id, trigger, status, config, logs, run_id, error, started_at, finished_at, created_at, updated_at`

// PgTaskRepository is a PostgreSQL implementation of TaskRepository.
type PgTaskRepository struct {
	db DBTX
}

// NewPgTaskRepository creates a new PostgreSQL task repository.
func NewPgTaskRepository(db DBTX) *PgTaskRepository {
	return &PgTaskRepository{db: db}
}

// Create inserts a new task.
func (r *PgTaskRepository) Create(ctx context.Context, task *domain.RecommendationTask) error {
	if task == nil {
		return domain.NewValidationError("task", "task cannot be nil")
	}
	if task.ID == uuid.Nil {
		return domain.NewValidationError("id", "task ID is required")
	}

	configJSON, err := json.Marshal(task.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal task config: %w", err)
	}
	logs := task.Logs
	if logs == nil {
		logs = []domain.TaskLogEntry{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to marshal task logs: %w", err)
	}

	query := `
		INSERT INTO recommendation_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		task.ID, string(task.Trigger), string(task.Status), configJSON, logsJSON,
		task.RunID, nullString(task.Error), task.StartedAt, task.FinishedAt,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			if pgConstraint(err) == runningTaskIndex {
				return fmt.Errorf("another recommendation task is running: %w", domain.ErrConflict)
			}
			return domain.NewAlreadyExistsError("task", task.ID.String())
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get retrieves a task by id.
func (r *PgTaskRepository) Get(ctx context.Context, id uuid.UUID) (*domain.RecommendationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM recommendation_tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("task", id.String())
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// Latest returns the most recently created task.
func (r *PgTaskRepository) Latest(ctx context.Context) (*domain.RecommendationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM recommendation_tasks ORDER BY created_at DESC LIMIT 1`

	task, err := scanTask(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("task", "latest")
		}
		return nil, fmt.Errorf("failed to get latest task: %w", err)
	}
	return task, nil
}

// LatestRunning returns the most recently created running task.
func (r *PgTaskRepository) LatestRunning(ctx context.Context) (*domain.RecommendationTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM recommendation_tasks
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT 1`

	task, err := scanTask(r.db.QueryRow(ctx, query, string(domain.TaskStatusRunning)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("task", "running")
		}
		return nil, fmt.Errorf("failed to get running task: %w", err)
	}
	return task, nil
}

// ListRunning returns every running task, newest first.
func (r *PgTaskRepository) ListRunning(ctx context.Context) ([]*domain.RecommendationTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM recommendation_tasks
		WHERE status = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, string(domain.TaskStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list running tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*domain.RecommendationTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// AppendLog appends one entry to the task log.
func (r *PgTaskRepository) AppendLog(ctx context.Context, id uuid.UUID, entry domain.TaskLogEntry) error {
	entryJSON, err := json.Marshal([]domain.TaskLogEntry{entry})
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	query := `
		UPDATE recommendation_tasks
		SET logs = logs || $2::jsonb,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, entryJSON)
	if err != nil {
		return fmt.Errorf("failed to append task log: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("task", id.String())
	}
	return nil
}

// Finish moves a running task to a terminal status.
func (r *PgTaskRepository) Finish(ctx context.Context, id uuid.UUID, update TaskFinish) error {
	if !update.Status.IsTerminal() {
		return domain.NewValidationError("status", fmt.Sprintf("%q is not a terminal status", update.Status))
	}
	entryJSON, err := json.Marshal([]domain.TaskLogEntry{update.Log})
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	query := `
		UPDATE recommendation_tasks
		SET status = $2,
			run_id = $3,
			error = $4,
			finished_at = $5,
			logs = logs || $6::jsonb,
			updated_at = NOW()
		WHERE id = $1 AND status = $7`

	result, err := r.db.Exec(ctx, query,
		id, string(update.Status), update.RunID, nullString(update.Error), update.FinishedAt, entryJSON,
		string(domain.TaskStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("task %s is not running: %w", id, domain.ErrConflict)
	}
	return nil
}

// WithEnqueueLock runs fn in one transaction holding the enqueue advisory lock.
func (r *PgTaskRepository) WithEnqueueLock(ctx context.Context, fn func(TaskRepository) error) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := database.AcquireAdvisoryLockTx(ctx, tx, database.LockKey(database.LockRecommendationTasks)); err != nil {
			return fmt.Errorf("failed to acquire task enqueue lock: %w", err)
		}
		return fn(NewPgTaskRepository(tx))
	})
}

// taskScanDest holds the destination pointers for scanning a RecommendationTask row.
type taskScanDest struct {
	task       domain.RecommendationTask
	trigger    string
	status     string
	configJSON []byte
	logsJSON   []byte
	errMsg     *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *taskScanDest) destinations() []interface{} {
	return []interface{}{
		&d.task.ID, &d.trigger, &d.status, &d.configJSON, &d.logsJSON,
		&d.task.RunID, &d.errMsg, &d.task.StartedAt, &d.task.FinishedAt,
		&d.task.CreatedAt, &d.task.UpdatedAt,
	}
}

// finalize decodes JSON columns and nullable fields.
func (d *taskScanDest) finalize() (*domain.RecommendationTask, error) {
	t := d.task
	t.Trigger = domain.TaskTrigger(d.trigger)
	t.Status = domain.TaskStatus(d.status)
	t.Error = derefString(d.errMsg)

	if len(d.configJSON) > 0 {
		if err := json.Unmarshal(d.configJSON, &t.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task config: %w", err)
		}
	}
	t.Logs = []domain.TaskLogEntry{}
	if len(d.logsJSON) > 0 {
		if err := json.Unmarshal(d.logsJSON, &t.Logs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task logs: %w", err)
		}
	}
	return &t, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.RecommendationTask, error) {
	var dest taskScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
