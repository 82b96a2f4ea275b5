package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-recommender/internal/database"
	"github.com/helixir/paper-recommender/internal/domain"
)

var taskColumnNames = []string{
	"id", "trigger", "status", "config", "logs", "run_id", "error",
	"started_at", "finished_at", "created_at", "updated_at",
}

// anyArgs matches n arguments of any value.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newRunningTask() *domain.RecommendationTask {
	now := time.Now().UTC()
	return &domain.RecommendationTask{
		ID:        uuid.New(),
		Trigger:   domain.TaskTriggerManual,
		Status:    domain.TaskStatusRunning,
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPgTaskRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts task", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		task := newRunningTask()
		mock.ExpectExec("INSERT INTO recommendation_tasks").
			WithArgs(task.ID, "manual", "running",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPgTaskRepository(mock).Create(ctx, task))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second running task conflicts", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO recommendation_tasks").
			WithArgs(anyArgs(11)...).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: runningTaskIndex})

		err = NewPgTaskRepository(mock).Create(ctx, newRunningTask())
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.NotErrorIs(t, err, domain.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO recommendation_tasks").
			WithArgs(anyArgs(11)...).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "recommendation_tasks_pkey"})

		err = NewPgTaskRepository(mock).Create(ctx, newRunningTask())
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.NotErrorIs(t, err, domain.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgTaskRepository(mock)
		assert.ErrorIs(t, repo.Create(ctx, nil), domain.ErrInvalidInput)
		assert.ErrorIs(t, repo.Create(ctx, &domain.RecommendationTask{}), domain.ErrInvalidInput)
	})
}

func TestPgTaskRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes config and logs", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id, runID := uuid.New(), uuid.New()
		started := time.Now().Add(-time.Minute).UTC()
		finished := time.Now().UTC()
		errMsg := "boom"

		mock.ExpectQuery("SELECT .* FROM recommendation_tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(taskColumnNames).AddRow(
				id, "auto", "failed",
				[]byte(`{"per_folder":4}`),
				[]byte(`[{"ts":"2026-01-02T03:04:05Z","level":"error","message":"Task failed: boom"}]`),
				&runID, &errMsg, &started, &finished, started, finished,
			))

		task, err := NewPgTaskRepository(mock).Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskTriggerAuto, task.Trigger)
		assert.Equal(t, domain.TaskStatusFailed, task.Status)
		require.NotNil(t, task.Config.PerFolder)
		assert.Equal(t, 4, *task.Config.PerFolder)
		require.Len(t, task.Logs, 1)
		assert.Equal(t, "Task failed: boom", task.Logs[0].Message)
		assert.Equal(t, "boom", task.Error)
		assert.Equal(t, runID, *task.RunID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery("SELECT .* FROM recommendation_tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err = NewPgTaskRepository(mock).Get(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgTaskRepository_LatestRunning(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM recommendation_tasks\\s+WHERE status = \\$1").
		WithArgs("running").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPgTaskRepository(mock).LatestRunning(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTaskRepository_ListRunning(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	rows := pgxmock.NewRows(taskColumnNames)
	for i := 0; i < 2; i++ {
		rows.AddRow(uuid.New(), "manual", "running", []byte(`{}`), []byte(`[]`),
			(*uuid.UUID)(nil), (*string)(nil), &now, (*time.Time)(nil), now, now)
	}
	mock.ExpectQuery("SELECT .* FROM recommendation_tasks\\s+WHERE status = \\$1").
		WithArgs("running").
		WillReturnRows(rows)

	tasks, err := NewPgTaskRepository(mock).ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.True(t, task.IsActive())
		assert.Empty(t, task.Logs)
		assert.NotNil(t, task.Logs)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTaskRepository_AppendLog(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgTaskRepository(mock)
	id := uuid.New()
	entry := domain.TaskLogEntry{TS: time.Now().UTC(), Level: domain.LogLevelInfo, Message: "Loading library..."}

	mock.ExpectExec("UPDATE recommendation_tasks\\s+SET logs = logs \\|\\| \\$2::jsonb").
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.AppendLog(ctx, id, entry))

	mock.ExpectExec("UPDATE recommendation_tasks").
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.AppendLog(ctx, id, entry), domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTaskRepository_Finish(t *testing.T) {
	ctx := context.Background()

	t.Run("only a running task can finish", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgTaskRepository(mock)
		id, runID := uuid.New(), uuid.New()
		update := TaskFinish{
			Status:     domain.TaskStatusSucceeded,
			RunID:      &runID,
			FinishedAt: time.Now().UTC(),
			Log:        domain.TaskLogEntry{Level: domain.LogLevelInfo, Message: "Saved run."},
		}

		mock.ExpectExec("UPDATE recommendation_tasks\\s+SET status = \\$2.*WHERE id = \\$1 AND status = \\$7").
			WithArgs(id, "succeeded", &runID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "running").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, repo.Finish(ctx, id, update))

		mock.ExpectExec("UPDATE recommendation_tasks").
			WithArgs(id, "succeeded", &runID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "running").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		assert.ErrorIs(t, repo.Finish(ctx, id, update), domain.ErrConflict)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		err = NewPgTaskRepository(mock).Finish(ctx, uuid.New(), TaskFinish{Status: domain.TaskStatusRunning})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgTaskRepository_WithEnqueueLock(t *testing.T) {
	ctx := context.Background()
	lockKey := database.LockKey(database.LockRecommendationTasks)

	t.Run("commits after fn", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		task := newRunningTask()
		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs(lockKey).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery("SELECT .* FROM recommendation_tasks\\s+WHERE status = \\$1").
			WithArgs("running").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectExec("INSERT INTO recommendation_tasks").
			WithArgs(anyArgs(11)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		err = NewPgTaskRepository(mock).WithEnqueueLock(ctx, func(repo TaskRepository) error {
			if _, err := repo.LatestRunning(ctx); !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return repo.Create(ctx, task)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on fn error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs(lockKey).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectRollback()

		sentinel := errors.New("already running")
		err = NewPgTaskRepository(mock).WithEnqueueLock(ctx, func(TaskRepository) error {
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
