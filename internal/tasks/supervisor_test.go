package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
)

func testMetrics(prefix string) *observability.Metrics {
	return observability.NewMetrics(prefix + "_" + uuid.New().String()[:8])
}

func TestSupervisor_Registry(t *testing.T) {
	sup := NewSupervisor(newMemoryTasks(), nil, zerolog.Nop())
	id := uuid.New()

	assert.False(t, sup.IsAlive(id))
	select {
	case <-sup.Done(id):
	default:
		t.Fatal("Done of an unknown task must be closed")
	}

	require.NoError(t, sup.Register(id, domain.TaskTriggerManual))
	assert.True(t, sup.IsAlive(id))
	assert.Equal(t, 1, sup.Active())

	err := sup.Register(id, domain.TaskTriggerManual)
	assert.ErrorIs(t, err, domain.ErrConflict)

	done := sup.Done(id)
	select {
	case <-done:
		t.Fatal("Done closed before Unregister")
	default:
	}

	sup.Unregister(id)
	assert.False(t, sup.IsAlive(id))
	assert.Equal(t, 0, sup.Active())
	<-done

	// Unregistering twice is harmless.
	sup.Unregister(id)
}

func TestSupervisor_Start_CreatesRunningTask(t *testing.T) {
	repo := newMemoryTasks()
	metrics := testMetrics("supervisor_start")
	sup := NewSupervisor(repo, metrics, zerolog.Nop())
	ctx := context.Background()

	seed := int64(7)
	task, created, err := sup.Start(ctx, domain.TaskTriggerAuto, domain.ConfigOverrides{RandomSeed: &seed, AutoTime: "07:30"})
	require.NoError(t, err)
	require.True(t, created)

	assert.Equal(t, domain.TaskStatusRunning, task.Status)
	assert.Equal(t, domain.TaskTriggerAuto, task.Trigger)
	require.NotNil(t, task.StartedAt)
	assert.Equal(t, "07:30", task.Config.AutoTime)
	assert.True(t, sup.IsAlive(task.ID))
	assert.Equal(t, []string{"Task created (trigger=auto)."}, repo.messages(task.ID))
	assert.Equal(t, 1, repo.lockCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksStarted.WithLabelValues("auto")))
}

func TestSupervisor_Start_ReusesLiveTask(t *testing.T) {
	repo := newMemoryTasks()
	metrics := testMetrics("supervisor_reuse")
	sup := NewSupervisor(repo, metrics, zerolog.Nop())
	ctx := context.Background()

	first, created, err := sup.Start(ctx, domain.TaskTriggerManual, domain.ConfigOverrides{})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := sup.Start(ctx, domain.TaskTriggerAuto, domain.ConfigOverrides{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.countStatus(domain.TaskStatusRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksReused))
}

func TestSupervisor_Start_TakesOverStaleTask(t *testing.T) {
	repo := newMemoryTasks()
	metrics := testMetrics("supervisor_stale")
	sup := NewSupervisor(repo, metrics, zerolog.Nop())
	ctx := context.Background()

	stale := repo.seedRunning(time.Now().Add(-time.Hour))

	task, created, err := sup.Start(ctx, domain.TaskTriggerManual, domain.ConfigOverrides{})
	require.NoError(t, err)
	require.True(t, created)
	assert.NotEqual(t, stale.ID, task.ID)

	old, err := repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, old.Status)
	assert.Equal(t, domain.StaleTaskMessage, old.Error)
	require.NotNil(t, old.FinishedAt)
	require.NotEmpty(t, old.Logs)
	last := old.Logs[len(old.Logs)-1]
	assert.Equal(t, domain.LogLevelError, last.Level)
	assert.Equal(t, domain.StaleTaskMessage, last.Message)

	assert.Equal(t, 1, repo.countStatus(domain.TaskStatusRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksStale))
}

func TestSupervisor_Start_SingleFlight(t *testing.T) {
	repo := newMemoryTasks()
	sup := NewSupervisor(repo, nil, zerolog.Nop())
	ctx := context.Background()

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[uuid.UUID]struct{})
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, isNew, err := sup.Start(ctx, domain.TaskTriggerManual, domain.ConfigOverrides{})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[task.ID] = struct{}{}
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, repo.countStatus(domain.TaskStatusRunning))
}

func TestSupervisor_Start_CreateError(t *testing.T) {
	repo := newMemoryTasks()
	repo.createErr = errors.New("connection reset")
	sup := NewSupervisor(repo, nil, zerolog.Nop())

	_, _, err := sup.Start(context.Background(), domain.TaskTriggerManual, domain.ConfigOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, sup.Active())
}

func TestSupervisor_Finish(t *testing.T) {
	ctx := context.Background()

	t.Run("succeed records run and Done", func(t *testing.T) {
		repo := newMemoryTasks()
		sup := NewSupervisor(repo, nil, zerolog.Nop())
		task, _, err := sup.Start(ctx, domain.TaskTriggerManual, domain.ConfigOverrides{})
		require.NoError(t, err)

		runID := uuid.New()
		require.NoError(t, sup.Succeed(ctx, task.ID, runID))

		got, err := repo.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
		require.NotNil(t, got.RunID)
		assert.Equal(t, runID, *got.RunID)
		assert.Equal(t, "Done.", got.Logs[len(got.Logs)-1].Message)
	})

	t.Run("fail records error log", func(t *testing.T) {
		repo := newMemoryTasks()
		sup := NewSupervisor(repo, nil, zerolog.Nop())
		task, _, err := sup.Start(ctx, domain.TaskTriggerManual, domain.ConfigOverrides{})
		require.NoError(t, err)

		require.NoError(t, sup.Fail(ctx, task.ID, errors.New("boom")))

		got, err := repo.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusFailed, got.Status)
		assert.Equal(t, "boom", got.Error)
		last := got.Logs[len(got.Logs)-1]
		assert.Equal(t, domain.LogLevelError, last.Level)
		assert.Equal(t, "Failed: Error: boom", last.Message)
	})

	t.Run("exactly one terminal state", func(t *testing.T) {
		repo := newMemoryTasks()
		sup := NewSupervisor(repo, nil, zerolog.Nop())
		task, _, err := sup.Start(ctx, domain.TaskTriggerManual, domain.ConfigOverrides{})
		require.NoError(t, err)

		require.NoError(t, sup.Succeed(ctx, task.ID, uuid.New()))
		assert.ErrorIs(t, sup.Fail(ctx, task.ID, errors.New("late")), domain.ErrConflict)

		got, err := repo.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
		assert.Empty(t, got.Error)
	})
}

func TestSupervisor_Reconcile(t *testing.T) {
	repo := newMemoryTasks()
	metrics := testMetrics("supervisor_reconcile")
	sup := NewSupervisor(repo, metrics, zerolog.Nop())
	ctx := context.Background()

	// Two orphans left by a previous process and one live task.
	orphanA := repo.seedRunning(time.Now().Add(-2 * time.Hour))
	orphanB := repo.seedRunning(time.Now().Add(-time.Hour))
	live := repo.seedRunning(time.Now())
	require.NoError(t, sup.Register(live.ID, domain.TaskTriggerManual))

	n, err := sup.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{orphanA.ID, orphanB.ID} {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusFailed, got.Status)
		assert.Equal(t, domain.StaleTaskMessage, got.Error)
	}
	got, err := repo.Get(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TasksStale))

	n, err = sup.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSupervisor_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("stale running task is failed", func(t *testing.T) {
		repo := newMemoryTasks()
		sup := NewSupervisor(repo, nil, zerolog.Nop())
		orphan := repo.seedRunning(time.Now())

		got, err := sup.Refresh(ctx, orphan)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusFailed, got.Status)
		assert.Equal(t, domain.StaleTaskMessage, got.Error)
	})

	t.Run("live task is unchanged", func(t *testing.T) {
		repo := newMemoryTasks()
		sup := NewSupervisor(repo, nil, zerolog.Nop())
		task, _, err := sup.Start(ctx, domain.TaskTriggerManual, domain.ConfigOverrides{})
		require.NoError(t, err)

		got, err := sup.Refresh(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusRunning, got.Status)
	})

	t.Run("terminal task is unchanged", func(t *testing.T) {
		sup := NewSupervisor(newMemoryTasks(), nil, zerolog.Nop())
		task := &domain.RecommendationTask{ID: uuid.New(), Status: domain.TaskStatusSucceeded}

		got, err := sup.Refresh(ctx, task)
		require.NoError(t, err)
		assert.Same(t, task, got)
	})
}

func TestSupervisor_Log(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryTasks()
	sup := NewSupervisor(repo, nil, zerolog.Nop())
	task, _, err := sup.Start(ctx, domain.TaskTriggerManual, domain.ConfigOverrides{})
	require.NoError(t, err)

	sup.Log(ctx, task.ID, domain.LogLevelInfo, "  hello  ")
	sup.Log(ctx, task.ID, domain.LogLevelInfo, "   ")
	assert.Equal(t, []string{"Task created (trigger=manual).", "hello"}, repo.messages(task.ID))

	repo.appendErr = errors.New("db gone")
	assert.NotPanics(t, func() {
		sup.Log(ctx, task.ID, domain.LogLevelInfo, "dropped")
	})
}
