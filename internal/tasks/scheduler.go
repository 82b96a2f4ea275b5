package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/config"
	"github.com/helixir/paper-recommender/internal/domain"
)

// Scheduler polling defaults.
const (
	DefaultDisabledPoll = 30 * time.Second
	DefaultInvalidPoll  = 60 * time.Second
	minScheduleWait     = time.Second
)

// Enqueuer starts recommendation tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, trigger domain.TaskTrigger, overrides domain.ConfigOverrides) (*domain.RecommendationTask, bool, error)
}

// Scheduler enqueues one automatic task per day at a local wall-clock time.
type Scheduler struct {
	enqueuer Enqueuer
	settings func() config.SchedulerConfig
	logger   zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	// lastSlot is the most recent slot enqueued. A slot never fires twice,
	// even when the wall clock steps back across it.
	lastSlot time.Time
}

// NewScheduler creates a Scheduler with fixed settings.
func NewScheduler(cfg config.SchedulerConfig, enqueuer Enqueuer, logger zerolog.Logger) *Scheduler {
	return NewSchedulerFunc(func() config.SchedulerConfig { return cfg }, enqueuer, logger)
}

// NewSchedulerFunc creates a Scheduler that re-reads its settings on every
// cycle, so enabling, disabling or moving the run time takes effect without
// a restart.
func NewSchedulerFunc(settings func() config.SchedulerConfig, enqueuer Enqueuer, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		enqueuer: enqueuer,
		settings: settings,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Run loops until ctx is done. Enqueue failures are logged and retried on
// the next cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Msg("scheduler started")
	for {
		if err := s.cycle(ctx); err != nil {
			s.logger.Info().Msg("scheduler stopped")
			return err
		}
	}
}

// cycle waits for the next slot and enqueues. It returns an error only when
// ctx is done.
func (s *Scheduler) cycle(ctx context.Context) error {
	cfg := s.settings()
	if !cfg.Enabled {
		return s.sleep(ctx, pollInterval(cfg.DisabledPoll, DefaultDisabledPoll))
	}

	hour, minute, err := config.ParseClock(cfg.Time)
	if err != nil {
		s.logger.Warn().Err(err).Str("time", cfg.Time).Msg("invalid scheduler time")
		return s.sleep(ctx, pollInterval(cfg.InvalidPoll, DefaultInvalidPoll))
	}

	now := s.now()
	next := NextRun(now, hour, minute)
	for !next.After(s.lastSlot) {
		next = next.AddDate(0, 0, 1)
	}
	wait := next.Sub(now)
	if wait < minScheduleWait {
		wait = minScheduleWait
	}
	s.logger.Debug().Time("next_run", next).Dur("wait", wait).Msg("scheduler sleeping")
	if err := s.sleep(ctx, wait); err != nil {
		return err
	}

	cfg = s.settings()
	if !cfg.Enabled {
		return nil
	}

	s.lastSlot = next
	autoTime := strings.TrimSpace(cfg.Time)
	task, created, err := s.enqueuer.Enqueue(ctx, domain.TaskTriggerAuto, domain.ConfigOverrides{AutoTime: autoTime})
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled enqueue failed")
		return ctx.Err()
	}
	s.logger.Info().
		Str("task_id", task.ID.String()).
		Bool("created", created).
		Str("auto_time", autoTime).
		Msg("scheduled recommendation task")
	return nil
}

// NextRun returns the next local occurrence of hour:minute strictly after now.
func NextRun(now time.Time, hour, minute int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if today.After(now) {
		return today
	}
	return today.AddDate(0, 0, 1)
}

func pollInterval(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
