package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle states of a recommendation task.
// These values must match the database check constraint on recommendation_tasks.status.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// TaskTrigger records what started a task.
type TaskTrigger string

const (
	TaskTriggerManual TaskTrigger = "manual"
	TaskTriggerAuto   TaskTrigger = "auto"
)

// ParseTaskTrigger maps free-form input onto a known trigger, defaulting to manual.
func ParseTaskTrigger(s string) TaskTrigger {
	if TaskTrigger(s) == TaskTriggerAuto {
		return TaskTriggerAuto
	}
	return TaskTriggerManual
}

// Log levels written to task logs.
const (
	LogLevelInfo  = "info"
	LogLevelError = "error"
)

// StaleTaskMessage is the error recorded on a running task whose executor is gone.
const StaleTaskMessage = "Stale running task (no active runner in this process)."

// TaskLogEntry is one append-only line of a task log.
type TaskLogEntry struct {
	TS      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// RecommendationTask is one durable execution of the recommendation pipeline.
type RecommendationTask struct {
	ID         uuid.UUID       `json:"id"`
	Trigger    TaskTrigger     `json:"trigger"`
	Status     TaskStatus      `json:"status"`
	Config     ConfigOverrides `json:"config"`
	Logs       []TaskLogEntry  `json:"logs"`
	RunID      *uuid.UUID      `json:"run_id,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Duration returns the duration of the task.
// Returns zero if the task has not started.
// Returns elapsed time from start if still running.
func (t *RecommendationTask) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.FinishedAt != nil {
		return t.FinishedAt.Sub(*t.StartedAt)
	}
	return time.Since(*t.StartedAt)
}

// IsActive returns true if the task is still in progress.
func (t *RecommendationTask) IsActive() bool {
	return !t.Status.IsTerminal()
}
