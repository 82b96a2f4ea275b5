package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	taskIDKey    contextKey = "task_id"
	triggerKey   contextKey = "trigger"
	runIDKey     contextKey = "run_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithTask adds the recommendation task ID and its trigger to the context.
func WithTask(ctx context.Context, taskID, trigger string) context.Context {
	ctx = context.WithValue(ctx, taskIDKey, taskID)
	ctx = context.WithValue(ctx, triggerKey, trigger)
	return ctx
}

// TaskFromContext retrieves the task ID and trigger from context.
// Returns empty strings if not present.
func TaskFromContext(ctx context.Context) (taskID, trigger string) {
	return stringValue(ctx, taskIDKey), stringValue(ctx, triggerKey)
}

// WithRunID adds the persisted recommendation run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDKey)
}

// TaskContext contains all the context data for a recommendation task.
type TaskContext struct {
	RequestID string
	TaskID    string
	Trigger   string
	RunID     string
}

// WithTaskContextFull adds all task context to the context.
func WithTaskContextFull(ctx context.Context, tc TaskContext) context.Context {
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.TaskID != "" || tc.Trigger != "" {
		ctx = WithTask(ctx, tc.TaskID, tc.Trigger)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	return ctx
}

// TaskContextFromContext extracts all task context from the context.
func TaskContextFromContext(ctx context.Context) TaskContext {
	taskID, trigger := TaskFromContext(ctx)
	return TaskContext{
		RequestID: RequestIDFromContext(ctx),
		TaskID:    taskID,
		Trigger:   trigger,
		RunID:     RunIDFromContext(ctx),
	}
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
