package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for recommendation events published to Kafka.
const (
	EventTypeTaskSucceeded = "recommendation.task.succeeded"
	EventTypeTaskFailed    = "recommendation.task.failed"
)

// Event is an envelope published to the events topic.
type Event struct {
	EventID       string          `json:"event_id"`
	EventVersion  int             `json:"event_version"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEvent creates a new event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// TaskFinishedPayload is the payload for recommendation.task.* events.
type TaskFinishedPayload struct {
	TaskID     uuid.UUID   `json:"task_id"`
	Trigger    TaskTrigger `json:"trigger"`
	Status     TaskStatus  `json:"status"`
	RunID      *uuid.UUID  `json:"run_id,omitempty"`
	ItemCount  int         `json:"item_count"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// TriggerMessage is consumed from the trigger topic to start a task.
type TriggerMessage struct {
	Trigger string          `json:"trigger"`
	Config  ConfigOverrides `json:"config"`
}
