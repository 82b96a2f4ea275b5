package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-recommender/internal/domain"
)

// AggregateTypeRecommendationTask is the aggregate type of task events.
const AggregateTypeRecommendationTask = "recommendation_task"

// Header keys set on every published message.
const (
	headerEventType = "event_type"
	headerEventID   = "event_id"
)

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig holds configuration for the Kafka publisher.
type PublisherConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic events are written to.
	Topic string
	// BatchSize is the maximum number of messages per batch (default: 1).
	BatchSize int
	// BatchTimeout is how long to wait for a batch to fill (default: 100ms).
	BatchTimeout time.Duration
}

// KafkaPublisher publishes events to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
}

// Compile-time interface verification.
var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(cfg PublisherConfig, logger zerolog.Logger) *KafkaPublisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(writer messageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish writes one event keyed by its aggregate id.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.EventType)},
			{Key: headerEventID, Value: []byte(event.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType, err)
	}

	p.logger.Debug().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("aggregate_id", event.AggregateID).
		Msg("published event")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It is used when Kafka is disabled.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, *domain.Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// TaskFinishedEvent builds the completion event of a terminal task.
func TaskFinishedEvent(task *domain.RecommendationTask, itemCount int) (*domain.Event, error) {
	if task == nil {
		return nil, fmt.Errorf("task is required")
	}

	var eventType string
	switch task.Status {
	case domain.TaskStatusSucceeded:
		eventType = domain.EventTypeTaskSucceeded
	case domain.TaskStatusFailed:
		eventType = domain.EventTypeTaskFailed
	default:
		return nil, fmt.Errorf("task %s is not finished (status %s)", task.ID, task.Status)
	}

	payload := domain.TaskFinishedPayload{
		TaskID:     task.ID,
		Trigger:    task.Trigger,
		Status:     task.Status,
		RunID:      task.RunID,
		ItemCount:  itemCount,
		Error:      task.Error,
		DurationMs: task.Duration().Milliseconds(),
	}
	event, err := domain.NewEvent(eventType, task.ID.String(), AggregateTypeRecommendationTask, payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return event, nil
}
