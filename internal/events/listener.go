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

// Enqueuer starts recommendation tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, trigger domain.TaskTrigger, overrides domain.ConfigOverrides) (*domain.RecommendationTask, bool, error)
}

// messageReader is the subset of *kafka.Reader used by TriggerListener.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ListenerConfig holds configuration for the trigger listener.
type ListenerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// TriggerListener consumes trigger messages and enqueues recommendation tasks.
type TriggerListener struct {
	reader   messageReader
	enqueuer Enqueuer
	logger   zerolog.Logger
}

// NewTriggerListener creates a listener backed by a kafka.Reader.
func NewTriggerListener(cfg ListenerConfig, enqueuer Enqueuer, logger zerolog.Logger) *TriggerListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newTriggerListener(reader, enqueuer, logger)
}

func newTriggerListener(reader messageReader, enqueuer Enqueuer, logger zerolog.Logger) *TriggerListener {
	return &TriggerListener{
		reader:   reader,
		enqueuer: enqueuer,
		logger:   logger.With().Str("component", "trigger_listener").Logger(),
	}
}

// Run consumes messages until ctx is cancelled. Malformed messages and
// enqueue failures are logged and skipped.
func (l *TriggerListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("trigger listener started")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("trigger listener stopped")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read trigger message")
			continue
		}

		if err := l.handle(ctx, msg.Value); err != nil {
			l.logger.Error().Err(err).
				Int64("offset", msg.Offset).
				Int("partition", msg.Partition).
				Msg("failed to handle trigger message")
		}
	}
}

func (l *TriggerListener) handle(ctx context.Context, value []byte) error {
	var trigger domain.TriggerMessage
	if err := json.Unmarshal(value, &trigger); err != nil {
		return fmt.Errorf("unmarshal trigger: %w", err)
	}

	task, created, err := l.enqueuer.Enqueue(ctx, domain.ParseTaskTrigger(trigger.Trigger), trigger.Config)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	l.logger.Info().
		Str("task_id", task.ID.String()).
		Str("trigger", string(task.Trigger)).
		Bool("created", created).
		Msg("trigger message handled")
	return nil
}

// Close closes the underlying reader.
func (l *TriggerListener) Close() error {
	return l.reader.Close()
}
