// Package events connects recommendation tasks to Kafka.
//
// # Components
//
//   - KafkaPublisher: writes task completion events to the events topic
//   - TriggerListener: consumes trigger messages and enqueues tasks
//
// # Event Types
//
//   - recommendation.task.succeeded: a task persisted a run
//   - recommendation.task.failed: a task ended with an error
//
// Events are keyed by task id so that every event of one task lands on the
// same partition. Publishing is best effort: the task runner logs a failed
// publish and moves on.
//
// # Usage
//
//	pub := events.NewKafkaPublisher(events.PublisherConfig{
//	    Brokers: cfg.Kafka.Brokers,
//	    Topic:   cfg.Kafka.Topic,
//	}, logger)
//	defer pub.Close()
//
//	event, _ := events.TaskFinishedEvent(task, len(run.Items))
//	_ = pub.Publish(ctx, event)
package events
