// Package tasks runs recommendation tasks in the background.
//
// # Components
//
//   - Supervisor: registry of live task goroutines and the single writer of task status
//   - Runner: enqueues tasks and executes the pipeline on a dedicated goroutine
//   - EmbeddingSync: keeps library paper embeddings current for the active embedder
//   - Scheduler: enqueues one automatic task per day at a configured local time
//
// # Single Flight
//
// At most one task runs at a time. Within a process the supervisor's enqueue
// mutex serializes Enqueue; across processes a PostgreSQL advisory lock and a
// partial unique index on running tasks do the same. A running row whose
// goroutine is gone (a crash or restart) is marked failed when the next
// enqueue, Reconcile, or read of that task notices it.
//
// # Cancellation
//
// Task goroutines run on context.WithoutCancel of the enqueueing context, so
// an HTTP request or server shutdown never interrupts a run midway.
package tasks
