// Package observability provides logging and metrics support for the
// paper recommender.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for tasks, searches, LLM calls and embeddings
//   - Context helpers for propagating task identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("task_id", taskID).Msg("task started")
//
// Add task context to logger:
//
//	logger = observability.WithTaskContext(logger, taskID, "auto")
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("paper_recommender")
//
// Record metrics:
//
//	metrics.RecordTaskStarted("manual")
//	metrics.RecordSearchCompleted("references", 40, 0.8)
//	metrics.RecordFallback("query_generator", "llm_error")
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - task_id: Recommendation task identifier
//   - trigger: manual or auto
//   - run_id: Persisted recommendation run identifier
//   - folder_id: Library folder identifier
//   - query: Semantic Scholar search query
//   - operation: search, references or citations
//   - provider, model: LLM or embedding backend
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
