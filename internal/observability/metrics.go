package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper recommender.
// Metrics are organized by subsystem: tasks, searches, sources, candidates,
// LLM, embeddings and HTTP. All collectors are registered via promauto
// with the default Prometheus registry.
type Metrics struct {
	// TasksStarted counts recommendation tasks that began executing, labeled by trigger.
	TasksStarted *prometheus.CounterVec

	// TasksSucceeded counts tasks that persisted a run, labeled by trigger.
	TasksSucceeded *prometheus.CounterVec

	// TasksFailed counts tasks that ended in failure, labeled by trigger.
	TasksFailed *prometheus.CounterVec

	// TasksReused counts enqueue calls that returned an already-running task.
	TasksReused prometheus.Counter

	// TasksStale counts running tasks marked failed because no executor owned them.
	TasksStale prometheus.Counter

	// TaskDuration observes the end-to-end duration of tasks in seconds.
	TaskDuration prometheus.Histogram

	// TasksRunning is the number of tasks executing in this process.
	TasksRunning prometheus.Gauge

	// SearchesStarted counts Semantic Scholar calls initiated, labeled by operation.
	SearchesStarted *prometheus.CounterVec

	// SearchesCompleted counts successful calls, labeled by operation.
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts failed calls, labeled by operation.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes call duration in seconds, labeled by operation.
	SearchDuration *prometheus.HistogramVec

	// PapersPerSearch observes the number of papers returned per call, labeled by operation.
	PapersPerSearch *prometheus.HistogramVec

	// SourceRequestsTotal counts HTTP requests to paper source APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to paper source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from paper source APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// CandidatesAggregated observes the candidate pool size per group, labeled by kind.
	CandidatesAggregated *prometheus.HistogramVec

	// ItemsRecommended counts persisted recommendation items, labeled by kind.
	ItemsRecommended *prometheus.CounterVec

	// ItemsExcluded counts items hidden by the exclusion filter on read.
	ItemsExcluded prometheus.Counter

	// Fallbacks counts degraded steps, labeled by stage and reason.
	Fallbacks *prometheus.CounterVec

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation, model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds, labeled by operation and model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by operation, model, and token type.
	LLMTokensUsed *prometheus.CounterVec

	// EmbeddingRequests counts embedding API requests, labeled by provider and model.
	EmbeddingRequests *prometheus.CounterVec

	// EmbeddingTexts counts texts sent for embedding, labeled by provider and model.
	EmbeddingTexts *prometheus.CounterVec

	// EmbeddingDuration observes embedding request duration in seconds.
	EmbeddingDuration *prometheus.HistogramVec

	// EmbeddingsSynced counts library papers whose stored vector was (re)computed.
	EmbeddingsSynced prometheus.Counter

	// HTTPRequests counts API requests, labeled by method, route and status.
	HTTPRequests *prometheus.CounterVec

	// HTTPRequestDuration observes API request duration in seconds, labeled by method and route.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Tasks
		TasksStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Total number of recommendation tasks started by trigger",
		}, []string{"trigger"}),
		TasksSucceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_succeeded_total",
			Help:      "Total number of recommendation tasks that succeeded by trigger",
		}, []string{"trigger"}),
		TasksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of recommendation tasks that failed by trigger",
		}, []string{"trigger"}),
		TasksReused: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_reused_total",
			Help:      "Total number of enqueue requests answered with an already-running task",
		}),
		TasksStale: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_stale_total",
			Help:      "Total number of running tasks marked failed because no executor owned them",
		}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of recommendation tasks in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		TasksRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Number of recommendation tasks executing in this process",
		}),

		// Searches
		SearchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of Semantic Scholar calls started by operation",
		}, []string{"operation"}),
		SearchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of Semantic Scholar calls completed by operation",
		}, []string{"operation"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of Semantic Scholar calls that failed by operation",
		}, []string{"operation"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of Semantic Scholar calls in seconds by operation",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation"}),
		PapersPerSearch: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "papers_per_search",
			Help:      "Number of papers returned per Semantic Scholar call by operation",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}, []string{"operation"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to paper sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to paper sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to paper sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from paper sources",
		}, []string{"source"}),

		// Candidates and items
		CandidatesAggregated: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_per_group",
			Help:      "Number of unique candidates aggregated per recommendation group",
			Buckets:   []float64{0, 10, 50, 100, 250, 500, 1000, 2000},
		}, []string{"kind"}),
		ItemsRecommended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_recommended_total",
			Help:      "Total number of persisted recommendation items by kind",
		}, []string{"kind"}),
		ItemsExcluded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_excluded_total",
			Help:      "Total number of recommendation items hidden by excludes on read",
		}),
		Fallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of degraded pipeline steps by stage and reason",
		}, []string{"stage", "reason"}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by operation",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests by operation",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used by LLM operations",
		}, []string{"operation", "model", "token_type"}),

		// Embeddings
		EmbeddingRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests by provider and model",
		}, []string{"provider", "model"}),
		EmbeddingTexts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_texts_total",
			Help:      "Total number of texts embedded by provider and model",
		}, []string{"provider", "model"}),
		EmbeddingDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Duration of embedding requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "model"}),
		EmbeddingsSynced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_synced_total",
			Help:      "Total number of library papers whose embedding was recomputed",
		}),

		// HTTP
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordTaskStarted records that a task has started executing.
func (m *Metrics) RecordTaskStarted(trigger string) {
	m.TasksStarted.WithLabelValues(trigger).Inc()
	m.TasksRunning.Inc()
}

// RecordTaskSucceeded records that a task has succeeded.
func (m *Metrics) RecordTaskSucceeded(trigger string, durationSeconds float64) {
	m.TasksSucceeded.WithLabelValues(trigger).Inc()
	m.TaskDuration.Observe(durationSeconds)
	m.TasksRunning.Dec()
}

// RecordTaskFailed records that a task has failed.
func (m *Metrics) RecordTaskFailed(trigger string, durationSeconds float64) {
	m.TasksFailed.WithLabelValues(trigger).Inc()
	m.TaskDuration.Observe(durationSeconds)
	m.TasksRunning.Dec()
}

// RecordTaskReused records an enqueue that returned the active task.
func (m *Metrics) RecordTaskReused() {
	m.TasksReused.Inc()
}

// RecordTasksStale records running tasks marked failed by recovery or lazy reads.
func (m *Metrics) RecordTasksStale(count int) {
	m.TasksStale.Add(float64(count))
}

// RecordSearchStarted records that a search has started.
func (m *Metrics) RecordSearchStarted(operation string) {
	m.SearchesStarted.WithLabelValues(operation).Inc()
}

// RecordSearchCompleted records that a search has completed.
func (m *Metrics) RecordSearchCompleted(operation string, paperCount int, durationSeconds float64) {
	m.SearchesCompleted.WithLabelValues(operation).Inc()
	m.SearchDuration.WithLabelValues(operation).Observe(durationSeconds)
	m.PapersPerSearch.WithLabelValues(operation).Observe(float64(paperCount))
}

// RecordSearchFailed records that a search has failed.
func (m *Metrics) RecordSearchFailed(operation string, durationSeconds float64) {
	m.SearchesFailed.WithLabelValues(operation).Inc()
	m.SearchDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordSourceRequest records a request to a paper source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a paper source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordCandidates records the size of one group's candidate pool.
func (m *Metrics) RecordCandidates(kind string, count int) {
	m.CandidatesAggregated.WithLabelValues(kind).Observe(float64(count))
}

// RecordItemsRecommended records persisted items of one kind.
func (m *Metrics) RecordItemsRecommended(kind string, count int) {
	m.ItemsRecommended.WithLabelValues(kind).Add(float64(count))
}

// RecordItemsExcluded records items hidden by excludes.
func (m *Metrics) RecordItemsExcluded(count int) {
	m.ItemsExcluded.Add(float64(count))
}

// RecordFallback records a pipeline step that degraded to its fallback.
func (m *Metrics) RecordFallback(stage, reason string) {
	m.Fallbacks.WithLabelValues(stage, reason).Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(operation, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(operation, model, "output").Add(float64(outputTokens))
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}

// RecordEmbeddingRequest records one embedding API call.
func (m *Metrics) RecordEmbeddingRequest(provider, model string, textCount int, durationSeconds float64) {
	m.EmbeddingRequests.WithLabelValues(provider, model).Inc()
	m.EmbeddingTexts.WithLabelValues(provider, model).Add(float64(textCount))
	m.EmbeddingDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordEmbeddingsSynced records library papers whose stored vector was refreshed.
func (m *Metrics) RecordEmbeddingsSynced(count int) {
	m.EmbeddingsSynced.Add(float64(count))
}

// RecordHTTPRequest records a served API request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
