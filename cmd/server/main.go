// Package main provides the entry point for the paper recommender service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/config"
	"github.com/helixir/paper-recommender/internal/database"
	"github.com/helixir/paper-recommender/internal/events"
	"github.com/helixir/paper-recommender/internal/exclusion"
	"github.com/helixir/paper-recommender/internal/llm"
	"github.com/helixir/paper-recommender/internal/observability"
	"github.com/helixir/paper-recommender/internal/papersources/semanticscholar"
	"github.com/helixir/paper-recommender/internal/qdrant"
	"github.com/helixir/paper-recommender/internal/recommender"
	"github.com/helixir/paper-recommender/internal/repository"
	httpserver "github.com/helixir/paper-recommender/internal/server/http"
	"github.com/helixir/paper-recommender/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("paper-recommender starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	// Create repositories.
	taskRepo := repository.NewPgTaskRepository(db)
	libraryRepo := repository.NewPgLibraryRepository(db)
	runRepo := repository.NewPgRunRepository(db)
	excludeRepo := repository.NewPgExcludeRepository(db)
	embeddingRepo := repository.NewPgEmbeddingRepository(db)

	// Create LLM and embedding backends.
	queryLLM, err := newGenerator(cfg, cfg.LLM.Query, "query", metrics)
	if err != nil {
		return fmt.Errorf("create query LLM: %w", err)
	}
	deciderLLM, err := newGenerator(cfg, cfg.LLM.Decider, "decider", metrics)
	if err != nil {
		return fmt.Errorf("create decider LLM: %w", err)
	}
	embedder, err := llm.NewEmbedder(llm.EmbedderFactoryConfig{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		BatchSize:     cfg.Embeddings.BatchSize,
		QueryPrefix:   cfg.Embeddings.QueryPrefix,
		PassagePrefix: cfg.Embeddings.PassagePrefix,
		Timeout:       cfg.Embeddings.Timeout,
		MaxRetries:    cfg.LLM.MaxRetries,
		RetryDelay:    cfg.LLM.RetryDelay,
		OpenAI:        llm.OpenAIConfig{APIKey: cfg.LLM.OpenAI.APIKey, BaseURL: cfg.LLM.OpenAI.BaseURL},
		Ollama:        llm.OllamaConfig{BaseURL: cfg.LLM.Ollama.BaseURL},
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	logger.Info().
		Str("query_llm", queryLLM.Provider()+"/"+queryLLM.Model()).
		Str("decider_llm", deciderLLM.Provider()+"/"+deciderLLM.Model()).
		Str("embedder", embedder.Provider()+"/"+embedder.Model()).
		Msg("model backends configured")

	// Create the external scholarly index client.
	ss := cfg.PaperSources.SemanticScholar
	searchClient := semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:       ss.BaseURL,
		APIKey:        ss.APIKey,
		Timeout:       ss.Timeout,
		RateLimit:     ss.RateLimit,
		MaxRetries:    ss.MaxRetries,
		RetryDelay:    ss.RetryDelay,
		MaxRetryDelay: ss.MaxRetryDelay,
	}, nil, metrics)

	// Optional Qdrant mirror of library embeddings.
	syncOpts := []tasks.SyncOption{
		tasks.WithSyncBatchSize(cfg.Embeddings.SyncBatchSize),
		tasks.WithLocker(db),
	}
	var similar httpserver.SimilarService
	if cfg.Qdrant.Enabled {
		qc, err := qdrant.NewClient(qdrant.Config{
			Address:        cfg.Qdrant.Address,
			CollectionName: cfg.Qdrant.CollectionName,
			VectorSize:     cfg.Qdrant.VectorSize,
		})
		if err != nil {
			return fmt.Errorf("create qdrant client: %w", err)
		}
		defer func() {
			if err := qc.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close qdrant client")
			}
		}()
		syncOpts = append(syncOpts, tasks.WithMirror(qdrant.NewMirror(qc, cfg.Qdrant.VectorSize, logger)))
		similar = qdrant.NewSimilarFinder(qc, libraryRepo, embeddingRepo)
		logger.Info().
			Str("address", cfg.Qdrant.Address).
			Str("collection", cfg.Qdrant.CollectionName).
			Msg("qdrant mirror enabled")
	}

	// Optional Kafka task event publisher.
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp := events.NewKafkaPublisher(events.PublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close kafka publisher")
			}
		}()
		publisher = kp
	}

	// Wire the pipeline and the task runner.
	pipeline := recommender.NewPipeline(recommender.PipelineDeps{
		Search:     searchClient,
		Embedder:   embedder,
		QueryLLM:   queryLLM,
		DeciderLLM: deciderLLM,
		Metrics:    metrics,
		Logger:     logger,
	})
	embeddingSync := tasks.NewEmbeddingSync(libraryRepo, embeddingRepo, embedder, metrics, logger, syncOpts...)
	supervisor := tasks.NewSupervisor(taskRepo, metrics, logger)
	runner := tasks.NewRunner(tasks.RunnerDeps{
		Supervisor: supervisor,
		Tasks:      taskRepo,
		Library:    libraryRepo,
		Runs:       runRepo,
		Sync:       embeddingSync,
		Pipeline:   pipeline,
		Publisher:  publisher,
		QueryLLM:   queryLLM,
		DeciderLLM: deciderLLM,
		Embedder:   embedder,
		Config:     cfg.Recommender.Domain(),
		Metrics:    metrics,
		Logger:     logger,
	})

	// Fail tasks left running by a previous process.
	stale, err := runner.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile running tasks: %w", err)
	}
	if stale > 0 {
		logger.Warn().Int("count", stale).Msg("marked stale running tasks as failed")
	}

	exclusions := exclusion.NewService(runRepo, excludeRepo, metrics, logger)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, httpserver.Deps{
		Tasks:      runner,
		Exclusions: exclusions,
		Similar:    similar,
		Health:     db,
		Metrics:    metrics,
		Logger:     logger,
	})

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 3)

	// Background loops stop with ctx; wg lets shutdown wait for them.
	var wg sync.WaitGroup

	scheduler := tasks.NewScheduler(cfg.Scheduler, runner, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	if cfg.Kafka.TriggerEnabled {
		listener := events.NewTriggerListener(events.ListenerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.TriggerTopic,
			GroupID: cfg.Kafka.GroupID,
		}, runner, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if err := listener.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close trigger listener")
				}
			}()
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("trigger listener stopped")
			}
		}()
	}

	// Start HTTP REST API server in background.
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Bool("kafka_events", cfg.Kafka.Enabled).
		Bool("kafka_triggers", cfg.Kafka.TriggerEnabled).
		Bool("qdrant", cfg.Qdrant.Enabled)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("paper-recommender is ready")

	// Wait for shutdown signal or server error.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server error")
		stop()
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down paper-recommender")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	waitOrTimeout(shutdownCtx, &wg, logger)

	// A running task is abandoned here; the next start marks it stale.
	if n := supervisor.Active(); n > 0 {
		logger.Warn().Int("active_tasks", n).Msg("exiting with recommendation tasks still running")
	}

	logger.Info().Msg("paper-recommender shutdown complete")
	return runErr
}

func newGenerator(cfg *config.Config, role config.LLMRoleConfig, operation string, metrics *observability.Metrics) (llm.JSONGenerator, error) {
	return llm.NewJSONGenerator(llm.FactoryConfig{
		Provider:    role.Provider,
		Model:       role.Model,
		Operation:   operation,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
		Ollama: llm.OllamaConfig{
			BaseURL: cfg.LLM.Ollama.BaseURL,
			Model:   cfg.LLM.Ollama.Model,
		},
		Metrics: metrics,
	})
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func waitOrTimeout(ctx context.Context, wg *sync.WaitGroup, logger zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn().Msg("background loops did not stop before the shutdown timeout")
	}
}
