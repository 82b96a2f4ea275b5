// Package config provides configuration management for the paper recommender.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helixir/paper-recommender/internal/domain"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Provider names accepted for LLM and embedding backends.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// envPrefix is prepended to every environment variable read by Load.
const envPrefix = "RECOMMENDER"

// Config holds all configuration for the paper recommender.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains the JSON LLM settings used for query generation and picking.
	LLM LLMConfig `mapstructure:"llm"`
	// Embeddings contains embedding backend settings.
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	// PaperSources contains paper source API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// Recommender contains default pipeline parameters.
	Recommender RecommenderConfig `mapstructure:"recommender"`
	// Scheduler contains the daily auto-run settings.
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	// Kafka contains task event publishing and trigger consuming settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Qdrant contains the optional vector mirror settings.
	Qdrant QdrantConfig `mapstructure:"qdrant"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the maximum keep-alive idle time.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace is the Prometheus namespace for all collectors.
	Namespace string `mapstructure:"namespace"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Query selects the backend used to generate search queries.
	Query LLMRoleConfig `mapstructure:"query"`
	// Decider selects the backend used to pick final recommendations.
	Decider LLMRoleConfig `mapstructure:"decider"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Temperature is the LLM temperature setting.
	Temperature float64 `mapstructure:"temperature"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	// Ollama contains settings for a local Ollama server.
	Ollama OllamaConfig `mapstructure:"ollama"`
}

// LLMRoleConfig picks the provider and model for one pipeline step.
type LLMRoleConfig struct {
	// Provider is the LLM provider (openai, anthropic, ollama).
	Provider string `mapstructure:"provider"`
	// Model overrides the provider's default model when set.
	Model string `mapstructure:"model"`
}

// OpenAIConfig holds OpenAI-specific settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (loaded from RECOMMENDER_LLM_OPENAI_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the default OpenAI chat model.
	Model string `mapstructure:"model"`
	// BaseURL is the OpenAI API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (loaded from RECOMMENDER_LLM_ANTHROPIC_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the default Anthropic model.
	Model string `mapstructure:"model"`
	// BaseURL is the Anthropic API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// OllamaConfig holds Ollama settings.
type OllamaConfig struct {
	// BaseURL is the Ollama server URL.
	BaseURL string `mapstructure:"base_url"`
	// Model is the default Ollama chat model.
	Model string `mapstructure:"model"`
}

// EmbeddingsConfig holds embedding backend configuration.
type EmbeddingsConfig struct {
	// Provider is the embedding provider (openai, ollama).
	Provider string `mapstructure:"provider"`
	// Model is the embedding model.
	Model string `mapstructure:"model"`
	// BatchSize is the number of texts per embedding request.
	BatchSize int `mapstructure:"batch_size"`
	// SyncBatchSize is the number of library papers embedded per sync batch.
	SyncBatchSize int `mapstructure:"sync_batch_size"`
	// QueryPrefix is prepended to query texts (e.g. "query: " for e5 models).
	QueryPrefix string `mapstructure:"query_prefix"`
	// PassagePrefix is prepended to passage texts (e.g. "passage: " for e5 models).
	PassagePrefix string `mapstructure:"passage_prefix"`
	// Timeout is the timeout for a single embedding request.
	Timeout time.Duration `mapstructure:"timeout"`
}

// PaperSourcesConfig holds configuration for paper source APIs.
type PaperSourcesConfig struct {
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
}

// PaperSourceConfig holds configuration for a single paper source API.
type PaperSourceConfig struct {
	// APIKey is the API key (loaded from RECOMMENDER_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the number of retries on 429, 5xx and network errors.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay of the exponential backoff.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// MaxRetryDelay caps a single backoff wait.
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
}

// RecommenderConfig holds the default pipeline parameters.
type RecommenderConfig struct {
	PerFolder                int           `mapstructure:"per_folder"`
	CrossDomain              int           `mapstructure:"cross_domain"`
	SeedsPerFolder           int           `mapstructure:"seeds_per_folder"`
	QueriesPerFolder         int           `mapstructure:"queries_per_folder"`
	SearchLimit              int           `mapstructure:"search_limit"`
	RefLimit                 int           `mapstructure:"ref_limit"`
	CitationLimit            int           `mapstructure:"citation_limit"`
	TopCandidatesPerFolder   int           `mapstructure:"top_candidates_per_folder"`
	TopCandidatesCrossDomain int           `mapstructure:"top_candidates_cross_domain"`
	CrossDomainTopN          int           `mapstructure:"cross_domain_top_n"`
	PoliteSleep              time.Duration `mapstructure:"polite_sleep"`
}

// Domain converts the configured defaults into a pipeline configuration.
func (c RecommenderConfig) Domain() domain.RecommenderConfig {
	return domain.RecommenderConfig{
		PerFolder:                c.PerFolder,
		CrossDomain:              c.CrossDomain,
		SeedsPerFolder:           c.SeedsPerFolder,
		QueriesPerFolder:         c.QueriesPerFolder,
		SearchLimit:              c.SearchLimit,
		RefLimit:                 c.RefLimit,
		CitationLimit:            c.CitationLimit,
		TopCandidatesPerFolder:   c.TopCandidatesPerFolder,
		TopCandidatesCrossDomain: c.TopCandidatesCrossDomain,
		CrossDomainTopN:          c.CrossDomainTopN,
		PoliteSleep:              c.PoliteSleep,
	}
}

// SchedulerConfig holds the daily auto-run settings.
type SchedulerConfig struct {
	// Enabled turns the daily auto-run on.
	Enabled bool `mapstructure:"enabled"`
	// Time is the local wall-clock time of the daily run, formatted HH:MM.
	Time string `mapstructure:"time"`
	// DisabledPoll is how often a disabled scheduler re-checks its settings.
	DisabledPoll time.Duration `mapstructure:"disabled_poll"`
	// InvalidPoll is how often a scheduler with an unparsable time re-checks.
	InvalidPoll time.Duration `mapstructure:"invalid_poll"`
}

// KafkaConfig holds Kafka settings for task events and external triggers.
type KafkaConfig struct {
	// Enabled controls whether task events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic task events are published to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// TriggerEnabled controls whether trigger messages are consumed.
	TriggerEnabled bool `mapstructure:"trigger_enabled"`
	// TriggerTopic is the topic trigger messages are read from.
	TriggerTopic string `mapstructure:"trigger_topic"`
	// GroupID is the consumer group of the trigger listener.
	GroupID string `mapstructure:"group_id"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Enabled mirrors library embeddings into Qdrant.
	Enabled bool `mapstructure:"enabled"`
	// Address is the Qdrant gRPC address.
	Address string `mapstructure:"address"`
	// CollectionName is the name of the collection for paper embeddings.
	CollectionName string `mapstructure:"collection_name"`
	// VectorSize is the embedding dimension (must match the embedding model).
	VectorSize uint64 `mapstructure:"vector_size"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadDatabase loads configuration but validates only the database section.
// Tools that never call an LLM, such as the migrate CLI, use it.
func LoadDatabase() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func read() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-recommender")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv(envPrefix + "_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv(envPrefix + "_LLM_ANTHROPIC_API_KEY")
	cfg.PaperSources.SemanticScholar.APIKey = os.Getenv(envPrefix + "_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "recommender")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "paper_recommender")
	// Default to "require" for production security. Use RECOMMENDER_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "paper_recommender")

	// LLM defaults
	v.SetDefault("llm.query.provider", ProviderOpenAI)
	v.SetDefault("llm.query.model", "")
	v.SetDefault("llm.decider.provider", ProviderOpenAI)
	v.SetDefault("llm.decider.model", "")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "2s")
	v.SetDefault("llm.temperature", 0.2)
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.ollama.base_url", "http://localhost:11434")
	v.SetDefault("llm.ollama.model", "llama3.1")

	// Embeddings defaults
	v.SetDefault("embeddings.provider", ProviderOpenAI)
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.batch_size", 96)
	v.SetDefault("embeddings.sync_batch_size", 64)
	v.SetDefault("embeddings.query_prefix", "")
	v.SetDefault("embeddings.passage_prefix", "")
	v.SetDefault("embeddings.timeout", "60s")

	// Paper sources defaults - Semantic Scholar
	v.SetDefault("paper_sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("paper_sources.semantic_scholar.timeout", "30s")
	v.SetDefault("paper_sources.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("paper_sources.semantic_scholar.max_retries", 4)
	v.SetDefault("paper_sources.semantic_scholar.retry_delay", "1s")
	v.SetDefault("paper_sources.semantic_scholar.max_retry_delay", "30s")

	// Recommender defaults
	defaults := domain.DefaultRecommenderConfig()
	v.SetDefault("recommender.per_folder", defaults.PerFolder)
	v.SetDefault("recommender.cross_domain", defaults.CrossDomain)
	v.SetDefault("recommender.seeds_per_folder", defaults.SeedsPerFolder)
	v.SetDefault("recommender.queries_per_folder", defaults.QueriesPerFolder)
	v.SetDefault("recommender.search_limit", defaults.SearchLimit)
	v.SetDefault("recommender.ref_limit", defaults.RefLimit)
	v.SetDefault("recommender.citation_limit", defaults.CitationLimit)
	v.SetDefault("recommender.top_candidates_per_folder", defaults.TopCandidatesPerFolder)
	v.SetDefault("recommender.top_candidates_cross_domain", defaults.TopCandidatesCrossDomain)
	v.SetDefault("recommender.cross_domain_top_n", defaults.CrossDomainTopN)
	v.SetDefault("recommender.polite_sleep", defaults.PoliteSleep.String())

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.time", "09:00")
	v.SetDefault("scheduler.disabled_poll", "30s")
	v.SetDefault("scheduler.invalid_poll", "60s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.paper_recommender.tasks")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.trigger_enabled", false)
	v.SetDefault("kafka.trigger_topic", "paper_recommender.triggers")
	v.SetDefault("kafka.group_id", "paper-recommender")

	// Qdrant defaults
	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.address", "localhost:6334")
	v.SetDefault("qdrant.collection_name", "library_papers")
	v.SetDefault("qdrant.vector_size", 1536) // text-embedding-3-small
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate that each configured LLM role has its required API key set.
	if err := c.requireProviderKey("LLM query", c.LLM.Query.Provider, true); err != nil {
		return err
	}
	if err := c.requireProviderKey("LLM decider", c.LLM.Decider.Provider, true); err != nil {
		return err
	}

	// Validate embeddings
	if err := c.requireProviderKey("embeddings", c.Embeddings.Provider, false); err != nil {
		return err
	}
	if c.Embeddings.Model == "" {
		return fmt.Errorf("embeddings model is required")
	}
	if c.Embeddings.BatchSize <= 0 || c.Embeddings.SyncBatchSize <= 0 {
		return fmt.Errorf("embeddings batch sizes must be positive")
	}

	// Validate recommender defaults
	if c.Recommender.PerFolder <= 0 {
		return fmt.Errorf("recommender per_folder must be positive")
	}
	if c.Recommender.CrossDomain < 0 {
		return fmt.Errorf("recommender cross_domain must not be negative")
	}
	if c.Recommender.CrossDomainTopN <= 0 {
		return fmt.Errorf("recommender cross_domain_top_n must be positive")
	}

	// Validate scheduler
	if c.Scheduler.Enabled {
		if _, _, err := ParseClock(c.Scheduler.Time); err != nil {
			return fmt.Errorf("invalid scheduler time: %w", err)
		}
	}

	// Validate Kafka
	if c.Kafka.Enabled || c.Kafka.TriggerEnabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
	}
	if c.Kafka.Enabled && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when kafka is enabled")
	}
	if c.Kafka.TriggerEnabled && (c.Kafka.TriggerTopic == "" || c.Kafka.GroupID == "") {
		return fmt.Errorf("kafka trigger_topic and group_id are required when triggers are enabled")
	}

	// Validate Qdrant
	if c.Qdrant.Enabled {
		if c.Qdrant.Address == "" {
			return fmt.Errorf("qdrant address is required when qdrant is enabled")
		}
		if c.Qdrant.VectorSize == 0 {
			return fmt.Errorf("qdrant vector_size must be positive")
		}
	}

	return nil
}

// Validate validates the database connection settings.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}
	if c.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}

// requireProviderKey checks that provider is known and that its API key is set.
func (c *Config) requireProviderKey(what, provider string, allowAnthropic bool) error {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("%s provider %q requires %s_LLM_OPENAI_API_KEY to be set", what, provider, envPrefix)
		}
	case ProviderAnthropic:
		if !allowAnthropic {
			return fmt.Errorf("unsupported %s provider: %s", what, provider)
		}
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("%s provider %q requires %s_LLM_ANTHROPIC_API_KEY to be set", what, provider, envPrefix)
		}
	case ProviderOllama:
		if c.LLM.Ollama.BaseURL == "" {
			return fmt.Errorf("%s provider %q requires llm.ollama.base_url", what, provider)
		}
	default:
		return fmt.Errorf("unsupported %s provider: %s", what, provider)
	}
	return nil
}

// ParseClock parses a 24-hour HH:MM wall-clock time.
func ParseClock(value string) (hour, minute int, err error) {
	raw := strings.TrimSpace(value)
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time out of range: %q", value)
	}
	return hour, minute, nil
}
