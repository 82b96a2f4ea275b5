package llm

import (
	"fmt"
	"time"

	"github.com/helixir/paper-recommender/internal/observability"
)

// FactoryConfig holds the parameters needed to create a JSONGenerator.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("openai", "anthropic" or "ollama").
	Provider string
	// Model overrides the provider's configured model when set.
	Model string
	// Operation labels metrics for this generator, e.g. "query" or "decider".
	Operation string
	// Temperature is the LLM temperature setting.
	Temperature float64
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
	// Ollama contains Ollama-specific settings.
	Ollama OllamaConfig
	// Metrics is optional.
	Metrics *observability.Metrics
}

// NewJSONGenerator creates a JSONGenerator based on the configuration.
// Returns an error for unsupported or empty provider values.
func NewJSONGenerator(cfg FactoryConfig) (JSONGenerator, error) {
	opts := Options{
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		Operation:   cfg.Operation,
		Metrics:     cfg.Metrics,
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		c := cfg.OpenAI
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		return NewOpenAIProvider(c, opts), nil
	case ProviderAnthropic:
		c := cfg.Anthropic
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		return NewAnthropicProvider(c, opts), nil
	case ProviderOllama:
		c := cfg.Ollama
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		return NewOllamaProvider(c, opts), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q (supported: openai, anthropic, ollama)", cfg.Provider)
	}
}

// EmbedderFactoryConfig holds the parameters needed to create an Embedder.
type EmbedderFactoryConfig struct {
	// Provider is the embedding provider name ("openai" or "ollama").
	Provider string
	// Model is the embedding model.
	Model string
	// BatchSize is the number of texts per request (0 means provider default).
	BatchSize int
	// QueryPrefix is prepended to query texts.
	QueryPrefix string
	// PassagePrefix is prepended to passage texts.
	PassagePrefix string
	// Timeout is the timeout for embedding API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// OpenAI carries the API key and base URL; its Model field is ignored.
	OpenAI OpenAIConfig
	// Ollama carries the server URL; its Model field is ignored.
	Ollama OllamaConfig
	// Metrics is optional.
	Metrics *observability.Metrics
}

// NewEmbedder creates an Embedder based on the factory configuration.
func NewEmbedder(cfg EmbedderFactoryConfig) (Embedder, error) {
	opts := EmbedOptions{
		BatchSize:     cfg.BatchSize,
		QueryPrefix:   cfg.QueryPrefix,
		PassagePrefix: cfg.PassagePrefix,
		Timeout:       cfg.Timeout,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		Metrics:       cfg.Metrics,
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.Model,
		}, opts), nil
	case ProviderOllama:
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL: cfg.Ollama.BaseURL,
			Model:   cfg.Model,
		}, opts), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q (supported: openai, ollama)", cfg.Provider)
	}
}
