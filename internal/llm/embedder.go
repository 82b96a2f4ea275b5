package llm

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
)

// Embedder turns texts into unit-length vectors. Outputs line up one to one
// with inputs; a count mismatch is reported as a domain.EmbeddingMismatchError.
type Embedder interface {
	// EmbedPassages embeds documents such as paper titles and abstracts.
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQueries embeds search-style inputs.
	EmbedQueries(ctx context.Context, texts []string) ([][]float32, error)

	// Provider returns the embedding provider name.
	Provider() string

	// Model returns the embedding model identifier.
	Model() string
}

// EmbedOptions are the provider-independent settings of an Embedder.
type EmbedOptions struct {
	// BatchSize is the number of texts per request.
	BatchSize int
	// QueryPrefix is prepended to every query (e.g. "query: " for e5 models).
	QueryPrefix string
	// PassagePrefix is prepended to every passage (e.g. "passage: " for e5 models).
	PassagePrefix string
	// Timeout bounds a single HTTP call.
	Timeout time.Duration
	// MaxRetries is the number of retries for transient failures.
	MaxRetries int
	// RetryDelay is the base delay of the exponential retry backoff.
	RetryDelay time.Duration
	// Metrics is optional.
	Metrics *observability.Metrics
}

func (o EmbedOptions) withDefaults(batchSize int) EmbedOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = batchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// Normalize scales v to unit L2 norm in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum <= 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
	return v
}

// batchEmbed splits texts into batches, applies prefix, and calls embed for
// each batch. Every returned vector is normalized.
func batchEmbed(
	ctx context.Context,
	texts []string,
	prefix string,
	opts EmbedOptions,
	provider, model string,
	embed func(ctx context.Context, batch []string) ([][]float32, error),
) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			batch = append(batch, prefix+strings.TrimSpace(t))
		}

		began := time.Now()
		vectors, err := embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, domain.NewEmbeddingMismatchError(provider, len(batch), len(vectors))
		}
		dim := len(vectors[0])
		if len(out) > 0 {
			dim = len(out[0])
		}
		for _, v := range vectors {
			if len(v) == 0 || len(v) != dim {
				return nil, domain.NewEmbeddingMismatchError(provider+" dimension", dim, len(v))
			}
		}
		if opts.Metrics != nil {
			opts.Metrics.RecordEmbeddingRequest(provider, model, len(batch), time.Since(began).Seconds())
		}

		for _, v := range vectors {
			out = append(out, Normalize(v))
		}
	}
	return out, nil
}
