package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"

	// openAIEmbeddingBatchSize is the number of inputs per /embeddings call.
	openAIEmbeddingBatchSize = 96
)

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// OpenAIEmbedder implements Embedder with the OpenAI /embeddings endpoint.
// Any OpenAI-compatible server works through OpenAIConfig.BaseURL.
type OpenAIEmbedder struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	opts       EmbedOptions
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig, opts EmbedOptions) *OpenAIEmbedder {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	opts = opts.withDefaults(openAIEmbeddingBatchSize)

	return &OpenAIEmbedder{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		opts:    opts,
	}
}

// EmbedPassages embeds documents with the passage prefix.
func (e *OpenAIEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, e.opts.PassagePrefix, e.opts, ProviderOpenAI, e.model, e.embedBatch)
}

// EmbedQueries embeds queries with the query prefix.
func (e *OpenAIEmbedder) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, e.opts.QueryPrefix, e.opts, ProviderOpenAI, e.model, e.embedBatch)
}

// Provider returns the provider name.
func (e *OpenAIEmbedder) Provider() string {
	return ProviderOpenAI
}

// Model returns the embedding model identifier.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var out [][]float32
	err := retry(ctx, ProviderOpenAI, e.opts.MaxRetries, e.opts.RetryDelay, func() error {
		var err error
		out, err = e.doRequest(ctx, batch)
		return err
	})
	return out, err
}

func (e *OpenAIEmbedder) doRequest(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: e.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("openai: request failed: %w", ctx.Err())
		}
		return nil, networkError(ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, networkError(ProviderOpenAI, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(resp.StatusCode, respBody)
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("openai: failed to unmarshal embeddings response: %w", err)
	}

	// The API documents data as ordered by index; sort anyway.
	sort.SliceStable(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})

	vectors := make([][]float32, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		vectors = append(vectors, d.Embedding)
	}
	return vectors, nil
}
