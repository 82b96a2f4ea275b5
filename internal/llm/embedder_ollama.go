package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOllamaEmbeddingModel = "nomic-embed-text"
	ollamaEmbeddingBatchSize    = 32
)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// OllamaEmbedder implements Embedder with the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	httpClient *http.Client
	model      string
	baseURL    string
	opts       EmbedOptions
}

// NewOllamaEmbedder creates a new Ollama embedder.
func NewOllamaEmbedder(cfg OllamaConfig, opts EmbedOptions) *OllamaEmbedder {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaEmbeddingModel
	}
	opts = opts.withDefaults(ollamaEmbeddingBatchSize)

	return &OllamaEmbedder{
		httpClient: &http.Client{Timeout: opts.Timeout},
		model:      model,
		baseURL:    baseURL,
		opts:       opts,
	}
}

// EmbedPassages embeds documents with the passage prefix.
func (e *OllamaEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, e.opts.PassagePrefix, e.opts, ProviderOllama, e.model, e.embedBatch)
}

// EmbedQueries embeds queries with the query prefix.
func (e *OllamaEmbedder) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, e.opts.QueryPrefix, e.opts, ProviderOllama, e.model, e.embedBatch)
}

// Provider returns the provider name.
func (e *OllamaEmbedder) Provider() string {
	return ProviderOllama
}

// Model returns the embedding model tag.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var out [][]float32
	err := retry(ctx, ProviderOllama, e.opts.MaxRetries, e.opts.RetryDelay, func() error {
		var err error
		out, err = e.doRequest(ctx, batch)
		return err
	})
	return out, err
}

func (e *OllamaEmbedder) doRequest(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ollama: request failed: %w", ctx.Err())
		}
		return nil, networkError(ProviderOllama, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, networkError(ProviderOllama, err)
	}

	var parsed ollamaEmbedResponse
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: string(respBody)}
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
		}
		return nil, apiErr
	}

	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("ollama: failed to unmarshal embed response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama: error: %s", parsed.Error)
	}
	return parsed.Embeddings, nil
}
