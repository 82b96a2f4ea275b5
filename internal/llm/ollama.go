package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.1"
)

// errOllamaChatMissing marks a server without the /api/chat endpoint.
var errOllamaChatMissing = errors.New("ollama: chat endpoint not found")

// ollamaOptions are the sampling options sent with every Ollama request.
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  ollamaOptions `json:"options"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

// ollamaResponse covers both /api/chat and /api/generate replies.
type ollamaResponse struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message,omitempty"`
	Response        string `json:"response,omitempty"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (r *ollamaResponse) text() string {
	if r.Message != nil && r.Message.Content != "" {
		return r.Message.Content
	}
	return r.Response
}

// OllamaConfig holds the parameters needed to create an Ollama provider.
type OllamaConfig struct {
	// BaseURL is the Ollama server URL.
	BaseURL string
	// Model is the model tag (e.g., "llama3.1").
	Model string
}

// OllamaProvider implements JSONGenerator against a local Ollama server.
//
// Some models answer better on /api/generate than on /api/chat and some
// ignore JSON mode entirely, so a call walks a ladder until one attempt
// yields text: chat in JSON mode, generate in JSON mode, chat, generate.
type OllamaProvider struct {
	httpClient *http.Client
	model      string
	baseURL    string
	opts       Options
}

// NewOllamaProvider creates a new Ollama JSON generator.
func NewOllamaProvider(cfg OllamaConfig, opts Options) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	opts = opts.withDefaults()

	return &OllamaProvider{
		httpClient: &http.Client{Timeout: opts.Timeout},
		model:      model,
		baseURL:    baseURL,
		opts:       opts,
	}
}

// GenerateJSON asks the model for a JSON object following schema.
func (p *OllamaProvider) GenerateJSON(ctx context.Context, system, user string, schema JSONSchema) (map[string]interface{}, error) {
	system = strings.TrimSpace(system)
	msg := strings.TrimSpace(user) + "\n\n" + schemaInstructions(schema)

	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: msg})

	prompt := msg
	if system != "" {
		prompt = system + "\n\n" + msg
	}

	start := time.Now()
	var text string
	var usage ollamaResponse
	err := retry(ctx, ProviderOllama, p.opts.MaxRetries, p.opts.RetryDelay, func() error {
		var err error
		text, usage, err = p.ladder(ctx, messages, prompt)
		return err
	})
	if err != nil {
		p.opts.recordFailure(p.model, err)
		return nil, err
	}

	out, err := CoerceJSONObject(text)
	if err != nil {
		p.opts.recordFailure(p.model, err)
		return nil, fmt.Errorf("ollama: %w", err)
	}

	p.opts.recordSuccess(p.model, start, usage.PromptEvalCount, usage.EvalCount)
	return out, nil
}

// Provider returns the provider name.
func (p *OllamaProvider) Provider() string {
	return ProviderOllama
}

// Model returns the model tag being used.
func (p *OllamaProvider) Model() string {
	return p.model
}

func (p *OllamaProvider) ladder(ctx context.Context, messages []chatMessage, prompt string) (string, ollamaResponse, error) {
	var last ollamaResponse
	for _, jsonMode := range []bool{true, false} {
		format := ""
		if jsonMode {
			format = "json"
		}

		resp, err := p.chat(ctx, messages, format)
		switch {
		case errors.Is(err, errOllamaChatMissing):
		case err != nil:
			return "", last, err
		default:
			last = resp
			if strings.TrimSpace(resp.text()) != "" {
				return resp.text(), resp, nil
			}
		}

		resp, err = p.generate(ctx, prompt, format)
		if err != nil {
			return "", last, err
		}
		last = resp
		if strings.TrimSpace(resp.text()) != "" {
			return resp.text(), resp, nil
		}
	}
	return "", last, fmt.Errorf("ollama: %w (the first response of a cold model can be slow; make sure the model supports chat or generate)", ErrEmptyOutput)
}

func (p *OllamaProvider) chat(ctx context.Context, messages []chatMessage, format string) (ollamaResponse, error) {
	return p.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   false,
		Format:   format,
		Options:  ollamaOptions{Temperature: p.opts.Temperature},
	}, true)
}

func (p *OllamaProvider) generate(ctx context.Context, prompt, format string) (ollamaResponse, error) {
	return p.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:   p.model,
		Prompt:  prompt,
		Stream:  false,
		Format:  format,
		Options: ollamaOptions{Temperature: p.opts.Temperature},
	}, false)
}

func (p *OllamaProvider) post(ctx context.Context, path string, payload interface{}, isChat bool) (ollamaResponse, error) {
	var out ollamaResponse

	body, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("ollama: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("ollama: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("ollama: request failed: %w", ctx.Err())
		}
		return out, networkError(ProviderOllama, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return out, networkError(ProviderOllama, err)
	}

	if isChat && resp.StatusCode == http.StatusNotFound {
		return out, errOllamaChatMissing
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: string(respBody)}
		if json.Unmarshal(respBody, &out) == nil && out.Error != "" {
			apiErr.Message = out.Error
		}
		return ollamaResponse{}, apiErr
	}

	if err := json.Unmarshal(respBody, &out); err != nil {
		return out, fmt.Errorf("ollama: failed to unmarshal response: %w", err)
	}
	if out.Error != "" {
		return out, fmt.Errorf("ollama: error: %s", out.Error)
	}
	return out, nil
}
