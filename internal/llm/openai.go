package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default values for the OpenAI provider.
const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenAIMaxTokens = 4096
)

// chatRequest represents the OpenAI Chat Completions API request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatMessage represents a single message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat specifies the output format for the API response.
type responseFormat struct {
	Type       string              `json:"type"`
	JSONSchema *responseJSONSchema `json:"json_schema,omitempty"`
}

// responseJSONSchema is the structured-output contract of a json_schema response.
type responseJSONSchema struct {
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
	Strict bool                   `json:"strict"`
}

// chatResponse represents the OpenAI Chat Completions API response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// chatChoice represents a single completion choice.
type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage contains token usage information.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// openAIErrorResponse represents an error response from the OpenAI API.
type openAIErrorResponse struct {
	Error openAIErrorDetail `json:"error"`
}

// openAIErrorDetail contains error details from the OpenAI API.
type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAIProvider implements JSONGenerator using the OpenAI Chat Completions API
// with json_schema structured output.
type OpenAIProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	opts       Options
}

// OpenAIConfig holds the parameters needed to create an OpenAI provider.
// This is defined in the llm package to avoid importing the config package.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the model identifier (e.g., "gpt-4o-mini").
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
}

// NewOpenAIProvider creates a new OpenAI JSON generator.
func NewOpenAIProvider(cfg OpenAIConfig, opts Options) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	opts = opts.withDefaults()

	return &OpenAIProvider{
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

// GenerateJSON sends the prompts to the Chat Completions API with a json_schema
// response format and decodes the first choice. Transient errors (5xx, 429 and
// network failures) are retried with exponential backoff.
func (p *OpenAIProvider) GenerateJSON(ctx context.Context, system, user string, schema JSONSchema) (map[string]interface{}, error) {
	messages := make([]chatMessage, 0, 2)
	if s := strings.TrimSpace(system); s != "" {
		messages = append(messages, chatMessage{Role: "system", Content: s})
	}
	messages = append(messages, chatMessage{Role: "user", Content: strings.TrimSpace(user)})

	chatReq := chatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.opts.Temperature,
		MaxTokens:   defaultOpenAIMaxTokens,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &responseJSONSchema{
				Name:   schema.Name,
				Schema: schema.Schema,
				Strict: schema.Strict,
			},
		},
	}

	start := time.Now()
	var resp *chatResponse
	err := retry(ctx, ProviderOpenAI, p.opts.MaxRetries, p.opts.RetryDelay, func() error {
		var err error
		resp, err = p.doRequest(ctx, chatReq)
		return err
	})
	if err != nil {
		p.opts.recordFailure(p.model, err)
		return nil, err
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("openai: %w: no choices in response", ErrEmptyOutput)
		p.opts.recordFailure(p.model, err)
		return nil, err
	}

	out, err := CoerceJSONObject(resp.Choices[0].Message.Content)
	if err != nil {
		p.opts.recordFailure(p.model, err)
		return nil, fmt.Errorf("openai: %w", err)
	}

	p.opts.recordSuccess(p.model, start, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return out, nil
}

// Provider returns the name of the LLM provider.
func (p *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

// Model returns the model identifier being used.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// doRequest performs a single API request to the OpenAI Chat Completions endpoint.
func (p *OpenAIProvider) doRequest(ctx context.Context, chatReq chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	endpoint := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("openai: request failed: %w", ctx.Err())
		}
		return nil, networkError(ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, networkError(ProviderOpenAI, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("openai: failed to unmarshal response: %w", err)
	}

	return &chatResp, nil
}

// parseOpenAIAPIError parses an OpenAI API error from the response status code and body.
func parseOpenAIAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   ProviderOpenAI,
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}
