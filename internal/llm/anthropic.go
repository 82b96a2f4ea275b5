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

const (
	// anthropicAPIVersion is the Anthropic API version header value.
	anthropicAPIVersion = "2023-06-01"

	// defaultAnthropicBaseURL is used when no base URL is configured.
	defaultAnthropicBaseURL = "https://api.anthropic.com"

	// defaultAnthropicModel is used when no model is configured.
	defaultAnthropicModel = "claude-3-5-haiku-latest"

	// defaultAnthropicMaxTokens is the default max tokens for the Messages API response.
	defaultAnthropicMaxTokens = 4096
)

// messagesRequest is the request body for the Anthropic Messages API.
type messagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

// anthropicMessage represents a single message in the Anthropic Messages API.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// contentBlock represents a content block in the Anthropic Messages API response.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// messagesResponse is the response body from the Anthropic Messages API.
type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

// anthropicUsage contains token usage information from the Anthropic API.
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicAPIErrorDetail represents the nested error object in an Anthropic API error response.
type anthropicAPIErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicErrorResponse wraps the error payload from the Anthropic API.
type anthropicErrorResponse struct {
	Type  string                  `json:"type"`
	Error anthropicAPIErrorDetail `json:"error"`
}

// AnthropicProvider implements JSONGenerator using the Anthropic Messages API.
// The Messages API has no schema-enforced output mode, so the schema is
// embedded in the system prompt and the reply is coerced into an object.
type AnthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	opts       Options
}

// AnthropicConfig holds the parameters needed to create an Anthropic provider.
// This is defined in the llm package to avoid importing the config package.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL is the API base URL.
	BaseURL string
}

// NewAnthropicProvider creates a new AnthropicProvider with the given configuration.
func NewAnthropicProvider(cfg AnthropicConfig, opts Options) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	opts = opts.withDefaults()

	return &AnthropicProvider{
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

// GenerateJSON sends the prompts to the Messages API and coerces the first
// text content block into a JSON object.
//
// Transient HTTP errors (status 429 and 5xx) are retried up to maxRetries times
// with exponential backoff. Context cancellation is respected between retries.
func (p *AnthropicProvider) GenerateJSON(ctx context.Context, system, user string, schema JSONSchema) (map[string]interface{}, error) {
	systemPrompt := strings.TrimSpace(system)
	if systemPrompt != "" {
		systemPrompt += "\n\n"
	}
	systemPrompt += schemaInstructions(schema)

	apiReq := messagesRequest{
		Model:     p.model,
		MaxTokens: defaultAnthropicMaxTokens,
		System:    systemPrompt,
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: strings.TrimSpace(user),
			},
		},
		Temperature: p.opts.Temperature,
	}

	start := time.Now()
	var resp *messagesResponse
	err := retry(ctx, ProviderAnthropic, p.opts.MaxRetries, p.opts.RetryDelay, func() error {
		var err error
		resp, err = p.sendRequest(ctx, apiReq)
		return err
	})
	if err != nil {
		p.opts.recordFailure(p.model, err)
		return nil, err
	}

	out, err := p.parseResponse(resp)
	if err != nil {
		p.opts.recordFailure(p.model, err)
		return nil, err
	}

	p.opts.recordSuccess(p.model, start, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return out, nil
}

// Provider returns the provider name.
func (p *AnthropicProvider) Provider() string {
	return ProviderAnthropic
}

// Model returns the model identifier being used.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// sendRequest sends a single request to the Anthropic Messages API and returns
// the parsed response or an error.
func (p *AnthropicProvider) sendRequest(ctx context.Context, apiReq messagesRequest) (*messagesResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	endpoint := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("anthropic: request failed: %w", ctx.Err())
		}
		// Network errors are considered transient and eligible for retry.
		return nil, networkError(ProviderAnthropic, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, networkError(ProviderAnthropic, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAnthropicAPIError(httpResp.StatusCode, respBody)
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// parseResponse coerces the first text content block into a JSON object.
func (p *AnthropicProvider) parseResponse(resp *messagesResponse) (map[string]interface{}, error) {
	var textContent string
	for _, block := range resp.Content {
		if block.Type == "text" {
			textContent = block.Text
			break
		}
	}

	out, err := CoerceJSONObject(textContent)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return out, nil
}

// parseAnthropicAPIError parses an Anthropic API error from the response status code and body.
func parseAnthropicAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   ProviderAnthropic,
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
	}

	return apiErr
}
