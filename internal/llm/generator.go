// Package llm provides the language-model and embedding backends of the paper recommender.
//
// Two abstractions live here. A JSONGenerator turns a system and user prompt
// into a JSON object shaped by a schema; the recommender uses one to write
// search queries and another to pick final recommendations. An Embedder turns
// texts into unit-length vectors for similarity scoring.
//
// Example usage:
//
//	gen, err := llm.NewJSONGenerator(llm.FactoryConfig{Provider: "openai", ...})
//	out, err := gen.GenerateJSON(ctx, system, user, llm.JSONSchema{
//		Name:   "semantic_scholar_queries",
//		Schema: schema,
//		Strict: true,
//	})
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helixir/paper-recommender/internal/observability"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// JSONSchema names and describes the object a JSONGenerator must return.
type JSONSchema struct {
	// Name identifies the schema (OpenAI requires one for json_schema output).
	Name string
	// Schema is the JSON Schema document.
	Schema map[string]interface{}
	// Strict asks providers that support it to enforce the schema.
	Strict bool
}

// JSONGenerator produces a JSON object from a prompt.
//
// Implementations must:
//   - respect context cancellation
//   - fail on empty or malformed output
//   - return wrapped errors with provider context
type JSONGenerator interface {
	// GenerateJSON sends the prompts and returns the decoded JSON object.
	GenerateJSON(ctx context.Context, system, user string, schema JSONSchema) (map[string]interface{}, error)

	// Provider returns the name of the LLM provider (e.g., "openai", "ollama").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// Options are the provider-independent settings of a JSONGenerator.
type Options struct {
	// Temperature is the sampling temperature.
	Temperature float64
	// Timeout bounds a single HTTP call.
	Timeout time.Duration
	// MaxRetries is the number of retries for transient failures.
	MaxRetries int
	// RetryDelay is the base delay of the exponential retry backoff.
	RetryDelay time.Duration
	// Operation labels metrics, e.g. "query" or "decider".
	Operation string
	// Metrics is optional.
	Metrics *observability.Metrics
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Operation == "" {
		o.Operation = "generate"
	}
	return o
}

func (o Options) recordSuccess(model string, start time.Time, inputTokens, outputTokens int) {
	if o.Metrics != nil {
		o.Metrics.RecordLLMRequest(o.Operation, model, time.Since(start).Seconds(), inputTokens, outputTokens)
	}
}

func (o Options) recordFailure(model string, err error) {
	if o.Metrics == nil {
		return
	}
	errType := "error"
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		errType = fmt.Sprintf("status_%d", apiErr.StatusCode)
	case errors.Is(err, ErrMalformedOutput), errors.Is(err, ErrEmptyOutput):
		errType = "malformed_output"
	case errors.Is(err, context.DeadlineExceeded):
		errType = "timeout"
	}
	o.Metrics.RecordLLMRequestFailed(o.Operation, model, errType)
}

// CoerceJSONObject extracts a JSON object from raw model output.
// It strips ``` fences, keeps the span from the first '{' to the last '}',
// and requires the result to decode to an object.
func CoerceJSONObject(raw string) (map[string]interface{}, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrEmptyOutput
	}

	if strings.Contains(text, "```") {
		var lines []string
		inBlock := false
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			if inBlock {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			text = strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		text = strings.TrimSpace(text[start : end+1])
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedOutput)
	}
	return out, nil
}

// schemaInstructions renders the output contract appended to prompts for
// providers without native schema enforcement.
func schemaInstructions(schema JSONSchema) string {
	hint, err := json.MarshalIndent(schema.Schema, "", "  ")
	if err != nil {
		hint = []byte("{}")
	}

	var sb strings.Builder
	sb.WriteString("Output format:\n")
	sb.WriteString("- Output ONLY a JSON object.\n")
	sb.WriteString("- Do not wrap in ```.\n")
	sb.WriteString("- Must follow this JSON Schema:\n")
	sb.Write(hint)
	sb.WriteString("\n")
	return sb.String()
}

// retry runs fn up to maxRetries+1 times, backing off exponentially between
// transient failures and stopping early on any other error.
func retry(ctx context.Context, provider string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context cancelled during retry wait: %w", provider, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%s: all %d retries exhausted: %w", provider, maxRetries, lastErr)
}
