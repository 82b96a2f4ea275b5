package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyOutput indicates that the model returned no content.
	ErrEmptyOutput = errors.New("empty LLM output")

	// ErrMalformedOutput indicates that the model output is not a JSON object.
	ErrMalformedOutput = errors.New("malformed LLM output")
)

// APIError represents an error returned by an LLM or embedding provider API.
type APIError struct {
	// Provider is the name of the provider (e.g., "openai", "ollama").
	Provider string
	// StatusCode is the HTTP status code returned by the API.
	StatusCode int
	// Message is the error message from the API.
	Message string
	// Type is the error type classification from the API.
	Type string
	// Code is the provider-specific error code (if available).
	Code string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient returns true if the error is a transient error that may succeed
// on retry. This includes rate limiting (429), server errors (5xx), and network
// errors (StatusCode 0 indicates no HTTP response was received).
func (e *APIError) IsTransient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// isTransientError reports whether err wraps a transient APIError.
func isTransientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	return false
}

// networkError wraps a transport failure as a retryable APIError.
func networkError(provider string, err error) *APIError {
	return &APIError{
		Provider:   provider,
		StatusCode: 0,
		Message:    fmt.Sprintf("request failed: %v", err),
		Type:       "network_error",
	}
}
