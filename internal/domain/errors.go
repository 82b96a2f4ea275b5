package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates that the request lacks valid authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates that the request is not allowed for the authenticated user.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInternalError indicates an internal server error.
	ErrInternalError = errors.New("internal error")

	// ErrConflict indicates that the operation conflicts with the current state,
	// for example a second task trying to enter the running state.
	ErrConflict = errors.New("conflict")

	// ErrEmbeddingMismatch indicates that an embedder returned a different number
	// of vectors, or vectors of a different dimension, than requested.
	ErrEmbeddingMismatch = errors.New("embedding mismatch")

	// ErrNoExclusionKey indicates that no exclusion key could be derived from an item.
	ErrNoExclusionKey = errors.New("no exclusion key")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error, or ErrServiceUnavailable when
// the failure has no cause of its own.
func (e *ExternalAPIError) Unwrap() error {
	if e.Cause == nil {
		return ErrServiceUnavailable
	}
	return e.Cause
}

// EmbeddingMismatchError reports an embedder response that does not line up
// with its request. It is always fatal for a recommendation run.
type EmbeddingMismatchError struct {
	Stage    string
	Expected int
	Got      int
}

// Error implements the error interface.
func (e *EmbeddingMismatchError) Error() string {
	return fmt.Sprintf("embedding output count mismatch (%s): expected %d, got %d", e.Stage, e.Expected, e.Got)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *EmbeddingMismatchError) Unwrap() error {
	return ErrEmbeddingMismatch
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewEmbeddingMismatchError creates a new EmbeddingMismatchError.
func NewEmbeddingMismatchError(stage string, expected, got int) *EmbeddingMismatchError {
	return &EmbeddingMismatchError{
		Stage:    stage,
		Expected: expected,
		Got:      got,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// ErrorKind names the class of err for task logs. An error in the chain with a
// Kind() string method names itself; otherwise the domain type or sentinel
// decides, and anything else is "Error".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}

	var (
		validation *ValidationError
		notFound   *NotFoundError
		exists     *AlreadyExistsError
		rateLimit  *RateLimitError
		external   *ExternalAPIError
		mismatch   *EmbeddingMismatchError
	)
	switch {
	case errors.As(err, &validation):
		return "ValidationError"
	case errors.As(err, &notFound):
		return "NotFoundError"
	case errors.As(err, &exists):
		return "AlreadyExistsError"
	case errors.As(err, &rateLimit):
		return "RateLimitError"
	case errors.As(err, &external):
		return "ExternalAPIError"
	case errors.As(err, &mismatch):
		return "EmbeddingMismatchError"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInputError"
	case errors.Is(err, ErrConflict):
		return "ConflictError"
	case errors.Is(err, ErrEmbeddingMismatch):
		return "EmbeddingMismatchError"
	case errors.Is(err, ErrRateLimited):
		return "RateLimitError"
	case errors.Is(err, ErrServiceUnavailable):
		return "ServiceUnavailableError"
	default:
		return "Error"
	}
}
