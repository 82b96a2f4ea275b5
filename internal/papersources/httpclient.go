package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// DefaultUserAgent is sent when HTTPClientConfig.UserAgent is empty.
const DefaultUserAgent = "paper-recommender/1.0"

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// RetryDelay is the base delay of the exponential backoff.
	RetryDelay time.Duration

	// MaxRetryDelay caps a single computed backoff wait.
	MaxRetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "x-api-key").
	APIKeyHeader string

	// OnRateLimited is called for every 429 response, retried or not.
	OnRateLimited func()
}

// HTTPClient wraps http.Client with rate limiting and retries.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig

	// jitter returns a duration in [0, ceiling]. Tests replace it.
	jitter func(ceiling time.Duration) time.Duration
}

// NewHTTPClient creates a new HTTP client with rate limiting.
// The client applies rate limiting before each request and retries
// network errors, 429 (Too Many Requests) and 5xx responses with
// exponential backoff and full jitter.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
		jitter:      fullJitter,
	}
}

// Do executes an HTTP request with rate limiting and retries.
// It waits for the rate limiter before each attempt, sets the User-Agent
// and optional API key headers, and retries network errors, 429 and 5xx.
// A Retry-After header on 429 or 503 replaces the computed backoff.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == c.config.MaxRetries {
				return nil, lastErr
			}
			if err := c.prepareRetry(req, c.backoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests && c.config.OnRateLimited != nil {
			c.config.OnRateLimited()
		}

		if !c.shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		delay := c.getRetryDelay(resp, attempt)
		drainAndClose(resp)

		if attempt == c.config.MaxRetries {
			return nil, fmt.Errorf("max retries exhausted after %d attempts, last status: %d", c.config.MaxRetries+1, resp.StatusCode)
		}
		lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		if err := c.prepareRetry(req, delay); err != nil {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

func (c *HTTPClient) prepareRetry(req *http.Request, delay time.Duration) error {
	if err := c.waitForRetry(req.Context(), delay); err != nil {
		return err
	}
	if err := c.resetRequestBody(req); err != nil {
		return fmt.Errorf("cannot retry request: %w", err)
	}
	return nil
}

// shouldRetry returns true if the status code indicates we should retry.
func (c *HTTPClient) shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// backoff returns the full-jitter wait before retry number attempt+1:
// a uniform duration in [0, min(MaxRetryDelay, RetryDelay*2^attempt)].
func (c *HTTPClient) backoff(attempt int) time.Duration {
	ceiling := c.config.MaxRetryDelay
	if attempt < 31 {
		if d := c.config.RetryDelay << attempt; d > 0 && d < ceiling {
			ceiling = d
		}
	}
	return c.jitter(ceiling)
}

// getRetryDelay determines how long to wait before retrying.
// Retry-After is honored on 429 and 503 only; everything else backs off.
func (c *HTTPClient) getRetryDelay(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return c.backoff(attempt)
	}
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
		return d
	}
	return c.backoff(attempt)
}

// parseRetryAfter parses a Retry-After value given in seconds or as an HTTP date.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second, true
		}
		return 0, false
	}
	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func (c *HTTPClient) waitForRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resetRequestBody resets the request body for retry if possible.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

func drainAndClose(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func fullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
