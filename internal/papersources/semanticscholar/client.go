package semanticscholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
	"github.com/helixir/paper-recommender/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the default rate limit for unauthenticated requests.
	DefaultRateLimit = 1.0

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxLimit is the largest page size the search endpoint accepts.
	MaxLimit = 100

	// apiKeyHeader is the header name for the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	// paperFields is the list of fields to request for every paper.
	paperFields = "paperId,externalIds,title,abstract,year,venue,url,authors"

	// sourceName identifies this source in errors, logs and metrics.
	sourceName = "semantic_scholar"
)

// Endpoint names used in metrics.
const (
	EndpointSearch     = "search"
	EndpointReferences = "references"
	EndpointCitations  = "citations"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL is the base URL for the API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the optional API key for authenticated requests.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// MaxRetries, RetryDelay and MaxRetryDelay tune the retry backoff.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Client searches Semantic Scholar and walks its citation graph.
// It is safe for concurrent use.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
	metrics    *observability.Metrics
}

// NewClient creates a new Semantic Scholar client with the given configuration.
// If httpClient is nil, one is created from the configuration settings.
// metrics may be nil.
func NewClient(cfg Config, httpClient *papersources.HTTPClient, metrics *observability.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:       cfg.Timeout,
			RateLimit:     cfg.RateLimit,
			BurstSize:     1,
			MaxRetries:    cfg.MaxRetries,
			RetryDelay:    cfg.RetryDelay,
			MaxRetryDelay: cfg.MaxRetryDelay,
			APIKey:        cfg.APIKey,
			APIKeyHeader:  apiKeyHeader,
			OnRateLimited: func() {
				if metrics != nil {
					metrics.RecordSourceRateLimited(sourceName)
				}
			},
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		metrics:    metrics,
	}
}

// Search runs a keyword search and returns up to limit candidates.
func (c *Client) Search(ctx context.Context, query string, limit, offset int) ([]domain.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	reqURL, err := c.buildURL([]string{"paper", "search"}, limit, offset, func(q url.Values) {
		q.Set("query", query)
	})
	if err != nil {
		return nil, err
	}

	var page SearchResponse
	found, err := c.get(ctx, EndpointSearch, reqURL, &page)
	if err != nil || !found {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(page.Data))
	for _, p := range page.Data {
		out = append(out, toCandidate(p))
	}
	return out, nil
}

// References returns the papers cited by the paper with the given DOI.
// An unknown DOI yields an empty result.
func (c *Client) References(ctx context.Context, doi string, limit, offset int) ([]domain.Candidate, error) {
	doi = strings.TrimSpace(doi)
	if doi == "" || limit <= 0 {
		return nil, nil
	}

	reqURL, err := c.buildURL([]string{"paper", "DOI:" + doi, "references"}, limit, offset, nil)
	if err != nil {
		return nil, err
	}

	var page ReferencesResponse
	found, err := c.get(ctx, EndpointReferences, reqURL, &page)
	if err != nil || !found {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(page.Data))
	for _, edge := range page.Data {
		if edge.CitedPaper != nil {
			out = append(out, toCandidate(*edge.CitedPaper))
		}
	}
	return out, nil
}

// Citations returns the papers citing the paper with the given DOI.
// An unknown DOI yields an empty result.
func (c *Client) Citations(ctx context.Context, doi string, limit, offset int) ([]domain.Candidate, error) {
	doi = strings.TrimSpace(doi)
	if doi == "" || limit <= 0 {
		return nil, nil
	}

	reqURL, err := c.buildURL([]string{"paper", "DOI:" + doi, "citations"}, limit, offset, nil)
	if err != nil {
		return nil, err
	}

	var page CitationsResponse
	found, err := c.get(ctx, EndpointCitations, reqURL, &page)
	if err != nil || !found {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(page.Data))
	for _, edge := range page.Data {
		if edge.CitingPaper != nil {
			out = append(out, toCandidate(*edge.CitingPaper))
		}
	}
	return out, nil
}

// buildURL constructs an API URL with paging and field parameters.
func (c *Client) buildURL(path []string, limit, offset int, extra func(url.Values)) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	u := baseURL.JoinPath(path...)
	q := u.Query()
	if extra != nil {
		extra(q)
	}
	q.Set("fields", paperFields)
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// get performs a GET and decodes the JSON body into out.
// It reports found=false for a 404.
func (c *Client) get(ctx context.Context, endpoint, reqURL string, out interface{}) (bool, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(endpoint, errorType(err))
		return false, fmt.Errorf("executing %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.recordSuccess(endpoint, start)
		return false, nil
	}

	if err := c.handleErrorResponse(resp); err != nil {
		c.recordFailure(endpoint, "status_"+strconv.Itoa(resp.StatusCode))
		return false, err
	}

	// Limit body to 10MB to prevent resource exhaustion.
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(out); err != nil {
		c.recordFailure(endpoint, "decode")
		return false, fmt.Errorf("decoding %s response: %w", endpoint, err)
	}

	c.recordSuccess(endpoint, start)
	return true, nil
}

// handleErrorResponse checks for API errors and returns appropriate error types.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read the error body (limit to 1MB to prevent resource exhaustion)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		message := errResp.Error
		if message == "" {
			message = errResp.Message
		}
		if message == "" {
			message = string(body)
		}
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
	}

	return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
}

func (c *Client) recordSuccess(endpoint string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordSourceRequest(sourceName, endpoint, time.Since(start).Seconds())
	}
}

func (c *Client) recordFailure(endpoint, errType string) {
	if c.metrics != nil {
		c.metrics.RecordSourceRequestFailed(sourceName, endpoint, errType)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

// toCandidate converts an API paper to a candidate keyed by DOI, paper id or title.
func toCandidate(p PaperResult) domain.Candidate {
	var doi string
	if p.ExternalIDs != nil {
		doi = strings.TrimSpace(p.ExternalIDs.DOI)
	}
	title := strings.TrimSpace(p.Title)

	authors := make([]domain.Author, 0, len(p.Authors))
	for _, a := range p.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, domain.Author{Name: name})
		}
	}

	var year *int
	if p.Year != nil && *p.Year > 0 {
		y := *p.Year
		year = &y
	}

	return domain.Candidate{
		Key:             domain.CandidateKey(doi, p.PaperID, title),
		PaperExternalID: strings.TrimSpace(p.PaperID),
		Title:           title,
		DOI:             doi,
		URL:             strings.TrimSpace(p.URL),
		Year:            year,
		Venue:           strings.TrimSpace(p.Venue),
		Authors:         authors,
		Abstract:        strings.TrimSpace(p.Abstract),
	}
}
