package semanticscholar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
	"github.com/helixir/paper-recommender/internal/papersources"
)

func intPtr(v int) *int { return &v }

func newTestClient(serverURL string, metrics *observability.Metrics) *Client {
	return NewClient(Config{
		BaseURL:       serverURL,
		RateLimit:     100,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: time.Millisecond,
	}, nil, metrics)
}

func TestNewClient(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		client := NewClient(Config{}, nil, nil)

		require.NotNil(t, client)
		assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
		assert.Equal(t, DefaultTimeout, client.config.Timeout)
		assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
	})

	t.Run("uses provided HTTP client", func(t *testing.T) {
		httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{RateLimit: 100})
		client := NewClient(Config{}, httpClient, nil)
		assert.Same(t, httpClient, client.httpClient)
	})
}

func TestClient_Search(t *testing.T) {
	t.Run("converts papers to candidates", func(t *testing.T) {
		response := SearchResponse{
			Total: 2,
			Data: []PaperResult{
				{
					PaperID:     "abc123",
					Title:       " Sparse Attention for Long Documents ",
					Abstract:    "We study sparse attention.",
					Year:        intPtr(2023),
					Venue:       "ACL",
					URL:         "https://www.semanticscholar.org/paper/abc123",
					Authors:     []Author{{AuthorID: "1", Name: "Jane Doe"}, {Name: ""}},
					ExternalIDs: &ExternalIDs{DOI: "10.1000/ABC"},
				},
				{
					PaperID: "def456",
					Title:   "Retrieval Augmented Generation",
				},
			},
		}

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/paper/search", r.URL.Path)
			assert.Equal(t, "sparse attention", r.URL.Query().Get("query"))
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			assert.Empty(t, r.URL.Query().Get("offset"))
			assert.Equal(t, paperFields, r.URL.Query().Get("fields"))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(response)
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		got, err := client.Search(context.Background(), "sparse attention", 50, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)

		first := got[0]
		assert.Equal(t, "doi:10.1000/abc", first.Key)
		assert.Equal(t, "abc123", first.PaperExternalID)
		assert.Equal(t, "Sparse Attention for Long Documents", first.Title)
		assert.Equal(t, "10.1000/ABC", first.DOI)
		require.NotNil(t, first.Year)
		assert.Equal(t, 2023, *first.Year)
		assert.Equal(t, "ACL", first.Venue)
		assert.Equal(t, []domain.Author{{Name: "Jane Doe"}}, first.Authors)

		second := got[1]
		assert.Equal(t, "ss:def456", second.Key)
		assert.Nil(t, second.Year)
		assert.Empty(t, second.DOI)
	})

	t.Run("clamps limit and sends offset", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "100", r.URL.Query().Get("limit"))
			assert.Equal(t, "20", r.URL.Query().Get("offset"))
			w.Write([]byte(`{"total":0,"data":[]}`))
		}))
		defer server.Close()

		got, err := newTestClient(server.URL, nil).Search(context.Background(), "q", 500, 20)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("blank query makes no request", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		got, err := newTestClient(server.URL, nil).Search(context.Background(), "   ", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("API error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Unrecognized or unsupported fields"}`))
		}))
		defer server.Close()

		metrics := observability.NewMetrics("test_s2_api_error")
		_, err := newTestClient(server.URL, metrics).Search(context.Background(), "q", 10, 0)
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "Unrecognized")
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceRequestsFailed.WithLabelValues(sourceName, EndpointSearch, "status_400")))
	})

	t.Run("retries exhausted on rate limiting", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		metrics := observability.NewMetrics("test_s2_rate_limited")
		_, err := newTestClient(server.URL, metrics).Search(context.Background(), "q", 10, 0)
		require.Error(t, err)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SourceRateLimited.WithLabelValues(sourceName)))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceRequestsFailed.WithLabelValues(sourceName, EndpointSearch, "transport")))
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":[`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, nil).Search(context.Background(), "q", 10, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding search response")
	})
}

func TestClient_References(t *testing.T) {
	t.Run("returns cited papers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/paper/DOI:10.1000/xyz/references", r.URL.Path)
			assert.Equal(t, "40", r.URL.Query().Get("limit"))
			w.Write([]byte(`{"offset":0,"data":[
				{"citedPaper":{"paperId":"p1","title":"Cited One","externalIds":{"DOI":"10.1/one"}}},
				{"citedPaper":null},
				{"citedPaper":{"paperId":null,"title":"Only Title"}}
			]}`))
		}))
		defer server.Close()

		metrics := observability.NewMetrics("test_s2_references")
		got, err := newTestClient(server.URL, metrics).References(context.Background(), "10.1000/xyz", 40, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "doi:10.1/one", got[0].Key)
		assert.Equal(t, "title:only title", got[1].Key)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceRequestsTotal.WithLabelValues(sourceName, EndpointReferences)))
	})

	t.Run("unknown DOI yields empty result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Paper with id DOI:10.1/missing not found"}`))
		}))
		defer server.Close()

		got, err := newTestClient(server.URL, nil).References(context.Background(), "10.1/missing", 40, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("zero limit makes no request", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		got, err := newTestClient(server.URL, nil).References(context.Background(), "10.1/x", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, int32(0), calls.Load())
	})
}

func TestClient_Citations(t *testing.T) {
	t.Run("returns citing papers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/paper/DOI:10.1000/xyz/citations", r.URL.Path)
			w.Write([]byte(`{"data":[{"citingPaper":{"paperId":"c1","title":"Citing","year":2024}}]}`))
		}))
		defer server.Close()

		got, err := newTestClient(server.URL, nil).Citations(context.Background(), "10.1000/xyz", 40, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "ss:c1", got[0].Key)
		require.NotNil(t, got[0].Year)
		assert.Equal(t, 2024, *got[0].Year)
	})

	t.Run("unknown DOI yields empty result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		got, err := newTestClient(server.URL, nil).Citations(context.Background(), "10.1/missing", 40, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("context canceled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestClient(server.URL, nil).Citations(ctx, "10.1/x", 10, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestToCandidate(t *testing.T) {
	t.Run("zero year dropped", func(t *testing.T) {
		c := toCandidate(PaperResult{PaperID: "x", Title: "T", Year: intPtr(0)})
		assert.Nil(t, c.Year)
	})

	t.Run("no identity", func(t *testing.T) {
		c := toCandidate(PaperResult{})
		assert.Empty(t, c.Key)
		assert.Empty(t, c.Authors)
	})
}
