package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/ad-performance-scorer/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAPIConfig(baseURL string) config.APIConfig {
	return config.APIConfig{
		BaseURL:           baseURL,
		AccessToken:       "tok",
		Timeout:           2 * time.Second,
		MaxRetries:        2,
		RetryBase:         time.Millisecond,
		RequestsPerSecond: 1000,
		PageSize:          2,
		BreakerFailures:   10,
		BreakerTimeout:    time.Minute,
	}
}

func newTestClient(srv *httptest.Server, timeout time.Duration, mutate func(*config.APIConfig)) *Client {
	cfg := testAPIConfig(srv.URL)
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(NewHTTPClient(timeout), cfg, discardLogger())
}

var since = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func TestFetchAdsFollowsPaging(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/accounts/act_1/ads":
			assert.Equal(t, "2025-08-01", r.URL.Query().Get("since"))
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			fmt.Fprintf(w, `{"data":[
				{"id":"a1","name":"Spring","created_time":"2025-07-01T10:00:00+0000",
				 "metrics":{"spend":"300.50","impressions":10000,"clicks":150,"conversions":5},
				 "age_gender":[{"age":"25-34","gender":"Female","spend":"100","impressions":4000}]},
				{"id":"a2","created_time":"2025-07-02"}
			],"paging":{"next":"%s/next-page"}}`, srv.URL)
		case "/next-page":
			fmt.Fprint(w, `{"data":[{"id":"a3","created_time":"2025-07-03T00:00:00Z"},{"id":"bad","created_time":"yesterday"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ads, err := newTestClient(srv, 2*time.Second, nil).FetchAds(context.Background(), "GBR", "act_1", since)
	require.NoError(t, err)
	require.Len(t, ads, 3, "malformed ad is skipped")

	assert.Equal(t, "a1", ads[0].ID)
	assert.Equal(t, "GBR", ads[0].Region)
	assert.Equal(t, "300.5", ads[0].Metrics.Spend.String())
	assert.Equal(t, int64(150), ads[0].Metrics.Clicks)
	assert.Equal(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), ads[0].CreatedTime)
	require.Len(t, ads[0].Breakdowns, 1)
	assert.Equal(t, "a3", ads[2].ID)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":{"spend":"1000","impressions":50000,"clicks":600,"conversions":20}}`)
	}))
	defer srv.Close()

	raw, err := newTestClient(srv, 2*time.Second, nil).FetchAccountInsights(context.Background(), "act_1", since)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int64(600), raw.Clicks)
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 2*time.Second, nil).FetchAds(context.Background(), "GBR", "act_1", since)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.False(t, se.Retryable())
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, 50*time.Millisecond, func(cfg *config.APIConfig) { cfg.MaxRetries = 0 })
	_, err := c.FetchAccountInsights(context.Background(), "act_1", since)
	assert.Error(t, err)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv, 2*time.Second, func(cfg *config.APIConfig) {
		cfg.MaxRetries = 1
		cfg.BreakerFailures = 2
	})
	_, err := c.FetchAccountInsights(context.Background(), "act_1", since)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.FetchAccountInsights(context.Background(), "act_1", since)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), hits.Load(), "open breaker short-circuits")
}

func TestClientErrorsLeaveBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "act_bad") {
			http.Error(w, "unknown account", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"data":{"spend":"10","impressions":100}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv, 2*time.Second, func(cfg *config.APIConfig) { cfg.BreakerFailures = 3 })
	for i := 0; i < 5; i++ {
		_, err := c.FetchAccountInsights(context.Background(), "act_bad", since)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusBadRequest, se.Code)
	}

	raw, err := c.FetchAccountInsights(context.Background(), "act_good", since)
	require.NoError(t, err, "healthy account after repeated 400s")
	assert.Equal(t, int64(100), raw.Impressions)
}

func TestFetchRequiresBaseURL(t *testing.T) {
	c := NewClient(NewHTTPClient(time.Second), testAPIConfig(""), discardLogger())
	_, err := c.FetchAds(context.Background(), "GBR", "act_1", since)
	assert.Error(t, err)
}

func TestParseCreated(t *testing.T) {
	for _, s := range []string{"2025-07-01T10:00:00Z", "2025-07-01T12:00:00+0200", "2025-07-01"} {
		got, err := parseCreated(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2025, got.Year())
		assert.Equal(t, time.UTC, got.Location())
	}
	_, err := parseCreated("")
	assert.Error(t, err)
}
