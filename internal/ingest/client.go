package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/AngelCh415/ad-performance-scorer/internal/config"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/telemetry"
	"github.com/AngelCh415/ad-performance-scorer/internal/utils"
)

const (
	maxBodyBytes = 16 << 20
	maxPages     = 1000
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// StatusError is a non-2xx answer from the marketing API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx: %d body=%s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client reads ads and account insights from the marketing API.
type Client struct {
	c        HTTPClient
	baseURL  string
	token    string
	pageSize int
	backoff  utils.Backoff
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
	log      *slog.Logger
}

func NewClient(c HTTPClient, cfg config.APIConfig, log *slog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "marketing-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Only transport errors, 5xx and 429 count against the breaker.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && !se.Retryable())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		c:        c,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.AccessToken,
		pageSize: cfg.PageSize,
		backoff:  utils.NewBackoff(cfg.RetryBase, cfg.MaxRetries),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		breaker:  gobreaker.NewCircuitBreaker[[]byte](settings),
		log:      log,
	}
}

type adPayload struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	CampaignID   string                  `json:"campaign_id"`
	CampaignName string                  `json:"campaign_name"`
	AdsetID      string                  `json:"adset_id"`
	CreatedTime  string                  `json:"created_time"`
	Metrics      models.RawMetrics       `json:"metrics"`
	AgeGender    []models.SegmentMetrics `json:"age_gender"`
}

type adsPage struct {
	Data   []adPayload `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type insightsResp struct {
	Data models.RawMetrics `json:"data"`
}

// FetchAds follows the paging cursor until the last page.
func (c *Client) FetchAds(ctx context.Context, region, accountID string, since time.Time) ([]models.Ad, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format("2006-01-02"))
	q.Set("limit", strconv.Itoa(c.pageSize))
	next := c.baseURL + "/accounts/" + url.PathEscape(accountID) + "/ads?" + q.Encode()

	var out []models.Ad
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("account %s: more than %d pages", accountID, maxPages)
		}
		var p adsPage
		if err := c.getJSON(ctx, "ads", next, &p); err != nil {
			return nil, fmt.Errorf("account %s: %w", accountID, err)
		}
		for _, a := range p.Data {
			ad, err := a.toAd(region)
			if err != nil {
				c.log.Warn("skipping malformed ad", slog.String("ad_id", a.ID), slog.String("err", err.Error()))
				continue
			}
			out = append(out, ad)
		}
		next = p.Paging.Next
	}
	return out, nil
}

// FetchAccountInsights returns the account level counters for the window.
func (c *Client) FetchAccountInsights(ctx context.Context, accountID string, since time.Time) (models.RawMetrics, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format("2006-01-02"))
	u := c.baseURL + "/accounts/" + url.PathEscape(accountID) + "/insights?" + q.Encode()
	var resp insightsResp
	if err := c.getJSON(ctx, "insights", u, &resp); err != nil {
		return models.RawMetrics{}, fmt.Errorf("account %s insights: %w", accountID, err)
	}
	return resp.Data.Sanitized(), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, u string, dst any) error {
	if c.baseURL == "" {
		return errors.New("empty base url")
	}
	var body []byte
	err := c.backoff.Do(ctx, func(attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return utils.Permanent(err)
		}
		b, err := c.breaker.Execute(func() ([]byte, error) { return c.fetch(ctx, endpoint, u) })
		if err != nil {
			c.log.Debug("api request failed", slog.String("endpoint", endpoint), slog.Int("attempt", attempt), slog.String("err", err.Error()))
			if !isRetryable(err) {
				return utils.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func (c *Client) fetch(ctx context.Context, endpoint, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.c.Do(req)
	if err != nil {
		telemetry.APIRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	telemetry.APIRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func isRetryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

var createdLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02",
}

func parseCreated(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range createdLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad created_time %q", s)
}

func (a adPayload) toAd(region string) (models.Ad, error) {
	if strings.TrimSpace(a.ID) == "" {
		return models.Ad{}, errors.New("missing id")
	}
	created, err := parseCreated(a.CreatedTime)
	if err != nil {
		return models.Ad{}, err
	}
	return models.Ad{
		ID:           strings.TrimSpace(a.ID),
		Name:         strings.TrimSpace(a.Name),
		CampaignID:   strings.TrimSpace(a.CampaignID),
		CampaignName: strings.TrimSpace(a.CampaignName),
		AdsetID:      strings.TrimSpace(a.AdsetID),
		Region:       region,
		CreatedTime:  created,
		Metrics:      a.Metrics.Sanitized(),
		Breakdowns:   a.AgeGender,
	}, nil
}
