package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/ad-performance-scorer/internal/benchmark"
	"github.com/AngelCh415/ad-performance-scorer/internal/config"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/scoring"
	"github.com/AngelCh415/ad-performance-scorer/internal/segments"
	"github.com/AngelCh415/ad-performance-scorer/internal/store"
)

var pipelineNow = time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu       sync.Mutex
	ads      map[string][]models.Ad
	insights map[string]models.RawMetrics
	fail     map[string]error
	sinces   []time.Time
}

func (f *fakeSource) FetchAds(_ context.Context, region, accountID string, since time.Time) ([]models.Ad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if err := f.fail[accountID]; err != nil {
		return nil, err
	}
	out := make([]models.Ad, 0, len(f.ads[accountID]))
	for _, a := range f.ads[accountID] {
		a.Region = region
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeSource) FetchAccountInsights(_ context.Context, accountID string, _ time.Time) (models.RawMetrics, error) {
	raw, ok := f.insights[accountID]
	if !ok {
		return models.RawMetrics{}, fmt.Errorf("no insights for %s", accountID)
	}
	return raw, nil
}

func testProfile() scoring.Profile {
	return scoring.Profile{
		models.MetricCTR: {Direction: models.HigherIsBetter, Weight: 1},
		models.MetricCPR: {Direction: models.LowerIsBetter, Weight: 1},
	}
}

func adFixture(id string, spend int64, ageDays int) models.Ad {
	return models.Ad{
		ID:          id,
		Name:        "ad " + id,
		CreatedTime: pipelineNow.AddDate(0, 0, -ageDays),
		Metrics: models.RawMetrics{
			Spend:       decimal.NewFromInt(spend),
			Impressions: 10000,
			Clicks:      150,
			Conversions: 5,
		},
		Breakdowns: []models.SegmentMetrics{
			{AgeBand: "25-34", Gender: "female", RawMetrics: models.RawMetrics{Spend: decimal.NewFromInt(100), Impressions: 4000, Clicks: 80, Conversions: 4}},
			{AgeBand: "18-24", Gender: "male", RawMetrics: models.RawMetrics{Spend: decimal.NewFromInt(150), Impressions: 5000, Clicks: 40, Conversions: 1}},
			{AgeBand: "65+", Gender: "unknown"},
		},
	}
}

func newTestPipeline(t *testing.T, src AdSource, opts Options) (*Pipeline, *store.MemoryStore, *benchmark.Registry) {
	t.Helper()
	resolver, err := benchmark.Build(map[string]map[models.Metric]float64{
		"GBR": {models.MetricCTR: 0.01, models.MetricCPR: 50},
	}, testProfile())
	require.NoError(t, err)
	registry := benchmark.NewRegistry(resolver)

	engine, err := scoring.NewEngine(scoring.DefaultConfig())
	require.NoError(t, err)
	agg, err := segments.NewAggregator(engine, segments.Config{UnderperformRatio: segments.DefaultUnderperformRatio})
	require.NoError(t, err)

	st := store.NewMemoryStore(0)
	if opts.Selection.MinimumSpend.IsZero() {
		opts.Selection = Selection{MinimumSpend: decimal.NewFromInt(250), DaysSinceLaunch: 7}
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 4
	}
	p := NewPipeline(src, registry, engine, agg, testProfile(), st, discardLogger(), opts)
	p.now = func() time.Time { return pipelineNow }
	return p, st, registry
}

func TestPipelineRun(t *testing.T) {
	src := &fakeSource{ads: map[string][]models.Ad{
		"act_gbr": {
			adFixture("a1", 300, 30),
			adFixture("low", 10, 30),
			adFixture("young", 300, 2),
			adFixture("a1", 300, 30),
			adFixture("a2", 500, 10),
		},
	}}
	p, st, _ := newTestPipeline(t, src, Options{Accounts: map[string]string{"GBR": "act_gbr"}})

	run, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 2, run.Skipped)
	require.Len(t, run.Reports, 2, "duplicate ad scored once")
	assert.Equal(t, "a1", run.Reports[0].AdID)
	assert.Equal(t, "a2", run.Reports[1].AdID)

	r := run.Reports[0]
	assert.Equal(t, "GBR", r.Region)
	assert.Equal(t, run.ID, r.RunID)
	overall, ok := r.Score.Overall.Get()
	require.True(t, ok)
	assert.InDelta(t, (150+5000.0/60)/2, overall, 1e-9)
	require.Len(t, r.Score.Segments, 2, "empty segment omitted")
	assert.True(t, r.Score.Segments[models.NewSegmentKey("18-24", "male")].Underperforming)

	stored, ok := st.Run(run.ID)
	require.True(t, ok)
	assert.Len(t, stored.Reports, 2)

	require.Len(t, src.sinces, 1)
	assert.Equal(t, time.Date(2025, 8, 13, 0, 0, 0, 0, time.UTC), src.sinces[0])
}

func TestPipelineRunUsesSince(t *testing.T) {
	src := &fakeSource{}
	p, _, _ := newTestPipeline(t, src, Options{Accounts: map[string]string{"GBR": "act_gbr"}})
	since := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	run, err := p.Run(context.Background(), &since)
	require.NoError(t, err)
	assert.Empty(t, run.Reports)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), src.sinces[0])
}

func TestPipelineRegionFailuresAreIsolated(t *testing.T) {
	src := &fakeSource{
		ads: map[string][]models.Ad{
			"act_gbr": {adFixture("a1", 300, 30)},
			"act_nam": {adFixture("n1", 300, 30)},
		},
	}
	p, _, _ := newTestPipeline(t, src, Options{Accounts: map[string]string{
		"GBR": "act_gbr",
		"NAM": "act_nam",
		"DEU": "act_deu",
	}})

	run, err := p.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, benchmark.ErrBenchmarkNotFound))
	assert.Contains(t, run.Errors, "NAM")
	assert.Contains(t, run.Errors, "DEU")
	require.Len(t, run.Reports, 1)
	assert.Equal(t, "a1", run.Reports[0].AdID)
}

func TestPipelineFetchFailureIsRecorded(t *testing.T) {
	src := &fakeSource{fail: map[string]error{"act_gbr": errors.New("boom")}}
	p, _, _ := newTestPipeline(t, src, Options{Accounts: map[string]string{"GBR": "act_gbr"}})

	run, err := p.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, run.Errors["GBR"], "boom")
}

func TestPipelineSnapshotSurvivesReload(t *testing.T) {
	src := &fakeSource{ads: map[string][]models.Ad{"act_gbr": {adFixture("a1", 300, 30)}}}
	p, _, registry := newTestPipeline(t, src, Options{Accounts: map[string]string{"GBR": "act_gbr"}})

	first, err := p.Run(context.Background(), nil)
	require.NoError(t, err)

	tighter, err := benchmark.Build(map[string]map[models.Metric]float64{
		"GBR": {models.MetricCTR: 0.03, models.MetricCPR: 50},
	}, testProfile())
	require.NoError(t, err)
	registry.Reload(tighter)

	second, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	a, _ := first.Reports[0].Score.Overall.Get()
	b, _ := second.Reports[0].Score.Overall.Get()
	assert.Greater(t, a, b, "next run picks up the reloaded table")
}

func TestPipelineAccountBenchmarks(t *testing.T) {
	src := &fakeSource{
		ads: map[string][]models.Ad{"act_gbr": {adFixture("a1", 300, 30)}},
		insights: map[string]models.RawMetrics{"act_gbr": {
			Spend: decimal.NewFromInt(300), Impressions: 10000, Clicks: 150, Conversions: 5,
		}},
	}
	p, _, _ := newTestPipeline(t, src, Options{
		Accounts:        map[string]string{"GBR": "act_gbr", "NAM": "act_nam"},
		BenchmarkSource: config.BenchmarkSourceAccount,
	})

	run, err := p.Run(context.Background(), nil)
	require.Error(t, err, "NAM has no insights")
	require.Len(t, run.Reports, 1)
	overall, ok := run.Reports[0].Score.Overall.Get()
	require.True(t, ok)
	assert.InDelta(t, 100, overall, 1e-9, "ad equal to its account average")
}

func TestPipelineCancelled(t *testing.T) {
	src := &fakeSource{}
	p, _, _ := newTestPipeline(t, src, Options{Accounts: map[string]string{"GBR": "act_gbr"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, src.sinces)
}

func TestPipelineAgainstHTTPAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"h1","created_time":"2025-07-01",
			"metrics":{"spend":"300","impressions":10000,"clicks":150,"conversions":5}}]}`)
	}))
	defer srv.Close()

	p, _, _ := newTestPipeline(t, newTestClient(srv, 2*time.Second, nil), Options{Accounts: map[string]string{"GBR": "act_gbr"}})
	run, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, run.Reports, 1)
	assert.Equal(t, models.RatingAverage, run.Reports[0].Score.Rating)
}
