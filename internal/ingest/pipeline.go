package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/AngelCh415/ad-performance-scorer/internal/benchmark"
	"github.com/AngelCh415/ad-performance-scorer/internal/config"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/scoring"
	"github.com/AngelCh415/ad-performance-scorer/internal/segments"
	"github.com/AngelCh415/ad-performance-scorer/internal/store"
	"github.com/AngelCh415/ad-performance-scorer/internal/telemetry"
)

// AdSource is the marketing API as the pipeline sees it.
type AdSource interface {
	FetchAds(ctx context.Context, region, accountID string, since time.Time) ([]models.Ad, error)
	FetchAccountInsights(ctx context.Context, accountID string, since time.Time) (models.RawMetrics, error)
}

type Options struct {
	Accounts        map[string]string // region -> ad account id
	BenchmarkSource string
	Selection       Selection
	Concurrency     int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Accounts:        cfg.API.Accounts,
		BenchmarkSource: cfg.Benchmarks.Source,
		Selection: Selection{
			MinimumSpend:    decimal.NewFromFloat(cfg.Selection.MinimumSpend),
			DaysSinceLaunch: cfg.Selection.DaysSinceLaunch,
		},
		Concurrency: cfg.Scoring.Concurrency,
	}
}

type Pipeline struct {
	src      AdSource
	registry *benchmark.Registry
	engine   *scoring.Engine
	agg      *segments.Aggregator
	profile  scoring.Profile
	st       *store.MemoryStore
	log      *slog.Logger
	opts     Options
	now      func() time.Time
}

func NewPipeline(src AdSource, registry *benchmark.Registry, engine *scoring.Engine, agg *segments.Aggregator,
	profile scoring.Profile, st *store.MemoryStore, log *slog.Logger, opts Options) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		src:      src,
		registry: registry,
		engine:   engine,
		agg:      agg,
		profile:  profile,
		st:       st,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

type candidate struct {
	ad       models.Ad
	warnings []string
}

// Run scores every configured region against one benchmark snapshot. A region whose
// benchmark or ads cannot be obtained is abandoned and reported in the returned
// error; the other regions still run.
func (p *Pipeline) Run(ctx context.Context, since *time.Time) (models.Run, error) {
	start := p.now().UTC()
	run := models.Run{ID: uuid.NewString(), StartedAt: start}
	window := dayUTC(start).AddDate(0, 0, -p.opts.Selection.DaysSinceLaunch)
	if since != nil {
		window = dayUTC(*since)
	}
	resolver := p.registry.Snapshot()

	regions := make([]string, 0, len(p.opts.Accounts))
	for r := range p.opts.Accounts {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	var errs []error
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		reports, skipped, err := p.runRegion(ctx, run.ID, region, p.opts.Accounts[region], resolver, window)
		if err != nil {
			if run.Errors == nil {
				run.Errors = map[string]string{}
			}
			run.Errors[region] = err.Error()
			errs = append(errs, fmt.Errorf("region %s: %w", region, err))
			continue
		}
		run.Reports = append(run.Reports, reports...)
		run.Skipped += skipped
	}

	run.FinishedAt = p.now().UTC()
	p.st.PutRun(run)

	status := "ok"
	switch {
	case len(errs) > 0 && len(run.Reports) > 0:
		status = "partial"
	case len(errs) > 0:
		status = "failed"
	}
	telemetry.PipelineRuns.WithLabelValues(status).Inc()
	telemetry.PipelineDuration.Observe(run.FinishedAt.Sub(start).Seconds())
	p.log.Info("pipeline run complete",
		slog.String("run_id", run.ID),
		slog.String("status", status),
		slog.Int("scored", len(run.Reports)),
		slog.Int("skipped", run.Skipped))
	return run, errors.Join(errs...)
}

func (p *Pipeline) runRegion(ctx context.Context, runID, region, account string, resolver *benchmark.Resolver, since time.Time) ([]models.AdReport, int, error) {
	log := p.log.With(slog.String("run_id", runID), slog.String("region", region))

	bench, err := p.benchmarkFor(ctx, resolver, region, account, since)
	if err != nil {
		cause := "insights"
		if errors.Is(err, benchmark.ErrBenchmarkNotFound) {
			cause = "benchmark_not_found"
		}
		telemetry.RegionFailures.WithLabelValues(region, cause).Inc()
		log.Error("region abandoned", slog.String("cause", cause), slog.String("err", err.Error()))
		return nil, 0, err
	}

	ads, err := p.src.FetchAds(ctx, region, account, since)
	if err != nil {
		telemetry.RegionFailures.WithLabelValues(region, "fetch").Inc()
		log.Error("region abandoned", slog.String("cause", "fetch"), slog.String("err", err.Error()))
		return nil, 0, err
	}
	log.Info("ads fetched", slog.Int("count", len(ads)))

	return p.ScoreAds(ctx, runID, region, ads, bench)
}

func (p *Pipeline) benchmarkFor(ctx context.Context, resolver *benchmark.Resolver, region, account string, since time.Time) (models.Benchmark, error) {
	if p.opts.BenchmarkSource != config.BenchmarkSourceAccount {
		return resolver.Resolve(region)
	}
	raw, err := p.src.FetchAccountInsights(ctx, account, since)
	if err != nil {
		return models.Benchmark{}, err
	}
	return benchmark.FromAccount(region, raw, p.profile)
}

// ScoreAds filters ads by eligibility and scores the rest against bench. It returns
// the reports in input order and the number of ineligible ads.
func (p *Pipeline) ScoreAds(ctx context.Context, runID, region string, ads []models.Ad, bench models.Benchmark) ([]models.AdReport, int, error) {
	now := p.now()
	skipped := 0
	candidates := make([]candidate, 0, len(ads))
	for _, ad := range ads {
		if !p.st.MarkSeen(runID + "|" + ad.ID) {
			continue
		}
		v := Evaluate(ad, now, p.opts.Selection)
		if !v.Eligible {
			skipped++
			telemetry.AdsSkipped.WithLabelValues(region).Inc()
			p.log.Debug("ad not eligible", slog.String("ad_id", ad.ID), slog.Any("reasons", v.Reasons))
			continue
		}
		for _, w := range v.Warnings {
			p.log.Warn("ad anomaly", slog.String("ad_id", ad.ID), slog.String("anomaly", w))
		}
		candidates = append(candidates, candidate{ad: ad, warnings: v.Warnings})
	}

	reports := make([]models.AdReport, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = p.scoreOne(runID, region, c, bench)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, skipped, err
	}
	return reports, skipped, nil
}

func (p *Pipeline) scoreOne(runID, region string, c candidate, bench models.Benchmark) models.AdReport {
	score := p.engine.ScoreAd(c.ad.ID, c.ad.Metrics, bench)
	score = p.agg.Analyze(score, c.ad.SegmentRaws(), bench)

	for _, ms := range score.Metrics {
		if !ms.Available {
			telemetry.MetricsUnavailable.WithLabelValues(string(ms.Metric), string(ms.Reason)).Inc()
		}
	}
	for _, s := range score.Segments {
		if s.Underperforming {
			telemetry.UnderperformingSegments.Inc()
		}
	}
	telemetry.AdsScored.WithLabelValues(region, string(score.Rating)).Inc()
	if !score.Overall.Valid() {
		p.log.Warn("ad has no scorable metrics", slog.String("ad_id", c.ad.ID), slog.String("region", region))
	}

	return models.AdReport{
		RunID:        runID,
		Region:       region,
		AdID:         c.ad.ID,
		AdName:       c.ad.Name,
		CampaignName: c.ad.CampaignName,
		Spend:        c.ad.Metrics.Spend,
		Score:        score,
		Warnings:     c.warnings,
		ScoredAt:     p.now().UTC(),
	}
}
