package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscore_pipeline_runs_total",
			Help: "Pipeline runs by outcome (ok, partial, failed)",
		},
		[]string{"status"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adscore_pipeline_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	RegionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscore_region_failures_total",
			Help: "Regions whose batch was abandoned, by cause",
		},
		[]string{"region", "cause"},
	)

	AdsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscore_ads_scored_total",
			Help: "Ads scored by region and rating",
		},
		[]string{"region", "rating"},
	)

	AdsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscore_ads_skipped_total",
			Help: "Candidate ads that failed the eligibility filter",
		},
		[]string{"region"},
	)

	MetricsUnavailable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscore_metrics_unavailable_total",
			Help: "Ad level metrics left out of the aggregate",
		},
		[]string{"metric", "reason"},
	)

	UnderperformingSegments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscore_underperforming_segments_total",
			Help: "Demographic segments flagged as underperforming",
		},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscore_api_requests_total",
			Help: "Marketing API requests by endpoint and status code",
		},
		[]string{"endpoint", "status"},
	)

	ExportedReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscore_exported_reports_total",
			Help: "Ad reports delivered to the export sink",
		},
	)
)
