package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/AngelCh415/ad-performance-scorer/internal/metrics"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
)

// Defaults used when configuration leaves a value unset.
const (
	DefaultRatioFloor   = 0.0
	DefaultRatioCeiling = 2.0
	DefaultScale        = 100.0
	DefaultAboveAverage = 1.2
	DefaultBelowAverage = 0.8
)

// ErrAllMetricsUnavailable is returned by Overall when no metric could be scored.
var ErrAllMetricsUnavailable = errors.New("all metrics unavailable")

// Config bounds and scales metric ratios. A ratio of 1 means "on benchmark" and
// maps to Scale. The rating thresholds are ratios too, so they follow Scale.
type Config struct {
	RatioFloor   float64
	RatioCeiling float64
	Scale        float64
	AboveAverage float64
	BelowAverage float64
}

func DefaultConfig() Config {
	return Config{
		RatioFloor:   DefaultRatioFloor,
		RatioCeiling: DefaultRatioCeiling,
		Scale:        DefaultScale,
		AboveAverage: DefaultAboveAverage,
		BelowAverage: DefaultBelowAverage,
	}
}

func (c Config) Validate() error {
	for _, f := range []float64{c.RatioFloor, c.RatioCeiling, c.Scale, c.AboveAverage, c.BelowAverage} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New("scoring: non-finite parameter")
		}
	}
	if c.RatioFloor < 0 || c.RatioFloor >= c.RatioCeiling {
		return fmt.Errorf("scoring: ratio bound [%v, %v] is empty", c.RatioFloor, c.RatioCeiling)
	}
	if c.Scale <= 0 {
		return fmt.Errorf("scoring: scale must be positive, got %v", c.Scale)
	}
	if c.BelowAverage > c.AboveAverage {
		return fmt.Errorf("scoring: below_average %v exceeds above_average %v", c.BelowAverage, c.AboveAverage)
	}
	if c.BelowAverage < c.RatioFloor || c.AboveAverage > c.RatioCeiling {
		return fmt.Errorf("scoring: rating thresholds [%v, %v] fall outside the ratio bound [%v, %v]",
			c.BelowAverage, c.AboveAverage, c.RatioFloor, c.RatioCeiling)
	}
	return nil
}

// Engine compares normalized metrics with a benchmark. It holds no mutable state
// and is safe for concurrent use.
type Engine struct{ cfg Config }

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Score returns one MetricScore per benchmarked metric, in canonical metric order.
// Unavailable metrics are kept in the list with Available=false.
func (e *Engine) Score(n models.NormalizedMetrics, b models.Benchmark) []models.MetricScore {
	ms := b.Metrics()
	out := make([]models.MetricScore, 0, len(ms))
	for _, m := range ms {
		out = append(out, e.scoreMetric(m, n.Value(m), b.Targets[m]))
	}
	return out
}

func (e *Engine) scoreMetric(m models.Metric, value models.Optional, t models.MetricTarget) models.MetricScore {
	s := models.MetricScore{
		Metric:    m,
		Value:     value,
		Target:    t.Target,
		Direction: t.Direction,
		Weight:    t.Weight,
	}
	if !(t.Target > 0) || math.IsInf(t.Target, 0) {
		s.Reason = models.ReasonNoTarget
		return s
	}
	v, ok := value.Get()
	if !ok {
		s.Reason = models.ReasonZeroDenominator
		return s
	}

	var capped float64
	switch t.Direction {
	case models.LowerIsBetter:
		if v <= 0 {
			// Zero cost is unbounded; it saturates at the ceiling.
			capped = e.cfg.RatioCeiling
			break
		}
		raw := t.Target / v
		s.RawRatio = models.Some(raw)
		capped = e.clamp(raw)
	case models.HigherIsBetter:
		raw := v / t.Target
		s.RawRatio = models.Some(raw)
		capped = e.clamp(raw)
	default:
		s.Reason = models.ReasonNoTarget
		return s
	}

	s.CappedRatio = models.Some(capped)
	s.Score = models.Some(capped * e.cfg.Scale)
	s.Available = true
	return s
}

func (e *Engine) clamp(r float64) float64 {
	if r < e.cfg.RatioFloor {
		return e.cfg.RatioFloor
	}
	if r > e.cfg.RatioCeiling {
		return e.cfg.RatioCeiling
	}
	return r
}

// Aggregate is the weighted mean of the available scores. It is unavailable when no
// weighted metric is available. Terms are summed in a canonical order so the result
// does not depend on the order of scores.
func Aggregate(scores []models.MetricScore) models.Optional {
	type term struct {
		metric models.Metric
		score  float64
		weight float64
	}
	terms := make([]term, 0, len(scores))
	for _, s := range scores {
		v, ok := s.Score.Get()
		if !s.Available || !ok || !(s.Weight > 0) {
			continue
		}
		terms = append(terms, term{metric: s.Metric, score: v, weight: s.Weight})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].metric != terms[j].metric {
			return terms[i].metric < terms[j].metric
		}
		if terms[i].weight != terms[j].weight {
			return terms[i].weight < terms[j].weight
		}
		return terms[i].score < terms[j].score
	})

	var num, den float64
	for _, t := range terms {
		num += t.score * t.weight
		den += t.weight
	}
	if den == 0 {
		return models.None()
	}
	return models.Some(num / den)
}

// Overall is Aggregate for callers that prefer an error to an unavailable value.
func Overall(scores []models.MetricScore) (float64, error) {
	v, ok := Aggregate(scores).Get()
	if !ok {
		return 0, ErrAllMetricsUnavailable
	}
	return v, nil
}

// Coverage is the share of scored metrics that were available, on a 0-100 scale.
func Coverage(scores []models.MetricScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	n := 0
	for _, s := range scores {
		if s.Available {
			n++
		}
	}
	return float64(n) / float64(len(scores)) * 100
}

// Rate compares overall, taken back to a ratio of the benchmark, with the thresholds.
func (e *Engine) Rate(overall models.Optional) models.Rating {
	v, ok := overall.Get()
	if !ok {
		return models.RatingUnrated
	}
	r := v / e.cfg.Scale
	switch {
	case r >= e.cfg.AboveAverage:
		return models.RatingAboveAverage
	case r <= e.cfg.BelowAverage:
		return models.RatingBelowAverage
	default:
		return models.RatingAverage
	}
}

// ScoreNormalized builds the ad level score from already normalized metrics.
func (e *Engine) ScoreNormalized(adID string, n models.NormalizedMetrics, b models.Benchmark) models.PerformanceScore {
	scores := e.Score(n, b)
	overall := Aggregate(scores)
	return models.PerformanceScore{
		AdID:        adID,
		Overall:     overall,
		Rating:      e.Rate(overall),
		Coverage:    Coverage(scores),
		TotalWeight: b.TotalWeight(),
		Metrics:     scores,
	}
}

// ScoreAd normalizes raw counters and scores them against b.
func (e *Engine) ScoreAd(adID string, raw models.RawMetrics, b models.Benchmark) models.PerformanceScore {
	return e.ScoreNormalized(adID, metrics.Normalize(raw), b)
}
