package segments

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/scoring"
)

const (
	DefaultUnderperformRatio = 0.8
	DefaultRankSize          = 3
)

var hundred = decimal.NewFromInt(100)

// Config: a segment is underperforming when its overall score is below
// UnderperformRatio times the ad's own overall score.
type Config struct {
	UnderperformRatio float64
	RankSize          int
}

type Aggregator struct {
	engine *scoring.Engine
	cfg    Config
}

func NewAggregator(engine *scoring.Engine, cfg Config) (*Aggregator, error) {
	if engine == nil {
		return nil, fmt.Errorf("segments: nil engine")
	}
	if !(cfg.UnderperformRatio > 0) || math.IsInf(cfg.UnderperformRatio, 0) {
		return nil, fmt.Errorf("segments: underperform ratio must be positive, got %v", cfg.UnderperformRatio)
	}
	if cfg.RankSize <= 0 {
		cfg.RankSize = DefaultRankSize
	}
	return &Aggregator{engine: engine, cfg: cfg}, nil
}

// AggregateSegments scores every segment against the parent ad's benchmark.
// Segments without impressions and spend are left out.
func (a *Aggregator) AggregateSegments(raws map[models.SegmentKey]models.RawMetrics, b models.Benchmark) map[models.SegmentKey]models.PerformanceScore {
	out := make(map[models.SegmentKey]models.PerformanceScore, len(raws))
	for k, raw := range raws {
		raw = raw.Sanitized()
		if raw.Empty() {
			continue
		}
		out[k] = a.engine.ScoreAd("", raw, b)
	}
	return out
}

// Analyze returns ad with its segment scores attached, flagged against the ad's
// overall score and ranked best to worst.
func (a *Aggregator) Analyze(ad models.PerformanceScore, raws map[models.SegmentKey]models.RawMetrics, b models.Benchmark) models.PerformanceScore {
	scored := a.AggregateSegments(raws, b)
	ad.Segments = nil
	ad.BestSegments = nil
	ad.WorstSegments = nil
	if len(scored) == 0 {
		return ad
	}

	totalSpend := decimal.Zero
	var totalConversions int64
	for k := range scored {
		raw := raws[k].Sanitized()
		totalSpend = totalSpend.Add(raw.Spend)
		totalConversions += raw.Conversions
	}

	adOverall, adOK := ad.Overall.Get()
	ad.Segments = make(map[models.SegmentKey]models.SegmentScore, len(scored))
	for k, ps := range scored {
		ps.AdID = ad.AdID
		raw := raws[k].Sanitized()
		seg := models.SegmentScore{
			Score:           ps,
			SpendShare:      share(raw.Spend, totalSpend),
			ConversionShare: share(decimal.NewFromInt(raw.Conversions), decimal.NewFromInt(totalConversions)),
		}
		if v, ok := ps.Overall.Get(); ok && adOK {
			if adOverall > 0 {
				seg.RelativeIndex = models.Some(v / adOverall)
			}
			seg.Underperforming = v < adOverall*a.cfg.UnderperformRatio
		}
		ad.Segments[k] = seg
	}

	ad.BestSegments, ad.WorstSegments = rank(scored, a.cfg.RankSize)
	return ad
}

func share(part, total decimal.Decimal) models.Optional {
	if total.IsZero() {
		return models.None()
	}
	return models.Some(part.Mul(hundred).Div(total).InexactFloat64())
}

// rank orders segments with a defined score, best first, ties broken by key.
func rank(scored map[models.SegmentKey]models.PerformanceScore, n int) (best, worst []models.SegmentKey) {
	type entry struct {
		key   models.SegmentKey
		score float64
	}
	entries := make([]entry, 0, len(scored))
	for k, ps := range scored {
		if v, ok := ps.Overall.Get(); ok {
			entries = append(entries, entry{key: k, score: v})
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].key.Less(entries[j].key)
	})

	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		best = append(best, e.key)
	}
	for i := len(entries) - 1; i >= len(entries)-n; i-- {
		worst = append(worst, entries[i].key)
	}
	return best, worst
}
