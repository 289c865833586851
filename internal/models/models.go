package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawMetrics are the counters reported for one ad, or one demographic slice of an ad,
// over a single reporting window.
type RawMetrics struct {
	Spend            decimal.Decimal `json:"spend"`
	PurchaseValue    decimal.Decimal `json:"purchase_value"`
	Impressions      int64           `json:"impressions"`
	Clicks           int64           `json:"clicks"`
	Conversions      int64           `json:"conversions"`
	Video3sViews     int64           `json:"video_3s_views"`
	Video100pctViews int64           `json:"video_100pct_views"`
	VideoThruplay    int64           `json:"video_thruplay"`
}

// Empty reports whether there was no delivery at all.
func (r RawMetrics) Empty() bool {
	return r.Impressions == 0 && r.Spend.IsZero()
}

// Sanitized clamps negative counters and amounts to zero.
func (r RawMetrics) Sanitized() RawMetrics {
	return RawMetrics{
		Spend:            maxDec(r.Spend),
		PurchaseValue:    maxDec(r.PurchaseValue),
		Impressions:      max0(r.Impressions),
		Clicks:           max0(r.Clicks),
		Conversions:      max0(r.Conversions),
		Video3sViews:     max0(r.Video3sViews),
		Video100pctViews: max0(r.Video100pctViews),
		VideoThruplay:    max0(r.VideoThruplay),
	}
}

// Add sums two slices of the same window.
func (r RawMetrics) Add(o RawMetrics) RawMetrics {
	return RawMetrics{
		Spend:            r.Spend.Add(o.Spend),
		PurchaseValue:    r.PurchaseValue.Add(o.PurchaseValue),
		Impressions:      r.Impressions + o.Impressions,
		Clicks:           r.Clicks + o.Clicks,
		Conversions:      r.Conversions + o.Conversions,
		Video3sViews:     r.Video3sViews + o.Video3sViews,
		Video100pctViews: r.Video100pctViews + o.Video100pctViews,
		VideoThruplay:    r.VideoThruplay + o.VideoThruplay,
	}
}

type Metric string

const (
	MetricCTR             Metric = "ctr"
	MetricCPC             Metric = "cpc"
	MetricCPM             Metric = "cpm"
	MetricCPR             Metric = "cpr"
	MetricHookRate        Metric = "hook_rate"
	MetricViewthroughRate Metric = "viewthrough_rate"
	MetricROAS            Metric = "roas"
	MetricConversionRate  Metric = "conversion_rate"
)

// AllMetrics is the canonical report order.
var AllMetrics = []Metric{
	MetricCTR,
	MetricCPC,
	MetricCPM,
	MetricCPR,
	MetricHookRate,
	MetricViewthroughRate,
	MetricROAS,
	MetricConversionRate,
}

func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllMetrics {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// NormalizedMetrics holds the derived ratios. A field is unavailable when its
// denominator was zero.
type NormalizedMetrics struct {
	CTR             Optional `json:"ctr"`
	CPC             Optional `json:"cpc"`
	CPM             Optional `json:"cpm"`
	CPR             Optional `json:"cpr"`
	HookRate        Optional `json:"hook_rate"`
	ViewthroughRate Optional `json:"viewthrough_rate"`
	ROAS            Optional `json:"roas"`
	ConversionRate  Optional `json:"conversion_rate"`
}

func (n NormalizedMetrics) Value(m Metric) Optional {
	switch m {
	case MetricCTR:
		return n.CTR
	case MetricCPC:
		return n.CPC
	case MetricCPM:
		return n.CPM
	case MetricCPR:
		return n.CPR
	case MetricHookRate:
		return n.HookRate
	case MetricViewthroughRate:
		return n.ViewthroughRate
	case MetricROAS:
		return n.ROAS
	case MetricConversionRate:
		return n.ConversionRate
	}
	return None()
}

type Direction int

const (
	HigherIsBetter Direction = iota + 1
	LowerIsBetter
)

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "higher", "higher_is_better":
		return HigherIsBetter, nil
	case "lower", "lower_is_better":
		return LowerIsBetter, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) String() string {
	switch d {
	case HigherIsBetter:
		return "higher_is_better"
	case LowerIsBetter:
		return "lower_is_better"
	}
	return "unknown"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

type MetricTarget struct {
	Target    float64   `json:"target"`
	Direction Direction `json:"direction"`
	Weight    float64   `json:"weight"`
}

// Benchmark is the comparison baseline of one region.
type Benchmark struct {
	Region  string                  `json:"region"`
	Targets map[Metric]MetricTarget `json:"targets"`
}

// Metrics returns the benchmarked metrics in canonical order.
func (b Benchmark) Metrics() []Metric {
	out := make([]Metric, 0, len(b.Targets))
	for _, m := range AllMetrics {
		if _, ok := b.Targets[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (b Benchmark) TotalWeight() float64 {
	var total float64
	for _, m := range b.Metrics() {
		total += b.Targets[m].Weight
	}
	return total
}

type UnavailableReason string

const (
	ReasonZeroDenominator UnavailableReason = "zero_denominator"
	ReasonNoTarget        UnavailableReason = "no_target"
)

// MetricScore is the comparison of one normalized metric with its benchmark target.
// Ratios are oriented so that higher always means better.
type MetricScore struct {
	Metric      Metric            `json:"metric"`
	Value       Optional          `json:"value"`
	Target      float64           `json:"benchmark_target"`
	Direction   Direction         `json:"direction"`
	Weight      float64           `json:"weight"`
	RawRatio    Optional          `json:"raw_ratio"`
	CappedRatio Optional          `json:"capped_ratio"`
	Score       Optional          `json:"capped_score"`
	Available   bool              `json:"available"`
	Reason      UnavailableReason `json:"unavailable_reason,omitempty"`
}

type Rating string

const (
	RatingAboveAverage Rating = "above_average"
	RatingAverage      Rating = "average"
	RatingBelowAverage Rating = "below_average"
	RatingUnrated      Rating = "unrated"
)

// SegmentKey identifies a demographic slice.
type SegmentKey struct {
	AgeBand string `json:"age"`
	Gender  string `json:"gender"`
}

func NewSegmentKey(age, gender string) SegmentKey {
	return SegmentKey{
		AgeBand: strings.TrimSpace(age),
		Gender:  strings.ToLower(strings.TrimSpace(gender)),
	}
}

func (k SegmentKey) String() string { return k.AgeBand + " " + k.Gender }

func (k SegmentKey) Less(o SegmentKey) bool {
	if k.AgeBand != o.AgeBand {
		return k.AgeBand < o.AgeBand
	}
	return k.Gender < o.Gender
}

func (k SegmentKey) MarshalText() ([]byte, error) {
	return []byte(k.AgeBand + "|" + k.Gender), nil
}

func (k *SegmentKey) UnmarshalText(b []byte) error {
	age, gender, ok := strings.Cut(string(b), "|")
	if !ok {
		return fmt.Errorf("bad segment key %q", string(b))
	}
	*k = SegmentKey{AgeBand: age, Gender: gender}
	return nil
}

// PerformanceScore is the scored result of an ad. Segment scores reuse the type
// and never carry segments of their own.
type PerformanceScore struct {
	AdID          string                      `json:"ad_id"`
	Overall       Optional                    `json:"overall_score"`
	Rating        Rating                      `json:"rating"`
	Coverage      float64                     `json:"coverage"`
	TotalWeight   float64                     `json:"total_weight"`
	Metrics       []MetricScore               `json:"metric_scores"`
	Segments      map[SegmentKey]SegmentScore `json:"segments,omitempty"`
	BestSegments  []SegmentKey                `json:"best_segments,omitempty"`
	WorstSegments []SegmentKey                `json:"worst_segments,omitempty"`
}

// SegmentKeys returns the segment keys in a stable order.
func (p PerformanceScore) SegmentKeys() []SegmentKey {
	keys := make([]SegmentKey, 0, len(p.Segments))
	for k := range p.Segments {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

type SegmentScore struct {
	Score           PerformanceScore `json:"score"`
	Underperforming bool             `json:"underperforming"`
	RelativeIndex   Optional         `json:"relative_index"`
	SpendShare      Optional         `json:"spend_share"`
	ConversionShare Optional         `json:"conversion_share"`
}

// SegmentMetrics is one age/gender row of an ad's breakdown.
type SegmentMetrics struct {
	AgeBand string `json:"age"`
	Gender  string `json:"gender"`
	RawMetrics
}

// Ad is a candidate ad as retrieved from the marketing API.
type Ad struct {
	ID           string           `json:"ad_id"`
	Name         string           `json:"ad_name"`
	CampaignID   string           `json:"campaign_id"`
	CampaignName string           `json:"campaign_name"`
	AdsetID      string           `json:"adset_id"`
	Region       string           `json:"region"`
	CreatedTime  time.Time        `json:"created_time"`
	Metrics      RawMetrics       `json:"metrics"`
	Breakdowns   []SegmentMetrics `json:"breakdowns"`
}

// SegmentRaws folds the breakdown rows by segment key.
func (a Ad) SegmentRaws() map[SegmentKey]RawMetrics {
	out := make(map[SegmentKey]RawMetrics, len(a.Breakdowns))
	for _, b := range a.Breakdowns {
		k := NewSegmentKey(b.AgeBand, b.Gender)
		out[k] = out[k].Add(b.RawMetrics.Sanitized())
	}
	return out
}

// AdReport is what a pipeline run keeps per scored ad.
type AdReport struct {
	RunID        string           `json:"run_id"`
	Region       string           `json:"region"`
	AdID         string           `json:"ad_id"`
	AdName       string           `json:"ad_name"`
	CampaignName string           `json:"campaign_name"`
	Spend        decimal.Decimal  `json:"spend"`
	Score        PerformanceScore `json:"score"`
	Warnings     []string         `json:"warnings,omitempty"`
	ScoredAt     time.Time        `json:"scored_at"`
}

type Run struct {
	ID         string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Reports    []AdReport        `json:"reports"`
	Skipped    int               `json:"skipped"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func max0(i int64) int64 {
	if i < 0 {
		return 0
	}
	return i
}

func maxDec(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
