package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/AngelCh415/ad-performance-scorer/internal/models"
)

var thousand = decimal.NewFromInt(1000)

// Normalize derives the ratio metrics from raw counters. A ratio whose denominator
// is zero is left unavailable instead of being reported as 0.
func Normalize(raw models.RawMetrics) models.NormalizedMetrics {
	r := raw.Sanitized()
	return models.NormalizedMetrics{
		CTR:             ratio(r.Clicks, r.Impressions),
		CPC:             perUnit(r.Spend, r.Clicks),
		CPM:             perMille(r.Spend, r.Impressions),
		CPR:             perUnit(r.Spend, r.Conversions),
		HookRate:        ratio(r.Video3sViews, r.Impressions),
		ViewthroughRate: ratio(r.Video100pctViews, r.Video3sViews),
		ROAS:            amountRatio(r.PurchaseValue, r.Spend),
		ConversionRate:  ratio(r.Conversions, r.Clicks),
	}
}

func ratio(num, den int64) models.Optional {
	if den == 0 {
		return models.None()
	}
	return models.Some(float64(num) / float64(den))
}

func perUnit(amount decimal.Decimal, den int64) models.Optional {
	if den == 0 {
		return models.None()
	}
	return models.Some(amount.Div(decimal.NewFromInt(den)).InexactFloat64())
}

func perMille(amount decimal.Decimal, impressions int64) models.Optional {
	if impressions == 0 {
		return models.None()
	}
	return models.Some(amount.Mul(thousand).Div(decimal.NewFromInt(impressions)).InexactFloat64())
}

func amountRatio(num, den decimal.Decimal) models.Optional {
	if den.IsZero() {
		return models.None()
	}
	return models.Some(num.Div(den).InexactFloat64())
}
