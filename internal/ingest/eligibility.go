package ingest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AngelCh415/ad-performance-scorer/internal/metrics"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
)

// Selection decides which candidate ads are worth scoring.
type Selection struct {
	MinimumSpend    decimal.Decimal
	DaysSinceLaunch int
}

type Verdict struct {
	Eligible bool
	Reasons  []string
	Warnings []string
}

// Evaluate checks the spend and age thresholds. Anomalies are reported as warnings
// and never make an ad ineligible.
func Evaluate(ad models.Ad, now time.Time, sel Selection) Verdict {
	v := Verdict{Eligible: true, Warnings: Anomalies(ad.Metrics)}
	if ad.Metrics.Spend.LessThan(sel.MinimumSpend) {
		v.Eligible = false
		v.Reasons = append(v.Reasons, fmt.Sprintf("spend below threshold: %s < %s", ad.Metrics.Spend.StringFixed(2), sel.MinimumSpend.StringFixed(2)))
	}
	if ad.CreatedTime.IsZero() {
		v.Eligible = false
		v.Reasons = append(v.Reasons, "missing created_time")
	} else if days := int(dayUTC(now).Sub(dayUTC(ad.CreatedTime)).Hours() / 24); days < sel.DaysSinceLaunch {
		v.Eligible = false
		v.Reasons = append(v.Reasons, fmt.Sprintf("insufficient data: %d of %d days since launch", days, sel.DaysSinceLaunch))
	}
	return v
}

// Anomalies flags counters that look wrong.
func Anomalies(raw models.RawMetrics) []string {
	var out []string
	n := metrics.Normalize(raw)
	if ctr, ok := n.CTR.Get(); ok && ctr > 0.10 {
		out = append(out, fmt.Sprintf("unusually high CTR: %.2f%%", ctr*100))
	}
	if raw.Impressions == 0 && raw.Spend.IsPositive() {
		out = append(out, "zero impressions with non-zero spend")
	}
	if raw.Clicks > 0 && raw.Conversions > raw.Clicks {
		out = append(out, "conversion count exceeds click count")
	}
	if roas, ok := n.ROAS.Get(); ok && roas > 20 {
		out = append(out, fmt.Sprintf("unusually high ROAS: %.1f", roas))
	}
	return out
}

func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
