package metrics

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/AngelCh415/ad-performance-scorer/internal/models"
)

func val(t *testing.T, o models.Optional) float64 {
	t.Helper()
	v, ok := o.Get()
	if !ok {
		t.Fatalf("expected available value")
	}
	return v
}

func TestNormalizeDerivedRatios(t *testing.T) {
	n := Normalize(models.RawMetrics{
		Spend:            decimal.NewFromInt(300),
		PurchaseValue:    decimal.NewFromInt(900),
		Impressions:      10000,
		Clicks:           150,
		Conversions:      5,
		Video3sViews:     2500,
		Video100pctViews: 500,
	})

	assert.InDelta(t, 0.015, val(t, n.CTR), 1e-12)
	assert.InDelta(t, 2.0, val(t, n.CPC), 1e-12)
	assert.InDelta(t, 30.0, val(t, n.CPM), 1e-12)
	assert.InDelta(t, 60.0, val(t, n.CPR), 1e-12)
	assert.InDelta(t, 0.25, val(t, n.HookRate), 1e-12)
	assert.InDelta(t, 0.2, val(t, n.ViewthroughRate), 1e-12)
	assert.InDelta(t, 3.0, val(t, n.ROAS), 1e-12)
	assert.InDelta(t, 5.0/150.0, val(t, n.ConversionRate), 1e-12)
}

func TestNormalizeZeroImpressionsIsUnavailable(t *testing.T) {
	cases := []models.RawMetrics{
		{},
		{Spend: decimal.NewFromInt(12)},
		{Spend: decimal.NewFromFloat(0.5), Clicks: 3, Conversions: 1, Video3sViews: 7},
	}
	for _, raw := range cases {
		n := Normalize(raw)
		assert.False(t, n.CTR.Valid(), "ctr")
		assert.False(t, n.CPM.Valid(), "cpm")
		assert.False(t, n.HookRate.Valid(), "hook_rate")
	}
}

func TestNormalizeOtherZeroDenominators(t *testing.T) {
	n := Normalize(models.RawMetrics{Spend: decimal.NewFromInt(50), Impressions: 1000})
	assert.False(t, n.CPC.Valid())
	assert.False(t, n.CPR.Valid())
	assert.False(t, n.ViewthroughRate.Valid())
	assert.False(t, n.ConversionRate.Valid())
	assert.True(t, n.ROAS.Valid(), "spend is the roas denominator")
	assert.Equal(t, 0.0, val(t, n.ROAS))
	assert.Equal(t, 0.0, val(t, n.CTR), "measured zero stays available")

	free := Normalize(models.RawMetrics{Impressions: 1000, Clicks: 10})
	assert.False(t, free.ROAS.Valid())
	assert.Equal(t, 0.0, val(t, free.CPC))
}

func TestNormalizeClampsNegativeCounters(t *testing.T) {
	n := Normalize(models.RawMetrics{Spend: decimal.NewFromInt(-10), Impressions: -5, Clicks: 2})
	assert.False(t, n.CTR.Valid())
	assert.Equal(t, 0.0, val(t, n.CPC))
}
