package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/AngelCh415/ad-performance-scorer/internal/models"
)

// ErrInvalidWeightConfiguration means aggregation would be undefined for every ad.
var ErrInvalidWeightConfiguration = errors.New("invalid weight configuration")

type MetricProfile struct {
	Direction models.Direction
	Weight    float64
}

// Profile assigns a direction and a weight to every scored metric. Targets come
// from the region benchmark; the profile is shared by all regions.
type Profile map[models.Metric]MetricProfile

// DefaultProfile weights conversion economics over attention metrics.
func DefaultProfile() Profile {
	return Profile{
		models.MetricCTR:             {Direction: models.HigherIsBetter, Weight: 0.10},
		models.MetricCPC:             {Direction: models.LowerIsBetter, Weight: 0},
		models.MetricCPM:             {Direction: models.LowerIsBetter, Weight: 0.10},
		models.MetricCPR:             {Direction: models.LowerIsBetter, Weight: 0.30},
		models.MetricHookRate:        {Direction: models.HigherIsBetter, Weight: 0.10},
		models.MetricViewthroughRate: {Direction: models.HigherIsBetter, Weight: 0.10},
		models.MetricROAS:            {Direction: models.HigherIsBetter, Weight: 0.30},
		models.MetricConversionRate:  {Direction: models.HigherIsBetter, Weight: 0},
	}
}

// ValidateProfile rejects negative or non-finite weights, unknown directions and a
// profile whose weights are all zero.
func ValidateProfile(p Profile) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: no metrics configured", ErrInvalidWeightConfiguration)
	}
	var total float64
	for _, m := range models.AllMetrics {
		mp, ok := p[m]
		if !ok {
			continue
		}
		if math.IsNaN(mp.Weight) || math.IsInf(mp.Weight, 0) || mp.Weight < 0 {
			return fmt.Errorf("%w: %s weight %v", ErrInvalidWeightConfiguration, m, mp.Weight)
		}
		if mp.Direction != models.HigherIsBetter && mp.Direction != models.LowerIsBetter {
			return fmt.Errorf("%w: %s has no direction", ErrInvalidWeightConfiguration, m)
		}
		total += mp.Weight
	}
	if len(p) != countKnown(p) {
		return fmt.Errorf("%w: profile names an unknown metric", ErrInvalidWeightConfiguration)
	}
	if total <= 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidWeightConfiguration)
	}
	return nil
}

func countKnown(p Profile) int {
	n := 0
	for _, m := range models.AllMetrics {
		if _, ok := p[m]; ok {
			n++
		}
	}
	return n
}
