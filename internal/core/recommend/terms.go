package recommend

import (
	"math"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// TrendThreshold is the bpm delta against the window mean that nudges intensity.
	TrendThreshold = 5.0
	// TrendNudge is added to or subtracted from intensity when the trend crosses the threshold.
	TrendNudge = 0.05
	// NeutralSimilarity is used when a similarity term has nothing to compare against.
	NeutralSimilarity = 0.5
)

// Weights of the linear scoring model. They sum to 1.
const (
	WeightEnergy     = 0.35
	WeightArtist     = 0.20
	WeightPreference = 0.15
	WeightValence    = 0.10
	WeightDance      = 0.10
	WeightFeature    = 0.10
)

// Intensity maps the newest sample to a [0,1] effort level using the heart-rate reserve.
func Intensity(profile domain.UserProfile, hr int) float64 {
	v := (float64(hr) - float64(profile.RestHR)) / profile.HeartRateReserve()
	return domain.Clamp(v, 0, 1)
}

// Trend is the newest sample minus the mean of all earlier samples in the window.
func Trend(history []int) float64 {
	if len(history) <= 1 {
		return 0
	}
	prev := make([]float64, len(history)-1)
	for i, hr := range history[:len(history)-1] {
		prev[i] = float64(hr)
	}
	return float64(history[len(history)-1]) - stat.Mean(prev, nil)
}

// AdjustedIntensity applies the trend nudge to the base intensity.
func AdjustedIntensity(profile domain.UserProfile, history []int) float64 {
	if len(history) == 0 {
		return 0
	}
	intensity := Intensity(profile, history[len(history)-1])
	switch trend := Trend(history); {
	case trend > TrendThreshold:
		intensity += TrendNudge
	case trend < -TrendThreshold:
		intensity -= TrendNudge
	}
	return domain.Clamp(intensity, 0, 1)
}

// EnergyAlignment rewards tracks whose energy matches the target intensity.
func EnergyAlignment(energy, intensity float64) float64 {
	return domain.Clamp(1-math.Abs(energy-intensity), 0, 1)
}

// Closeness is 1 minus the absolute difference, floored at 0.
func Closeness(a, b float64) float64 {
	return 1 - math.Min(1, math.Abs(a-b))
}

// ArtistSimilarity is the Jaccard index of two artist sets, or the neutral
// prior when either set is empty.
func ArtistSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return NeutralSimilarity
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for name := range small {
		if _, ok := large[name]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// InverseDistance maps euclidean distance into (0,1]: 1/(1+d).
func InverseDistance(a, b domain.FeatureVector) float64 {
	return 1 / (1 + floats.Distance(a.Slice(), b.Slice(), 2))
}
