package triage

import (
	"math"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

const (
	// MinFilterReadings is the smallest window the false-alarm filter will judge.
	MinFilterReadings = 5

	// FilterWindow is how many trailing readings the engine hands the filter.
	FilterWindow = 10

	criticalZThreshold = 2.5
	defaultZThreshold  = 1.5

	// degenerateStd absorbs rounding noise from summing identical values.
	degenerateStd = 1e-9
)

// IsLikelyFalseAlarm decides whether the latest reading in recent (the last
// element, oldest first) is statistically consistent with the readings before
// it. It needs at least MinFilterReadings readings and a baseline with some
// variability; otherwise it never suppresses.
func IsLikelyFalseAlarm(p vitals.Priority, recent []vitals.Reading) bool {
	if len(recent) < MinFilterReadings {
		return false
	}

	baseline := recent[:len(recent)-1]
	latest := recent[len(recent)-1].Value

	mean, std := meanStd(baseline)
	if std < degenerateStd {
		return false
	}

	z := math.Abs(latest-mean) / std
	return z < zThreshold(p)
}

// zThreshold is the z-score below which a candidate counts as noise. CRITICAL
// requires the larger deviation.
func zThreshold(p vitals.Priority) float64 {
	if p == vitals.Critical {
		return criticalZThreshold
	}
	return defaultZThreshold
}

// meanStd returns the mean and population standard deviation of the values.
func meanStd(rs []vitals.Reading) (mean, std float64) {
	if len(rs) == 0 {
		return 0, 0
	}
	for _, r := range rs {
		mean += r.Value
	}
	mean /= float64(len(rs))

	var variance float64
	for _, r := range rs {
		d := r.Value - mean
		variance += d * d
	}
	variance /= float64(len(rs))
	return mean, math.Sqrt(variance)
}
