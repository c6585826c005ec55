package triage

import (
	"math"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

const (
	// TrendReadings is the number of trailing readings the trend looks at.
	TrendReadings = 5

	// TrendThreshold is the mean step size that counts as a sustained change.
	TrendThreshold = 2.0
)

// DetectTrend reports a sustained directional change: the mean of the last four
// adjacent differences exceeds TrendThreshold in magnitude. Windows shorter
// than TrendReadings never trend. Sample spacing is ignored; an irregularly
// sampled stream is treated as if readings were evenly spaced.
func DetectTrend(window []vitals.Reading) bool {
	n := len(window)
	if n < TrendReadings {
		return false
	}

	var sum float64
	for i := n - TrendReadings + 1; i < n; i++ {
		sum += window[i].Value - window[i-1].Value
	}
	mean := sum / float64(TrendReadings-1)
	return math.Abs(mean) > TrendThreshold
}
