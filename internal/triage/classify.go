package triage

import (
	"math"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// band matches values strictly below lo or strictly above hi.
type band struct {
	lo, hi float64
}

func (b *band) matches(v float64) bool {
	return b != nil && (v < b.lo || v > b.hi)
}

// bands holds the vital-specific thresholds in precedence order.
// A nil level means the vital has no band there.
type bands struct {
	critical, high, medium *band
}

var vitalBands = map[vitals.Kind]bands{
	vitals.HeartRate:        {critical: &band{30, 180}, high: &band{50, 120}},
	vitals.OxygenSaturation: {critical: &band{85, math.Inf(1)}, high: &band{92, math.Inf(1)}},
	vitals.BloodPressure:    {critical: &band{60, 200}, high: &band{80, 160}},
	vitals.Temperature:      {high: &band{35.0, 39.0}, medium: &band{35.5, 38.5}},
	vitals.RespiratoryRate:  {high: &band{8, 30}, medium: &band{10, 25}},
}

// Classify maps a single reading to a priority. The first vital-specific band
// that matches wins; otherwise a value outside the vital's normal range is
// MEDIUM and anything else is LOW.
func Classify(r vitals.Reading, ranges vitals.Ranges) vitals.Priority {
	v := r.Value
	b := vitalBands[r.Kind]
	switch {
	case b.critical.matches(v):
		return vitals.Critical
	case b.high.matches(v):
		return vitals.High
	case b.medium.matches(v):
		return vitals.Medium
	}

	if rng, ok := ranges[r.Kind]; ok && !rng.Contains(v) {
		return vitals.Medium
	}
	return vitals.Low
}
