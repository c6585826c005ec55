package triage

import (
	"testing"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

func reading(kind vitals.Kind, v float64) vitals.Reading {
	return vitals.Reading{SubjectID: "p-1", Kind: kind, Value: v}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	defaults := vitals.DefaultRanges()

	tests := []struct {
		name string
		kind vitals.Kind
		v    float64
		want vitals.Priority
	}{
		{"hr critical high", vitals.HeartRate, 200, vitals.Critical},
		{"hr critical low", vitals.HeartRate, 25, vitals.Critical},
		{"hr critical boundary exclusive", vitals.HeartRate, 180, vitals.High},
		{"hr high", vitals.HeartRate, 130, vitals.High},
		{"hr high low", vitals.HeartRate, 45, vitals.High},
		{"hr high boundary exclusive", vitals.HeartRate, 120, vitals.Medium},
		{"hr outside normal", vitals.HeartRate, 105, vitals.Medium},
		{"hr below normal", vitals.HeartRate, 55, vitals.Medium},
		{"hr normal", vitals.HeartRate, 75, vitals.Low},
		{"hr normal upper bound", vitals.HeartRate, 100, vitals.Low},

		{"spo2 critical", vitals.OxygenSaturation, 80, vitals.Critical},
		{"spo2 high", vitals.OxygenSaturation, 90, vitals.High},
		{"spo2 outside normal", vitals.OxygenSaturation, 93, vitals.Medium},
		{"spo2 normal", vitals.OxygenSaturation, 98, vitals.Low},

		{"bp critical high", vitals.BloodPressure, 210, vitals.Critical},
		{"bp critical low", vitals.BloodPressure, 55, vitals.Critical},
		{"bp high", vitals.BloodPressure, 170, vitals.High},
		{"bp high low", vitals.BloodPressure, 75, vitals.High},
		{"bp outside normal", vitals.BloodPressure, 150, vitals.Medium},
		{"bp normal", vitals.BloodPressure, 120, vitals.Low},

		{"temp high", vitals.Temperature, 39.5, vitals.High},
		{"temp high low", vitals.Temperature, 34.8, vitals.High},
		{"temp medium band", vitals.Temperature, 38.7, vitals.Medium},
		{"temp outside normal", vitals.Temperature, 37.8, vitals.Medium},
		{"temp normal", vitals.Temperature, 36.8, vitals.Low},

		{"rr high", vitals.RespiratoryRate, 32, vitals.High},
		{"rr high low", vitals.RespiratoryRate, 6, vitals.High},
		{"rr medium band", vitals.RespiratoryRate, 27, vitals.Medium},
		{"rr outside normal", vitals.RespiratoryRate, 22, vitals.Medium},
		{"rr normal", vitals.RespiratoryRate, 16, vitals.Low},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(reading(tt.kind, tt.v), defaults)
			if got != tt.want {
				t.Errorf("Classify(%s=%v) = %s, want %s", tt.kind, tt.v, got, tt.want)
			}
		})
	}
}

func TestClassify_SubjectRangesOnlyAffectMedium(t *testing.T) {
	t.Parallel()

	// An athlete with a resting heart rate of 45 is normal for them.
	ranges := vitals.DefaultRanges().Merge(vitals.Ranges{
		vitals.HeartRate: {Min: 40, Max: 100},
	})

	if got := Classify(reading(vitals.HeartRate, 55), ranges); got != vitals.Low {
		t.Errorf("hr 55 with widened range = %s, want LOW", got)
	}
	// The fixed bands still apply regardless of the subject's ranges.
	if got := Classify(reading(vitals.HeartRate, 45), ranges); got != vitals.High {
		t.Errorf("hr 45 with widened range = %s, want HIGH", got)
	}
}

func TestClassify_MissingRangeIsLow(t *testing.T) {
	t.Parallel()

	if got := Classify(reading(vitals.HeartRate, 105), vitals.Ranges{}); got != vitals.Low {
		t.Errorf("no range configured = %s, want LOW", got)
	}
}
