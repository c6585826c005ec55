package vitals

import "fmt"

// Range is an inclusive normal range [Min, Max].
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies inside the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Validate rejects inverted ranges.
func (r Range) Validate() error {
	if r.Min > r.Max {
		return fmt.Errorf("min %.2f greater than max %.2f", r.Min, r.Max)
	}
	return nil
}

// Ranges maps each vital sign to its normal range.
type Ranges map[Kind]Range

// DefaultRanges returns a fresh copy of the normal ranges applied to every
// subject without overrides.
func DefaultRanges() Ranges {
	return Ranges{
		HeartRate:        {Min: 60, Max: 100},
		BloodPressure:    {Min: 90, Max: 140},
		OxygenSaturation: {Min: 95, Max: 100},
		Temperature:      {Min: 36.1, Max: 37.2},
		RespiratoryRate:  {Min: 12, Max: 20},
	}
}

// Merge returns a copy of rs with every entry in overrides replacing the
// matching vital. Neither input is modified.
func (rs Ranges) Merge(overrides Ranges) Ranges {
	out := make(Ranges, len(rs)+len(overrides))
	for k, r := range rs {
		out[k] = r
	}
	for k, r := range overrides {
		out[k] = r
	}
	return out
}

// Validate checks every entry names a known vital and is well formed.
func (rs Ranges) Validate() error {
	for k, r := range rs {
		if !k.Valid() {
			return fmt.Errorf("range for unknown vital kind %d", int(k))
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}
