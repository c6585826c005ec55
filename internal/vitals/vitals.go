// Package vitals holds the value types shared by the triage core, the subject
// registry and the transports: vital sign kinds, priority levels, normal
// ranges and readings.
package vitals

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies which vital sign a reading measures.
type Kind int

const (
	KindUnknown Kind = iota
	HeartRate
	BloodPressure // systolic
	OxygenSaturation
	Temperature // Celsius
	RespiratoryRate
)

// Kinds lists every known vital sign in a stable order.
var Kinds = []Kind{HeartRate, BloodPressure, OxygenSaturation, Temperature, RespiratoryRate}

var kindNames = map[Kind]string{
	HeartRate:        "heart_rate",
	BloodPressure:    "blood_pressure",
	OxygenSaturation: "oxygen_saturation",
	Temperature:      "temperature",
	RespiratoryRate:  "respiratory_rate",
}

var kindDisplay = map[Kind]string{
	HeartRate:        "Heart Rate",
	BloodPressure:    "Blood Pressure",
	OxygenSaturation: "Oxygen Saturation",
	Temperature:      "Temperature",
	RespiratoryRate:  "Respiratory Rate",
}

// String returns the wire name, e.g. "heart_rate".
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// DisplayName returns the human readable name used in alert messages.
func (k Kind) DisplayName() string {
	if s, ok := kindDisplay[k]; ok {
		return s
	}
	return "Unknown"
}

// Valid reports whether k is one of the known vital signs.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind accepts the wire name ("heart_rate") case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown vital kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown vital kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Priority is an alert urgency level. Lower values are more urgent.
type Priority int

const (
	// Critical needs immediate attention.
	Critical Priority = 1
	// High needs a response within 30 seconds.
	High Priority = 2
	// Medium needs a check within 5 minutes.
	Medium Priority = 3
	// Low is routine.
	Low Priority = 4
)

// Priorities lists every level from most to least urgent.
var Priorities = []Priority{Critical, High, Medium, Low}

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether p is a defined level.
func (p Priority) Valid() bool {
	return p >= Critical && p <= Low
}

// MoreUrgent reports whether p should be handled before q.
func (p Priority) MoreUrgent(q Priority) bool {
	return p < q
}

// SLA is the maximum acceptable delay between alert creation and dispatch.
func (p Priority) SLA() time.Duration {
	switch p {
	case Critical:
		return 2 * time.Second
	case High:
		return 30 * time.Second
	case Medium:
		return 300 * time.Second
	default:
		return time.Hour
	}
}

// Guidance is the operator instruction attached to a dispatched alert.
func (p Priority) Guidance() string {
	switch p {
	case Critical:
		return "Immediate medical attention required"
	case High:
		return "Nurse response needed within 30 seconds"
	case Medium:
		return "Check on patient within 5 minutes"
	default:
		return "Routine check during next rounds"
	}
}

// ParsePriority accepts either the name ("critical") or the numeric level ("1").
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "1":
		return Critical, nil
	case "HIGH", "2":
		return High, nil
	case "MEDIUM", "3":
		return Medium, nil
	case "LOW", "4":
		return Low, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("undefined priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ErrMissingValue is returned when decoding a reading that carries no value.
var ErrMissingValue = errors.New("reading has no value")

// Reading is one timestamped observation of a vital sign for a subject.
// Readings are values and are never modified after creation.
type Reading struct {
	SubjectID  string
	Kind       Kind
	Value      float64
	ObservedAt time.Time
}

// record is the flat wire form of a Reading. Timestamps travel as epoch
// milliseconds so ordering survives any JSON consumer.
type record struct {
	SubjectID    string   `json:"subject_id"`
	Vital        Kind     `json:"vital"`
	Value        *float64 `json:"value"`
	ObservedAtMs int64    `json:"observed_at_ms"`
}

// MarshalJSON implements json.Marshaler.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		SubjectID:    r.SubjectID,
		Vital:        r.Kind,
		Value:        &r.Value,
		ObservedAtMs: ToEpochMillis(r.ObservedAt),
	})
}

// UnmarshalJSON implements json.Unmarshaler. A missing value is
// ErrMissingValue; a missing observed_at_ms leaves ObservedAt zero and the
// ingest path stamps it.
func (r *Reading) UnmarshalJSON(b []byte) error {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	if rec.Value == nil {
		return ErrMissingValue
	}
	*r = Reading{
		SubjectID:  rec.SubjectID,
		Kind:       rec.Vital,
		Value:      *rec.Value,
		ObservedAt: FromEpochMillis(rec.ObservedAtMs),
	}
	return nil
}

// ToEpochMillis converts t to epoch milliseconds; the zero time maps to 0.
func ToEpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromEpochMillis is the inverse of ToEpochMillis.
func FromEpochMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
