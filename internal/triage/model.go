package triage

import (
	"time"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// Alert is a prioritized notification about one subject's vital sign.
// Everything except Acknowledged is fixed at creation.
type Alert struct {
	ID           string
	SubjectID    string
	Priority     vitals.Priority
	Message      string
	Vital        vitals.Kind
	Value        float64 // reading value that raised the alert
	Trend        bool    // raised by trend detection rather than a single reading
	CreatedAt    time.Time
	Acknowledged bool
}

// Dispatch is an alert leaving the queue, with its SLA verdict computed at
// dequeue time.
type Dispatch struct {
	Alert        Alert
	DispatchedAt time.Time
	Elapsed      time.Duration
	WithinSLA    bool
}

// Outcome describes what Ingest did with one reading.
type Outcome struct {
	Priority      vitals.Priority
	AlertID       string // empty unless Enqueued
	Enqueued      bool
	Suppressed    bool // classified above LOW but filtered as a false alarm
	TrendAlertID  string
	TrendEnqueued bool
}

// Stats is a point-in-time copy of the triage counters.
type Stats struct {
	ReadingsIngested    uint64
	AlertsEnqueued      uint64
	TrendAlerts         uint64
	FalseAlarmsFiltered uint64
	AlertsProcessed     uint64
	SLABreaches         map[vitals.Priority]uint64
	QueueDepth          int
}
