package vitalapi

import (
	"github.com/linnemanlabs/vitalwatch/internal/registry"
	"github.com/linnemanlabs/vitalwatch/internal/triage"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// Wire records. Timestamps are epoch milliseconds.

type alertRecord struct {
	ID          string          `json:"id"`
	SubjectID   string          `json:"subject_id"`
	Priority    vitals.Priority `json:"priority"`
	Message     string          `json:"message"`
	Vital       vitals.Kind     `json:"vital"`
	Value       float64         `json:"value"`
	Trend       bool            `json:"trend"`
	CreatedAtMs int64           `json:"created_at_ms"`
}

type dispatchRecord struct {
	Alert          alertRecord `json:"alert"`
	DispatchedAtMs int64       `json:"dispatched_at_ms"`
	ResponseMs     int64       `json:"response_ms"`
	SLAMs          int64       `json:"sla_ms"`
	WithinSLA      bool        `json:"within_sla"`
	Guidance       string      `json:"guidance"`
}

type outcomeRecord struct {
	Priority      vitals.Priority `json:"priority"`
	AlertID       string          `json:"alert_id,omitempty"`
	Enqueued      bool            `json:"enqueued"`
	Suppressed    bool            `json:"suppressed"`
	TrendAlertID  string          `json:"trend_alert_id,omitempty"`
	TrendEnqueued bool            `json:"trend_enqueued"`
}

type batchItem struct {
	Outcome *outcomeRecord `json:"outcome,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type statsRecord struct {
	ReadingsIngested    uint64            `json:"readings_ingested"`
	AlertsEnqueued      uint64            `json:"alerts_enqueued"`
	TrendAlerts         uint64            `json:"trend_alerts"`
	FalseAlarmsFiltered uint64            `json:"false_alarms_filtered"`
	AlertsProcessed     uint64            `json:"alerts_processed"`
	SLABreaches         map[string]uint64 `json:"sla_breaches"`
	QueueDepth          int               `json:"queue_depth"`
}

type subjectRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Ranges          vitals.Ranges   `json:"ranges"`
	EffectiveRanges vitals.Ranges   `json:"effective_ranges"`
	Risk            vitals.Priority `json:"risk"`
	RiskUpdatedAtMs int64           `json:"risk_updated_at_ms"`
	CreatedAtMs     int64           `json:"created_at_ms"`
}

type subjectRequest struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Ranges vitals.Ranges `json:"ranges"`
}

func toAlertRecord(a *triage.Alert) alertRecord {
	return alertRecord{
		ID:          a.ID,
		SubjectID:   a.SubjectID,
		Priority:    a.Priority,
		Message:     a.Message,
		Vital:       a.Vital,
		Value:       a.Value,
		Trend:       a.Trend,
		CreatedAtMs: vitals.ToEpochMillis(a.CreatedAt),
	}
}

func toDispatchRecord(d *triage.Dispatch) dispatchRecord {
	return dispatchRecord{
		Alert:          toAlertRecord(&d.Alert),
		DispatchedAtMs: vitals.ToEpochMillis(d.DispatchedAt),
		ResponseMs:     d.Elapsed.Milliseconds(),
		SLAMs:          d.Alert.Priority.SLA().Milliseconds(),
		WithinSLA:      d.WithinSLA,
		Guidance:       d.Alert.Priority.Guidance(),
	}
}

func toOutcomeRecord(o *triage.Outcome) *outcomeRecord {
	return &outcomeRecord{
		Priority:      o.Priority,
		AlertID:       o.AlertID,
		Enqueued:      o.Enqueued,
		Suppressed:    o.Suppressed,
		TrendAlertID:  o.TrendAlertID,
		TrendEnqueued: o.TrendEnqueued,
	}
}

func toStatsRecord(s triage.Stats) statsRecord {
	breaches := make(map[string]uint64, len(s.SLABreaches))
	for p, n := range s.SLABreaches {
		breaches[p.String()] = n
	}
	return statsRecord{
		ReadingsIngested:    s.ReadingsIngested,
		AlertsEnqueued:      s.AlertsEnqueued,
		TrendAlerts:         s.TrendAlerts,
		FalseAlarmsFiltered: s.FalseAlarmsFiltered,
		AlertsProcessed:     s.AlertsProcessed,
		SLABreaches:         breaches,
		QueueDepth:          s.QueueDepth,
	}
}

func toSubjectRecord(s *registry.Subject) subjectRecord {
	ranges := s.Ranges
	if ranges == nil {
		ranges = vitals.Ranges{}
	}
	return subjectRecord{
		ID:              s.ID,
		Name:            s.Name,
		Ranges:          ranges,
		EffectiveRanges: s.EffectiveRanges(),
		Risk:            s.Risk,
		RiskUpdatedAtMs: vitals.ToEpochMillis(s.RiskUpdatedAt),
		CreatedAtMs:     vitals.ToEpochMillis(s.CreatedAt),
	}
}
