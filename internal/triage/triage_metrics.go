package triage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	ReadingsTotal       *prometheus.CounterVec
	FalseAlarmsTotal    *prometheus.CounterVec
	AlertsEnqueuedTotal *prometheus.CounterVec
	AlertsDispatched    *prometheus.CounterVec
	SLABreachesTotal    *prometheus.CounterVec
	DispatchLatency     *prometheus.HistogramVec
	QueueDepth          prometheus.Gauge
	RiskChangesTotal    *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	IngestRejectedTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReadingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_readings_total",
			Help: "Readings ingested by vital and classified priority.",
		}, []string{"vital", "priority"}),
		FalseAlarmsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_false_alarms_total",
			Help: "Candidate alerts suppressed as statistically unremarkable.",
		}, []string{"vital", "priority"}),
		AlertsEnqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_alerts_enqueued_total",
			Help: "Alerts admitted to the dispatch queue by priority and kind (reading or trend).",
		}, []string{"priority", "kind"}),
		AlertsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_alerts_dispatched_total",
			Help: "Alerts dequeued by priority and SLA outcome.",
		}, []string{"priority", "sla"}),
		SLABreachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_sla_breaches_total",
			Help: "Alerts dispatched after their priority's response-time budget.",
		}, []string{"priority"}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitalwatch_dispatch_latency_seconds",
			Help:    "Delay between alert creation and dispatch in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 20), // 10ms .. ~87m
		}, []string{"priority"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitalwatch_queue_depth",
			Help: "Alerts currently waiting for dispatch.",
		}),
		RiskChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_subject_risk_changes_total",
			Help: "Aggregate subject risk transitions by new level.",
		}, []string{"priority"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_notifications_total",
			Help: "Dispatched alerts handed to the notifier by result.",
		}, []string{"result"}),
		IngestRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_ingest_rejected_total",
			Help: "Readings rejected before classification by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ReadingsTotal,
		m.FalseAlarmsTotal,
		m.AlertsEnqueuedTotal,
		m.AlertsDispatched,
		m.SLABreachesTotal,
		m.DispatchLatency,
		m.QueueDepth,
		m.RiskChangesTotal,
		m.NotificationsTotal,
		m.IngestRejectedTotal,
	)

	return m
}

// Hooks returns EngineHooks that increment the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnReading: func(kind vitals.Kind, p vitals.Priority) {
			m.ReadingsTotal.WithLabelValues(kind.String(), p.String()).Inc()
		},
		OnFalseAlarm: func(kind vitals.Kind, p vitals.Priority) {
			m.FalseAlarmsTotal.WithLabelValues(kind.String(), p.String()).Inc()
		},
		OnRiskChange: func(_ string, risk vitals.Priority) {
			m.RiskChangesTotal.WithLabelValues(risk.String()).Inc()
		},
	}
}

// QueueHooks returns QueueHooks that track depth, dispatch latency and SLA outcomes.
func (m *Metrics) QueueHooks() QueueHooks {
	return QueueHooks{
		OnEnqueue: func(a *Alert) {
			kind := "reading"
			if a.Trend {
				kind = "trend"
			}
			m.AlertsEnqueuedTotal.WithLabelValues(a.Priority.String(), kind).Inc()
			m.QueueDepth.Inc()
		},
		OnDispatch: func(d *Dispatch) {
			p := d.Alert.Priority.String()
			sla := "met"
			if !d.WithinSLA {
				sla = "breached"
				m.SLABreachesTotal.WithLabelValues(p).Inc()
			}
			m.AlertsDispatched.WithLabelValues(p, sla).Inc()
			m.DispatchLatency.WithLabelValues(p).Observe(d.Elapsed.Seconds())
			m.QueueDepth.Dec()
		},
	}
}
