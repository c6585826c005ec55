package triage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/vitalwatch/internal/registry"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

const tracerName = "github.com/linnemanlabs/vitalwatch/internal/triage"

var (
	// ErrUnknownSubject means the reading's subject has no registered ranges.
	ErrUnknownSubject = xerrors.New("unknown subject")

	// ErrInvalidReading means the reading is missing a subject, names an
	// unknown vital or carries a non-finite value.
	ErrInvalidReading = xerrors.New("invalid reading")

	// ErrUnknownAlert means the alert is not outstanding (never admitted or
	// already acknowledged).
	ErrUnknownAlert = xerrors.New("unknown alert")
)

// Registry is the part of the subject registry the engine needs.
type Registry interface {
	Get(ctx context.Context, id string) (*registry.Subject, bool, error)
	SetRisk(ctx context.Context, id string, risk vitals.Priority) error
}

// EngineHooks are optional callbacks for instrumentation.
type EngineHooks struct {
	OnReading    func(kind vitals.Kind, p vitals.Priority)
	OnFalseAlarm func(kind vitals.Kind, p vitals.Priority)
	OnRiskChange func(subjectID string, risk vitals.Priority)
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces time.Now for alert creation and reading stamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithHistory shares an existing History arena.
func WithHistory(h *History) EngineOption {
	return func(e *Engine) { e.history = h }
}

// Engine threads each reading through classification, false-alarm filtering
// and trend detection, admitting surviving alerts to the Queue. It also keeps
// each subject's aggregate risk current in the registry.
type Engine struct {
	registry Registry
	queue    *Queue
	history  *History
	logger   log.Logger
	hooks    EngineHooks
	now      func() time.Time

	ingested    atomic.Uint64
	enqueued    atomic.Uint64
	trends      atomic.Uint64
	falseAlarms atomic.Uint64

	riskMu      sync.Mutex
	outstanding map[string]outstandingAlert // alert ID -> owner
	risks       map[string]*subjectRisk     // subject ID -> unacknowledged counts
}

type outstandingAlert struct {
	subjectID string
	priority  vitals.Priority
}

// subjectRisk counts unacknowledged alerts for one subject. Its lock
// serializes risk writes to the registry for that subject.
type subjectRisk struct {
	mu     sync.Mutex
	counts [vitals.Low + 1]int
	level  vitals.Priority
}

func (r *subjectRisk) aggregate() vitals.Priority {
	for _, p := range vitals.Priorities {
		if r.counts[p] > 0 {
			return p
		}
	}
	return vitals.Low
}

// NewEngine creates a new triage engine with the given dependencies.
func NewEngine(reg Registry, queue *Queue, logger log.Logger, hooks EngineHooks, opts ...EngineOption) *Engine {
	if reg == nil {
		panic(xerrors.New("subject registry is required"))
	}
	if queue == nil {
		panic(xerrors.New("alert queue is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		registry:    reg,
		queue:       queue,
		logger:      logger,
		hooks:       hooks,
		now:         time.Now,
		outstanding: make(map[string]outstandingAlert),
		risks:       make(map[string]*subjectRisk),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.history == nil {
		e.history = NewHistory()
	}
	return e
}

// Ingest processes one reading:
//  1. append it to the subject's window for that vital
//  2. classify it against the subject's ranges
//  3. above LOW, build an alert and either suppress it as a false alarm or enqueue it
//  4. independently, enqueue a MEDIUM trend alert when the window trends
func (e *Engine) Ingest(ctx context.Context, r vitals.Reading) (*Outcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "triage.ingest", trace.WithAttributes(
		attribute.String("vitalwatch.subject.id", r.SubjectID),
		attribute.String("vitalwatch.vital", r.Kind.String()),
		attribute.Float64("vitalwatch.reading.value", r.Value),
	))
	defer span.End()

	out, err := e.ingest(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("vitalwatch.priority", out.Priority.String()),
		attribute.Bool("vitalwatch.enqueued", out.Enqueued),
		attribute.Bool("vitalwatch.suppressed", out.Suppressed),
		attribute.Bool("vitalwatch.trend", out.TrendEnqueued),
	)
	return out, nil
}

func (e *Engine) ingest(ctx context.Context, r vitals.Reading) (*Outcome, error) {
	if err := validateReading(r); err != nil {
		return nil, err
	}

	subj, ok, err := e.registry.Get(ctx, r.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("lookup subject %s: %w", r.SubjectID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, r.SubjectID)
	}

	first := e.trackSubject(r.SubjectID, subj.Risk)

	if r.ObservedAt.IsZero() {
		r.ObservedAt = e.now()
	}

	recent := e.history.Window(Key{SubjectID: r.SubjectID, Kind: r.Kind}).Observe(r, FilterWindow)
	e.ingested.Add(1)

	p := Classify(r, subj.EffectiveRanges())
	if e.hooks.OnReading != nil {
		e.hooks.OnReading(r.Kind, p)
	}

	out := &Outcome{Priority: p}
	span := trace.SpanFromContext(ctx)

	if p != vitals.Low {
		a := e.newAlert(r, p, readingMessage(r, p), false)
		if IsLikelyFalseAlarm(p, recent) {
			e.falseAlarms.Add(1)
			out.Suppressed = true
			span.AddEvent("false_alarm.suppressed")
			e.logger.Info(ctx, "false alarm filtered",
				"subject_id", r.SubjectID,
				"vital", r.Kind.String(),
				"priority", p.String(),
				"value", r.Value,
			)
			if e.hooks.OnFalseAlarm != nil {
				e.hooks.OnFalseAlarm(r.Kind, p)
			}
		} else if e.admit(ctx, a) {
			out.Enqueued = true
			out.AlertID = a.ID
			span.AddEvent("alert.enqueued")
		}
	}

	if DetectTrend(recent) {
		a := e.newAlert(r, vitals.Medium, trendMessage(r.Kind), true)
		if e.admit(ctx, a) {
			e.trends.Add(1)
			out.TrendEnqueued = true
			out.TrendAlertID = a.ID
			span.AddEvent("trend.enqueued")
		}
	}

	if first {
		e.reconcileRisk(ctx, r.SubjectID)
	}
	return out, nil
}

// Acknowledge marks an outstanding alert as handled and recomputes the
// subject's aggregate risk.
func (e *Engine) Acknowledge(ctx context.Context, alertID string) error {
	e.riskMu.Lock()
	o, ok := e.outstanding[alertID]
	if ok {
		delete(e.outstanding, alertID)
	}
	sr := e.risks[o.subjectID]
	e.riskMu.Unlock()
	if !ok || sr == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAlert, alertID)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.counts[o.priority]--
	e.publishRiskLocked(ctx, o.subjectID, sr)
	return nil
}

// Risk returns the subject's current aggregate risk as tracked by the engine.
func (e *Engine) Risk(subjectID string) vitals.Priority {
	e.riskMu.Lock()
	sr := e.risks[subjectID]
	e.riskMu.Unlock()
	if sr == nil {
		return vitals.Low
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.aggregate()
}

// Stats returns the engine and queue counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ReadingsIngested:    e.ingested.Load(),
		AlertsEnqueued:      e.enqueued.Load(),
		TrendAlerts:         e.trends.Load(),
		FalseAlarmsFiltered: e.falseAlarms.Load(),
		AlertsProcessed:     e.queue.Processed(),
		SLABreaches:         e.queue.Breaches(),
		QueueDepth:          e.queue.Len(),
	}
}

// History exposes the window arena for read-only inspection.
func (e *Engine) History() *History {
	return e.history
}

func (e *Engine) newAlert(r vitals.Reading, p vitals.Priority, msg string, trend bool) Alert {
	return Alert{
		ID:        ulid.Make().String(),
		SubjectID: r.SubjectID,
		Priority:  p,
		Message:   msg,
		Vital:     r.Kind,
		Value:     r.Value,
		Trend:     trend,
		CreatedAt: e.now(),
	}
}

// trackSubject starts risk tracking the first time this process sees a
// subject, taking the persisted risk as the last published level. It reports
// whether the subject was new.
func (e *Engine) trackSubject(subjectID string, persisted vitals.Priority) bool {
	e.riskMu.Lock()
	defer e.riskMu.Unlock()
	if _, seen := e.risks[subjectID]; seen {
		return false
	}
	e.risks[subjectID] = &subjectRisk{level: persisted}
	return true
}

// reconcileRisk rewrites a risk left over from an earlier run when it no
// longer matches the live aggregate.
func (e *Engine) reconcileRisk(ctx context.Context, subjectID string) {
	e.riskMu.Lock()
	sr := e.risks[subjectID]
	e.riskMu.Unlock()

	sr.mu.Lock()
	defer sr.mu.Unlock()
	e.publishRiskLocked(ctx, subjectID, sr)
}

// admit enqueues a and counts it against the subject's risk. The alert is
// tracked as outstanding before it becomes visible to consumers.
func (e *Engine) admit(ctx context.Context, a Alert) bool {
	e.riskMu.Lock()
	sr, ok := e.risks[a.SubjectID]
	if !ok {
		sr = &subjectRisk{level: vitals.Low}
		e.risks[a.SubjectID] = sr
	}
	e.outstanding[a.ID] = outstandingAlert{subjectID: a.SubjectID, priority: a.Priority}
	e.riskMu.Unlock()

	sr.mu.Lock()
	sr.counts[a.Priority]++
	sr.mu.Unlock()

	if err := e.queue.Enqueue(a); err != nil {
		e.logger.Error(ctx, err, "enqueue alert", "subject_id", a.SubjectID, "priority", int(a.Priority))
		e.riskMu.Lock()
		delete(e.outstanding, a.ID)
		e.riskMu.Unlock()
		sr.mu.Lock()
		sr.counts[a.Priority]--
		sr.mu.Unlock()
		return false
	}
	e.enqueued.Add(1)

	sr.mu.Lock()
	defer sr.mu.Unlock()
	e.publishRiskLocked(ctx, a.SubjectID, sr)
	return true
}

// publishRiskLocked writes the aggregate risk to the registry when it
// changed. Callers hold sr.mu.
func (e *Engine) publishRiskLocked(ctx context.Context, subjectID string, sr *subjectRisk) {
	level := sr.aggregate()
	if level == sr.level {
		return
	}
	if err := e.registry.SetRisk(ctx, subjectID, level); err != nil {
		e.logger.Error(ctx, err, "failed to update subject risk",
			"subject_id", subjectID,
			"risk", level.String(),
		)
		return
	}
	sr.level = level
	if e.hooks.OnRiskChange != nil {
		e.hooks.OnRiskChange(subjectID, level)
	}
}

func validateReading(r vitals.Reading) error {
	switch {
	case r.SubjectID == "":
		return fmt.Errorf("%w: subject id is required", ErrInvalidReading)
	case !r.Kind.Valid():
		return fmt.Errorf("%w: unknown vital kind %d", ErrInvalidReading, int(r.Kind))
	case math.IsNaN(r.Value) || math.IsInf(r.Value, 0):
		return fmt.Errorf("%w: value %v is not finite", ErrInvalidReading, r.Value)
	}
	return nil
}

func readingMessage(r vitals.Reading, p vitals.Priority) string {
	return fmt.Sprintf("%s reading: %.0f (%s)", r.Kind.DisplayName(), math.Round(r.Value), p)
}

func trendMessage(k vitals.Kind) string {
	return "Concerning trend detected in " + k.DisplayName()
}
