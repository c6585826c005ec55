package triage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// ErrClosed is returned by Ingest once the service has been shut down.
var ErrClosed = xerrors.New("triage service is shut down")

// Notifier delivers dispatched alerts to an operator-facing sink.
type Notifier interface {
	Notify(ctx context.Context, d *Dispatch) error
}

// Service is the business boundary for triage operations. It owns the
// lifecycle (accepting readings until Shutdown), the periodic dispatch pass,
// and delivery to the Notifier.
type Service struct {
	engine   *Engine
	queue    *Queue
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier

	// lifecycle is held shared by Ingest and exclusively by Shutdown, so no
	// reading can enqueue after the final flush.
	lifecycle  sync.RWMutex
	closed     atomic.Bool
	dispatchMu sync.Mutex // one dispatch pass at a time
}

// NewService creates a new triage service. A nil notifier logs each dispatch.
func NewService(engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if engine == nil {
		panic(xerrors.New("triage engine is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if notifier == nil {
		notifier = &logNotifier{logger: logger}
	}
	return &Service{
		engine:   engine,
		queue:    engine.queue,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
	}
}

// Ingest accepts one reading for triage.
func (s *Service) Ingest(ctx context.Context, r vitals.Reading) (*Outcome, error) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.closed.Load() {
		s.reject("closed")
		return nil, ErrClosed
	}

	out, err := s.engine.Ingest(ctx, r)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownSubject):
			s.reject("unknown_subject")
		case errors.Is(err, ErrInvalidReading):
			s.reject("invalid")
		default:
			s.reject("error")
		}
		return nil, err
	}
	return out, nil
}

// DequeueNext hands the most urgent alert to a pulling consumer. ok is false
// when nothing is queued.
func (s *Service) DequeueNext(_ context.Context) (Dispatch, bool) {
	return s.queue.DequeueNext()
}

// DrainAll hands every queued alert, in priority order, to a pulling consumer.
func (s *Service) DrainAll(_ context.Context) []Dispatch {
	return s.queue.DrainAll()
}

// Acknowledge records that an operator has handled the alert.
func (s *Service) Acknowledge(ctx context.Context, alertID string) error {
	return s.engine.Acknowledge(ctx, alertID)
}

// Risk returns the subject's aggregate risk.
func (s *Service) Risk(subjectID string) vitals.Priority {
	return s.engine.Risk(subjectID)
}

// Stats returns the statistics counters.
func (s *Service) Stats() Stats {
	return s.engine.Stats()
}

// Closed reports whether Shutdown has been called.
func (s *Service) Closed() bool {
	return s.closed.Load()
}

// Run performs a dispatch pass every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.DispatchPending(ctx)
		}
	}
}

// DispatchPending drains the queue and delivers every alert to the notifier.
// Delivery failures are logged; the alert has already left the queue and is
// not retried. It returns the number of alerts dispatched.
func (s *Service) DispatchPending(ctx context.Context) int {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	dispatches := s.queue.DrainAll()
	for i := range dispatches {
		d := &dispatches[i]
		if !d.WithinSLA {
			s.logger.Warn(ctx, "alert dispatched outside SLA",
				"alert_id", d.Alert.ID,
				"subject_id", d.Alert.SubjectID,
				"priority", d.Alert.Priority.String(),
				"elapsed_ms", d.Elapsed.Milliseconds(),
				"sla_ms", d.Alert.Priority.SLA().Milliseconds(),
			)
		}

		result := "success"
		if err := s.notifier.Notify(ctx, d); err != nil {
			result = "error"
			s.logger.Error(ctx, err, "failed to notify dispatched alert",
				"alert_id", d.Alert.ID,
				"subject_id", d.Alert.SubjectID,
			)
		}
		if s.metrics != nil {
			s.metrics.NotificationsTotal.WithLabelValues(result).Inc()
		}
	}
	return len(dispatches)
}

// Shutdown stops accepting readings and flushes the queue through the
// notifier. It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.lifecycle.Lock()
	s.closed.Store(true)
	s.lifecycle.Unlock()

	n := s.DispatchPending(ctx)
	s.logger.Info(ctx, "triage service shut down", "flushed_alerts", n)
	return ctx.Err()
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.IngestRejectedTotal.WithLabelValues(reason).Inc()
	}
}

// logNotifier is the fallback sink: one structured log line per dispatch.
type logNotifier struct {
	logger log.Logger
}

func (n *logNotifier) Notify(ctx context.Context, d *Dispatch) error {
	n.logger.Info(ctx, "alert dispatched",
		"alert_id", d.Alert.ID,
		"subject_id", d.Alert.SubjectID,
		"priority", d.Alert.Priority.String(),
		"vital", d.Alert.Vital.String(),
		"message", d.Alert.Message,
		"response_ms", d.Elapsed.Milliseconds(),
		"within_sla", d.WithinSLA,
		"guidance", d.Alert.Priority.Guidance(),
	)
	return nil
}
