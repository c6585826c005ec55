// Package vitalapi is the HTTP surface of vitalwatch: a reading source, a
// pull-based alert sink, the subject registry and the statistics counters.
package vitalapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/vitalwatch/internal/registry"
	"github.com/linnemanlabs/vitalwatch/internal/triage"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// TriageService defines the triage operations the API needs.
type TriageService interface {
	Ingest(ctx context.Context, r vitals.Reading) (*triage.Outcome, error)
	DequeueNext(ctx context.Context) (triage.Dispatch, bool)
	DrainAll(ctx context.Context) []triage.Dispatch
	Acknowledge(ctx context.Context, alertID string) error
	Stats() triage.Stats
}

// SubjectStore defines the registry operations the API needs.
type SubjectStore interface {
	Get(ctx context.Context, id string) (*registry.Subject, bool, error)
	List(ctx context.Context) ([]*registry.Subject, error)
	Put(ctx context.Context, s *registry.Subject) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      TriageService
	subjects SubjectStore
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, subjects SubjectStore) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if subjects == nil {
		panic(xerrors.New("subject store is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		subjects: subjects,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/readings", a.handleIngestReadings)

		r.Get("/alerts/next", a.handleNextAlert)
		r.Post("/alerts/drain", a.handleDrainAlerts)
		r.Post("/alerts/{id}/ack", a.handleAckAlert)

		r.Get("/subjects", a.handleListSubjects)
		r.Post("/subjects", a.handlePutSubject)
		r.Get("/subjects/{id}", a.handleGetSubject)

		r.Get("/stats", a.handleStats)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
