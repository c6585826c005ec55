package vitalapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/vitalwatch/internal/triage"
)

func (a *API) handleNextAlert(w http.ResponseWriter, r *http.Request) {
	d, ok := a.svc.DequeueNext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toDispatchRecord(&d))
}

// handleDrainAlerts empties the queue in dispatch order.
func (a *API) handleDrainAlerts(w http.ResponseWriter, r *http.Request) {
	ds := a.svc.DrainAll(r.Context())
	out := make([]dispatchRecord, len(ds))
	for i := range ds {
		out[i] = toDispatchRecord(&ds[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(out),
		"dispatches": out,
	})
}

func (a *API) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.Acknowledge(r.Context(), id); err != nil {
		if errors.Is(err, triage.ErrUnknownAlert) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "acknowledge alert failed", "alert_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStatsRecord(a.svc.Stats()))
}
