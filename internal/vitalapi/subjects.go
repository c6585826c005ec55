package vitalapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/vitalwatch/internal/registry"
)

func (a *API) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := a.subjects.List(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "list subjects failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]subjectRecord, len(subjects))
	for i, s := range subjects {
		out[i] = toSubjectRecord(s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	subj, ok, err := a.subjects.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "get subject failed", "subject_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, toSubjectRecord(subj))
}

// handlePutSubject registers or re-registers a subject. Re-registration
// replaces name and ranges; risk survives.
func (a *API) handlePutSubject(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	subj := &registry.Subject{ID: req.ID, Name: req.Name, Ranges: req.Ranges}
	if err := subj.Normalize(time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := a.subjects.Put(ctx, subj); err != nil {
		a.logger.Error(ctx, err, "put subject failed", "subject_id", subj.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	stored, ok, err := a.subjects.Get(ctx, subj.ID)
	if err != nil || !ok {
		a.logger.Warn(ctx, "subject not readable after put", "subject_id", subj.ID)
		stored = subj
	}
	a.logger.Info(ctx, "subject registered", "subject_id", subj.ID)
	writeJSON(w, http.StatusCreated, toSubjectRecord(stored))
}
