package vitalapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/vitalwatch/internal/triage"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// handleIngestReadings accepts either one reading object or
// {"readings":[...]}. A single reading maps its error to a status code; a
// batch reports per-item results.
func (a *API) handleIngestReadings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	var batch struct {
		Readings []json.RawMessage `json:"readings"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if batch.Readings != nil {
		a.ingestBatch(w, r, batch.Readings)
		return
	}

	var rd vitals.Reading
	if err := json.Unmarshal(body, &rd); err != nil {
		writeError(w, http.StatusBadRequest, decodeError(err))
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("vitalwatch.subject.id", rd.SubjectID),
		attribute.Int("vitalwatch.readings", 1),
	)

	out, err := a.svc.Ingest(r.Context(), rd)
	if err != nil {
		status := ingestStatus(err)
		if status == http.StatusInternalServerError {
			a.logger.Error(r.Context(), err, "ingest reading failed", "subject_id", rd.SubjectID)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeRecord(out))
}

func (a *API) ingestBatch(w http.ResponseWriter, r *http.Request, raws []json.RawMessage) {
	if len(raws) == 0 {
		writeError(w, http.StatusBadRequest, "no readings")
		return
	}

	ctx := r.Context()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("vitalwatch.readings", len(raws)))

	items := make([]batchItem, len(raws))
	var accepted int
	for i, raw := range raws {
		var rd vitals.Reading
		if err := json.Unmarshal(raw, &rd); err != nil {
			items[i].Error = decodeError(err)
			continue
		}
		out, err := a.svc.Ingest(ctx, rd)
		if errors.Is(err, triage.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if err != nil {
			if ingestStatus(err) == http.StatusInternalServerError {
				a.logger.Error(ctx, err, "ingest reading failed", "subject_id", rd.SubjectID)
			}
			items[i].Error = err.Error()
			continue
		}
		items[i].Outcome = toOutcomeRecord(out)
		accepted++
	}

	a.logger.Info(ctx, "readings batch ingested", "count", len(raws), "accepted", accepted)
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"results":  items,
	})
}

// decodeError is the client-facing text for a reading that failed to decode.
func decodeError(err error) string {
	if errors.Is(err, vitals.ErrMissingValue) {
		return "invalid payload: " + err.Error()
	}
	return "invalid payload"
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, triage.ErrUnknownSubject):
		return http.StatusNotFound
	case errors.Is(err, triage.ErrInvalidReading):
		return http.StatusBadRequest
	case errors.Is(err, triage.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
