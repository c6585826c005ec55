package vitalapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/vitalwatch/internal/registry"
	"github.com/linnemanlabs/vitalwatch/internal/registry/memstore"
	"github.com/linnemanlabs/vitalwatch/internal/triage"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

func newTestService(t testing.TB, store *memstore.Store) *triage.Service {
	t.Helper()
	q := triage.NewQueue(nil, triage.QueueHooks{})
	e := triage.NewEngine(store, q, log.Nop(), triage.EngineHooks{})
	return triage.NewService(e, log.Nop(), nil, nil)
}

func newTestRouter(t *testing.T) (chi.Router, *triage.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	if err := store.Put(context.Background(), &registry.Subject{ID: "p-1", Name: "Jane Doe"}); err != nil {
		t.Fatalf("seed subject: %v", err)
	}
	svc := newTestService(t, store)
	r := chi.NewRouter()
	New(nil, svc, store).RegisterRoutes(r)
	return r, svc, store
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	api := New(nil, newTestService(t, store), store)
	if api == nil {
		t.Fatal("New returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New(nil, ...) left logger nil; expected Nop logger")
	}
}

func TestNew_NilDependencies_Panic(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(t, store)

	tests := []struct {
		name     string
		svc      TriageService
		subjects SubjectStore
	}{
		{"nil service", nil, store},
		{"nil store", svc, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("New did not panic")
				}
			}()
			New(nil, tt.svc, tt.subjects)
		})
	}
}

// Routing

func TestRegisterRoutes_Readings(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"POST normal reading", http.MethodPost, `{"subject_id":"p-1","vital":"heart_rate","value":72}`, http.StatusOK},
		{"POST unknown subject", http.MethodPost, `{"subject_id":"ghost","vital":"heart_rate","value":72}`, http.StatusNotFound},
		{"POST unknown vital", http.MethodPost, `{"subject_id":"p-1","vital":"glucose","value":5}`, http.StatusBadRequest},
		{"POST missing subject", http.MethodPost, `{"vital":"heart_rate","value":72}`, http.StatusBadRequest},
		{"POST missing value", http.MethodPost, `{"subject_id":"p-1","vital":"heart_rate"}`, http.StatusBadRequest},
		{"POST invalid JSON", http.MethodPost, `{bad`, http.StatusBadRequest},
		{"POST empty batch", http.MethodPost, `{"readings":[]}`, http.StatusBadRequest},
		{"GET not allowed", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"PUT not allowed", http.MethodPut, "", http.StatusMethodNotAllowed},
		{"DELETE not allowed", http.MethodDelete, "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, tt.method, "/api/v1/readings", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s /api/v1/readings = %d, want %d (%s)", tt.method, rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRegisterRoutes_Alerts(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET next on empty queue", http.MethodGet, "/api/v1/alerts/next", http.StatusNoContent},
		{"POST drain on empty queue", http.MethodPost, "/api/v1/alerts/drain", http.StatusOK},
		{"POST ack unknown", http.MethodPost, "/api/v1/alerts/01H5K3ABCDEFGHJKMNPQRS/ack", http.StatusNotFound},
		{"GET stats", http.MethodGet, "/api/v1/stats", http.StatusOK},
		{"POST next not allowed", http.MethodPost, "/api/v1/alerts/next", http.StatusMethodNotAllowed},
		{"GET drain not allowed", http.MethodGet, "/api/v1/alerts/drain", http.StatusMethodNotAllowed},
		{"GET ack not allowed", http.MethodGet, "/api/v1/alerts/abc/ack", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	paths := []string{
		"/",
		"/api/v1",
		"/api/v2/readings",
		"/api/v1/alerts",
		"/api/v1/unknown",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, http.MethodGet, path, "")
			if rec.Code != http.StatusNotFound {
				t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		})
	}
}

// Readings and alerts

func TestIngestReading_CriticalIsPulled(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/readings",
		`{"subject_id":"p-1","vital":"heart_rate","value":200,"observed_at_ms":1700000000000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var out outcomeRecord
	decode(t, rec, &out)
	if out.Priority != vitals.Critical || !out.Enqueued || out.AlertID == "" {
		t.Fatalf("outcome = %+v, want enqueued CRITICAL", out)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/alerts/next", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("next status = %d, want %d", rec.Code, http.StatusOK)
	}
	var d dispatchRecord
	decode(t, rec, &d)
	if d.Alert.ID != out.AlertID {
		t.Errorf("alert id = %q, want %q", d.Alert.ID, out.AlertID)
	}
	if d.Alert.Message != "Heart Rate reading: 200 (CRITICAL)" {
		t.Errorf("message = %q", d.Alert.Message)
	}
	if d.Alert.Vital != vitals.HeartRate {
		t.Errorf("vital = %s, want heart_rate", d.Alert.Vital)
	}
	if d.SLAMs != 2000 {
		t.Errorf("sla_ms = %d, want 2000", d.SLAMs)
	}
	if d.Guidance == "" {
		t.Error("expected guidance on dispatch")
	}

	rec = do(t, r, http.MethodGet, "/api/v1/alerts/next", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("second next status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestIngestReadings_Batch(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	body := `{"readings":[
		{"subject_id":"p-1","vital":"heart_rate","value":72},
		{"subject_id":"ghost","vital":"heart_rate","value":72},
		{"subject_id":"p-1","vital":"oxygen_saturation","value":80},
		"not a reading",
		{"subject_id":"p-1","vital":"heart_rate"}
	]}`
	rec := do(t, r, http.MethodPost, "/api/v1/readings", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Accepted int         `json:"accepted"`
		Results  []batchItem `json:"results"`
	}
	decode(t, rec, &resp)
	if resp.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", resp.Accepted)
	}
	if len(resp.Results) != 5 {
		t.Fatalf("results = %d, want 5", len(resp.Results))
	}
	if resp.Results[0].Outcome == nil || resp.Results[0].Outcome.Priority != vitals.Low {
		t.Errorf("results[0] = %+v, want LOW outcome", resp.Results[0])
	}
	if resp.Results[1].Error == "" {
		t.Error("results[1]: expected unknown subject error")
	}
	if resp.Results[2].Outcome == nil || resp.Results[2].Outcome.Priority != vitals.Critical {
		t.Errorf("results[2] = %+v, want CRITICAL outcome", resp.Results[2])
	}
	if resp.Results[3].Error != "invalid payload" {
		t.Errorf("results[3].error = %q, want invalid payload", resp.Results[3].Error)
	}
	if resp.Results[4].Outcome != nil || !strings.Contains(resp.Results[4].Error, "no value") {
		t.Errorf("results[4] = %+v, want missing value error", resp.Results[4])
	}
}

func TestIngestReading_MissingValueRaisesNoAlert(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/readings", `{"subject_id":"p-1","vital":"heart_rate"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body map[string]string
	decode(t, rec, &body)
	if !strings.Contains(body["error"], "no value") {
		t.Errorf("error = %q, want missing value", body["error"])
	}

	rec = do(t, r, http.MethodGet, "/api/v1/alerts/next", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("next status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := svc.Stats().ReadingsIngested; got != 0 {
		t.Errorf("readings ingested = %d, want 0", got)
	}
}

func TestIngestReading_AfterShutdown(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	rec := do(t, r, http.MethodPost, "/api/v1/readings", `{"subject_id":"p-1","vital":"heart_rate","value":72}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("single status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	rec = do(t, r, http.MethodPost, "/api/v1/readings", `{"readings":[{"subject_id":"p-1","vital":"heart_rate","value":72}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("batch status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestDrainAlerts_PriorityOrder(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	for _, body := range []string{
		`{"subject_id":"p-1","vital":"temperature","value":38.5}`,
		`{"subject_id":"p-1","vital":"heart_rate","value":200}`,
		`{"subject_id":"p-1","vital":"respiratory_rate","value":25}`,
	} {
		if rec := do(t, r, http.MethodPost, "/api/v1/readings", body); rec.Code != http.StatusOK {
			t.Fatalf("ingest %s = %d", body, rec.Code)
		}
	}

	rec := do(t, r, http.MethodPost, "/api/v1/alerts/drain", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("drain status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp struct {
		Count      int              `json:"count"`
		Dispatches []dispatchRecord `json:"dispatches"`
	}
	decode(t, rec, &resp)
	if resp.Count != len(resp.Dispatches) || resp.Count == 0 {
		t.Fatalf("count = %d, dispatches = %d", resp.Count, len(resp.Dispatches))
	}
	if resp.Dispatches[0].Alert.Priority != vitals.Critical {
		t.Errorf("first dispatch = %s, want CRITICAL", resp.Dispatches[0].Alert.Priority)
	}
	for i := 1; i < len(resp.Dispatches); i++ {
		if resp.Dispatches[i].Alert.Priority.MoreUrgent(resp.Dispatches[i-1].Alert.Priority) {
			t.Errorf("dispatch %d (%s) more urgent than %d (%s)", i,
				resp.Dispatches[i].Alert.Priority, i-1, resp.Dispatches[i-1].Alert.Priority)
		}
	}
}

func TestAckAlert(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)

	out, err := svc.Ingest(context.Background(), vitals.Reading{SubjectID: "p-1", Kind: vitals.HeartRate, Value: 200})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if svc.Risk("p-1") != vitals.Critical {
		t.Fatalf("risk = %s, want CRITICAL", svc.Risk("p-1"))
	}

	path := "/api/v1/alerts/" + out.AlertID + "/ack"
	if rec := do(t, r, http.MethodPost, path, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("ack status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if svc.Risk("p-1") != vitals.Low {
		t.Errorf("risk after ack = %s, want LOW", svc.Risk("p-1"))
	}
	if rec := do(t, r, http.MethodPost, path, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second ack status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	do(t, r, http.MethodPost, "/api/v1/readings", `{"subject_id":"p-1","vital":"heart_rate","value":72}`)
	do(t, r, http.MethodPost, "/api/v1/readings", `{"subject_id":"p-1","vital":"heart_rate","value":200}`)

	rec := do(t, r, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var st statsRecord
	decode(t, rec, &st)
	if st.ReadingsIngested != 2 {
		t.Errorf("readings_ingested = %d, want 2", st.ReadingsIngested)
	}
	if st.AlertsEnqueued != 1 {
		t.Errorf("alerts_enqueued = %d, want 1", st.AlertsEnqueued)
	}
	if st.QueueDepth != 1 {
		t.Errorf("queue_depth = %d, want 1", st.QueueDepth)
	}
	if st.SLABreaches == nil {
		t.Error("sla_breaches should be an object, got null")
	}
}

// Subjects

func TestPutAndGetSubject(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/subjects",
		`{"id":"p-2","name":"John Roe","ranges":{"heart_rate":{"min":45,"max":95}}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("put status = %d, want %d (%s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	rec = do(t, r, http.MethodGet, "/api/v1/subjects/p-2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got subjectRecord
	decode(t, rec, &got)
	if got.Name != "John Roe" {
		t.Errorf("name = %q, want John Roe", got.Name)
	}
	if got.EffectiveRanges[vitals.HeartRate] != (vitals.Range{Min: 45, Max: 95}) {
		t.Errorf("effective heart_rate = %+v", got.EffectiveRanges[vitals.HeartRate])
	}
	if got.EffectiveRanges[vitals.OxygenSaturation] != (vitals.Range{Min: 95, Max: 100}) {
		t.Errorf("effective oxygen_saturation = %+v, want default", got.EffectiveRanges[vitals.OxygenSaturation])
	}
	if got.Risk != vitals.Low {
		t.Errorf("risk = %s, want LOW", got.Risk)
	}
	if got.CreatedAtMs == 0 {
		t.Error("created_at_ms not set")
	}
}

func TestPutSubject_Invalid(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{bad`},
		{"missing id", `{"name":"x"}`},
		{"blank id", `{"id":"   "}`},
		{"inverted range", `{"id":"p-3","ranges":{"heart_rate":{"min":100,"max":60}}}`},
		{"unknown vital", `{"id":"p-3","ranges":{"glucose":{"min":4,"max":6}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, http.MethodPost, "/api/v1/subjects", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestGetSubject_NotFound(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/subjects/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListSubjects(t *testing.T) {
	t.Parallel()

	r, _, store := newTestRouter(t)
	if err := store.Put(context.Background(), &registry.Subject{ID: "p-0"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec := do(t, r, http.MethodGet, "/api/v1/subjects", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got []subjectRecord
	decode(t, rec, &got)
	if len(got) != 2 || got[0].ID != "p-0" || got[1].ID != "p-1" {
		t.Errorf("subjects = %+v, want [p-0 p-1]", got)
	}
}

// Fuzz

func FuzzReadingIngestion(f *testing.F) {
	store := memstore.New()
	if err := store.Put(context.Background(), &registry.Subject{ID: "p-1"}); err != nil {
		f.Fatalf("seed subject: %v", err)
	}
	r := chi.NewRouter()
	New(nil, newTestService(f, store), store).RegisterRoutes(r)

	seeds := []struct {
		body        []byte
		contentType string
	}{
		{nil, ""},
		{[]byte(""), "application/json"},
		{[]byte("{}"), "application/json"},
		{[]byte("null"), "application/json"},
		{[]byte(`{"subject_id":"p-1","vital":"heart_rate","value":200}`), "application/json"},
		{[]byte(`{"readings":[{"subject_id":"p-1","vital":"temperature","value":36.8},{"subject_id":"x"}]}`), "application/json"},
		{[]byte(`{"readings":null}`), "application/json"},
		{[]byte("{invalid json"), "application/json"},
		{[]byte("\x00\x01\x02\xff\xfe"), "application/octet-stream"},
		{[]byte(strings.Repeat("a", 10000)), "text/plain"},
	}
	for _, s := range seeds {
		f.Add(s.body, s.contentType)
	}

	f.Fuzz(func(t *testing.T, body []byte, contentType string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(string(body)))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusOK, http.StatusBadRequest, http.StatusNotFound:
		default:
			t.Errorf("POST /api/v1/readings with body len=%d content-type=%q = %d, want 200, 400 or 404",
				len(body), contentType, rec.Code)
		}
	})
}
