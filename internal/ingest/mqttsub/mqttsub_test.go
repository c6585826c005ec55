package mqttsub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linnemanlabs/vitalwatch/internal/postgres"
	"github.com/linnemanlabs/vitalwatch/internal/triage"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// fakeMessage implements mqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type recordingIngester struct {
	mu      sync.Mutex
	got     []vitals.Reading
	origins []string
	err     error
}

func (r *recordingIngester) Ingest(ctx context.Context, rd vitals.Reading) (*triage.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origins = append(r.origins, postgres.OriginFromContext(ctx))
	if r.err != nil {
		return nil, r.err
	}
	r.got = append(r.got, rd)
	return &triage.Outcome{Priority: vitals.Low}, nil
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := New(Config{Broker: "tcp://localhost:1883"}, &recordingIngester{}, nil)
	assert.Equal(t, DefaultTopic, s.cfg.Topic)
	assert.Equal(t, DefaultClientID, s.cfg.ClientID)
	assert.NotNil(t, s.logger)

	// Stop before Start is a no-op.
	s.Stop()
}

func TestHandleMessage_IngestsPayload(t *testing.T) {
	t.Parallel()

	ing := &recordingIngester{}
	s := New(Config{}, ing, log.Nop())

	s.handleMessage(context.Background(), &fakeMessage{
		topic:   "vitals/p-1/heart_rate",
		payload: []byte(`{"subject_id":"p-1","vital":"heart_rate","value":72,"observed_at_ms":1700000000000}`),
	})

	require.Len(t, ing.got, 1)
	assert.Equal(t, vitals.Reading{
		SubjectID:  "p-1",
		Kind:       vitals.HeartRate,
		Value:      72,
		ObservedAt: vitals.FromEpochMillis(1700000000000),
	}, ing.got[0])
	assert.Equal(t, []string{"mqtt"}, ing.origins)
}

func TestHandleMessage_DropsBadMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"not json", "vitals/p-1/heart_rate", "{bad"},
		{"no value", "vitals/p-1/heart_rate", `{"subject_id":"p-1","vital":"heart_rate"}`},
		{"unknown vital", "vitals/p-1/glucose", `{"value":5}`},
		{"no vital anywhere", "readings", `{"subject_id":"p-1","value":72}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ing := &recordingIngester{}
			s := New(Config{}, ing, log.Nop())
			s.handleMessage(context.Background(), &fakeMessage{topic: tt.topic, payload: []byte(tt.payload)})
			assert.Empty(t, ing.origins, "ingest should not be called")
		})
	}
}

func TestHandleMessage_IngestErrorIsDropped(t *testing.T) {
	t.Parallel()

	for _, err := range []error{triage.ErrUnknownSubject, errors.New("registry down")} {
		ing := &recordingIngester{err: err}
		s := New(Config{}, ing, log.Nop())

		// Must not panic
		s.handleMessage(context.Background(), &fakeMessage{
			topic:   "vitals/p-1/heart_rate",
			payload: []byte(`{"value":72}`),
		})
		assert.Len(t, ing.origins, 1)
		assert.Empty(t, ing.got)
	}
}

func TestDecodeReading_TopicFillsMissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		topic       string
		payload     string
		wantSubject string
		wantKind    vitals.Kind
	}{
		{"both from topic", "vitals/p-9/oxygen_saturation", `{"value":97}`, "p-9", vitals.OxygenSaturation},
		{"payload wins", "vitals/p-9/oxygen_saturation", `{"subject_id":"p-1","vital":"temperature","value":37}`, "p-1", vitals.Temperature},
		{"prefixed topic", "ward7/vitals/p-2/respiratory_rate", `{"value":16}`, "p-2", vitals.RespiratoryRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rd, err := decodeReading(tt.topic, []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, rd.SubjectID)
			assert.Equal(t, tt.wantKind, rd.Kind)
			assert.True(t, rd.ObservedAt.IsZero(), "missing timestamp stays zero for the engine to stamp")
		})
	}
}

func TestDecodeReading_MissingValue(t *testing.T) {
	t.Parallel()

	_, err := decodeReading("vitals/p-1/heart_rate", []byte(`{"subject_id":"p-1","vital":"heart_rate"}`))
	require.ErrorIs(t, err, vitals.ErrMissingValue)

	r, err := decodeReading("vitals/p-1/heart_rate", []byte(`{"value":0}`))
	require.NoError(t, err, "an explicit zero is a value")
	assert.Zero(t, r.Value)
}

func TestTopicParts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic, subject, vital string
	}{
		{"vitals/p-1/heart_rate", "p-1", "heart_rate"},
		{"a/b/c/d", "c", "d"},
		{"vitals/p-1", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		subject, vital := topicParts(tt.topic)
		if subject != tt.subject || vital != tt.vital {
			t.Errorf("topicParts(%q) = (%q, %q), want (%q, %q)", tt.topic, subject, vital, tt.subject, tt.vital)
		}
	}
}
