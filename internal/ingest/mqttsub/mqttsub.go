// Package mqttsub feeds readings published over MQTT into triage.
//
// Payloads are reading records. Topics follow vitals/<subject>/<vital>; the
// topic fills subject_id or vital when the payload omits them.
package mqttsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/vitalwatch/internal/postgres"
	"github.com/linnemanlabs/vitalwatch/internal/triage"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

const (
	// DefaultTopic matches vitals/<subject>/<vital>.
	DefaultTopic = "vitals/+/+"
	// DefaultClientID is the MQTT client ID used when none is configured.
	DefaultClientID = "vitalwatch"

	handleTimeout     = 5 * time.Second
	disconnectQuiesce = 250 // ms
)

// Ingester accepts one reading for triage.
type Ingester interface {
	Ingest(ctx context.Context, r vitals.Reading) (*triage.Outcome, error)
}

// Config describes the broker connection.
type Config struct {
	Broker   string // tcp://host:1883
	Topic    string
	ClientID string
	QoS      byte
}

// Subscriber owns one MQTT client subscribed to the reading topic.
type Subscriber struct {
	cfg    Config
	ing    Ingester
	logger log.Logger
	client mqtt.Client
}

// New creates a subscriber. Nothing connects until Start.
func New(cfg Config, ing Ingester, logger log.Logger) *Subscriber {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	return &Subscriber{cfg: cfg, ing: ing, logger: logger}
}

// Start connects to the broker and subscribes. Messages are handled until
// Stop; ctx is the parent of every per-message context.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn(ctx, "mqtt connection lost", "broker", s.cfg.Broker, "err", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.logger.Info(ctx, "mqtt connected", "broker", s.cfg.Broker)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", s.cfg.Broker, token.Error())
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(ctx, msg)
	}
	if token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, handler); token.Wait() && token.Error() != nil {
		client.Disconnect(disconnectQuiesce)
		return fmt.Errorf("subscribe to topic %s: %w", s.cfg.Topic, token.Error())
	}

	s.client = client
	s.logger.Info(ctx, "mqtt subscribed", "topic", s.cfg.Topic, "qos", s.cfg.QoS)
	return nil
}

// Stop unsubscribes and disconnects. Safe to call when Start failed.
func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	if token := s.client.Unsubscribe(s.cfg.Topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		s.logger.Warn(context.Background(), "mqtt unsubscribe failed", "topic", s.cfg.Topic, "err", token.Error())
	}
	s.client.Disconnect(disconnectQuiesce)
	s.client = nil
}

// handleMessage decodes and ingests one message. Failures are logged and the
// message is dropped.
func (s *Subscriber) handleMessage(parent context.Context, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(postgres.WithOrigin(parent, "mqtt"), handleTimeout)
	defer cancel()

	rd, err := decodeReading(msg.Topic(), msg.Payload())
	if err != nil {
		s.logger.Warn(ctx, "dropping undecodable mqtt message", "topic", msg.Topic(), "err", err)
		return
	}

	out, err := s.ing.Ingest(ctx, rd)
	switch {
	case err == nil:
	case errors.Is(err, triage.ErrUnknownSubject), errors.Is(err, triage.ErrInvalidReading):
		s.logger.Warn(ctx, "dropping mqtt reading", "topic", msg.Topic(), "subject_id", rd.SubjectID, "err", err)
		return
	default:
		s.logger.Error(ctx, err, "mqtt reading ingest failed", "topic", msg.Topic(), "subject_id", rd.SubjectID)
		return
	}

	if out.Priority != vitals.Low {
		s.logger.Info(ctx, "mqtt reading triaged",
			"subject_id", rd.SubjectID,
			"vital", rd.Kind.String(),
			"priority", out.Priority.String(),
			"enqueued", out.Enqueued,
		)
	}
}

// decodeReading parses a payload, filling subject and vital from a
// vitals/<subject>/<vital> topic when absent.
func decodeReading(topic string, payload []byte) (vitals.Reading, error) {
	var raw struct {
		SubjectID    string   `json:"subject_id"`
		Vital        string   `json:"vital"`
		Value        *float64 `json:"value"`
		ObservedAtMs int64    `json:"observed_at_ms"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return vitals.Reading{}, fmt.Errorf("decode payload: %w", err)
	}
	if raw.Value == nil {
		return vitals.Reading{}, vitals.ErrMissingValue
	}

	subject, vital := topicParts(topic)
	if raw.SubjectID == "" {
		raw.SubjectID = subject
	}
	if raw.Vital == "" {
		raw.Vital = vital
	}
	kind, err := vitals.ParseKind(raw.Vital)
	if err != nil {
		return vitals.Reading{}, err
	}

	return vitals.Reading{
		SubjectID:  raw.SubjectID,
		Kind:       kind,
		Value:      *raw.Value,
		ObservedAt: vitals.FromEpochMillis(raw.ObservedAtMs),
	}, nil
}

// topicParts extracts subject and vital from the last two topic levels.
func topicParts(topic string) (subject, vital string) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "", ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
