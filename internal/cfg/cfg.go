package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SubjectsFile          string
	DispatchIntervalMs    int
	MQTTBroker            string
	MQTTTopic             string
	MQTTClientID          string
	MQTTQoS               int
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the subject registry (empty = in-memory store)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for a shared subject registry (host:port)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database number (0..15)")
	fs.StringVar(&c.SubjectsFile, "subjects-file", "", "YAML file of subject profiles loaded at startup")
	fs.IntVar(&c.DispatchIntervalMs, "dispatch-interval-ms", 500, "milliseconds between queue dispatch passes (0 = pull only)")
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", "", "MQTT broker URL for reading ingestion, e.g. tcp://localhost:1883 (empty = disabled)")
	fs.StringVar(&c.MQTTTopic, "mqtt-topic", "vitals/+/+", "MQTT topic filter for readings")
	fs.StringVar(&c.MQTTClientID, "mqtt-client-id", "vitalwatch", "MQTT client ID")
	fs.IntVar(&c.MQTTQoS, "mqtt-qos", 1, "MQTT subscription QoS (0..2)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for alert dispatch notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// One registry backend at most
	if c.DatabaseURL != "" && c.RedisAddr != "" {
		errs = append(errs, errors.New("DATABASE_URL and REDIS_ADDR are mutually exclusive"))
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be 0..15)", c.RedisDB))
	}

	if c.DispatchIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_INTERVAL_MS %d (must be >= 0)", c.DispatchIntervalMs))
	}

	// MQTT settings only matter when a broker is configured
	if c.MQTTBroker != "" {
		if !strings.Contains(c.MQTTBroker, "://") {
			errs = append(errs, fmt.Errorf("invalid MQTT_BROKER %q (want scheme://host:port)", c.MQTTBroker))
		}
		if c.MQTTTopic == "" {
			errs = append(errs, errors.New("MQTT_TOPIC is required when MQTT_BROKER is set"))
		}
		if c.MQTTClientID == "" {
			errs = append(errs, errors.New("MQTT_CLIENT_ID is required when MQTT_BROKER is set"))
		}
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		errs = append(errs, fmt.Errorf("invalid MQTT_QOS %d (must be 0..2)", c.MQTTQoS))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
