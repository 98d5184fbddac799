// Package config loads the realtime service configuration.
//
// Values are layered from defaults, an optional YAML file named by
// REALTIME_CONFIG, and REALTIME_* environment variables, in that order.
// Keys are flat and match the koanf tags below, so REALTIME_ALERT_COOLDOWN
// and `alert_cooldown:` in YAML set the same field. Empty environment
// variables leave the lower layers untouched.
package config

import (
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string `koanf:"http_addr"`    // default ":8080"
	GRPCAddr    string `koanf:"grpc_addr"`    // default ":9090"
	AuthToken   string `koanf:"auth_token"`   // empty = auth disabled
	CORSOrigins string `koanf:"cors_origins"` // comma separated, default "*"
	LogLevel    string `koanf:"log_level"`    // debug|info|warn|error
	LogFormat   string `koanf:"log_format"`   // text|json
	MetricsPath string `koanf:"metrics_path"` // default "/metrics"
	DatabaseURL string `koanf:"database_url"` // empty = alert history disabled

	// AlertHistoryRetention bounds stored alert history; 0 keeps everything.
	AlertHistoryRetention time.Duration `koanf:"alert_history_retention"` // default 720h

	// Store
	NATSURL            string        `koanf:"nats_url"`       // empty = in-process store
	EmbeddedNATS       bool          `koanf:"embedded_nats"`  // run a JetStream server in-process
	NATSStoreDir       string        `koanf:"nats_store_dir"` // default "./data/nats"
	StoreTimeout       time.Duration `koanf:"store_timeout"`  // default 3s
	SubscriptionBuffer int           `koanf:"subscription_buffer"`

	// Delivery
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"` // default 30s
	EventRetention    time.Duration `koanf:"event_retention"`    // default 1h
	MaxMissedEvents   int           `koanf:"max_missed_events"`  // default 100

	// Monitoring
	LatencyThreshold         time.Duration `koanf:"latency_threshold"`          // default 1s
	LatencyCriticalThreshold time.Duration `koanf:"latency_critical_threshold"` // default 2s
	AlertCooldown            time.Duration `koanf:"alert_cooldown"`             // default 5m
	SampleRetention          time.Duration `koanf:"sample_retention"`           // default 1h
	MaxSamples               int           `koanf:"max_samples"`                // default 1000
	MonitorInterval          time.Duration `koanf:"monitor_interval"`           // default 10s
	FailureRateThreshold     float64       `koanf:"failure_rate_threshold"`     // default 0.05
	FailureRateMinEvents     int64         `koanf:"failure_rate_min_events"`    // default 100

	// Alert channels; each is enabled when its target is configured.
	AlertEmailHost       string `koanf:"alert_email_host"`
	AlertEmailPort       int    `koanf:"alert_email_port"`
	AlertEmailFrom       string `koanf:"alert_email_from"`
	AlertEmailUsername   string `koanf:"alert_email_username"`
	AlertEmailPassword   string `koanf:"alert_email_password"`
	AlertEmailRecipients string `koanf:"alert_email_recipients"` // comma separated
	AlertSlackWebhookURL string `koanf:"alert_slack_webhook_url"`
	AlertSlackChannel    string `koanf:"alert_slack_channel"`
	AlertWebhookURL      string `koanf:"alert_webhook_url"`

	// Alert history export
	ExportS3Bucket   string        `koanf:"export_s3_bucket"` // enables export when set
	ExportS3Key      string        `koanf:"export_s3_key"`    // default "realtime/alerts.jsonl"
	ExportS3Region   string        `koanf:"export_s3_region"` // default "us-east-1"
	ExportS3Endpoint string        `koanf:"export_s3_endpoint"`
	ExportInterval   time.Duration `koanf:"export_interval"` // default 15m; 0 = disabled
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":9090",
		CORSOrigins: "*",
		LogLevel:    "info",
		LogFormat:   "text",
		MetricsPath: "/metrics",

		AlertHistoryRetention: 30 * 24 * time.Hour,

		NATSStoreDir:       "./data/nats",
		StoreTimeout:       3 * time.Second,
		SubscriptionBuffer: 256,

		HeartbeatInterval: 30 * time.Second,
		EventRetention:    time.Hour,
		MaxMissedEvents:   100,

		LatencyThreshold:         time.Second,
		LatencyCriticalThreshold: 2 * time.Second,
		AlertCooldown:            5 * time.Minute,
		SampleRetention:          time.Hour,
		MaxSamples:               1000,
		MonitorInterval:          10 * time.Second,
		FailureRateThreshold:     0.05,
		FailureRateMinEvents:     100,

		AlertEmailPort: 587,

		ExportS3Key:    "realtime/alerts.jsonl",
		ExportS3Region: "us-east-1",
		ExportInterval: 15 * time.Minute,
	}
}

// EmailRecipients splits AlertEmailRecipients.
func (c *Config) EmailRecipients() []string {
	return splitList(c.AlertEmailRecipients)
}

// AllowedOrigins splits CORSOrigins.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
