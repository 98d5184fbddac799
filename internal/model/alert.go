package model

import "time"

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert types raised by the latency monitor.
const (
	AlertLatencyViolation   = "sse_latency_violation"
	AlertHighAverageLatency = "sse_high_average_latency"
	AlertHighFailureRate    = "sse_high_failure_rate"
	AlertTest               = "test_alert"
)

// Alert is a notification raised by the monitor for the alerting channels.
type Alert struct {
	Type        string    `json:"alert_type"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	EventType   string    `json:"event_type,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	LatencyMS   float64   `json:"latency_ms"`
	ThresholdMS float64   `json:"threshold_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertRecord is an alert as persisted in the alert history.
type AlertRecord struct {
	ID        string    `json:"id"`
	Alert     Alert     `json:"alert"`
	Channels  []string  `json:"channels"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}
