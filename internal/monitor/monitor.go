// Package monitor samples publish-to-delivery latency, keeps delivery
// counters, and raises alerts on latency and failure-rate violations.
package monitor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/realtime/internal/metrics"
	"github.com/alfredjeanlab/realtime/internal/model"
)

// Alerter receives alerts raised by the monitor.
type Alerter interface {
	Fire(a model.Alert) bool
}

// Config tunes a Monitor. Zero fields take the defaults below.
type Config struct {
	LatencyThreshold     time.Duration
	CriticalThreshold    time.Duration
	Cooldown             time.Duration
	SampleRetention      time.Duration
	MaxSamples           int
	Interval             time.Duration
	FailureRateThreshold float64
	FailureRateMinEvents int64
	// AverageLatencyFactor scales LatencyThreshold for the sustained
	// average check.
	AverageLatencyFactor float64
}

func (c *Config) setDefaults() {
	if c.LatencyThreshold <= 0 {
		c.LatencyThreshold = time.Second
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 2 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.SampleRetention <= 0 {
		c.SampleRetention = time.Hour
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = 1000
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.05
	}
	if c.FailureRateMinEvents <= 0 {
		c.FailureRateMinEvents = 100
	}
	if c.AverageLatencyFactor <= 0 {
		c.AverageLatencyFactor = 0.8
	}
}

// Sample is one measured delivery.
type Sample struct {
	At        time.Time
	Latency   time.Duration
	EventType string
	TenantID  string
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg     Config
	alerter Alerter
	metrics *metrics.Manager
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	samples    []Sample // oldest first
	counts     counters
	window     counters // failure-rate accumulation since the last evaluation
	violations int64
	lastAlert  map[string]time.Time

	stop chan struct{}
	done chan struct{}
}

type counters struct {
	published   int64
	delivered   int64
	failed      int64
	established int64
	dropped     int64
	reconnects  int64
	active      int64
}

// New returns a Monitor. alerter and mm may be nil.
func New(cfg Config, alerter Alerter, mm *metrics.Manager, logger *slog.Logger) *Monitor {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		alerter:   alerter,
		metrics:   mm,
		logger:    logger,
		now:       time.Now,
		lastAlert: make(map[string]time.Time),
	}
}

// RecordPublished counts a successful publish.
func (m *Monitor) RecordPublished(eventType string) {
	m.mu.Lock()
	m.counts.published++
	m.window.published++
	m.mu.Unlock()
	m.metrics.EventPublished(eventType)
}

// RecordDelivery measures the latency of one delivered event, keeps it in
// the sample window, and raises a latency alert when it exceeds the
// threshold outside the cooldown. It returns the measured latency.
func (m *Monitor) RecordDelivery(eventType, tenantID string, publishedAt time.Time) time.Duration {
	now := m.now()
	latency := max(now.Sub(publishedAt), 0)

	m.mu.Lock()
	m.counts.delivered++
	m.samples = append(m.samples, Sample{At: now, Latency: latency, EventType: eventType, TenantID: tenantID})
	m.pruneLocked(now)
	var alert *model.Alert
	if latency > m.cfg.LatencyThreshold {
		m.violations++
		if m.allowLocked(model.AlertLatencyViolation, now) {
			alert = m.latencyAlert(eventType, tenantID, latency, now)
		}
	}
	m.mu.Unlock()

	m.metrics.EventDelivered(eventType, latency)
	if alert != nil {
		m.raise(*alert)
	}
	return latency
}

// RecordFailure counts an event that could not be delivered.
func (m *Monitor) RecordFailure(eventType, tenantID, reason string) {
	m.mu.Lock()
	m.counts.failed++
	m.window.failed++
	m.mu.Unlock()
	m.metrics.DeliveryFailed(reason)
	m.logger.Warn("monitor: event delivery failed", "event_type", eventType, "tenant", tenantID, "reason", reason)
}

// RecordDropped counts payloads discarded because a subscriber fell
// behind.
func (m *Monitor) RecordDropped(tenantID string, n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.counts.failed += n
	m.window.failed += n
	m.mu.Unlock()
	for range n {
		m.metrics.DeliveryFailed("overflow")
	}
	m.logger.Warn("monitor: slow consumer dropped events", "tenant", tenantID, "dropped", n)
}

// RecordConnectionOpened counts a newly registered stream.
func (m *Monitor) RecordConnectionOpened(tenantID, userID string, reconnect bool) {
	m.mu.Lock()
	m.counts.established++
	m.counts.active++
	if reconnect {
		m.counts.reconnects++
	}
	active := m.counts.active
	m.mu.Unlock()
	m.metrics.ConnectionOpened(reconnect)
	m.logger.Info("monitor: connection established", "tenant", tenantID, "user", userID, "active_connections", active)
}

// RecordConnectionClosed counts a stream that has been cleaned up.
func (m *Monitor) RecordConnectionClosed(tenantID, userID, reason string) {
	m.mu.Lock()
	m.counts.dropped++
	m.counts.active = max(m.counts.active-1, 0)
	active := m.counts.active
	m.mu.Unlock()
	m.metrics.ConnectionClosed()
	m.logger.Info("monitor: connection closed", "tenant", tenantID, "user", userID, "reason", reason, "active_connections", active)
}

// RecordReplay notes the events replayed to a reconnecting client.
func (m *Monitor) RecordReplay(tenantID, userID string, replayed int, truncated bool) {
	m.metrics.EventsReplayed(replayed, truncated)
	m.logger.Info("monitor: reconnection handled", "tenant", tenantID, "user", userID, "missed_events", replayed, "truncated", truncated)
}

// allowLocked applies the per-key cooldown and stamps the key when it
// lets an alert through.
func (m *Monitor) allowLocked(key string, now time.Time) bool {
	if last, ok := m.lastAlert[key]; ok && now.Sub(last) < m.cfg.Cooldown {
		return false
	}
	m.lastAlert[key] = now
	return true
}

func (m *Monitor) latencyAlert(eventType, tenantID string, latency time.Duration, now time.Time) *model.Alert {
	severity := model.SeverityWarning
	if latency >= m.cfg.CriticalThreshold {
		severity = model.SeverityCritical
	}
	ms := durationMS(latency)
	threshold := durationMS(m.cfg.LatencyThreshold)
	return &model.Alert{
		Type:        model.AlertLatencyViolation,
		Severity:    severity,
		Message:     fmt.Sprintf("SSE latency violation: %.2fms > %.0fms", ms, threshold),
		EventType:   eventType,
		TenantID:    tenantID,
		LatencyMS:   ms,
		ThresholdMS: threshold,
		Timestamp:   now,
	}
}

func (m *Monitor) raise(a model.Alert) {
	m.logger.Warn("monitor: "+a.Message, "alert_type", a.Type, "severity", a.Severity,
		"event_type", a.EventType, "tenant", a.TenantID)
	if m.alerter != nil {
		m.alerter.Fire(a)
	}
}

// pruneLocked evicts samples older than the retention horizon and keeps
// at most MaxSamples.
func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.SampleRetention)
	drop := 0
	for drop < len(m.samples) && m.samples[drop].At.Before(cutoff) {
		drop++
	}
	if over := len(m.samples) - drop - m.cfg.MaxSamples; over > 0 {
		drop += over
	}
	if drop > 0 {
		m.samples = append(m.samples[:0], m.samples[drop:]...)
	}
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Stats is a point-in-time view of the monitor.
type Stats struct {
	EventsPublished    int64   `json:"events_published_total"`
	EventsDelivered    int64   `json:"events_delivered_total"`
	EventsFailed       int64   `json:"events_failed_total"`
	ConnectionsOpened  int64   `json:"connections_established_total"`
	ConnectionsDropped int64   `json:"connections_dropped_total"`
	Reconnections      int64   `json:"reconnections_total"`
	ActiveConnections  int64   `json:"active_connections"`
	Samples            int     `json:"samples"`
	AverageLatencyMS   float64 `json:"average_latency_ms"`
	P95LatencyMS       float64 `json:"p95_latency_ms"`
	P99LatencyMS       float64 `json:"p99_latency_ms"`
	LatencyViolations  int64   `json:"latency_violations"`
	LatencyThresholdMS float64 `json:"latency_threshold_ms"`
	MonitoringActive   bool    `json:"monitoring_active"`
}

// Stats computes percentiles from the current sample window.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	m.pruneLocked(m.now())
	latencies := make([]float64, len(m.samples))
	for i, s := range m.samples {
		latencies[i] = durationMS(s.Latency)
	}
	st := Stats{
		EventsPublished:    m.counts.published,
		EventsDelivered:    m.counts.delivered,
		EventsFailed:       m.counts.failed,
		ConnectionsOpened:  m.counts.established,
		ConnectionsDropped: m.counts.dropped,
		Reconnections:      m.counts.reconnects,
		ActiveConnections:  m.counts.active,
		LatencyViolations:  m.violations,
		LatencyThresholdMS: durationMS(m.cfg.LatencyThreshold),
		MonitoringActive:   m.stop != nil,
	}
	m.mu.Unlock()

	st.Samples = len(latencies)
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		st.AverageLatencyMS = sum / float64(len(latencies))
		st.P95LatencyMS = percentile(latencies, 0.95)
		st.P99LatencyMS = percentile(latencies, 0.99)
	}
	return st
}

// percentile picks the nearest-rank value from sorted.
func percentile(sorted []float64, q float64) float64 {
	i := int(float64(len(sorted)) * q)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}
