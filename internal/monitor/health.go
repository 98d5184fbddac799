package monitor

import (
	"fmt"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// Start launches the periodic health check.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	m.stop, m.done = stop, done
	m.mu.Unlock()

	go m.loop(stop, done)
	m.logger.Info("monitor: health check started", "interval", m.cfg.Interval)
}

// Stop halts the health check and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.safeCheck()
		}
	}
}

func (m *Monitor) safeCheck() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor: panic in health check", "panic", r)
		}
	}()
	m.CheckHealth()
}

// CheckHealth evaluates the sustained average latency and the failure
// ratio. The failure ratio is computed over the events published since
// the last evaluation, once at least FailureRateMinEvents have been
// published.
func (m *Monitor) CheckHealth() {
	st := m.Stats()
	now := m.now()

	var raise []model.Alert

	m.mu.Lock()
	if m.window.published >= m.cfg.FailureRateMinEvents {
		rate := float64(m.window.failed) / float64(m.window.published)
		if rate > m.cfg.FailureRateThreshold && m.allowLocked(model.AlertHighFailureRate, now) {
			raise = append(raise, model.Alert{
				Type:     model.AlertHighFailureRate,
				Severity: model.SeverityCritical,
				Message: fmt.Sprintf("High SSE failure rate: %.2f%% of %d events (threshold %.2f%%)",
					rate*100, m.window.published, m.cfg.FailureRateThreshold*100),
				Timestamp: now,
			})
		}
		m.window = counters{}
	}

	limit := durationMS(m.cfg.LatencyThreshold) * m.cfg.AverageLatencyFactor
	if st.Samples > 0 && st.AverageLatencyMS > limit && m.allowLocked(model.AlertHighAverageLatency, now) {
		raise = append(raise, model.Alert{
			Type:        model.AlertHighAverageLatency,
			Severity:    model.SeverityWarning,
			Message:     fmt.Sprintf("High average SSE latency: %.2fms > %.0fms", st.AverageLatencyMS, limit),
			LatencyMS:   st.AverageLatencyMS,
			ThresholdMS: limit,
			Timestamp:   now,
		})
	}
	m.mu.Unlock()

	for _, a := range raise {
		m.raise(a)
	}
}
