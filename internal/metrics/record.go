package metrics

import (
	"strconv"
	"time"
)

func (m *Manager) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// PublishFailed records a failed publish at the given stage
// ("marshal", "store", "broadcast").
func (m *Manager) PublishFailed(stage string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(stage).Inc()
}

func (m *Manager) EventDelivered(eventType string, latency time.Duration) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(eventType).Inc()
	m.deliveryLatency.WithLabelValues(eventType).Observe(float64(latency.Microseconds()) / 1000)
}

func (m *Manager) DeliveryFailed(reason string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(reason).Inc()
}

func (m *Manager) ConnectionOpened(reconnect bool) {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
	m.connectionsActive.Inc()
	if reconnect {
		m.reconnections.Inc()
	}
}

func (m *Manager) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Manager) ConnectionReaped() {
	if m == nil {
		return
	}
	m.connectionsReaped.Inc()
}

func (m *Manager) EventsReplayed(n int, truncated bool) {
	if m == nil {
		return
	}
	m.eventsReplayed.Add(float64(n))
	if truncated {
		m.replayTruncated.Inc()
	}
}

func (m *Manager) AlertFired(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(alertType, severity).Inc()
}

func (m *Manager) SetSequenceDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.sequenceDegraded.Set(1)
	} else {
		m.sequenceDegraded.Set(0)
	}
}

func (m *Manager) HTTPRequest(endpoint, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(endpoint, method, code).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, code).Observe(float64(d.Microseconds()) / 1000)
}
