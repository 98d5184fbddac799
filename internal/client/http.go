package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// PublishRequest holds parameters for publishing an event.
type PublishRequest struct {
	EventType     string         `json:"event_type"`
	Data          map[string]any `json:"data"`
	ApplicationID string         `json:"application_id,omitempty"`
}

// PublishResponse is the response from Publish.
type PublishResponse struct {
	Success       bool   `json:"success"`
	EventType     string `json:"event_type"`
	TenantID      string `json:"tenant_id"`
	ApplicationID string `json:"application_id"`
}

// HealthReport is the response from Health.
type HealthReport struct {
	Status            string            `json:"status"`
	Components        map[string]string `json:"components"`
	ActiveConnections int               `json:"active_connections"`
	EventsPublished   int64             `json:"events_published"`
	EventsDelivered   int64             `json:"events_delivered"`
	AverageLatencyMS  float64           `json:"average_latency_ms"`
	SequenceDegraded  bool              `json:"sequence_degraded"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Rule is an alert rule as reported by the server.
type Rule struct {
	Name      string        `json:"name"`
	Channels  []string      `json:"channels"`
	Cooldown  time.Duration `json:"cooldown"`
	Enabled   bool          `json:"enabled"`
	LastFired time.Time     `json:"last_fired"`
}

func (c *HTTPClient) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	var resp PublishResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Metrics returns the hub and monitor counters. The keys are those of the
// server's metrics snapshot.
func (c *HTTPClient) Metrics(ctx context.Context) (map[string]any, error) {
	var resp struct {
		Metrics map[string]any `json:"metrics"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events/metrics", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

func (c *HTTPClient) Connections(ctx context.Context) ([]model.Connection, error) {
	var resp struct {
		Connections []model.Connection `json:"connections"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events/connections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*HealthReport, error) {
	var resp HealthReport
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Alerts lists alert history since the given time. A zero since uses the
// server default; a limit <= 0 uses the server default.
func (c *HTTPClient) Alerts(ctx context.Context, since time.Time, limit int) ([]*model.AlertRecord, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/alerts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Alerts []*model.AlertRecord `json:"alerts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

func (c *HTTPClient) Rules(ctx context.Context) ([]Rule, error) {
	var resp struct {
		Rules []Rule `json:"rules"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/alerts/rules", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rules, nil
}

// SetRuleEnabled enables or disables the named alert rule.
func (c *HTTPClient) SetRuleEnabled(ctx context.Context, name string, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/alerts/rules/"+url.PathEscape(name)+"/"+action, nil, nil)
}

// TestChannel asks the server to send a test alert over channel.
func (c *HTTPClient) TestChannel(ctx context.Context, channel string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/alerts/channels/"+url.PathEscape(channel)+"/test", nil, nil)
}
