package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const (
	testTenant = "6f1c2a3e-8d2b-4b7a-9f0e-0c1d2e3f4a5b"
	testUser   = "11111111-2222-4333-8444-555555555555"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	query       string
	body        string
	contentType string
	header      http.Header

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.header = r.Header.Clone()
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	c := NewHTTPClient(srv.URL+"/", "tok", Identity{TenantID: testTenant, UserID: testUser})
	return c, srv
}

func TestHTTPClient_Publish(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusAccepted,
		responseBody: `{"success":true,"event_type":"system_alert","tenant_id":"` + testTenant + `","application_id":""}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	resp, err := c.Publish(context.Background(), &PublishRequest{
		EventType: "system_alert",
		Data:      map[string]any{"message": "maintenance"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !resp.Success || resp.TenantID != testTenant {
		t.Fatalf("unexpected response %+v", resp)
	}
	if h.method != http.MethodPost || h.path != "/v1/events" {
		t.Fatalf("request = %s %s", h.method, h.path)
	}
	if h.contentType != "application/json" {
		t.Fatalf("content type = %q", h.contentType)
	}
	if !strings.Contains(h.body, `"event_type":"system_alert"`) || strings.Contains(h.body, "application_id") {
		t.Fatalf("body = %s", h.body)
	}
	if h.header.Get("Authorization") != "Bearer tok" {
		t.Fatalf("Authorization = %q", h.header.Get("Authorization"))
	}
	if h.header.Get("X-Tenant-ID") != testTenant || h.header.Get("X-User-ID") != testUser {
		t.Fatalf("identity headers = %q / %q", h.header.Get("X-Tenant-ID"), h.header.Get("X-User-ID"))
	}
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"degraded","components":{"bus":"ok","kv":"timeout"},"sequence_degraded":true}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	report, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if report.Status != "degraded" || report.Components["kv"] != "timeout" || !report.SequenceDegraded {
		t.Fatalf("unexpected report %+v", report)
	}
	if h.path != "/v1/health" {
		t.Fatalf("path = %q", h.path)
	}
}

func TestHTTPClient_Connections(t *testing.T) {
	h := &testHandler{responseBody: `{"connections":[{"connection_id":"c1","tenant_id":"` + testTenant + `","user_id":"u","active":true}],"count":1}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	conns, err := c.Connections(context.Background())
	if err != nil {
		t.Fatalf("Connections: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "c1" || !conns[0].Active {
		t.Fatalf("unexpected connections %+v", conns)
	}
}

func TestHTTPClient_Metrics(t *testing.T) {
	h := &testHandler{responseBody: `{"success":true,"metrics":{"events_published_total":7},"tenant_id":"x"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	m, err := c.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m["events_published_total"] != float64(7) {
		t.Fatalf("metrics = %v", m)
	}
}

func TestHTTPClient_Alerts(t *testing.T) {
	h := &testHandler{responseBody: `{"alerts":[{"id":"a1","alert":{"alert_type":"sse_latency_violation","severity":"warning"},"created_at":"2026-03-01T12:00:00Z"}],"count":1}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recs, err := c.Alerts(context.Background(), since, 10)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(recs) != 1 || recs[0].Alert.Type != "sse_latency_violation" {
		t.Fatalf("unexpected alerts %+v", recs)
	}
	if h.query != "limit=10&since=2026-03-01T00%3A00%3A00Z" {
		t.Fatalf("query = %q", h.query)
	}
}

func TestHTTPClient_SetRuleEnabled(t *testing.T) {
	tests := []struct {
		enabled bool
		want    string
	}{
		{true, "/v1/alerts/rules/sse_high_failure_rate/enable"},
		{false, "/v1/alerts/rules/sse_high_failure_rate/disable"},
	}
	for _, tt := range tests {
		h := &testHandler{responseBody: `{}`}
		c, srv := newTestClient(h)
		if err := c.SetRuleEnabled(context.Background(), "sse_high_failure_rate", tt.enabled); err != nil {
			t.Fatalf("SetRuleEnabled(%v): %v", tt.enabled, err)
		}
		if h.method != http.MethodPost || h.path != tt.want {
			t.Fatalf("request = %s %s, want POST %s", h.method, h.path, tt.want)
		}
		srv.Close()
	}
}

func TestHTTPClient_TestChannelError(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusBadGateway,
		responseBody: `{"success":false,"channel":"slack","error":"slack webhook_url is not configured"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	err := c.TestChannel(context.Background(), "slack")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "slack webhook_url is not configured" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestHTTPClient_PlainTextError(t *testing.T) {
	h := &testHandler{statusCode: http.StatusUnauthorized, responseBody: "unauthorized\n"}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "unauthorized" {
		t.Fatalf("err = %v, want 401 unauthorized", err)
	}
}
