package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseEventParsed represents a single parsed SSE frame from the stream.
type sseEventParsed struct {
	ID    string
	Event string
	Data  string
}

// sseReader reads SSE frames from an HTTP response body using a bufio.Scanner.
// It sends parsed frames to the returned channel and stops when the context is cancelled
// or the body is closed.
func sseReader(ctx context.Context, resp *http.Response) <-chan sseEventParsed {
	ch := make(chan sseEventParsed, 32)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		var current sseEventParsed
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id: "):
				current.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				current.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.Data = strings.TrimPrefix(line, "data: ")
			case line == "":
				// Empty line marks end of SSE frame.
				if current.Event != "" || current.Data != "" {
					ch <- current
					current = sseEventParsed{}
				}
			}
		}
	}()
	return ch
}

// waitForEvent reads from the SSE channel until a frame with the given
// event name is received, or the timeout expires.
func waitForEvent(t *testing.T, ch <-chan sseEventParsed, eventType string, timeout time.Duration) sseEventParsed {
	t.Helper()
	timer := time.After(timeout)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("SSE channel closed before receiving event %q", eventType)
			}
			if evt.Event == eventType {
				return evt
			}
			// Keep reading; heartbeats and other events may come first.
		case <-timer:
			t.Fatalf("timed out waiting for SSE event %q", eventType)
		}
	}
}

// nextFrame returns the next frame of any kind.
func nextFrame(t *testing.T, ch <-chan sseEventParsed, timeout time.Duration) sseEventParsed {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("SSE channel closed")
		}
		return evt
	case <-time.After(timeout):
		t.Fatal("timed out waiting for an SSE frame")
		return sseEventParsed{}
	}
}

// startSSEClient opens an SSE connection to the test server as tenant and
// returns a channel of parsed frames plus a cleanup function. The connected
// frame has already been consumed when it returns.
func startSSEClient(t *testing.T, serverURL, tenant, lastEventID string) (<-chan sseEventParsed, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, "GET", serverURL+"/v1/events/stream", nil)
	if err != nil {
		cancel()
		t.Fatalf("failed to create SSE request: %v", err)
	}
	req.Header.Set(headerTenantID, tenant)
	req.Header.Set(headerUserID, testUser)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("failed to connect to SSE stream: %v", err)
	}

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		resp.Body.Close()
		cancel()
		t.Fatalf("expected Content-Type=text/event-stream, got %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		resp.Body.Close()
		cancel()
		t.Fatalf("expected Cache-Control=no-cache, got %q", resp.Header.Get("Cache-Control"))
	}

	ch := sseReader(ctx, resp)

	cleanup := func() {
		cancel()
		resp.Body.Close()
	}

	first := nextFrame(t, ch, 2*time.Second)
	var connected struct {
		Type         string `json:"type"`
		ConnectionID string `json:"connection_id"`
	}
	if err := json.Unmarshal([]byte(first.Data), &connected); err != nil || connected.Type != "connected" || connected.ConnectionID == "" {
		cleanup()
		t.Fatalf("expected connected frame first, got %+v", first)
	}

	return ch, cleanup
}

// startIntegrationServer creates a test server with a real TCP listener for
// integration tests.
func startIntegrationServer(t *testing.T, opts ...testOption) (string, *testEnv, func()) {
	t.Helper()
	env := newTestServer(t, opts...)
	ts := httptest.NewServer(env.handler)
	return ts.URL, env, ts.Close
}

// doHTTPJSON performs an HTTP request as tenant with an optional JSON body
// against a real server URL.
func doHTTPJSON(t *testing.T, method, url, tenant string, body any) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		b, _ := json.Marshal(body)
		req, err = http.NewRequest(method, url, strings.NewReader(string(b)))
		if err != nil {
			t.Fatalf("failed to create request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, url, nil)
		if err != nil {
			t.Fatalf("failed to create request: %v", err)
		}
	}
	req.Header.Set(headerTenantID, tenant)
	req.Header.Set(headerUserID, testUser)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP request failed: %v", err)
	}
	return resp
}

// requireHTTPStatus asserts the response has the expected status code.
func requireHTTPStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		t.Fatalf("expected status %d, got %d", code, resp.StatusCode)
	}
}

// decodeHTTPJSON decodes the response body JSON into v.
func decodeHTTPJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// publishHTTP posts one event and asserts it was accepted.
func publishHTTP(t *testing.T, serverURL, tenant string, body map[string]any) {
	t.Helper()
	resp := doHTTPJSON(t, "POST", serverURL+"/v1/events", tenant, body)
	requireHTTPStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()
}

type sseEventData struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data"`
	Timestamp     int64          `json:"timestamp"`
	Sequence      int64          `json:"sequence"`
	ApplicationID *string        `json:"application_id"`
}

func parseEventData(t *testing.T, evt sseEventParsed) sseEventData {
	t.Helper()
	var d sseEventData
	if err := json.Unmarshal([]byte(evt.Data), &d); err != nil {
		t.Fatalf("failed to parse SSE data %q: %v", evt.Data, err)
	}
	return d
}

// --- Integration Tests ---

func TestSSEIntegration_PublishDeliversEvent(t *testing.T) {
	serverURL, _, cleanup := startIntegrationServer(t)
	defer cleanup()

	sseEvents, sseCancel := startSSEClient(t, serverURL, testTenant, "")
	defer sseCancel()

	publishHTTP(t, serverURL, testTenant, map[string]any{
		"event_type":     "application_status_changed",
		"application_id": "app-42",
		"data":           map[string]any{"old_status": "new", "new_status": "screening"},
	})

	evt := waitForEvent(t, sseEvents, "application_status_changed", 2*time.Second)
	if !strings.HasPrefix(evt.ID, testTenant+"_") {
		t.Fatalf("event ID %q should carry the tenant prefix", evt.ID)
	}
	d := parseEventData(t, evt)
	if d.Type != "application_status_changed" || d.Sequence != 1 {
		t.Fatalf("unexpected event data %+v", d)
	}
	if d.ApplicationID == nil || *d.ApplicationID != "app-42" {
		t.Fatalf("application_id = %v, want app-42", d.ApplicationID)
	}
	if d.Data["new_status"] != "screening" {
		t.Fatalf("payload = %v", d.Data)
	}
}

func TestSSEIntegration_SequencePerScope(t *testing.T) {
	serverURL, _, cleanup := startIntegrationServer(t)
	defer cleanup()

	sseEvents, sseCancel := startSSEClient(t, serverURL, testTenant, "")
	defer sseCancel()

	for range 3 {
		publishHTTP(t, serverURL, testTenant, map[string]any{"event_type": "candidate_updated", "application_id": "app-1", "data": map[string]any{}})
	}
	publishHTTP(t, serverURL, testTenant, map[string]any{"event_type": "system_alert", "data": map[string]any{}})

	var appSeqs []int64
	for range 3 {
		appSeqs = append(appSeqs, parseEventData(t, waitForEvent(t, sseEvents, "candidate_updated", 2*time.Second)).Sequence)
	}
	if appSeqs[0] != 1 || appSeqs[1] != 2 || appSeqs[2] != 3 {
		t.Fatalf("application sequences = %v, want [1 2 3]", appSeqs)
	}
	global := parseEventData(t, waitForEvent(t, sseEvents, "system_alert", 2*time.Second))
	if global.Sequence != 1 || global.ApplicationID != nil {
		t.Fatalf("global event = %+v, want sequence 1 and null application_id", global)
	}
}

func TestSSEIntegration_TenantIsolation(t *testing.T) {
	serverURL, _, cleanup := startIntegrationServer(t)
	defer cleanup()

	mine, cancelMine := startSSEClient(t, serverURL, testTenant, "")
	defer cancelMine()
	theirs, cancelTheirs := startSSEClient(t, serverURL, testOtherTenant, "")
	defer cancelTheirs()

	publishHTTP(t, serverURL, testOtherTenant, map[string]any{"event_type": "candidate_created", "data": map[string]any{"name": "other"}})
	publishHTTP(t, serverURL, testTenant, map[string]any{"event_type": "candidate_created", "data": map[string]any{"name": "mine"}})

	got := parseEventData(t, waitForEvent(t, mine, "candidate_created", 2*time.Second))
	if got.Data["name"] != "mine" {
		t.Fatalf("tenant received %v, want only its own event", got.Data)
	}
	other := parseEventData(t, waitForEvent(t, theirs, "candidate_created", 2*time.Second))
	if other.Data["name"] != "other" {
		t.Fatalf("other tenant received %v", other.Data)
	}
}

func TestSSEIntegration_MultipleClientsReceiveSameEvents(t *testing.T) {
	serverURL, _, cleanup := startIntegrationServer(t)
	defer cleanup()

	clients := make([]<-chan sseEventParsed, 3)
	for i := range clients {
		ch, cancel := startSSEClient(t, serverURL, testTenant, "")
		defer cancel()
		clients[i] = ch
	}

	publishHTTP(t, serverURL, testTenant, map[string]any{"event_type": "resume_processed", "data": map[string]any{"status": "completed"}})

	var ids []string
	for i, ch := range clients {
		evt := waitForEvent(t, ch, "resume_processed", 2*time.Second)
		ids = append(ids, evt.ID)
		if i > 0 && ids[i] != ids[0] {
			t.Fatalf("client %d saw ID %q, client 0 saw %q", i, ids[i], ids[0])
		}
	}
}

func TestSSEIntegration_ReconnectReplaysMissedEvents(t *testing.T) {
	serverURL, _, cleanup := startIntegrationServer(t)
	defer cleanup()

	first, cancelFirst := startSSEClient(t, serverURL, testTenant, "")
	publishHTTP(t, serverURL, testTenant, map[string]any{"event_type": "candidate_created", "data": map[string]any{"n": 1}})
	seen := waitForEvent(t, first, "candidate_created", 2*time.Second)
	cancelFirst()

	// Published while the client was away.
	publishHTTP(t, serverURL, testTenant, map[string]any{"event_type": "candidate_created", "data": map[string]any{"n": 2}})
	publishHTTP(t, serverURL, testTenant, map[string]any{"event_type": "candidate_created", "data": map[string]any{"n": 3}})

	second, cancelSecond := startSSEClient(t, serverURL, testTenant, seen.ID)
	defer cancelSecond()

	for _, want := range []float64{2, 3} {
		d := parseEventData(t, waitForEvent(t, second, "candidate_created", 2*time.Second))
		if d.Data["n"] != want {
			t.Fatalf("replayed n = %v, want %v", d.Data["n"], want)
		}
	}

	publishHTTP(t, serverURL, testTenant, map[string]any{"event_type": "candidate_created", "data": map[string]any{"n": 4}})
	d := parseEventData(t, waitForEvent(t, second, "candidate_created", 2*time.Second))
	if d.Data["n"] != float64(4) {
		t.Fatalf("live n = %v, want 4", d.Data["n"])
	}
}

func TestSSEIntegration_ConnectionsRoster(t *testing.T) {
	serverURL, env, cleanup := startIntegrationServer(t)
	defer cleanup()

	_, cancel := startSSEClient(t, serverURL, testTenant, "")
	defer cancel()
	_, cancelOther := startSSEClient(t, serverURL, testOtherTenant, "")
	defer cancelOther()

	resp := doHTTPJSON(t, "GET", serverURL+"/v1/events/connections", testTenant, nil)
	requireHTTPStatus(t, resp, http.StatusOK)
	var roster struct {
		Connections []struct {
			ConnectionID string `json:"connection_id"`
			TenantID     string `json:"tenant_id"`
			UserID       string `json:"user_id"`
		} `json:"connections"`
		Count int `json:"count"`
	}
	decodeHTTPJSON(t, resp, &roster)
	if roster.Count != 1 || roster.Connections[0].TenantID != testTenant || roster.Connections[0].UserID != testUser {
		t.Fatalf("roster = %+v, want one connection for the caller's tenant", roster)
	}
	if got := env.hub.Registry().Len(); got != 2 {
		t.Fatalf("registry holds %d connections, want 2", got)
	}
}

func TestSSEIntegration_DisconnectDeregisters(t *testing.T) {
	serverURL, env, cleanup := startIntegrationServer(t)
	defer cleanup()

	_, cancel := startSSEClient(t, serverURL, testTenant, "")
	if got := env.hub.Registry().Len(); got != 1 {
		t.Fatalf("registry holds %d connections, want 1", got)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Registry().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not deregistered after the client went away")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := env.hub.Stats().ConnectionsDropped; got != 1 {
		t.Fatalf("ConnectionsDropped = %d, want 1", got)
	}
}

func TestSSEIntegration_ShutdownEndsStreams(t *testing.T) {
	serverURL, env, cleanup := startIntegrationServer(t)
	defer cleanup()

	ch, cancel := startSSEClient(t, serverURL, testTenant, "")
	defer cancel()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCtx()
	if err := env.hub.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	timer := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				resp := doHTTPJSON(t, "GET", serverURL+"/v1/events/stream", testTenant, nil)
				requireHTTPStatus(t, resp, http.StatusServiceUnavailable)
				resp.Body.Close()
				return
			}
		case <-timer:
			t.Fatal("stream stayed open after shutdown")
		}
	}
}
