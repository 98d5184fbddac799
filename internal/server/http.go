package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
)

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	// AuthToken enables bearer authentication when non-empty.
	AuthToken string
	// AllowedOrigins are the CORS origins allowed to open streams.
	AllowedOrigins []string
	// MetricsPath serves Prometheus metrics when set and metrics are enabled.
	MetricsPath string
}

// NewHTTPHandler returns an http.Handler with all routes registered.
// When AuthToken is non-empty, requests (except GET /v1/health and the
// metrics endpoint) must include a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(cfg HTTPConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("POST /v1/events", s.handlePublish)
	mux.HandleFunc("GET /v1/events/metrics", s.handleEventMetrics)
	mux.HandleFunc("GET /v1/events/connections", s.handleConnections)
	mux.HandleFunc("GET /v1/alerts", s.handleListAlerts)
	mux.HandleFunc("GET /v1/alerts/rules", s.handleListRules)
	mux.HandleFunc("POST /v1/alerts/rules/{name}/enable", s.handleEnableRule)
	mux.HandleFunc("POST /v1/alerts/rules/{name}/disable", s.handleDisableRule)
	mux.HandleFunc("POST /v1/alerts/channels/{channel}/test", s.handleTestChannel)
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	var h http.Handler = AuthMiddleware(cfg.AuthToken, mux)
	if cfg.MetricsPath != "" && s.metrics != nil {
		outer := http.NewServeMux()
		outer.Handle("GET "+cfg.MetricsPath, s.metrics.Handler())
		outer.Handle("/", h)
		h = outer
	}
	h = s.instrument(h)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "Last-Event-ID", headerTenantID, headerUserID, headerRequestID}),
		handlers.ExposedHeaders([]string{headerRequestID}),
	)(h)
}

const headerRequestID = "X-Request-ID"

// statusRecorder captures the response status for metrics. Unwrap lets
// http.ResponseController reach the underlying writer for flushes and
// write deadlines.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrument tags every request with a request ID and records its
// duration and status by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerRequestID)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
			r.Header.Set(headerRequestID, reqID)
		}
		w.Header().Set(headerRequestID, reqID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequest(endpoint, r.Method, status, time.Since(start))
		s.logger.Debug("server: request completed",
			"request_id", reqID,
			"method", r.Method,
			"endpoint", endpoint,
			"status", status,
			"duration", time.Since(start))
	})
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health(r.Context()))
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
