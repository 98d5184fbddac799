package server

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alfredjeanlab/realtime/internal/alerts"
	"github.com/alfredjeanlab/realtime/internal/events"
	"github.com/alfredjeanlab/realtime/internal/metrics"
	"github.com/alfredjeanlab/realtime/internal/store"
	"github.com/alfredjeanlab/realtime/internal/stream"
)

const (
	defaultWriteTimeout = 10 * time.Second
	healthCheckTimeout  = 2 * time.Second
)

// Options are the collaborators of a Server. Only Hub is required.
type Options struct {
	Hub     *stream.Hub
	Alerts  *alerts.Manager
	History store.AlertStore
	Metrics *metrics.Manager
	// Checks are probed by the health endpoints, keyed by component name.
	Checks map[string]events.Pinger
	// WriteTimeout bounds each SSE frame write.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Server exposes the hub over HTTP and the process health over gRPC.
type Server struct {
	hub          *stream.Hub
	alerts       *alerts.Manager
	history      store.AlertStore
	metrics      *metrics.Manager
	checks       map[string]events.Pinger
	writeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New returns a Server built from opts.
func New(opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		hub:          opts.Hub,
		alerts:       opts.Alerts,
		history:      opts.History,
		metrics:      opts.Metrics,
		checks:       opts.Checks,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// Health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HealthReport is the body of GET /v1/health.
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

// Health probes every configured check. Any failure degrades the status;
// the service keeps serving in degraded mode.
func (s *Server) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:     StatusHealthy,
		Components: make(map[string]string, len(s.checks)),
		Timestamp:  s.now().UTC(),
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := s.checks[name].Ping(cctx)
		cancel()
		if err != nil {
			report.Status = StatusDegraded
			report.Components[name] = err.Error()
			s.logger.Warn("server: health check failed", "component", name, "err", err)
			continue
		}
		report.Components[name] = "ok"
	}

	st := s.hub.Stats()
	report.ActiveConnections = st.RegisteredConnections
	report.EventsPublished = st.EventsPublished
	report.EventsDelivered = st.EventsDelivered
	report.AverageLatencyMS = st.AverageLatencyMS
	report.SequenceDegraded = st.SequenceDegraded
	if st.SequenceDegraded {
		report.Status = StatusDegraded
	}
	return report
}
