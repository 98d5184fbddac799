// Package stream owns the publish path and the per-client stream loop.
//
// A Hub is created at startup and drained at shutdown. Publish sequences,
// stores and broadcasts an event on its tenant channel. Open registers a
// client and subscribes it to the tenant channel; Stream.Run then replays
// missed events and forwards live ones until the client goes away, the
// reaper declares it stale, or the hub shuts down.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/realtime/internal/events"
	"github.com/alfredjeanlab/realtime/internal/idgen"
	"github.com/alfredjeanlab/realtime/internal/metrics"
	"github.com/alfredjeanlab/realtime/internal/model"
	"github.com/alfredjeanlab/realtime/internal/monitor"
	"github.com/alfredjeanlab/realtime/internal/presence"
	"github.com/alfredjeanlab/realtime/internal/replay"
	"github.com/alfredjeanlab/realtime/internal/sequence"
)

var (
	// ErrClosed is returned by Open after Shutdown has begun.
	ErrClosed = errors.New("stream hub closed")
	// ErrSubscribe wraps the cause of a failed tenant channel subscription.
	ErrSubscribe = errors.New("subscribing to tenant channel")
)

// Kill reasons reported when a stream ends.
const (
	ReasonClientGone = "client_disconnected"
	ReasonShutdown   = "shutdown"
	ReasonWriteError = "write_error"
	ReasonBusClosed  = "subscription_closed"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultStoreTimeout      = 3 * time.Second
	defaultRetentionSweep    = 10 * time.Minute
)

// Config tunes a Hub. Zero fields take defaults.
type Config struct {
	HeartbeatInterval time.Duration
	StoreTimeout      time.Duration
	// RetentionSweepInterval is how often expired stored events are
	// purged. Negative disables the sweep.
	RetentionSweepInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
	if c.RetentionSweepInterval == 0 {
		c.RetentionSweepInterval = defaultRetentionSweep
	}
}

// Deps are the collaborators a Hub is built from. Bus, Sequencer, Replay,
// Monitor and Registry are required.
type Deps struct {
	Bus       events.Bus
	Sequencer *sequence.Sequencer
	Replay    *replay.Store
	Monitor   *monitor.Monitor
	Registry  *presence.Registry
	Metrics   *metrics.Manager
	Logger    *slog.Logger
}

// Hub is safe for concurrent use.
type Hub struct {
	cfg      Config
	bus      events.Bus
	seq      *sequence.Sequencer
	replay   *replay.Store
	monitor  *monitor.Monitor
	registry *presence.Registry
	metrics  *metrics.Manager
	logger   *slog.Logger
	now      func() time.Time

	closed   atomic.Bool
	streams  sync.WaitGroup
	replayed atomic.Int64

	mu         sync.Mutex
	sweepStop  chan struct{}
	sweepDone  chan struct{}
	sweepCount int64
}

// NewHub wires a hub from its dependencies.
func NewHub(cfg Config, deps Deps) *Hub {
	cfg.setDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		bus:      deps.Bus,
		seq:      deps.Sequencer,
		replay:   deps.Replay,
		monitor:  deps.Monitor,
		registry: deps.Registry,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *presence.Registry { return h.registry }

// Publish sequences, stores and broadcasts one event. It reports whether
// the event reached the tenant channel and never fails the caller.
func (h *Hub) Publish(ctx context.Context, eventType model.EventType, payload map[string]any, tenantID, applicationID string) bool {
	if h.closed.Load() {
		h.publishFailed("closed", eventType, tenantID, ErrClosed)
		return false
	}

	if err := model.ValidatePublish(eventType, tenantID, applicationID); err != nil {
		h.publishFailed("invalid", eventType, tenantID, err)
		return false
	}

	seq := h.seq.Next(ctx, tenantID, applicationID)
	h.metrics.SetSequenceDegraded(h.seq.Degraded())

	e := model.NewEvent(eventType, payload, tenantID, applicationID, seq, h.now())
	data, err := json.Marshal(e)
	if err != nil {
		h.publishFailed("encode", eventType, tenantID, err)
		return false
	}

	if err := h.replay.Save(ctx, e); err != nil {
		h.publishFailed("store", eventType, tenantID, err)
		return false
	}

	pubCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	if err := h.bus.Publish(pubCtx, events.TenantChannel(tenantID), data); err != nil {
		h.publishFailed("broadcast", eventType, tenantID, err)
		return false
	}

	h.monitor.RecordPublished(string(eventType))
	h.logger.Debug("stream: event published",
		"event_id", e.ID,
		"event_type", eventType,
		"tenant", tenantID,
		"sequence", seq)
	return true
}

func (h *Hub) publishFailed(stage string, eventType model.EventType, tenantID string, err error) {
	h.metrics.PublishFailed(stage)
	h.logger.Error("stream: publish failed",
		"stage", stage,
		"event_type", eventType,
		"tenant", tenantID,
		"err", err)
}

// Open registers a stream for the given tenant and user and subscribes it
// to the tenant channel. lastEventID, when set, is the resume marker sent
// by a reconnecting client. A subscription failure leaves nothing behind.
func (h *Hub) Open(ctx context.Context, tenantID, userID, lastEventID string) (*Stream, error) {
	id, err := idgen.ConnectionID()
	if err != nil {
		return nil, fmt.Errorf("generating connection id: %w", err)
	}

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.streams.Add(1)
	h.mu.Unlock()

	conn := presence.NewConn(id, tenantID, userID, lastEventID, h.now())
	h.registry.Register(conn)

	subCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	sub, err := h.bus.Subscribe(subCtx, events.TenantChannel(tenantID))
	if err != nil {
		h.registry.Deregister(id)
		h.streams.Done()
		h.logger.Error("stream: subscribe failed", "connection_id", id, "tenant", tenantID, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrSubscribe, err)
	}

	h.monitor.RecordConnectionOpened(tenantID, userID, lastEventID != "")
	return &Stream{hub: h, conn: conn, sub: sub, resumeFrom: lastEventID}, nil
}

// Stats is the hub's view of delivery so far.
type Stats struct {
	monitor.Stats
	EventsReplayed        int64 `json:"events_replayed_total"`
	RegisteredConnections int   `json:"registered_connections"`
	SequenceDegraded      bool  `json:"sequence_degraded"`
	RetentionSweeps       int64 `json:"retention_sweeps"`
}

// Stats returns a snapshot of hub and monitor counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	sweeps := h.sweepCount
	h.mu.Unlock()
	return Stats{
		Stats:                 h.monitor.Stats(),
		EventsReplayed:        h.replayed.Load(),
		RegisteredConnections: h.registry.Len(),
		SequenceDegraded:      h.seq.Degraded(),
		RetentionSweeps:       sweeps,
	}
}

// Start launches the retention sweep.
func (h *Hub) Start() {
	if h.cfg.RetentionSweepInterval < 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sweepStop != nil {
		return
	}
	h.sweepStop = make(chan struct{})
	h.sweepDone = make(chan struct{})
	go h.retentionLoop(h.sweepStop, h.sweepDone)
	h.logger.Info("stream: retention sweep started", "interval", h.cfg.RetentionSweepInterval)
}

func (h *Hub) retentionLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.cfg.RetentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.sweepRetention()
		}
	}
}

// sweepRetention purges expired stored events, recovering from panics so
// that the next tick still runs.
func (h *Hub) sweepRetention() {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("stream: retention sweep panicked", "err", fmt.Sprint(p))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout*10)
	defer cancel()
	n, err := h.replay.Sweep(ctx)
	h.mu.Lock()
	h.sweepCount++
	h.mu.Unlock()
	if err != nil {
		h.logger.Warn("stream: retention sweep failed", "err", err)
		return
	}
	if n > 0 {
		h.logger.Info("stream: cleaned up expired events", "count", n)
	}
}

// Shutdown refuses new streams, force-disconnects every open stream and
// waits for their cleanup or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed.Store(true)
	stop, done := h.sweepStop, h.sweepDone
	h.sweepStop, h.sweepDone = nil, nil
	h.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}

	n := h.registry.KillAll(ReasonShutdown)

	drained := make(chan struct{})
	go func() {
		h.streams.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		h.logger.Info("stream: all connections disconnected", "count", n)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d streams to close: %w", h.registry.Len(), ctx.Err())
	}
}
