package presence

import (
	"fmt"
	"log/slog"
	"time"
)

// ReasonStale is the kill reason given to connections removed by the reaper.
const ReasonStale = "stale"

// ReaperConfig configures the background liveness sweeper.
type ReaperConfig struct {
	// HeartbeatInterval is the interval at which stream loops write
	// heartbeats. Default: 30 seconds.
	HeartbeatInterval time.Duration

	// StaleAfter is how long a connection may go without a successful
	// write before it is reaped. Default: 3 × HeartbeatInterval.
	StaleAfter time.Duration

	// SweepInterval is how often the reaper scans the registry.
	// Default: HeartbeatInterval.
	SweepInterval time.Duration

	// OnStale is called for each reaped connection, outside the lock.
	OnStale func(c *Conn)

	Logger *slog.Logger
}

func (cfg *ReaperConfig) setDefaults() {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.HeartbeatInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.HeartbeatInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// StartReaper launches a background goroutine that periodically removes
// stale connections. Call Stop() to shut it down.
func (r *Registry) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	cfg.setDefaults()

	r.reaperStop = make(chan struct{})
	r.reaperDone = make(chan struct{})

	go r.reapLoop(cfg, r.reaperStop, r.reaperDone)
	cfg.Logger.Info("presence: reaper started",
		"stale_after", cfg.StaleAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (r *Registry) Stop() {
	if r.reaperStop != nil {
		close(r.reaperStop)
		<-r.reaperDone
		r.reaperStop = nil
		r.reaperDone = nil
	}
}

func (r *Registry) reapLoop(cfg *ReaperConfig, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.safeSweep(cfg)
		}
	}
}

func (r *Registry) safeSweep(cfg *ReaperConfig) {
	defer func() {
		if p := recover(); p != nil {
			cfg.Logger.Error("presence: sweep panicked", "err", fmt.Sprint(p))
		}
	}()
	r.sweep(cfg)
}

// sweep removes every connection idle for longer than StaleAfter and
// signals its owner. It returns the number of connections reaped.
func (r *Registry) sweep(cfg *ReaperConfig) int {
	now := r.now()

	var stale []*Conn
	r.mu.Lock()
	for id, c := range r.conns {
		if now.Sub(c.idleSince()) > cfg.StaleAfter {
			delete(r.conns, id)
			stale = append(stale, c)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		cfg.Logger.Info("presence: reaper removed stale connection",
			"connection_id", c.ID,
			"tenant", c.TenantID,
			"user", c.UserID,
			"idle", now.Sub(c.idleSince()).Round(time.Millisecond))
		c.Deactivate()
		c.Kill(ReasonStale)
		if cfg.OnStale != nil {
			cfg.OnStale(c)
		}
	}
	return len(stale)
}
