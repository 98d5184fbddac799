// Package sequence assigns per-scope event sequence numbers.
package sequence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/realtime/internal/events"
	"github.com/alfredjeanlab/realtime/internal/model"
)

var errOvertaken = errors.New("shared counter behind locally issued value")

// Sequencer hands out strictly increasing sequence numbers per
// (tenant, scope) using a shared counter store. When the store is
// unreachable it continues locally from the highest value it has seen for
// the key. Once the store answers again, the shared counter is pushed past
// every locally issued value before a shared value is used.
type Sequencer struct {
	counter events.Counter
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	shared   map[string]int64 // last value returned by the store
	local    map[string]int64 // highest value issued without the store
	degraded map[string]bool
}

// New returns a Sequencer backed by counter. timeout bounds each store call.
func New(counter events.Counter, timeout time.Duration, logger *slog.Logger) *Sequencer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		counter:  counter,
		timeout:  timeout,
		logger:   logger,
		shared:   make(map[string]int64),
		local:    make(map[string]int64),
		degraded: make(map[string]bool),
	}
}

// Key returns the counter key for a tenant and optional application.
func Key(tenantID, applicationID string) string {
	return tenantID + "." + model.ScopeOf(applicationID)
}

// Next returns the next sequence number for the scope. It never fails.
func (s *Sequencer) Next(ctx context.Context, tenantID, applicationID string) int64 {
	key := Key(tenantID, applicationID)
	for range 2 {
		s.mu.Lock()
		floor := s.local[key]
		s.mu.Unlock()

		v, err := s.incr(ctx, key, floor)
		if err != nil {
			return s.fallback(key, err)
		}
		if s.accept(key, v) {
			return v
		}
	}
	return s.fallback(key, errOvertaken)
}

// Degraded reports whether any key has issued local values that the shared
// counter has not yet caught up with.
func (s *Sequencer) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.degraded) > 0
}

func (s *Sequencer) incr(ctx context.Context, key string, floor int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.counter.Incr(ctx, key, floor)
}

func (s *Sequencer) accept(key string, v int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v <= s.local[key] {
		return false
	}
	s.shared[key] = max(s.shared[key], v)
	if s.degraded[key] {
		delete(s.degraded, key)
		s.logger.Info("sequence: counter store recovered", "key", key, "value", v)
	}
	return true
}

func (s *Sequencer) fallback(key string, err error) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := max(s.shared[key], s.local[key]) + 1
	s.local[key] = v
	if !s.degraded[key] {
		s.degraded[key] = true
		s.logger.Warn("sequence: counter store unavailable, issuing local values (degraded)",
			"key", key, "value", v, "err", err)
	}
	return v
}
