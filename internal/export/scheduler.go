package export

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/realtime/internal/store"
)

// DefaultWindow is how far back each export reaches when no window is set.
const DefaultWindow = 24 * time.Hour

// Destination is the interface for an export target.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	store        store.AlertStore
	destinations []Destination
	interval     time.Duration
	window       time.Duration
	logger       *slog.Logger
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports the alerts of the last
// window from the store to the given destinations at the specified interval.
func NewScheduler(s store.AlertStore, destinations []Destination, interval, window time.Duration, logger *slog.Logger) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		window:       window,
		logger:       logger,
		now:          time.Now,
	}
}

// Start begins periodic export. It runs an initial export immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	s.logger.Info("export: scheduler started", "interval", s.interval, "window", s.window, "destinations", len(s.destinations))
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.Once(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Once(ctx)
		}
	}
}

// Once performs a single export and reports how many destinations accepted
// it.
func (s *Scheduler) Once(ctx context.Context) int {
	now := s.now()
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, now.Add(-s.window), now, &buf); err != nil {
		s.logger.Error("export: reading alert history failed", "err", err)
		return 0
	}
	data := buf.Bytes()

	ok := 0
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("export: destination write failed", "destination", dest.Name(), "err", err)
			continue
		}
		ok++
	}

	s.logger.Info("export: completed", "destinations", ok, "failed", len(s.destinations)-ok, "bytes", len(data))
	return ok
}
