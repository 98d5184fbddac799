package export

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// mockDestination records calls to Write.
type mockDestination struct {
	name   string
	fail   bool
	writes atomic.Int64
	last   atomic.Value // []byte
}

func (d *mockDestination) Name() string { return d.name }

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	if d.fail {
		return errors.New("bucket unavailable")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return nil
}

func TestSchedulerStartStop(t *testing.T) {
	now := time.Now()
	ms := newMockStore(alertAt("a1", model.AlertLatencyViolation, now.Add(-time.Minute)))

	dest := &mockDestination{name: "mock"}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sched := NewScheduler(ms, []Destination{dest}, 50*time.Millisecond, time.Hour, logger)
	sched.Start()

	// Wait for at least the initial export + one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}

	data, ok := dest.last.Load().([]byte)
	if !ok || len(data) == 0 {
		t.Fatal("expected non-empty data")
	}
	h, recs := decodeAlerts(t, bytes.NewReader(data))
	if h.AlertCount != 1 || len(recs) != 1 || recs[0].ID != "a1" {
		t.Fatalf("unexpected export: header %+v, %d alerts", h, len(recs))
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(newMockStore(), nil, time.Minute, 0, nil)
	// Stop without Start should not panic.
	sched.Stop()
}

func TestSchedulerOnce_Window(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := newMockStore(
		alertAt("recent", model.AlertHighFailureRate, now.Add(-10*time.Minute)),
		alertAt("old", model.AlertHighFailureRate, now.Add(-2*time.Hour)),
	)
	dest := &mockDestination{name: "mock"}
	sched := NewScheduler(ms, []Destination{dest}, time.Minute, time.Hour, nil)
	sched.now = func() time.Time { return now }

	if n := sched.Once(context.Background()); n != 1 {
		t.Fatalf("Once = %d, want 1", n)
	}
	_, recs := decodeAlerts(t, bytes.NewReader(dest.last.Load().([]byte)))
	if len(recs) != 1 || recs[0].ID != "recent" {
		t.Fatalf("window export = %v", recs)
	}
}

func TestSchedulerOnce_FailingDestinationDoesNotBlockOthers(t *testing.T) {
	ms := newMockStore()
	bad := &mockDestination{name: "bad", fail: true}
	good := &mockDestination{name: "good"}
	sched := NewScheduler(ms, []Destination{bad, good}, time.Minute, 0, nil)

	if n := sched.Once(context.Background()); n != 1 {
		t.Fatalf("Once = %d, want 1", n)
	}
	if bad.writes.Load() != 1 || good.writes.Load() != 1 {
		t.Fatalf("writes: bad=%d good=%d, want 1 each", bad.writes.Load(), good.writes.Load())
	}
}

func TestSchedulerOnce_StoreError(t *testing.T) {
	ms := newMockStore()
	ms.listErr = errStoreDown
	dest := &mockDestination{name: "mock"}
	sched := NewScheduler(ms, []Destination{dest}, time.Minute, 0, nil)

	if n := sched.Once(context.Background()); n != 0 {
		t.Fatalf("Once = %d, want 0", n)
	}
	if dest.writes.Load() != 0 {
		t.Fatal("destinations should not be written when the store fails")
	}
}
