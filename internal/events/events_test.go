package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// startTestNATS starts an embedded NATS server with JetStream and returns a
// connection to it.
func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := StartEmbedded("127.0.0.1", -1, t.TempDir())
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	nc, err := Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func recv(t *testing.T, s *Subscription) []byte {
	t.Helper()
	select {
	case msg, ok := <-s.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestTenantChannel(t *testing.T) {
	if got := TenantChannel("t1"); got != "realtime.events.t1" {
		t.Errorf("TenantChannel = %q", got)
	}
}

func TestBusImplementations(t *testing.T) {
	var _ Bus = (*NATSBus)(nil)
	var _ Bus = (*MemoryBus)(nil)
	var _ KV = (*JetStreamKV)(nil)
	var _ KV = (*MemoryKV)(nil)
	var _ Counter = (*JetStreamKV)(nil)
	var _ Counter = (*MemoryKV)(nil)
	var _ Pinger = (*NATSBus)(nil)
	var _ Pinger = (*MemoryBus)(nil)
}

func TestNATSBus_PublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)
	ctx := context.Background()
	bus := NewNATSBus(nc, 8)

	sub, err := bus.Subscribe(ctx, TenantChannel("t1"))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Cancel()

	other, err := bus.Subscribe(ctx, TenantChannel("t2"))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer other.Cancel()

	for _, payload := range []string{"a", "b", "c"} {
		if err := bus.Publish(ctx, TenantChannel("t1"), []byte(payload)); err != nil {
			t.Fatalf("publishing: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		if got := string(recv(t, sub)); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	select {
	case msg := <-other.C:
		t.Errorf("tenant t2 received %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSBus_Cancel(t *testing.T) {
	nc := startTestNATS(t)
	bus := NewNATSBus(nc, 8)

	sub, err := bus.Subscribe(context.Background(), TenantChannel("t1"))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	sub.Cancel()
	sub.Cancel()

	if _, ok := <-sub.C; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
	if err := bus.Publish(context.Background(), TenantChannel("t1"), []byte("x")); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestNATSBus_SubscribeClosedConn(t *testing.T) {
	nc := startTestNATS(t)
	bus := NewNATSBus(nc, 8)
	nc.Close()

	if _, err := bus.Subscribe(context.Background(), TenantChannel("t1")); err == nil {
		t.Fatal("expected error subscribing on a closed connection")
	}
	if err := bus.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on a closed connection")
	}
}

func TestMemoryBus_OverflowIsCounted(t *testing.T) {
	bus := NewMemoryBus(2)
	ctx := context.Background()
	sub, _ := bus.Subscribe(ctx, "c")
	defer sub.Cancel()

	for range 5 {
		_ = bus.Publish(ctx, "c", []byte("x"))
	}
	if got := sub.TakeDropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
	if got := sub.TakeDropped(); got != 0 {
		t.Errorf("dropped after take = %d, want 0", got)
	}
	if len(sub.C) != 2 {
		t.Errorf("buffered = %d, want 2", len(sub.C))
	}
}

func TestMemoryBus_CancelRemovesSubscription(t *testing.T) {
	bus := NewMemoryBus(4)
	sub, _ := bus.Subscribe(context.Background(), "c")
	if bus.Subscribers("c") != 1 {
		t.Fatalf("subscribers = %d, want 1", bus.Subscribers("c"))
	}
	sub.Cancel()
	if bus.Subscribers("c") != 0 {
		t.Errorf("subscribers = %d after cancel, want 0", bus.Subscribers("c"))
	}
}

func TestJetStreamKV_PutGetKeys(t *testing.T) {
	nc := startTestNATS(t)
	ctx := context.Background()
	kv, err := OpenJetStreamKV(ctx, nc, EventsBucket, time.Hour)
	if err != nil {
		t.Fatalf("opening bucket: %v", err)
	}

	for _, k := range []string{"t1.t1_100_1", "t1.t1_100_2", "t2.t2_100_1"} {
		if err := kv.Put(ctx, k, []byte(k)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	got, err := kv.Get(ctx, "t1.t1_100_2")
	if err != nil || string(got) != "t1.t1_100_2" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get missing err = %v, want ErrKeyNotFound", err)
	}

	keys, err := kv.Keys(ctx, "t1.")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("keys(t1.) = %v, want 2 entries", keys)
	}

	if err := kv.Delete(ctx, "t1.t1_100_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	keys, _ = kv.Keys(ctx, "t1.")
	if len(keys) != 1 {
		t.Errorf("keys after delete = %v, want 1 entry", keys)
	}
}

func TestJetStreamKV_Incr(t *testing.T) {
	nc := startTestNATS(t)
	ctx := context.Background()
	kv, err := OpenJetStreamKV(ctx, nc, SequenceBucket, 0)
	if err != nil {
		t.Fatalf("opening bucket: %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := kv.Incr(ctx, "t1.global", 0)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if got != want {
			t.Errorf("incr = %d, want %d", got, want)
		}
	}
	got, err := kv.Incr(ctx, "t1.global", 10)
	if err != nil || got != 11 {
		t.Errorf("incr with floor = %d, %v; want 11", got, err)
	}
	got, _ = kv.Incr(ctx, "t1.global", 5)
	if got != 12 {
		t.Errorf("incr below counter = %d, want 12", got)
	}
}

func TestJetStreamKV_IncrConcurrent(t *testing.T) {
	nc := startTestNATS(t)
	ctx := context.Background()
	kv, err := OpenJetStreamKV(ctx, nc, SequenceBucket, 0)
	if err != nil {
		t.Fatalf("opening bucket: %v", err)
	}

	const workers, each = 4, 10
	results := make(chan int64, workers*each)
	errs := make(chan error, workers*each)
	for range workers {
		go func() {
			for range each {
				v, err := kv.Incr(ctx, "t1.app", 0)
				if err != nil {
					errs <- err
					continue
				}
				results <- v
			}
		}()
	}

	seen := make(map[int64]bool)
	for range workers * each {
		select {
		case v := <-results:
			if seen[v] {
				t.Fatalf("value %d issued twice", v)
			}
			seen[v] = true
		case err := <-errs:
			t.Fatalf("incr: %v", err)
		case <-time.After(10 * time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestMemoryKV_Expiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV(time.Minute)
	now := time.Unix(1000, 0)
	kv.now = func() time.Time { return now }

	_ = kv.Put(ctx, "a.1", []byte("1"))
	now = now.Add(30 * time.Second)
	_ = kv.Put(ctx, "a.2", []byte("2"))

	now = now.Add(45 * time.Second)
	if _, err := kv.Get(ctx, "a.1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expired Get err = %v", err)
	}
	keys, _ := kv.Keys(ctx, "a.")
	if len(keys) != 1 || keys[0] != "a.2" {
		t.Errorf("keys = %v, want [a.2]", keys)
	}
	if n := kv.PurgeExpired(); n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}

func TestMemoryKV_IncrNeverExpires(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV(time.Millisecond)
	a, _ := kv.Incr(ctx, "k", 0)
	time.Sleep(5 * time.Millisecond)
	b, _ := kv.Incr(ctx, "k", 0)
	if a != 1 || b != 2 {
		t.Errorf("incr = %d, %d; want 1, 2", a, b)
	}
}
