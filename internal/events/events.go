package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ChannelPrefix is the subject prefix of every tenant channel.
const ChannelPrefix = "realtime.events."

// ErrKeyNotFound is returned by KV.Get for a missing or expired key.
var ErrKeyNotFound = errors.New("key not found")

// TenantChannel returns the broadcast channel for a tenant.
func TenantChannel(tenantID string) string {
	return ChannelPrefix + tenantID
}

// Bus is the shared pub/sub transport carrying serialized events.
type Bus interface {
	Publish(ctx context.Context, channel string, data []byte) error
	// Subscribe registers interest in channel and returns once the
	// subscription is live, so later publishes are routed to it.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	Close() error
}

// KV is an expiring key-value store. Values written with Put expire after
// the store's retention window.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Keys lists keys beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Counter is a durable atomic counter store.
type Counter interface {
	// Incr atomically sets key to max(current, floor)+1 and returns the new
	// value. Missing keys count as zero.
	Incr(ctx context.Context, key string, floor int64) (int64, error)
}

// Pinger reports backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Subscription delivers raw payloads for one channel. Payloads that arrive
// while the buffer is full are dropped and counted.
type Subscription struct {
	C <-chan []byte

	ch      chan []byte
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	dropped atomic.Int64
	unsub   func()
}

func newSubscription(buffer int, unsub func()) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan []byte, buffer)
	return &Subscription{C: ch, ch: ch, unsub: unsub}
}

// deliver enqueues data without blocking the transport.
func (s *Subscription) deliver(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- data:
	default:
		s.dropped.Add(1)
	}
}

// TakeDropped returns the number of payloads dropped since the last call.
func (s *Subscription) TakeDropped() int64 {
	return s.dropped.Swap(0)
}

// Cancel unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		for {
			select {
			case <-s.ch:
			default:
				close(s.ch)
				return
			}
		}
	})
}
