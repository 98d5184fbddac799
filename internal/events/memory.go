package events

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus used when no NATS server is configured.
// Publishes fan out to every live subscription on the channel.
type MemoryBus struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewMemoryBus(buffer int) *MemoryBus {
	return &MemoryBus{buffer: buffer, subs: make(map[string]map[*Subscription]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[channel] {
		s.deliver(data)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	var s *Subscription
	s = newSubscription(b.buffer, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[channel], s)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
	})
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*Subscription]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *MemoryBus) Ping(context.Context) error { return nil }

func (b *MemoryBus) Close() error { return nil }

type memEntry struct {
	value   []byte
	expires time.Time
}

// MemoryKV is an in-process KV and Counter. Entries written with Put expire
// after ttl; counters never expire.
type MemoryKV struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	entries  map[string]memEntry
	counters map[string]int64
}

// NewMemoryKV returns a store whose entries live for ttl (zero means forever).
func NewMemoryKV(ttl time.Duration) *MemoryKV {
	return &MemoryKV{
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]memEntry),
		counters: make(map[string]int64),
	}
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.expired(e) {
		return nil, ErrKeyNotFound
	}
	return e.value, nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && !m.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// PurgeExpired drops expired entries and returns how many were removed.
func (m *MemoryKV) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *MemoryKV) Incr(_ context.Context, key string, floor int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := max(m.counters[key], floor) + 1
	m.counters[key] = next
	return next, nil
}

func (m *MemoryKV) Ping(context.Context) error { return nil }

func (m *MemoryKV) expired(e memEntry) bool {
	return !e.expires.IsZero() && !m.now().Before(e.expires)
}
