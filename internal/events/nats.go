package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes and subscribes to tenant channels over core NATS.
type NATSBus struct {
	conn   *nats.Conn
	buffer int
	owned  bool
}

// Connect dials NATS with automatic reconnection support. Extra nats.Option
// values (e.g. disconnect/reconnect handlers) can be appended.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name("realtime"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSBus wraps an existing connection. buffer bounds each
// subscription's pending payloads. The caller keeps ownership of conn.
func NewNATSBus(conn *nats.Conn, buffer int) *NATSBus {
	return &NATSBus{conn: conn, buffer: buffer}
}

// DialNATSBus connects to url and returns a bus that closes the connection
// on Close.
func DialNATSBus(url string, buffer int, opts ...nats.Option) (*NATSBus, error) {
	nc, err := Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSBus{conn: nc, buffer: buffer, owned: true}, nil
}

func (b *NATSBus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := b.conn.Publish(channel, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	var sub *nats.Subscription
	s := newSubscription(b.buffer, func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	})

	var err error
	sub, err = b.conn.Subscribe(channel, func(msg *nats.Msg) {
		s.deliver(msg.Data)
	})
	if err != nil {
		s.Cancel()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := b.conn.FlushWithContext(ctx); err != nil {
		s.Cancel()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	return s, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

func (b *NATSBus) Close() error {
	if b.owned {
		b.conn.Close()
	}
	return nil
}
