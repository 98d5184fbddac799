package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names used in JetStream.
const (
	EventsBucket   = "realtime_events"
	SequenceBucket = "realtime_seq"
)

// maxCASAttempts bounds the optimistic retry loop in Incr.
const maxCASAttempts = 16

// JetStreamKV stores values in a JetStream key-value bucket. Retention is
// enforced by the bucket's TTL.
type JetStreamKV struct {
	kv jetstream.KeyValue
}

// OpenJetStreamKV creates or updates bucket with the given TTL (zero keeps
// values forever) and returns a store backed by it.
func OpenJetStreamKV(ctx context.Context, nc *nats.Conn, bucket string, ttl time.Duration) (*JetStreamKV, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bucket %s: %w", bucket, err)
	}
	return &JetStreamKV{kv: kv}, nil
}

func (s *JetStreamKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *JetStreamKV) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *JetStreamKV) Delete(ctx context.Context, key string) error {
	if err := s.kv.Purge(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("purge %s: %w", key, err)
	}
	return nil
}

// Keys lists keys under prefix. Keys are dot-separated tokens, so a prefix
// ending in "." is matched with a subject wildcard; any other prefix is
// filtered client side.
func (s *JetStreamKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		lister jetstream.KeyLister
		err    error
	)
	if strings.HasSuffix(prefix, ".") {
		lister, err = s.kv.ListKeysFiltered(ctx, prefix+">")
	} else {
		lister, err = s.kv.ListKeys(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer lister.Stop() //nolint:errcheck

	var keys []string
	for {
		select {
		case key, ok := <-lister.Keys():
			if !ok {
				return keys, nil
			}
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		case <-ctx.Done():
			return keys, ctx.Err()
		}
	}
}

// Incr implements Counter with an optimistic compare-and-set loop on the
// key's revision.
func (s *JetStreamKV) Incr(ctx context.Context, key string, floor int64) (int64, error) {
	for range maxCASAttempts {
		entry, err := s.kv.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			next := floor + 1
			if _, err := s.kv.Create(ctx, key, []byte(strconv.FormatInt(next, 10))); err != nil {
				if isConflict(err) {
					continue
				}
				return 0, fmt.Errorf("create counter %s: %w", key, err)
			}
			return next, nil
		case err != nil:
			return 0, fmt.Errorf("get counter %s: %w", key, err)
		}

		cur, err := strconv.ParseInt(string(entry.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter %s holds %q: %w", key, entry.Value(), err)
		}
		next := max(cur, floor) + 1
		if _, err := s.kv.Update(ctx, key, []byte(strconv.FormatInt(next, 10)), entry.Revision()); err != nil {
			if isConflict(err) {
				continue
			}
			return 0, fmt.Errorf("update counter %s: %w", key, err)
		}
		return next, nil
	}
	return 0, fmt.Errorf("counter %s: too much contention", key)
}

// Ping checks that the bucket is reachable.
func (s *JetStreamKV) Ping(ctx context.Context) error {
	if _, err := s.kv.Status(ctx); err != nil {
		return fmt.Errorf("bucket status: %w", err)
	}
	return nil
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
