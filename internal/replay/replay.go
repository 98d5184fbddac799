// Package replay keeps recently published events so reconnecting clients
// can catch up from their last seen event ID.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alfredjeanlab/realtime/internal/events"
	"github.com/alfredjeanlab/realtime/internal/model"
)

// Defaults applied when Config fields are zero.
const (
	DefaultMaxMissed = 100
	DefaultTimeout   = 3 * time.Second
	DefaultRetention = time.Hour
)

// Config tunes a Store.
type Config struct {
	MaxMissed int
	Timeout   time.Duration
	Retention time.Duration
}

// Store persists events in an expiring KV under "<tenant>.<event id>".
type Store struct {
	kv     events.KV
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewStore returns a Store over kv.
func NewStore(kv events.KV, cfg Config, logger *slog.Logger) *Store {
	if cfg.MaxMissed <= 0 {
		cfg.MaxMissed = DefaultMaxMissed
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, cfg: cfg, logger: logger, now: time.Now}
}

func key(tenantID, eventID string) string {
	return tenantID + "." + eventID
}

// Save stores e for the retention window.
func (s *Store) Save(ctx context.Context, e *model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.kv.Put(ctx, key(e.TenantID, e.ID), data); err != nil {
		return fmt.Errorf("storing event %s: %w", e.ID, err)
	}
	return nil
}

type candidate struct {
	id  string
	pos model.Position
}

// FindMissed returns the tenant's stored events published strictly after
// lastEventID, oldest first. At most MaxMissed events are returned; when
// more are available the most recent ones are kept. Store failures are
// logged and yield whatever was read so far.
func (s *Store) FindMissed(ctx context.Context, tenantID, lastEventID string) []*model.Event {
	missed, _ := s.Resume(ctx, tenantID, lastEventID)
	return missed
}

// Resume is FindMissed that also reports whether older missed events were
// left out to respect MaxMissed. Events of other scopes at exactly the
// marker's position are included, since their order relative to the
// marker is unknown.
func (s *Store) Resume(ctx context.Context, tenantID, lastEventID string) ([]*model.Event, bool) {
	mark, err := model.ParseEventID(lastEventID)
	if err != nil {
		s.logger.Warn("replay: ignoring unparseable last event id", "tenant", tenantID, "last_event_id", lastEventID, "err", err)
		return nil, false
	}
	if mark.TenantID != tenantID {
		s.logger.Warn("replay: last event id belongs to another tenant", "tenant", tenantID, "last_event_id", lastEventID)
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	prefix := tenantID + "."
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		s.logger.Warn("replay: scanning stored events failed", "tenant", tenantID, "err", err)
		if len(keys) == 0 {
			return nil, false
		}
	}

	var found []candidate
	for _, k := range keys {
		id := strings.TrimPrefix(k, prefix)
		ref, err := model.ParseEventID(id)
		if err != nil || ref.TenantID != tenantID {
			continue
		}
		if ref.After(mark.Position) || ref.Position == mark.Position && ref.Scope != mark.Scope {
			found = append(found, candidate{id: id, pos: ref.Position})
		}
	}
	// Scopes count independently, so positions can tie across scopes.
	sort.Slice(found, func(i, j int) bool {
		if found[i].pos != found[j].pos {
			return found[j].pos.After(found[i].pos)
		}
		return found[i].id < found[j].id
	})

	truncated := len(found) > s.cfg.MaxMissed
	if truncated {
		s.logger.Warn("replay: too many missed events, truncating to most recent",
			"tenant", tenantID, "missed", len(found), "max", s.cfg.MaxMissed)
		found = found[len(found)-s.cfg.MaxMissed:]
	}

	out := make([]*model.Event, 0, len(found))
	for _, c := range found {
		data, err := s.kv.Get(ctx, key(tenantID, c.id))
		if errors.Is(err, events.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("replay: loading stored event failed, returning partial replay",
				"tenant", tenantID, "event_id", c.id, "err", err)
			break
		}
		var e model.Event
		if err := json.Unmarshal(data, &e); err != nil {
			s.logger.Warn("replay: skipping malformed stored event", "event_id", c.id, "err", err)
			continue
		}
		out = append(out, &e)
	}
	return out, truncated
}

// expirer is implemented by stores that track expiry themselves.
type expirer interface {
	PurgeExpired() int
}

// Sweep deletes stored events older than the retention window and returns
// how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	removed := 0
	if ex, ok := s.kv.(expirer); ok {
		removed += ex.PurgeExpired()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	keys, err := s.kv.Keys(ctx, "")
	if err != nil {
		return removed, fmt.Errorf("listing stored events: %w", err)
	}
	cutoff := s.now().Add(-s.cfg.Retention).UnixMilli()
	for _, k := range keys {
		_, id, ok := strings.Cut(k, ".")
		if !ok {
			continue
		}
		ref, err := model.ParseEventID(id)
		if err != nil || ref.PublishedMS >= cutoff {
			continue
		}
		if err := s.kv.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("deleting %s: %w", k, err)
		}
		removed++
	}
	return removed, nil
}
