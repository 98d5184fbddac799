package export

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// mockStore is a minimal in-memory alert store for export tests.
type mockStore struct {
	mu      sync.Mutex
	alerts  []*model.AlertRecord
	listErr error
}

func newMockStore(recs ...*model.AlertRecord) *mockStore {
	return &mockStore{alerts: recs}
}

func (m *mockStore) InsertAlert(_ context.Context, rec *model.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, rec)
	return nil
}

// ListAlerts returns matches in insertion order; ExportJSONL sorts them.
func (m *mockStore) ListAlerts(_ context.Context, since time.Time, limit int) ([]*model.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.AlertRecord
	for _, r := range m.alerts {
		if r.CreatedAt.Before(since) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) PurgeAlerts(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	var n int64
	for _, r := range m.alerts {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.alerts = kept
	return n, nil
}

func (m *mockStore) Ping(context.Context) error { return nil }

func (m *mockStore) Close() error { return nil }

var errStoreDown = errors.New("store down")
