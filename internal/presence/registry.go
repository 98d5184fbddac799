// Package presence tracks open client streams and reaps the ones that have
// stopped heartbeating.
//
// The Registry is the only process-wide map of live connections. Each entry
// is owned by the stream loop that registered it; the registry holds a
// lookup reference so that the reaper and shutdown can find and kill it.
// Entries leave the registry through the owner's cleanup or through the
// reaper, never through anything else.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// Conn is the mutable state of one open stream.
type Conn struct {
	ID          string
	TenantID    string
	UserID      string
	ConnectedAt time.Time

	mu            sync.Mutex
	lastEventID   string
	lastHeartbeat time.Time
	active        bool

	kill     chan struct{}
	killOnce sync.Once
	reason   string
}

// NewConn returns an active connection whose heartbeat clock starts at now.
func NewConn(id, tenantID, userID, lastEventID string, now time.Time) *Conn {
	return &Conn{
		ID:            id,
		TenantID:      tenantID,
		UserID:        userID,
		ConnectedAt:   now,
		lastEventID:   lastEventID,
		lastHeartbeat: now,
		active:        true,
		kill:          make(chan struct{}),
	}
}

// Touch records a successful heartbeat write.
func (c *Conn) Touch(now time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = now
	c.mu.Unlock()
}

// Delivered records a successful event write.
func (c *Conn) Delivered(eventID string, now time.Time) {
	c.mu.Lock()
	c.lastEventID = eventID
	c.lastHeartbeat = now
	c.mu.Unlock()
}

// LastEventID returns the ID of the last event written to the client.
func (c *Conn) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// Kill asks the owning stream loop to stop. The first reason wins.
func (c *Conn) Kill(reason string) {
	c.killOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.kill)
	})
}

// Killed is closed once Kill has been called.
func (c *Conn) Killed() <-chan struct{} { return c.kill }

// KillReason returns the reason passed to Kill, if any.
func (c *Conn) KillReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Deactivate marks the connection closed.
func (c *Conn) Deactivate() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// Snapshot returns a copy of the connection's current state.
func (c *Conn) Snapshot() model.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.Connection{
		ID:              c.ID,
		TenantID:        c.TenantID,
		UserID:          c.UserID,
		LastEventID:     c.lastEventID,
		ConnectedAt:     c.ConnectedAt,
		LastHeartbeatAt: c.lastHeartbeat,
		Active:          c.active,
	}
}

func (c *Conn) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Registry maps connection IDs to open connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	now   func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		now:   time.Now,
	}
}

// Register adds c under its ID.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Deregister removes the connection with the given ID and reports whether
// it was present.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Get looks up a connection by ID.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Roster returns snapshots of every registered connection for tenantID,
// or for all tenants when tenantID is empty, most recently active first.
func (r *Registry) Roster(tenantID string) []model.Connection {
	r.mu.RLock()
	out := make([]model.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if tenantID != "" && c.TenantID != tenantID {
			continue
		}
		out = append(out, c.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastHeartbeatAt.After(out[j].LastHeartbeatAt)
	})
	return out
}

// KillAll signals every registered connection to stop and returns how many
// were signalled. Owners deregister themselves as they exit.
func (r *Registry) KillAll(reason string) int {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Kill(reason)
	}
	return len(conns)
}
