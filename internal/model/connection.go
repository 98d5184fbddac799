package model

import "time"

// Connection is a point-in-time view of one client stream.
type Connection struct {
	ID              string    `json:"connection_id"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	LastEventID     string    `json:"last_event_id,omitempty"`
	ConnectedAt     time.Time `json:"connected_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	Active          bool      `json:"active"`
}
