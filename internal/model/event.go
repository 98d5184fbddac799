package model

import (
	"encoding/json"
	"time"
)

// EventType tags the kind of notification carried by an Event.
type EventType string

const (
	EventApplicationStatusChanged EventType = "application_status_changed"
	EventApplicationCreated       EventType = "application_created"
	EventApplicationFlagged       EventType = "application_flagged"
	EventCandidateCreated         EventType = "candidate_created"
	EventCandidateUpdated         EventType = "candidate_updated"
	EventResumeProcessed          EventType = "resume_processed"
	EventSystemAlert              EventType = "system_alert"
)

// GlobalScope is the sequence scope used when an event has no application ID.
const GlobalScope = "global"

// Event is one published notification. It is created by the hub at publish
// time and never mutated afterwards.
type Event struct {
	ID            string         `json:"event_id"`
	Type          EventType      `json:"event_type"`
	TenantID      string         `json:"tenant_id"`
	ApplicationID string         `json:"application_id,omitempty"`
	Sequence      int64          `json:"sequence"`
	Payload       map[string]any `json:"data"`
	PublishedAt   time.Time      `json:"-"`
}

// Scope returns the sequence scope of the event: its application ID, or
// GlobalScope for tenant-wide events.
func (e *Event) Scope() string {
	return ScopeOf(e.ApplicationID)
}

// ScopeOf maps an optional application ID to a sequence scope.
func ScopeOf(applicationID string) string {
	if applicationID == "" {
		return GlobalScope
	}
	return applicationID
}

// Position returns the replay ordering key of the event.
func (e *Event) Position() Position {
	return Position{PublishedMS: e.PublishedAt.UnixMilli(), Sequence: e.Sequence}
}

// eventJSON is the wire form of an Event on the tenant channel and in the
// replay store. The publish time travels as unix milliseconds so that it
// round-trips exactly with the event ID.
type eventJSON struct {
	ID            string         `json:"event_id"`
	Type          EventType      `json:"event_type"`
	TenantID      string         `json:"tenant_id"`
	ApplicationID string         `json:"application_id,omitempty"`
	Sequence      int64          `json:"sequence"`
	Payload       map[string]any `json:"data"`
	Timestamp     int64          `json:"timestamp"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:            e.ID,
		Type:          e.Type,
		TenantID:      e.TenantID,
		ApplicationID: e.ApplicationID,
		Sequence:      e.Sequence,
		Payload:       e.Payload,
		Timestamp:     e.PublishedAt.UnixMilli(),
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{
		ID:            raw.ID,
		Type:          raw.Type,
		TenantID:      raw.TenantID,
		ApplicationID: raw.ApplicationID,
		Sequence:      raw.Sequence,
		Payload:       raw.Payload,
		PublishedAt:   time.UnixMilli(raw.Timestamp),
	}
	return nil
}

// NewEvent builds an event stamped with publishedAt (truncated to the
// millisecond) and derives its ID.
func NewEvent(typ EventType, payload map[string]any, tenantID, applicationID string, seq int64, publishedAt time.Time) *Event {
	ms := publishedAt.UnixMilli()
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{
		ID:            FormatEventID(tenantID, ms, ScopeOf(applicationID), seq),
		Type:          typ,
		TenantID:      tenantID,
		ApplicationID: applicationID,
		Sequence:      seq,
		Payload:       payload,
		PublishedAt:   time.UnixMilli(ms),
	}
}
