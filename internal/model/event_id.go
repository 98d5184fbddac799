package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidEventID is returned when a client-supplied event ID cannot be
// decoded into a replay position.
var ErrInvalidEventID = errors.New("invalid event id")

// Position orders stored events for replay: by publish time, then sequence.
type Position struct {
	PublishedMS int64
	Sequence    int64
}

// After reports whether p sorts strictly after q.
func (p Position) After(q Position) bool {
	if p.PublishedMS != q.PublishedMS {
		return p.PublishedMS > q.PublishedMS
	}
	return p.Sequence > q.Sequence
}

// FormatEventID renders the client-visible cursor
// "<tenant>_<ms>_<scope>_<seq>". Sequences are counted per scope, so the
// scope is part of the ID to keep IDs unique within a tenant.
func FormatEventID(tenantID string, publishedMS int64, scope string, seq int64) string {
	return tenantID + "_" + strconv.FormatInt(publishedMS, 10) + "_" + scope + "_" + strconv.FormatInt(seq, 10)
}

// EventRef is a decoded event ID.
type EventRef struct {
	TenantID string
	Scope    string
	Position
}

// ParseEventID decodes an event ID. The tenant must not contain
// underscores; the scope may. The three-field form "<tenant>_<ms>_<seq>"
// is accepted as a cursor in the global scope.
func ParseEventID(id string) (EventRef, error) {
	tenant, rest, ok := strings.Cut(id, "_")
	if !ok || tenant == "" {
		return EventRef{}, fmt.Errorf("%w: %q", ErrInvalidEventID, id)
	}
	msField, rest, ok := strings.Cut(rest, "_")
	if !ok {
		return EventRef{}, fmt.Errorf("%w: %q", ErrInvalidEventID, id)
	}
	scope, seqField := GlobalScope, rest
	if last := strings.LastIndexByte(rest, '_'); last >= 0 {
		scope, seqField = rest[:last], rest[last+1:]
		if scope == "" {
			return EventRef{}, fmt.Errorf("%w: %q: empty scope", ErrInvalidEventID, id)
		}
	}
	ms, err := strconv.ParseInt(msField, 10, 64)
	if err != nil {
		return EventRef{}, fmt.Errorf("%w: %q: publish time: %v", ErrInvalidEventID, id, err)
	}
	seq, err := strconv.ParseInt(seqField, 10, 64)
	if err != nil {
		return EventRef{}, fmt.Errorf("%w: %q: sequence: %v", ErrInvalidEventID, id, err)
	}
	return EventRef{
		TenantID: tenant,
		Scope:    scope,
		Position: Position{PublishedMS: ms, Sequence: seq},
	}, nil
}
