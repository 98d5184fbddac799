package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

var eventTypes = map[EventType]bool{
	EventApplicationStatusChanged: true,
	EventApplicationCreated:       true,
	EventApplicationFlagged:       true,
	EventCandidateCreated:         true,
	EventCandidateUpdated:         true,
	EventResumeProcessed:          true,
	EventSystemAlert:              true,
}

func (t EventType) String() string {
	return string(t)
}

// IsValid reports whether t is one of the known event types.
func (t EventType) IsValid() bool {
	return eventTypes[t]
}

// maxIDLength bounds tenant and application IDs so event IDs stay usable as
// store keys and header values.
const maxIDLength = 128

// ValidatePublish checks the inputs of a publish call coming from outside
// the process. It returns a *ValidationError if any rules fail.
func ValidatePublish(typ EventType, tenantID, applicationID string) error {
	var ve ValidationError

	if !typ.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "event_type",
			Message: fmt.Sprintf("invalid value %q", typ),
		})
	}

	if msg := checkID(tenantID, true); msg != "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "tenant_id", Message: msg})
	} else if strings.ContainsRune(tenantID, '_') {
		// The tenant is the first field of an event ID.
		ve.Errors = append(ve.Errors, FieldError{Field: "tenant_id", Message: "must not contain '_'"})
	}
	if msg := checkID(applicationID, false); msg != "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "application_id", Message: msg})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// checkID rejects characters that would break channel subjects or store
// keys (dots, wildcards, whitespace).
func checkID(id string, required bool) string {
	if id == "" {
		if required {
			return "is required"
		}
		return ""
	}
	if len(id) > maxIDLength {
		return fmt.Sprintf("must be %d characters or fewer", maxIDLength)
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return fmt.Sprintf("contains invalid character %q", r)
		}
	}
	return ""
}
