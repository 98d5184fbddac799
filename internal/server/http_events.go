package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// maxPublishBody bounds POST /v1/events request bodies.
const maxPublishBody = 1 << 20

type publishRequest struct {
	EventType     string         `json:"event_type"`
	Data          map[string]any `json:"data"`
	ApplicationID string         `json:"application_id,omitempty"`
}

// handlePublish handles POST /v1/events. The event is published to the
// caller's tenant.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := identityFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req publishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	typ := model.EventType(req.EventType)
	if err := model.ValidatePublish(typ, id.TenantID, req.ApplicationID); err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.hub.Publish(r.Context(), typ, req.Data, id.TenantID, req.ApplicationID) {
		writeError(w, http.StatusServiceUnavailable, "failed to publish event")
		return
	}

	s.logger.Info("server: event published",
		"event_type", typ,
		"tenant", id.TenantID,
		"user", id.UserID,
		"application_id", req.ApplicationID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":        true,
		"event_type":     typ,
		"tenant_id":      id.TenantID,
		"application_id": req.ApplicationID,
	})
}

// handleEventMetrics handles GET /v1/events/metrics.
func (s *Server) handleEventMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := identityFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"metrics":   s.hub.Stats(),
		"tenant_id": id.TenantID,
	})
}

// handleConnections handles GET /v1/events/connections.
// Returns the caller's tenant's open streams, most recently active first.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	id, err := identityFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conns := s.hub.Registry().Roster(id.TenantID)
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": conns,
		"count":       len(conns),
	})
}
