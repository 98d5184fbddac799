package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/realtime/internal/alerts"
	"github.com/alfredjeanlab/realtime/internal/model"
)

const defaultAlertListLimit = 100

// handleListAlerts handles GET /v1/alerts.
// Query params: since (RFC 3339, default 24h ago), limit (default 100).
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "alert history is not enabled")
		return
	}

	since := s.now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	limit := defaultAlertListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.history.ListAlerts(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("server: listing alerts failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if recs == nil {
		recs = []*model.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": recs, "count": len(recs)})
}

// handleListRules handles GET /v1/alerts/rules.
func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusNotFound, "alerting is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.alerts.Rules()})
}

// handleEnableRule handles POST /v1/alerts/rules/{name}/enable.
func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	s.setRule(w, r, true)
}

// handleDisableRule handles POST /v1/alerts/rules/{name}/disable.
func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	s.setRule(w, r, false)
}

func (s *Server) setRule(w http.ResponseWriter, r *http.Request, enabled bool) {
	if s.alerts == nil {
		writeError(w, http.StatusNotFound, "alerting is not enabled")
		return
	}
	name := r.PathValue("name")
	var ok bool
	if enabled {
		ok = s.alerts.EnableRule(name)
	} else {
		ok = s.alerts.DisableRule(name)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown rule "+strconv.Quote(name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": name, "enabled": enabled})
}

// handleTestChannel handles POST /v1/alerts/channels/{channel}/test.
func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusNotFound, "alerting is not enabled")
		return
	}
	ch, err := alerts.ParseChannel(r.PathValue("channel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.alerts.TestChannel(r.Context(), ch); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"channel": ch,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channel": ch})
}
