package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/alfredjeanlab/realtime/internal/stream"
)

// handleEventStream handles GET /v1/events/stream.
// The resume marker comes from the Last-Event-ID header that EventSource
// sends on reconnect, or from the last_event_id query parameter.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	id, err := identityFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("last_event_id")
	}

	st, err := s.hub.Open(r.Context(), id.TenantID, id.UserID, lastEventID)
	if err != nil {
		status := http.StatusServiceUnavailable
		if !errors.Is(err, stream.ErrClosed) && !errors.Is(err, stream.ErrSubscribe) {
			status = http.StatusInternalServerError
		}
		s.logger.Error("server: opening event stream failed",
			"tenant", id.TenantID, "user", id.UserID, "err", err)
		writeError(w, status, "failed to create event stream")
		return
	}

	rc := http.NewResponseController(w)

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		st.Close()
		return
	}

	s.logger.Info("server: event stream opened",
		"connection_id", st.ID(),
		"tenant", id.TenantID,
		"user", id.UserID,
		"last_event_id", lastEventID)

	sink := &httpSink{w: w, rc: rc, timeout: s.writeTimeout}
	if err := st.Run(r.Context(), sink); err != nil {
		s.logger.Info("server: event stream write failed", "connection_id", st.ID(), "err", err)
	}
}

// httpSink writes frames to a streaming response. Each write gets its own
// deadline so that a stalled client cannot pin the stream goroutine.
type httpSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func (s *httpSink) Send(f stream.Frame) error {
	// Writers that cannot take deadlines (e.g. test recorders) report
	// ErrNotSupported; frames are still written.
	if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := f.WriteTo(s.w); err != nil {
		return err
	}
	return s.rc.Flush()
}
