package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/alfredjeanlab/realtime/internal/events"
	"github.com/alfredjeanlab/realtime/internal/model"
	"github.com/alfredjeanlab/realtime/internal/presence"
)

// Stream is one registered client. It is owned by the goroutine that
// calls Run.
type Stream struct {
	hub        *Hub
	conn       *presence.Conn
	sub        *events.Subscription
	resumeFrom string

	cleanup sync.Once
}

// ID returns the connection ID announced in the connected frame.
func (s *Stream) ID() string { return s.conn.ID }

// Connection returns a snapshot of the stream's connection state.
func (s *Stream) Connection() model.Connection { return s.conn.Snapshot() }

// Run writes the connected frame, replays events missed since the resume
// marker, then forwards live tenant events and heartbeats to sink until
// ctx is cancelled, the connection is killed, or a write fails. The
// stream is cleaned up before Run returns. A nil error means the stream
// ended without a write failure.
func (s *Stream) Run(ctx context.Context, sink Sink) error {
	h := s.hub
	reason := ReasonClientGone
	defer func() { s.close(reason) }()

	if err := sink.Send(ConnectedFrame(s.conn.ID, h.now())); err != nil {
		reason = ReasonWriteError
		return err
	}
	s.conn.Touch(h.now())

	replayed, err := s.replay(ctx, sink)
	if err != nil {
		reason = ReasonWriteError
		return err
	}

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.conn.Killed():
			reason = s.conn.KillReason()
			return nil

		case <-heartbeat.C:
			now := h.now()
			if err := sink.Send(HeartbeatFrame(s.conn.ID, now)); err != nil {
				reason = ReasonWriteError
				return err
			}
			s.conn.Touch(now)

		case data, ok := <-s.sub.C:
			if !ok {
				reason = ReasonBusClosed
				return nil
			}
			if n := s.sub.TakeDropped(); n > 0 {
				h.monitor.RecordDropped(s.conn.TenantID, n)
			}
			if ctx.Err() != nil {
				return nil
			}

			var e model.Event
			if err := json.Unmarshal(data, &e); err != nil {
				h.logger.Warn("stream: malformed event on tenant channel",
					"connection_id", s.conn.ID, "tenant", s.conn.TenantID, "err", err)
				h.monitor.RecordFailure("", s.conn.TenantID, "malformed")
				continue
			}
			if _, dup := replayed[e.ID]; dup {
				delete(replayed, e.ID)
				continue
			}

			h.monitor.RecordDelivery(string(e.Type), s.conn.TenantID, e.PublishedAt)
			frame, err := EventFrame(&e)
			if err != nil {
				h.monitor.RecordFailure(string(e.Type), s.conn.TenantID, "encode")
				continue
			}
			if err := sink.Send(frame); err != nil {
				h.monitor.RecordFailure(string(e.Type), s.conn.TenantID, "write")
				reason = ReasonWriteError
				return err
			}
			s.conn.Delivered(e.ID, h.now())
		}
	}
}

// replay sends the events missed since the resume marker and returns
// their IDs so that the live loop does not send them twice.
func (s *Stream) replay(ctx context.Context, sink Sink) (map[string]struct{}, error) {
	if s.resumeFrom == "" {
		return nil, nil
	}
	h := s.hub
	missed, truncated := h.replay.Resume(ctx, s.conn.TenantID, s.resumeFrom)

	sent := make(map[string]struct{}, len(missed))
	for _, e := range missed {
		frame, err := EventFrame(e)
		if err != nil {
			h.monitor.RecordFailure(string(e.Type), s.conn.TenantID, "encode")
			continue
		}
		if err := sink.Send(frame); err != nil {
			return nil, err
		}
		s.conn.Delivered(e.ID, h.now())
		sent[e.ID] = struct{}{}
	}

	h.replayed.Add(int64(len(sent)))
	h.monitor.RecordReplay(s.conn.TenantID, s.conn.UserID, len(sent), truncated)
	return sent, nil
}

// Close releases a stream whose Run was never called. It is a no-op after
// Run has returned.
func (s *Stream) Close() {
	s.close(ReasonClientGone)
}

// close unsubscribes, deregisters and accounts for the stream exactly once.
func (s *Stream) close(reason string) {
	s.cleanup.Do(func() {
		h := s.hub
		s.sub.Cancel()
		h.registry.Deregister(s.conn.ID)
		s.conn.Deactivate()
		h.monitor.RecordConnectionClosed(s.conn.TenantID, s.conn.UserID, reason)
		h.streams.Done()
	})
}
