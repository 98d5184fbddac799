package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// Frame is one Server-Sent Events message. ID and Event are omitted from
// the wire form when empty. Data must be a single line.
type Frame struct {
	ID    string
	Event string
	Data  []byte
}

// WriteTo encodes the frame, including its blank-line terminator.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var total int64
	write := func(format string, args ...any) error {
		n, err := fmt.Fprintf(w, format, args...)
		total += int64(n)
		return err
	}
	if f.ID != "" {
		if err := write("id: %s\n", f.ID); err != nil {
			return total, err
		}
	}
	if f.Event != "" {
		if err := write("event: %s\n", f.Event); err != nil {
			return total, err
		}
	}
	err := write("data: %s\n\n", f.Data)
	return total, err
}

// eventData is the data line of an event frame.
type eventData struct {
	Type          model.EventType `json:"type"`
	Data          map[string]any  `json:"data"`
	Timestamp     int64           `json:"timestamp"`
	Sequence      int64           `json:"sequence"`
	ApplicationID *string         `json:"application_id"`
}

// EventFrame renders a business event. The frame ID is the event ID so
// that clients resume from it with Last-Event-ID.
func EventFrame(e *model.Event) (Frame, error) {
	d := eventData{
		Type:      e.Type,
		Data:      e.Payload,
		Timestamp: e.PublishedAt.UnixMilli(),
		Sequence:  e.Sequence,
	}
	if e.ApplicationID != "" {
		app := e.ApplicationID
		d.ApplicationID = &app
	}
	data, err := json.Marshal(d)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding event %s: %w", e.ID, err)
	}
	return Frame{ID: e.ID, Event: string(e.Type), Data: data}, nil
}

type controlData struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Timestamp    int64  `json:"timestamp"`
}

// ConnectedFrame is the first frame of every stream.
func ConnectedFrame(connectionID string, now time.Time) Frame {
	return controlFrame("connected", connectionID, now)
}

// HeartbeatFrame carries no id line and no sequence.
func HeartbeatFrame(connectionID string, now time.Time) Frame {
	return controlFrame("heartbeat", connectionID, now)
}

func controlFrame(typ, connectionID string, now time.Time) Frame {
	// Marshalling a struct of strings and ints cannot fail.
	data, _ := json.Marshal(controlData{Type: typ, ConnectionID: connectionID, Timestamp: now.UnixMilli()})
	return Frame{Data: data}
}

// Sink receives the frames of one stream. Send returns an error once the
// client can no longer be written to.
type Sink interface {
	Send(f Frame) error
}

// WriterSink adapts an io.Writer, flushing after every frame when the
// writer supports it.
type WriterSink struct {
	W     io.Writer
	Flush func() error
}

func (s *WriterSink) Send(f Frame) error {
	if _, err := f.WriteTo(s.W); err != nil {
		return err
	}
	if s.Flush != nil {
		return s.Flush()
	}
	return nil
}
