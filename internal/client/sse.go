package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxFrameLine bounds a single SSE line.
const maxFrameLine = 1 << 20

// Frame is one server-sent event.
type Frame struct {
	ID    string
	Event string
	Data  []byte
}

// Control frame types sent by the server without an event name.
const (
	TypeConnected = "connected"
	TypeHeartbeat = "heartbeat"
)

// Message is the decoded data of a frame. Event frames fill Data, Sequence
// and ApplicationID; control frames fill ConnectionID.
type Message struct {
	Type          string         `json:"type"`
	ConnectionID  string         `json:"connection_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     int64          `json:"timestamp"`
	Sequence      int64          `json:"sequence"`
	ApplicationID *string        `json:"application_id"`
}

// IsControl reports whether m is a connected or heartbeat frame.
func (m Message) IsControl() bool {
	return m.Type == TypeConnected || m.Type == TypeHeartbeat
}

// Decode parses the frame's JSON data.
func (f Frame) Decode() (Message, error) {
	var m Message
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding frame data: %w", err)
	}
	return m, nil
}

// FrameReader parses an SSE byte stream into frames.
type FrameReader struct {
	sc *bufio.Scanner
}

// NewFrameReader returns a FrameReader reading from r.
func NewFrameReader(r io.Reader) *FrameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxFrameLine)
	return &FrameReader{sc: sc}
}

// Next returns the next complete frame. It returns io.EOF when the stream
// ends cleanly; a trailing frame without its blank line is discarded.
func (r *FrameReader) Next() (Frame, error) {
	var (
		f       Frame
		data    [][]byte
		hasData bool
	)
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			if !hasData && f.Event == "" && f.ID == "" {
				continue
			}
			f.Data = bytes.Join(data, []byte("\n"))
			return f, nil
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := strings.Cut(string(line), ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			f.ID = value
		case "event":
			f.Event = value
		case "data":
			data = append(data, []byte(value))
			hasData = true
		}
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// Stream is an open event stream.
type Stream struct {
	body io.ReadCloser
	*FrameReader
}

// Close ends the stream.
func (s *Stream) Close() error { return s.body.Close() }

// OpenStream connects to the caller's tenant stream. A non-empty
// lastEventID asks the server to replay what was missed after it.
func (c *HTTPClient) OpenStream(ctx context.Context, lastEventID string) (*Stream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/events/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, apiError(resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("opening stream: unexpected content type %q", ct)
	}
	return &Stream{body: resp.Body, FrameReader: NewFrameReader(resp.Body)}, nil
}
