package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// Defaults applied when FollowConfig fields are zero.
const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// Delivery is one frame handed to a follow callback.
type Delivery struct {
	Frame   Frame
	Message Message
	// Gap is the number of sequence values skipped before this event in its
	// scope. It is zero for control frames and contiguous events.
	Gap int64
}

// FollowConfig configures Follow.
type FollowConfig struct {
	// LastEventID resumes after a previously seen event.
	LastEventID string
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Logger      *slog.Logger
}

// Follow streams the caller's events into fn until ctx is done or fn
// returns an error. Dropped connections are reopened with the last seen
// event ID so that the server replays what was missed. Client errors other
// than 429 end the follow immediately.
func (c *HTTPClient) Follow(ctx context.Context, cfg FollowConfig, fn func(Delivery) error) error {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.MinBackoff)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	lastID := cfg.LastEventID
	gaps := NewGapDetector()
	backoff := cfg.MinBackoff
	for {
		st, err := c.OpenStream(ctx, lastID)
		if err == nil {
			var received bool
			received, err = consume(st, gaps, &lastID, fn)
			st.Close()
			var cbErr *callbackError
			if errors.As(err, &cbErr) {
				return cbErr.err
			}
			if received {
				backoff = cfg.MinBackoff
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if permanent(err) {
			return err
		}

		cfg.Logger.Warn("client: stream interrupted, reconnecting",
			"last_event_id", lastID, "backoff", backoff, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, cfg.MaxBackoff)
	}
}

// callbackError carries an error returned by the follow callback.
type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }

// consume reads frames until the stream fails. It reports whether any frame
// arrived so that the caller can reset its backoff.
func consume(st *Stream, gaps *GapDetector, lastID *string, fn func(Delivery) error) (bool, error) {
	received := false
	for {
		f, err := st.Next()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return received, err
		}
		received = true

		msg, err := f.Decode()
		if err != nil {
			continue
		}
		d := Delivery{Frame: f, Message: msg}
		if !msg.IsControl() {
			scope := model.GlobalScope
			if msg.ApplicationID != nil {
				scope = model.ScopeOf(*msg.ApplicationID)
			}
			d.Gap = gaps.Observe(scope, msg.Sequence)
			if f.ID != "" {
				*lastID = f.ID
			}
		}
		if err := fn(d); err != nil {
			return received, &callbackError{err: err}
		}
	}
}

func permanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
}

// GapDetector tracks the highest sequence seen per scope.
type GapDetector struct {
	last map[string]int64
}

func NewGapDetector() *GapDetector {
	return &GapDetector{last: make(map[string]int64)}
}

// Observe records seq for scope and returns how many values were skipped
// since the previous observation. The first observation of a scope, a
// repeat, and a value below the highest seen all return zero.
func (g *GapDetector) Observe(scope string, seq int64) int64 {
	prev, ok := g.last[scope]
	if !ok {
		g.last[scope] = seq
		return 0
	}
	if seq <= prev {
		return 0
	}
	g.last[scope] = seq
	return seq - prev - 1
}
