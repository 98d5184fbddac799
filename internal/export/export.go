// Package export periodically writes the alert history as JSONL to
// external destinations.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/realtime/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Since      time.Time `json:"since"`
	AlertCount int       `json:"alert_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every alert recorded at or after since as JSONL to w.
// Alerts are ordered by creation time, then ID.
func ExportJSONL(ctx context.Context, s store.AlertStore, since, now time.Time, w io.Writer) error {
	recs, err := s.ListAlerts(ctx, since, 0)
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  now.UTC(),
		Since:      since.UTC(),
		AlertCount: len(recs),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, r := range recs {
		if err := enc.Encode(record{Type: "alert", Data: r}); err != nil {
			return fmt.Errorf("encode alert %s: %w", r.ID, err)
		}
	}
	return nil
}
