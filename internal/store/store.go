package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// AlertStore persists the history of fired alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, rec *model.AlertRecord) error
	// ListAlerts returns records created at or after since, oldest first.
	// A limit <= 0 means no limit.
	ListAlerts(ctx context.Context, since time.Time, limit int) ([]*model.AlertRecord, error)
	// PurgeAlerts deletes records created before cutoff.
	PurgeAlerts(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
