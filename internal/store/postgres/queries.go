package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// alertColumns is the column list used for SELECT statements on alert_history.
const alertColumns = `id, alert_type, severity, message, event_type, tenant_id,
	latency_ms, threshold_ms, fired_at, channels, delivered, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryInsertAlert(ctx context.Context, db executor, rec *model.AlertRecord) error {
	a := rec.Alert
	_, err := db.ExecContext(ctx, `
		INSERT INTO alert_history (
			id, alert_type, severity, message, event_type, tenant_id,
			latency_ms, threshold_ms, fired_at, channels, delivered, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID,
		a.Type,
		string(a.Severity),
		a.Message,
		nullString(a.EventType),
		nullString(a.TenantID),
		a.LatencyMS,
		a.ThresholdMS,
		a.Timestamp,
		pq.Array(rec.Channels),
		rec.Delivered,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", rec.ID, err)
	}
	return nil
}

func queryListAlerts(ctx context.Context, db executor, since time.Time, limit int) ([]*model.AlertRecord, error) {
	q := `SELECT ` + alertColumns + ` FROM alert_history WHERE created_at >= $1 ORDER BY created_at, id`
	args := []any{since}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*model.AlertRecord
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func queryPurgeAlerts(ctx context.Context, db executor, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM alert_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge alerts: rows affected: %w", err)
	}
	return n, nil
}
