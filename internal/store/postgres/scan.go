package postgres

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanAlert scans a single row into a model.AlertRecord.
// The row must contain columns in the order defined by alertColumns.
func scanAlert(row scannable) (*model.AlertRecord, error) {
	var (
		rec       model.AlertRecord
		severity  string
		eventType sql.NullString
		tenantID  sql.NullString
		channels  pq.StringArray
	)
	err := row.Scan(
		&rec.ID,
		&rec.Alert.Type,
		&severity,
		&rec.Alert.Message,
		&eventType,
		&tenantID,
		&rec.Alert.LatencyMS,
		&rec.Alert.ThresholdMS,
		&rec.Alert.Timestamp,
		&channels,
		&rec.Delivered,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Alert.Severity = model.Severity(severity)
	rec.Alert.EventType = eventType.String
	rec.Alert.TenantID = tenantID.String
	rec.Channels = []string(channels)
	return &rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
