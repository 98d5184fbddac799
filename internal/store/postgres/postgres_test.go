package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var alertRowColumns = []string{
	"id", "alert_type", "severity", "message", "event_type", "tenant_id",
	"latency_ms", "threshold_ms", "fired_at", "channels", "delivered", "created_at",
}

func sampleRecord(now time.Time) *model.AlertRecord {
	return &model.AlertRecord{
		ID: "alr-abc",
		Alert: model.Alert{
			Type:        model.AlertLatencyViolation,
			Severity:    model.SeverityCritical,
			Message:     "SSE latency violation: 2500.00ms > 1000ms",
			EventType:   "candidate_created",
			TenantID:    "T",
			LatencyMS:   2500,
			ThresholdMS: 1000,
			Timestamp:   now,
		},
		Channels:  []string{"log", "slack"},
		Delivered: true,
		CreatedAt: now,
	}
}

func TestInsertAlert(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := sampleRecord(now)

	mock.ExpectExec("INSERT INTO alert_history").
		WithArgs("alr-abc", model.AlertLatencyViolation, "critical", rec.Alert.Message,
			sql.NullString{String: "candidate_created", Valid: true},
			sql.NullString{String: "T", Valid: true},
			2500.0, 1000.0, now, pq.Array([]string{"log", "slack"}), true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.InsertAlert(context.Background(), rec); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
}

func TestInsertAlert_Error(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectExec("INSERT INTO alert_history").WillReturnError(errors.New("boom"))

	err := s.InsertAlert(context.Background(), sampleRecord(time.Now()))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestListAlerts(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	since := now.Add(-time.Hour)

	rows := sqlmock.NewRows(alertRowColumns).
		AddRow("alr-1", model.AlertHighFailureRate, "critical", "failure rate", nil, nil,
			0.0, 0.05, now, "{log}", true, now).
		AddRow("alr-2", model.AlertLatencyViolation, "warning", "slow", "resume_processed", "T",
			1200.0, 1000.0, now, "{log,webhook}", false, now)
	mock.ExpectQuery("SELECT .+ FROM alert_history WHERE created_at >= \\$1 ORDER BY created_at, id LIMIT \\$2").
		WithArgs(since, 50).
		WillReturnRows(rows)

	recs, err := s.ListAlerts(context.Background(), since, 50)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Alert.TenantID != "" || recs[0].Alert.Severity != model.SeverityCritical {
		t.Errorf("first record = %+v", recs[0].Alert)
	}
	if recs[1].Alert.EventType != "resume_processed" || len(recs[1].Channels) != 2 || recs[1].Channels[1] != "webhook" {
		t.Errorf("second record = %+v", recs[1])
	}
}

func TestListAlerts_NoLimit(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	since := time.Unix(0, 0)

	mock.ExpectQuery("SELECT .+ FROM alert_history WHERE created_at >= \\$1 ORDER BY created_at, id$").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))

	recs, err := s.ListAlerts(context.Background(), since, 0)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}

func TestPurgeAlerts(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM alert_history WHERE created_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.PurgeAlerts(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeAlerts: %v", err)
	}
	if n != 7 {
		t.Errorf("purged %d, want 7", n)
	}
}
