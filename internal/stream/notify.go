package stream

import (
	"context"
	"log/slog"
	"maps"
	"sort"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// Publisher is the publish side of a Hub.
type Publisher interface {
	Publish(ctx context.Context, eventType model.EventType, payload map[string]any, tenantID, applicationID string) bool
}

// Notifier builds the payloads of the business events published by the
// application and candidate services.
type Notifier struct {
	pub    Publisher
	logger *slog.Logger
}

// NewNotifier wraps pub. A nil logger uses slog.Default().
func NewNotifier(pub Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, logger: logger}
}

// StatusChange describes an application moving between pipeline stages.
type StatusChange struct {
	TenantID      string
	ApplicationID string
	CandidateID   string
	CandidateName string
	OldStatus     string
	NewStatus     string
	ChangedBy     string
	Extra         map[string]any
}

func (n *Notifier) ApplicationStatusChanged(ctx context.Context, c StatusChange) bool {
	return n.publish(ctx, model.EventApplicationStatusChanged, c.TenantID, c.ApplicationID, map[string]any{
		"application_id": c.ApplicationID,
		"candidate_id":   c.CandidateID,
		"candidate_name": c.CandidateName,
		"old_status":     c.OldStatus,
		"new_status":     c.NewStatus,
		"changed_by":     c.ChangedBy,
		"change_type":    "status_change",
	}, c.Extra, "old_status", c.OldStatus, "new_status", c.NewStatus)
}

// NewApplication describes a freshly created application.
type NewApplication struct {
	TenantID      string
	ApplicationID string
	CandidateID   string
	CandidateName string
	Status        string
	CreatedBy     string
	Extra         map[string]any
}

func (n *Notifier) ApplicationCreated(ctx context.Context, a NewApplication) bool {
	return n.publish(ctx, model.EventApplicationCreated, a.TenantID, a.ApplicationID, map[string]any{
		"application_id": a.ApplicationID,
		"candidate_id":   a.CandidateID,
		"candidate_name": a.CandidateName,
		"status":         a.Status,
		"created_by":     a.CreatedBy,
		"change_type":    "created",
	}, a.Extra, "candidate_name", a.CandidateName)
}

// Flag describes an application flagged for review. An empty FlaggedBy
// means the system raised the flag.
type Flag struct {
	TenantID      string
	ApplicationID string
	CandidateID   string
	CandidateName string
	Reason        string
	FlaggedBy     string
	Extra         map[string]any
}

func (n *Notifier) ApplicationFlagged(ctx context.Context, f Flag) bool {
	by := f.FlaggedBy
	if by == "" {
		by = "system"
	}
	return n.publish(ctx, model.EventApplicationFlagged, f.TenantID, f.ApplicationID, map[string]any{
		"application_id": f.ApplicationID,
		"candidate_id":   f.CandidateID,
		"candidate_name": f.CandidateName,
		"flag_reason":    f.Reason,
		"flagged_by":     by,
		"change_type":    "flagged",
	}, f.Extra, "flag_reason", f.Reason)
}

// NewCandidate describes a freshly created candidate.
type NewCandidate struct {
	TenantID    string
	CandidateID string
	Name        string
	Email       string
	CreatedBy   string
	Extra       map[string]any
}

func (n *Notifier) CandidateCreated(ctx context.Context, c NewCandidate) bool {
	return n.publish(ctx, model.EventCandidateCreated, c.TenantID, "", map[string]any{
		"candidate_id":    c.CandidateID,
		"candidate_name":  c.Name,
		"candidate_email": c.Email,
		"created_by":      c.CreatedBy,
		"change_type":     "created",
	}, c.Extra, "candidate_id", c.CandidateID)
}

// CandidateChange describes edited candidate fields.
type CandidateChange struct {
	TenantID    string
	CandidateID string
	Name        string
	Changes     map[string]any
	UpdatedBy   string
	Extra       map[string]any
}

func (n *Notifier) CandidateUpdated(ctx context.Context, c CandidateChange) bool {
	fields := make([]string, 0, len(c.Changes))
	for k := range c.Changes {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return n.publish(ctx, model.EventCandidateUpdated, c.TenantID, "", map[string]any{
		"candidate_id":   c.CandidateID,
		"candidate_name": c.Name,
		"changes":        c.Changes,
		"updated_by":     c.UpdatedBy,
		"change_type":    "updated",
	}, c.Extra, "changes", fields)
}

// ResumeResult describes the outcome of resume parsing.
type ResumeResult struct {
	TenantID         string
	CandidateID      string
	CandidateName    string
	ResumeID         string
	Status           string
	ProcessingTimeMS float64
	UsedOCR          bool
	Extra            map[string]any
}

func (n *Notifier) ResumeProcessed(ctx context.Context, r ResumeResult) bool {
	return n.publish(ctx, model.EventResumeProcessed, r.TenantID, "", map[string]any{
		"candidate_id":       r.CandidateID,
		"candidate_name":     r.CandidateName,
		"resume_id":          r.ResumeID,
		"processing_status":  r.Status,
		"processing_time_ms": r.ProcessingTimeMS,
		"used_ocr":           r.UsedOCR,
		"change_type":        "resume_processed",
	}, r.Extra, "processing_status", r.Status)
}

// SystemNotice is an operational message shown to a tenant's users.
type SystemNotice struct {
	TenantID  string
	AlertType string
	Level     string
	Message   string
	Extra     map[string]any
}

func (n *Notifier) SystemAlert(ctx context.Context, s SystemNotice) bool {
	return n.publish(ctx, model.EventSystemAlert, s.TenantID, "", map[string]any{
		"alert_type":  s.AlertType,
		"alert_level": s.Level,
		"message":     s.Message,
		"change_type": "system_alert",
	}, s.Extra, "alert_type", s.AlertType, "alert_level", s.Level)
}

// publish merges extra over payload and publishes it. Extra keys win.
func (n *Notifier) publish(ctx context.Context, typ model.EventType, tenantID, applicationID string, payload, extra map[string]any, attrs ...any) bool {
	maps.Copy(payload, extra)
	ok := n.pub.Publish(ctx, typ, payload, tenantID, applicationID)
	attrs = append([]any{"event_type", typ, "tenant", tenantID}, attrs...)
	if applicationID != "" {
		attrs = append(attrs, "application_id", applicationID)
	}
	if ok {
		n.logger.Info("notify: event published", attrs...)
	} else {
		n.logger.Error("notify: event not published", attrs...)
	}
	return ok
}
