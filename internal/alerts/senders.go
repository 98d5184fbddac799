package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// LogSender writes alerts to the structured log.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, a model.Alert, _ ChannelConfig) error {
	level := slog.LevelWarn
	if a.Severity == model.SeverityCritical {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "alert: "+a.Message,
		"alert_type", a.Type,
		"severity", a.Severity,
		"event_type", a.EventType,
		"tenant", a.TenantID,
		"latency_ms", a.LatencyMS,
		"threshold_ms", a.ThresholdMS)
	return nil
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender mails alerts through an SMTP relay.
type EmailSender struct {
	sendMail sendMailFunc
}

func (s *EmailSender) Send(_ context.Context, a model.Alert, cfg ChannelConfig) error {
	ec := cfg.Email
	recipients := sanitizeRecipients(ec.Recipients)
	if len(recipients) == 0 {
		return nil
	}
	host := strings.TrimSpace(ec.Host)
	from := strings.TrimSpace(ec.From)
	if host == "" {
		return fmt.Errorf("smtp_host is required for email alerts")
	}
	if from == "" {
		return fmt.Errorf("from is required for email alerts")
	}
	port := ec.Port
	if port == 0 {
		port = 587
	}

	subject := fmt.Sprintf("[%s] Realtime alert: %s", strings.ToUpper(string(a.Severity)), a.Type)

	body := strings.Builder{}
	body.WriteString(a.Message)
	body.WriteString("\n\n")
	fmt.Fprintf(&body, "Severity: %s\n", a.Severity)
	if a.EventType != "" {
		fmt.Fprintf(&body, "Event type: %s\n", a.EventType)
	}
	if a.TenantID != "" {
		fmt.Fprintf(&body, "Tenant: %s\n", a.TenantID)
	}
	if a.ThresholdMS > 0 {
		fmt.Fprintf(&body, "Latency: %.2fms (threshold %.0fms)\n", a.LatencyMS, a.ThresholdMS)
	}
	fmt.Fprintf(&body, "Triggered: %s\n", a.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		from, strings.Join(recipients, ","), subject)

	var auth smtp.Auth
	if ec.Username != "" {
		auth = smtp.PlainAuth("", ec.Username, ec.Password, host)
	}
	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(fmt.Sprintf("%s:%d", host, port), auth, from, recipients, []byte(headers+body.String())); err != nil {
		return fmt.Errorf("sending alert mail: %w", err)
	}
	return nil
}

func sanitizeRecipients(recipients []string) []string {
	var cleaned []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return cleaned
}

// SlackSender posts alerts to a Slack incoming webhook.
type SlackSender struct {
	client *http.Client
}

var slackColors = map[model.Severity]string{
	model.SeverityInfo:     "good",
	model.SeverityWarning:  "warning",
	model.SeverityCritical: "danger",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
	TS     int64        `json:"ts"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *SlackSender) Send(ctx context.Context, a model.Alert, cfg ChannelConfig) error {
	if cfg.Slack.WebhookURL == "" {
		return fmt.Errorf("slack webhook_url is not configured")
	}
	color, ok := slackColors[a.Severity]
	if !ok {
		color = "warning"
	}
	fields := []slackField{
		{Title: "Severity", Value: string(a.Severity), Short: true},
		{Title: "Event type", Value: a.EventType, Short: true},
	}
	if a.ThresholdMS > 0 {
		fields = append(fields,
			slackField{Title: "Threshold", Value: fmt.Sprintf("%.0fms", a.ThresholdMS), Short: true},
			slackField{Title: "Current value", Value: fmt.Sprintf("%.2fms", a.LatencyMS), Short: true})
	}
	fields = append(fields, slackField{Title: "Message", Value: a.Message, Short: false})
	msg := slackMessage{
		Text:    "Realtime alert: " + a.Type,
		Channel: cfg.Slack.Channel,
		Attachments: []slackAttachment{{
			Color:  color,
			Fields: fields,
			TS:     a.Timestamp.Unix(),
		}},
	}
	return postJSON(ctx, s.client, cfg.Slack.WebhookURL, nil, msg)
}

// WebhookSender posts the alert as JSON to an arbitrary endpoint.
type WebhookSender struct {
	client *http.Client
}

type webhookPayload struct {
	Alert     model.Alert `json:"alert"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
}

func (s *WebhookSender) Send(ctx context.Context, a model.Alert, cfg ChannelConfig) error {
	if cfg.Webhook.URL == "" {
		return fmt.Errorf("webhook url is not configured")
	}
	payload := webhookPayload{Alert: a, Timestamp: time.Now().UTC(), Source: "realtime"}
	return postJSON(ctx, s.client, cfg.Webhook.URL, cfg.Webhook.Headers, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("posting to %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
