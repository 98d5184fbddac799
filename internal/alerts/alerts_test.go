package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/alfredjeanlab/realtime/internal/model"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []model.Alert
	fail  bool
	calls chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{calls: make(chan struct{}, 16)}
}

func (s *recordingSender) Send(_ context.Context, a model.Alert, _ ChannelConfig) error {
	s.mu.Lock()
	s.sent = append(s.sent, a)
	s.mu.Unlock()
	s.calls <- struct{}{}
	if s.fail {
		return errors.New("unreachable")
	}
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type memHistory struct {
	mu   sync.Mutex
	recs []*model.AlertRecord
}

func (h *memHistory) InsertAlert(_ context.Context, rec *model.AlertRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return nil
}

func (h *memHistory) ListAlerts(context.Context, time.Time, int) ([]*model.AlertRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*model.AlertRecord(nil), h.recs...), nil
}

func (h *memHistory) PurgeAlerts(context.Context, time.Time) (int64, error) { return 0, nil }
func (h *memHistory) Ping(context.Context) error                            { return nil }
func (h *memHistory) Close() error                                          { return nil }

func latencyAlert(ms float64) model.Alert {
	return model.Alert{
		Type:        model.AlertLatencyViolation,
		Severity:    model.SeverityWarning,
		EventType:   "candidate_created",
		TenantID:    "T",
		LatencyMS:   ms,
		ThresholdMS: 1000,
	}
}

func TestManagerCooldown(t *testing.T) {
	Convey("Given an alert manager with a 5 minute cooldown", t, func() {
		m := NewManager(Config{Cooldown: 5 * time.Minute}, nil)
		now := time.Unix(1_700_000_000, 0)
		m.now = func() time.Time { return now }

		Convey("When the same alert type fires repeatedly within the cooldown", func() {
			first := m.Fire(latencyAlert(1500))
			now = now.Add(time.Minute)
			second := m.Fire(latencyAlert(2500))
			now = now.Add(3 * time.Minute)
			third := m.Fire(latencyAlert(3000))

			Convey("Then only the first is accepted", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)
				So(third, ShouldBeFalse)
				So(len(m.queue), ShouldEqual, 1)
			})
		})

		Convey("When the cooldown has elapsed", func() {
			So(m.Fire(latencyAlert(1500)), ShouldBeTrue)
			now = now.Add(5 * time.Minute)

			Convey("Then the alert fires again", func() {
				So(m.Fire(latencyAlert(1500)), ShouldBeTrue)
			})
		})

		Convey("When different alert types fire together", func() {
			a := m.Fire(latencyAlert(1500))
			b := m.Fire(model.Alert{Type: model.AlertHighFailureRate, Severity: model.SeverityCritical})

			Convey("Then each has its own cooldown", func() {
				So(a, ShouldBeTrue)
				So(b, ShouldBeTrue)
			})
		})

		Convey("When a rule is disabled", func() {
			So(m.DisableRule(model.AlertLatencyViolation), ShouldBeTrue)

			Convey("Then its alerts are rejected until re-enabled", func() {
				So(m.Fire(latencyAlert(1500)), ShouldBeFalse)
				So(m.EnableRule(model.AlertLatencyViolation), ShouldBeTrue)
				So(m.Fire(latencyAlert(1500)), ShouldBeTrue)
			})
		})

		Convey("When an unknown rule is toggled or fired", func() {
			Convey("Then nothing happens", func() {
				So(m.DisableRule("nope"), ShouldBeFalse)
				So(m.Fire(model.Alert{Type: "nope"}), ShouldBeFalse)
			})
		})
	})
}

func TestManagerDispatch(t *testing.T) {
	Convey("Given a started manager with log and webhook channels", t, func() {
		logSender := newRecordingSender()
		hookSender := newRecordingSender()
		hookSender.fail = true
		history := &memHistory{}

		m := NewManager(Config{
			Channels: map[Channel]ChannelConfig{ChannelWebhook: {Enabled: true}},
		}, nil,
			WithSender(ChannelLog, logSender),
			WithSender(ChannelWebhook, hookSender),
			WithHistory(history),
		)
		m.Start()

		Convey("When an alert is fired and the manager is stopped", func() {
			So(m.Fire(latencyAlert(2500)), ShouldBeTrue)
			m.Stop()

			Convey("Then every enabled channel was tried and the history records successes", func() {
				So(logSender.count(), ShouldEqual, 1)
				So(hookSender.count(), ShouldEqual, 1)
				So(len(history.recs), ShouldEqual, 1)
				rec := history.recs[0]
				So(rec.Delivered, ShouldBeTrue)
				So(rec.Channels, ShouldResemble, []string{"log"})
				So(strings.HasPrefix(rec.ID, "alr-"), ShouldBeTrue)
				So(rec.Alert.Timestamp.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When an alert is fired after Stop", func() {
			m.Stop()

			Convey("Then it is refused and nothing is dispatched", func() {
				So(m.Fire(latencyAlert(2500)), ShouldBeFalse)
				So(logSender.count(), ShouldEqual, 0)
				So(history.recs, ShouldBeEmpty)
			})
		})
	})
}

func TestRules(t *testing.T) {
	Convey("Given a new manager", t, func() {
		m := NewManager(Config{}, nil)

		Convey("Then the monitor's alert types have default rules", func() {
			rules := m.Rules()
			So(len(rules), ShouldEqual, 3)
			So(rules[0].Name, ShouldEqual, model.AlertHighAverageLatency)
			So(rules[0].Cooldown, ShouldEqual, DefaultCooldown)
			So(rules[0].Enabled, ShouldBeTrue)
		})

		Convey("When a custom rule is added", func() {
			m.AddRule(Rule{Name: "custom", Channels: []Channel{ChannelLog}, Cooldown: time.Second, Enabled: true})

			Convey("Then it can fire", func() {
				So(m.Fire(model.Alert{Type: "custom"}), ShouldBeTrue)
			})
		})
	})
}

func TestParseChannel(t *testing.T) {
	Convey("Given channel tags", t, func() {
		Convey("Then known tags parse and unknown ones fail", func() {
			c, err := ParseChannel("slack")
			So(err, ShouldBeNil)
			So(c, ShouldEqual, ChannelSlack)
			_, err = ParseChannel("pager")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSenders(t *testing.T) {
	Convey("Given the webhook sender and a test server", t, func() {
		var (
			gotBody   map[string]any
			gotHeader string
			status    = http.StatusOK
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeader = r.Header.Get("X-Token")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(status)
		}))
		defer srv.Close()

		s := &WebhookSender{client: srv.Client()}
		cfg := ChannelConfig{Enabled: true, Webhook: WebhookConfig{URL: srv.URL, Headers: map[string]string{"X-Token": "abc"}}}

		Convey("When the endpoint accepts the alert", func() {
			err := s.Send(context.Background(), latencyAlert(1200), cfg)

			Convey("Then the alert is posted with the configured headers", func() {
				So(err, ShouldBeNil)
				So(gotHeader, ShouldEqual, "abc")
				So(gotBody["source"], ShouldEqual, "realtime")
				alert := gotBody["alert"].(map[string]any)
				So(alert["alert_type"], ShouldEqual, model.AlertLatencyViolation)
				So(alert["latency_ms"], ShouldEqual, 1200.0)
			})
		})

		Convey("When the endpoint rejects the alert", func() {
			status = http.StatusBadGateway
			err := s.Send(context.Background(), latencyAlert(1200), cfg)

			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "502")
			})
		})

		Convey("When no URL is configured", func() {
			err := s.Send(context.Background(), latencyAlert(1200), ChannelConfig{Enabled: true})

			Convey("Then the send fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})

	Convey("Given the slack sender", t, func() {
		var msg slackMessage
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&msg)
		}))
		defer srv.Close()

		s := &SlackSender{client: srv.Client()}
		a := latencyAlert(2500)
		a.Severity = model.SeverityCritical

		Convey("When a critical alert is sent", func() {
			err := s.Send(context.Background(), a, ChannelConfig{Slack: SlackConfig{WebhookURL: srv.URL, Channel: "#ops"}})

			Convey("Then the attachment is colored danger", func() {
				So(err, ShouldBeNil)
				So(msg.Channel, ShouldEqual, "#ops")
				So(msg.Attachments, ShouldHaveLength, 1)
				So(msg.Attachments[0].Color, ShouldEqual, "danger")
			})
		})
	})

	Convey("Given the email sender with a stubbed relay", t, func() {
		var (
			gotAddr string
			gotTo   []string
			gotMsg  string
		)
		s := &EmailSender{sendMail: func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
			gotAddr, gotTo, gotMsg = addr, to, string(msg)
			return nil
		}}

		Convey("When recipients are configured", func() {
			err := s.Send(context.Background(), latencyAlert(1500), ChannelConfig{Email: EmailConfig{
				Host: "smtp.example.com", From: "alerts@example.com", Recipients: []string{" ops@example.com ", ""},
			}})

			Convey("Then the mail goes to the cleaned recipient list on the default port", func() {
				So(err, ShouldBeNil)
				So(gotAddr, ShouldEqual, "smtp.example.com:587")
				So(gotTo, ShouldResemble, []string{"ops@example.com"})
				So(gotMsg, ShouldContainSubstring, "Subject: [WARNING] Realtime alert: sse_latency_violation")
			})
		})

		Convey("When the host is missing", func() {
			err := s.Send(context.Background(), latencyAlert(1500), ChannelConfig{Email: EmailConfig{Recipients: []string{"a@b.c"}}})

			Convey("Then the send fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestTestChannel(t *testing.T) {
	Convey("Given a manager with a recording log sender", t, func() {
		sender := newRecordingSender()
		m := NewManager(Config{}, nil, WithSender(ChannelLog, sender))

		Convey("When the log channel is tested", func() {
			err := m.TestChannel(context.Background(), ChannelLog)

			Convey("Then a test alert is sent directly", func() {
				So(err, ShouldBeNil)
				So(sender.count(), ShouldEqual, 1)
				So(sender.sent[0].Type, ShouldEqual, model.AlertTest)
			})
		})

		Convey("When an unconfigured channel is tested", func() {
			err := m.TestChannel(context.Background(), ChannelSlack)

			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
