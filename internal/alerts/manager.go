// Package alerts routes monitor alerts to notification channels with
// per-rule cooldowns.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/realtime/internal/idgen"
	"github.com/alfredjeanlab/realtime/internal/metrics"
	"github.com/alfredjeanlab/realtime/internal/model"
	"github.com/alfredjeanlab/realtime/internal/store"
)

// Defaults applied when Config fields are zero.
const (
	DefaultCooldown    = 5 * time.Minute
	DefaultQueueSize   = 256
	DefaultSendTimeout = 10 * time.Second
)

// Rule gates one alert type. At most one alert per rule is dispatched
// within Cooldown.
type Rule struct {
	Name      string        `json:"name"`
	Channels  []Channel     `json:"channels"`
	Cooldown  time.Duration `json:"cooldown"`
	Enabled   bool          `json:"enabled"`
	LastFired time.Time     `json:"last_fired,omitzero"`
}

// Config configures a Manager.
type Config struct {
	Cooldown    time.Duration
	QueueSize   int
	SendTimeout time.Duration
	Channels    map[Channel]ChannelConfig
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHistory persists every dispatched alert.
func WithHistory(s store.AlertStore) Option {
	return func(m *Manager) { m.history = s }
}

// WithMetrics counts fired alerts.
func WithMetrics(mm *metrics.Manager) Option {
	return func(m *Manager) { m.metrics = mm }
}

// WithSender replaces the sender for a channel.
func WithSender(ch Channel, s Sender) Option {
	return func(m *Manager) { m.senders[ch] = s }
}

// Manager owns alert rules and dispatches accepted alerts asynchronously.
type Manager struct {
	logger  *slog.Logger
	metrics *metrics.Manager
	history store.AlertStore
	senders map[Channel]Sender
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	rules   map[string]*Rule
	configs map[Channel]ChannelConfig

	queue chan model.Alert
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewManager builds a Manager with the default rule set for the monitor's
// alert types.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: cfg.SendTimeout}
	m := &Manager{
		logger:  logger,
		timeout: cfg.SendTimeout,
		now:     time.Now,
		senders: map[Channel]Sender{
			ChannelLog:     &LogSender{logger: logger},
			ChannelEmail:   &EmailSender{},
			ChannelSlack:   &SlackSender{client: client},
			ChannelWebhook: &WebhookSender{client: client},
		},
		rules:   make(map[string]*Rule),
		configs: map[Channel]ChannelConfig{ChannelLog: {Enabled: true}},
		queue:   make(chan model.Alert, cfg.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for ch, c := range cfg.Channels {
		m.configs[ch] = c
	}
	for _, name := range []string{model.AlertLatencyViolation, model.AlertHighAverageLatency, model.AlertHighFailureRate} {
		m.rules[name] = &Rule{Name: name, Channels: AllChannels, Cooldown: cfg.Cooldown, Enabled: true}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fire accepts a for dispatch unless the manager is stopped or its rule
// is unknown, disabled, or still cooling down. It never blocks; alerts
// arriving while the queue is full are dropped.
func (m *Manager) Fire(a model.Alert) bool {
	select {
	case <-m.stop:
		m.logger.Debug("alerts: manager stopped, dropping alert", "alert_type", a.Type)
		return false
	default:
	}

	m.mu.Lock()
	rule, ok := m.rules[a.Type]
	if !ok || !rule.Enabled {
		m.mu.Unlock()
		m.logger.Debug("alerts: rule missing or disabled", "alert_type", a.Type)
		return false
	}
	now := m.now()
	if !rule.LastFired.IsZero() && now.Sub(rule.LastFired) < rule.Cooldown {
		m.mu.Unlock()
		return false
	}
	rule.LastFired = now
	m.mu.Unlock()

	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	m.metrics.AlertFired(a.Type, string(a.Severity))

	select {
	case m.queue <- a:
		return true
	default:
		m.logger.Warn("alerts: dispatch queue full, dropping alert", "alert_type", a.Type)
		return false
	}
}

// Start runs the dispatch worker until Stop.
func (m *Manager) Start() {
	go m.run()
	m.logger.Info("alerts: dispatcher started", "rules", len(m.rules))
}

// Stop delivers alerts already queued and stops the worker.
func (m *Manager) Stop() {
	m.once.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case a := <-m.queue:
			m.dispatch(a)
		case <-m.stop:
			for {
				select {
				case a := <-m.queue:
					m.dispatch(a)
				default:
					return
				}
			}
		}
	}
}

// dispatch sends a to every enabled channel of its rule and records it.
func (m *Manager) dispatch(a model.Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alerts: panic during dispatch", "alert_type", a.Type, "panic", r)
		}
	}()

	m.mu.Lock()
	var channels []Channel
	if rule, ok := m.rules[a.Type]; ok {
		channels = append(channels, rule.Channels...)
	}
	configs := make(map[Channel]ChannelConfig, len(m.configs))
	for k, v := range m.configs {
		configs[k] = v
	}
	m.mu.Unlock()

	var sent []string
	for _, ch := range channels {
		cfg, ok := configs[ch]
		if !ok || !cfg.Enabled {
			continue
		}
		sender, ok := m.senders[ch]
		if !ok {
			m.logger.Error("alerts: no sender for channel", "channel", ch)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		err := sender.Send(ctx, a, cfg)
		cancel()
		if err != nil {
			m.logger.Warn("alerts: failed to deliver alert", "alert_type", a.Type, "channel", ch, "err", err)
			continue
		}
		sent = append(sent, string(ch))
	}

	m.logger.Info("alerts: alert processed", "alert_type", a.Type, "severity", a.Severity,
		"notifications_sent", len(sent), "total_channels", len(channels))
	m.record(a, sent)
}

func (m *Manager) record(a model.Alert, sent []string) {
	if m.history == nil {
		return
	}
	id, err := idgen.AlertID()
	if err != nil {
		m.logger.Warn("alerts: generating history id", "err", err)
		return
	}
	if sent == nil {
		sent = []string{}
	}
	rec := &model.AlertRecord{
		ID:        id,
		Alert:     a,
		Channels:  sent,
		Delivered: len(sent) > 0,
		CreatedAt: m.now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.history.InsertAlert(ctx, rec); err != nil {
		m.logger.Warn("alerts: recording alert history", "alert_type", a.Type, "err", err)
	}
}

// AddRule adds or replaces a rule.
func (m *Manager) AddRule(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.Name] = &r
}

// EnableRule enables the named rule. It reports whether the rule exists.
func (m *Manager) EnableRule(name string) bool {
	return m.setEnabled(name, true)
}

// DisableRule disables the named rule. It reports whether the rule exists.
func (m *Manager) DisableRule(name string) bool {
	return m.setEnabled(name, false)
}

func (m *Manager) setEnabled(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[name]
	if !ok {
		return false
	}
	rule.Enabled = enabled
	m.logger.Info("alerts: rule updated", "rule", name, "enabled", enabled)
	return true
}

// Rules returns a copy of the rules sorted by name.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		cp.Channels = append([]Channel(nil), r.Channels...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetChannelConfig replaces the configuration of one channel.
func (m *Manager) SetChannelConfig(ch Channel, cfg ChannelConfig) {
	m.mu.Lock()
	m.configs[ch] = cfg
	m.mu.Unlock()
}

// TestChannel sends a synthetic info alert over ch, bypassing rules.
func (m *Manager) TestChannel(ctx context.Context, ch Channel) error {
	m.mu.Lock()
	cfg, ok := m.configs[ch]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel %s is not configured", ch)
	}
	sender, ok := m.senders[ch]
	if !ok {
		return fmt.Errorf("no sender for channel %s", ch)
	}
	a := model.Alert{
		Type:      model.AlertTest,
		Severity:  model.SeverityInfo,
		Message:   "This is a test alert to verify notification configuration",
		Timestamp: m.now(),
	}
	err := sender.Send(ctx, a, cfg)
	m.logger.Info("alerts: channel test completed", "channel", ch, "success", err == nil)
	return err
}
