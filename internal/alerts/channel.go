package alerts

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/realtime/internal/model"
)

// Channel tags a notification channel.
type Channel string

const (
	ChannelLog     Channel = "log"
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// AllChannels lists every supported channel tag.
var AllChannels = []Channel{ChannelLog, ChannelEmail, ChannelSlack, ChannelWebhook}

// ParseChannel validates a channel tag.
func ParseChannel(s string) (Channel, error) {
	for _, c := range AllChannels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown alert channel %q", s)
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host       string   `koanf:"smtp_host"`
	Port       int      `koanf:"smtp_port"`
	Username   string   `koanf:"username"`
	Password   string   `koanf:"password"`
	From       string   `koanf:"from"`
	Recipients []string `koanf:"recipients"`
}

// SlackConfig configures an incoming-webhook Slack integration.
type SlackConfig struct {
	WebhookURL string `koanf:"webhook_url"`
	Channel    string `koanf:"channel"`
}

// WebhookConfig configures a generic JSON webhook.
type WebhookConfig struct {
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
}

// ChannelConfig is the per-channel delivery configuration handed to a
// Sender. Only the section matching the channel is read.
type ChannelConfig struct {
	Enabled bool
	Email   EmailConfig
	Slack   SlackConfig
	Webhook WebhookConfig
}

// Sender delivers an alert over one channel.
type Sender interface {
	Send(ctx context.Context, alert model.Alert, cfg ChannelConfig) error
}
