package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "REALTIME_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if REALTIME_CONFIG is set
//  3. env (prefix REALTIME_)
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrLoadConfig, path, err)
		}
	}

	// REALTIME_ALERT_COOLDOWN -> alert_cooldown (flat keys).
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return invalid("http_addr must not be empty")
	}
	if c.NATSURL != "" && c.EmbeddedNATS {
		return invalid("nats_url and embedded_nats are mutually exclusive")
	}
	for name, d := range map[string]time.Duration{
		"heartbeat_interval": c.HeartbeatInterval,
		"event_retention":    c.EventRetention,
		"store_timeout":      c.StoreTimeout,
		"latency_threshold":  c.LatencyThreshold,
		"alert_cooldown":     c.AlertCooldown,
		"sample_retention":   c.SampleRetention,
		"monitor_interval":   c.MonitorInterval,
	} {
		if d <= 0 {
			return invalid("%s must be positive, got %s", name, d)
		}
	}
	if c.LatencyCriticalThreshold < c.LatencyThreshold {
		return invalid("latency_critical_threshold (%s) must not be below latency_threshold (%s)",
			c.LatencyCriticalThreshold, c.LatencyThreshold)
	}
	if c.MaxMissedEvents <= 0 {
		return invalid("max_missed_events must be positive, got %d", c.MaxMissedEvents)
	}
	if c.MaxSamples <= 0 {
		return invalid("max_samples must be positive, got %d", c.MaxSamples)
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		return invalid("failure_rate_threshold must be in (0, 1], got %g", c.FailureRateThreshold)
	}
	if c.ExportInterval < 0 {
		return invalid("export_interval must not be negative")
	}
	if c.AlertHistoryRetention < 0 {
		return invalid("alert_history_retention must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
