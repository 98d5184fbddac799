package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alfredjeanlab/realtime/internal/alerts"
	"github.com/alfredjeanlab/realtime/internal/config"
	"github.com/alfredjeanlab/realtime/internal/events"
	"github.com/alfredjeanlab/realtime/internal/export"
	"github.com/alfredjeanlab/realtime/internal/metrics"
	"github.com/alfredjeanlab/realtime/internal/monitor"
	"github.com/alfredjeanlab/realtime/internal/presence"
	"github.com/alfredjeanlab/realtime/internal/replay"
	"github.com/alfredjeanlab/realtime/internal/sequence"
	"github.com/alfredjeanlab/realtime/internal/server"
	"github.com/alfredjeanlab/realtime/internal/store"
	"github.com/alfredjeanlab/realtime/internal/store/postgres"
	"github.com/alfredjeanlab/realtime/internal/stream"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/health"
)

const (
	eventsBucket    = "realtime_events"
	sequencesBucket = "realtime_sequences"
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the real-time event server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an HTTP client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, os.Stderr)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, logger)
	},
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.LevelVar
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: &level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// backends are the bus and stores the hub runs on.
type backends struct {
	bus      events.Bus
	events   events.KV
	counters events.Counter
	checks   map[string]events.Pinger
	// nativeTTL is set when the event store expires entries itself.
	nativeTTL bool
	closers   []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends connects to NATS (external or embedded) or falls back to the
// in-process store.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	url := cfg.NATSURL
	b := &backends{}

	if cfg.EmbeddedNATS {
		ns, err := events.StartEmbedded("127.0.0.1", -1, cfg.NATSStoreDir)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			ns.Shutdown()
			ns.WaitForShutdown()
		})
		url = ns.ClientURL()
		logger.Info("serve: embedded NATS started", "url", url, "store_dir", cfg.NATSStoreDir)
	}

	if url == "" {
		bus := events.NewMemoryBus(cfg.SubscriptionBuffer)
		kv := events.NewMemoryKV(cfg.EventRetention)
		counters := events.NewMemoryKV(0)
		b.bus, b.events, b.counters = bus, kv, counters
		b.checks = map[string]events.Pinger{"bus": bus, "store": kv}
		logger.Info("serve: using in-process store; events are not shared between instances")
		return b, nil
	}

	nc, err := events.Connect(url)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, nc.Close)

	bus := events.NewNATSBus(nc, cfg.SubscriptionBuffer)
	kv, err := events.OpenJetStreamKV(ctx, nc, eventsBucket, cfg.EventRetention)
	if err != nil {
		b.Close()
		return nil, err
	}
	counters, err := events.OpenJetStreamKV(ctx, nc, sequencesBucket, 0)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = bus.Close() })
	b.bus, b.events, b.counters = bus, kv, counters
	b.checks = map[string]events.Pinger{"bus": bus, "store": kv}
	b.nativeTTL = true
	logger.Info("serve: connected to NATS", "url", redactURL(url))
	return b, nil
}

// redactURL hides credentials embedded in a connection URL.
func redactURL(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return u
	}
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return u
}

// alertChannels enables each channel whose target is configured.
func alertChannels(cfg *config.Config) map[alerts.Channel]alerts.ChannelConfig {
	channels := map[alerts.Channel]alerts.ChannelConfig{
		alerts.ChannelLog: {Enabled: true},
	}
	if cfg.AlertEmailHost != "" && len(cfg.EmailRecipients()) > 0 {
		channels[alerts.ChannelEmail] = alerts.ChannelConfig{
			Enabled: true,
			Email: alerts.EmailConfig{
				Host:       cfg.AlertEmailHost,
				Port:       cfg.AlertEmailPort,
				Username:   cfg.AlertEmailUsername,
				Password:   cfg.AlertEmailPassword,
				From:       cfg.AlertEmailFrom,
				Recipients: cfg.EmailRecipients(),
			},
		}
	}
	if cfg.AlertSlackWebhookURL != "" {
		channels[alerts.ChannelSlack] = alerts.ChannelConfig{
			Enabled: true,
			Slack:   alerts.SlackConfig{WebhookURL: cfg.AlertSlackWebhookURL, Channel: cfg.AlertSlackChannel},
		}
	}
	if cfg.AlertWebhookURL != "" {
		channels[alerts.ChannelWebhook] = alerts.ChannelConfig{
			Enabled: true,
			Webhook: alerts.WebhookConfig{URL: cfg.AlertWebhookURL},
		}
	}
	return channels
}

// pruneHistory deletes alert history older than retention every interval
// until ctx is done.
func pruneHistory(ctx context.Context, history store.AlertStore, retention, interval time.Duration, logger *slog.Logger) {
	prune := func() {
		n, err := history.PurgeAlerts(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("serve: alert history purge failed", "err", err)
			}
			return
		}
		if n > 0 {
			logger.Info("serve: alert history purged", "deleted", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// runServer wires every component, serves until ctx is cancelled, then
// shuts down in dependency order.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	mm := metrics.NewManager()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	// Alert history.
	var history store.AlertStore
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		history = pg
		b.checks["history"] = pg
		logger.Info("serve: alert history enabled")
	} else {
		logger.Info("serve: alert history disabled (REALTIME_DATABASE_URL not set)")
	}

	alertOpts := []alerts.Option{alerts.WithMetrics(mm)}
	if history != nil {
		alertOpts = append(alertOpts, alerts.WithHistory(history))
	}
	alertMgr := alerts.NewManager(alerts.Config{
		Cooldown: cfg.AlertCooldown,
		Channels: alertChannels(cfg),
	}, logger, alertOpts...)
	alertMgr.Start()
	defer alertMgr.Stop()

	mon := monitor.New(monitor.Config{
		LatencyThreshold:     cfg.LatencyThreshold,
		CriticalThreshold:    cfg.LatencyCriticalThreshold,
		Cooldown:             cfg.AlertCooldown,
		SampleRetention:      cfg.SampleRetention,
		MaxSamples:           cfg.MaxSamples,
		Interval:             cfg.MonitorInterval,
		FailureRateThreshold: cfg.FailureRateThreshold,
		FailureRateMinEvents: cfg.FailureRateMinEvents,
	}, alertMgr, mm, logger)
	mon.Start()
	defer mon.Stop()

	registry := presence.NewRegistry()
	registry.StartReaper(&presence.ReaperConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		OnStale:           func(*presence.Conn) { mm.ConnectionReaped() },
		Logger:            logger,
	})
	defer registry.Stop()

	sweep := time.Duration(0)
	if b.nativeTTL {
		sweep = -1
	}
	hub := stream.NewHub(stream.Config{
		HeartbeatInterval:      cfg.HeartbeatInterval,
		StoreTimeout:           cfg.StoreTimeout,
		RetentionSweepInterval: sweep,
	}, stream.Deps{
		Bus:       b.bus,
		Sequencer: sequence.New(b.counters, cfg.StoreTimeout, logger),
		Replay: replay.NewStore(b.events, replay.Config{
			MaxMissed: cfg.MaxMissedEvents,
			Timeout:   cfg.StoreTimeout,
			Retention: cfg.EventRetention,
		}, logger),
		Monitor:  mon,
		Registry: registry,
		Metrics:  mm,
		Logger:   logger,
	})
	hub.Start()

	srv := server.New(server.Options{
		Hub:     hub,
		Alerts:  alertMgr,
		History: history,
		Metrics: mm,
		Checks:  b.checks,
		Logger:  logger,
	})

	// gRPC health.
	hs := health.NewServer()
	grpcServer := server.NewGRPCServer(hs)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = hub.Shutdown(context.Background())
		return fmt.Errorf("listening on %s: %w", cfg.GRPCAddr, err)
	}
	healthCtx, healthCancel := context.WithCancel(ctx)
	defer healthCancel()
	go srv.WatchHealth(healthCtx, hs, cfg.HeartbeatInterval)
	go func() {
		logger.Info("serve: gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("serve: gRPC server error", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: srv.NewHTTPHandler(server.HTTPConfig{
			AuthToken:      cfg.AuthToken,
			AllowedOrigins: cfg.AllowedOrigins(),
			MetricsPath:    cfg.MetricsPath,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("serve: HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var scheduler *export.Scheduler
	if history != nil && cfg.ExportS3Bucket != "" && cfg.ExportInterval > 0 {
		dest, err := export.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Key, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			logger.Error("serve: failed to create S3 export destination", "err", err)
		} else {
			scheduler = export.NewScheduler(history, []export.Destination{dest}, cfg.ExportInterval, export.DefaultWindow, logger)
			scheduler.Start()
		}
	}

	pruneCtx, pruneCancel := context.WithCancel(ctx)
	defer pruneCancel()
	if history != nil && cfg.AlertHistoryRetention > 0 {
		go pruneHistory(pruneCtx, history, cfg.AlertHistoryRetention, time.Hour, logger)
	}

	logger.Info("serve: realtime server started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("serve: shutting down")
	case runErr = <-httpErr:
		logger.Error("serve: HTTP server error", "err", runErr)
	}

	pruneCancel()
	if scheduler != nil {
		scheduler.Stop()
	}
	healthCancel()
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error("serve: stream shutdown incomplete", "err", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("serve: HTTP server shutdown error", "err", err)
	}

	logger.Info("serve: shutdown complete")
	return runErr
}
