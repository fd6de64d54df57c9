// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command chartgw runs the chart gateway: MCP over HTTP, live SSE/WebSocket
// sessions and the chart REST API in front of the chart rendering service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ManuGH/chartgw/internal/api"
	"github.com/ManuGH/chartgw/internal/chart"
	"github.com/ManuGH/chartgw/internal/config"
	"github.com/ManuGH/chartgw/internal/daemon"
	"github.com/ManuGH/chartgw/internal/events"
	"github.com/ManuGH/chartgw/internal/health"
	"github.com/ManuGH/chartgw/internal/imagestore"
	"github.com/ManuGH/chartgw/internal/ledger"
	xglog "github.com/ManuGH/chartgw/internal/log"
	"github.com/ManuGH/chartgw/internal/mcp"
	"github.com/ManuGH/chartgw/internal/orchestrator"
	"github.com/ManuGH/chartgw/internal/render"
	"github.com/ManuGH/chartgw/internal/sse"
	"github.com/ManuGH/chartgw/internal/telemetry"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

const envConfigPath = "CHARTGW_CONFIG"

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	flags := pflag.NewFlagSet("chartgw", pflag.ContinueOnError)
	showVersion := flags.Bool("version", false, "print version and exit")
	configPath := flags.StringP("config", "c", "", "path to config file (YAML)")
	listen := flags.String("listen", "", "API listen address, overrides the config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "chartgw",
		Version: version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(config.ParseString(envConfigPath, ""))
	}

	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str(xglog.FieldPath, path).
			Msg("failed to load configuration")
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}

	xglog.SetLevel(cfg.Log.Level)
	if path != "" {
		logger.Info().Str(xglog.FieldEvent, "config.loaded").Str("source", "file").Str(xglog.FieldPath, path).Msg("loaded configuration from file")
	} else {
		logger.Info().Str(xglog.FieldEvent, "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	logger.Info().
		Str(xglog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting chartgw")
	logger.Info().Msgf("→ Upstream: %s (key: %v)", maskURL(cfg.Upstream.BaseURL), cfg.Upstream.APIKey != "")
	logger.Info().Msgf("→ Images: %s (ttl %s)", cfg.Images.Backend, cfg.Images.TTL)
	if cfg.Orchestrator.Watchdog > 0 {
		logger.Info().Msgf("→ Watchdog: %s", cfg.Orchestrator.Watchdog)
	}

	if err := run(ctx, logger, cfg, loader, path); err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "manager.failed").
			Msg("daemon app failed")
	}
	logger.Info().Msg("server exiting")
}

// run wires every component and blocks until ctx ends.
func run(ctx context.Context, logger zerolog.Logger, cfg config.AppConfig, loader *config.Loader, path string) error {
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	images, err := imagestore.New(imagestore.Config{
		Backend:         cfg.Images.Backend,
		TTL:             cfg.Images.TTL,
		CleanupInterval: cfg.Images.CleanupInterval,
		Redis: imagestore.RedisConfig{
			Addr:     cfg.Images.Redis.Addr,
			Password: cfg.Images.Redis.Password,
			DB:       cfg.Images.Redis.DB,
		},
		Dir: cfg.Images.Dir,
	}, xglog.WithComponent("imagestore"))
	if err != nil {
		_ = tp.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("image store: %w", err)
	}

	seq := &events.Sequence{}
	eventStore := events.NewStore(events.StoreOptions{
		MaxRequests: cfg.Events.MaxRequests,
		ReplaySize:  cfg.Sessions.ReplaySize,
	})
	registry := sse.NewRegistry(sse.Options{
		HeartbeatInterval: cfg.Sessions.HeartbeatInterval,
		Sequence:          seq,
		Replay:            eventStore,
	})
	broadcaster := sse.NewBroadcaster(registry, eventStore, seq)

	renderer := render.NewGuarded(render.NewChartImgClient(render.ClientConfig{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.Timeout,
	}), cfg.Upstream.BreakerThreshold, cfg.Upstream.BreakerReset)

	orch := orchestrator.New(orchestrator.Deps{
		Ledger:    ledger.NewInstrumentedStore(ledger.NewMemoryStore(cfg.Ledger.MaxEntries)),
		Validator: chart.NewValidator(),
		Renderer:  renderer,
		Images:    images,
		Emitter:   broadcaster,
		History:   eventStore,
		Sessions:  registry,
	}, orchestrator.Options{
		Watchdog:     cfg.Orchestrator.Watchdog,
		InlineImages: cfg.Images.Inline,
	})

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewUpstreamChecker(renderer.Configured, func() string { return string(renderer.BreakerState()) }))
	hm.RegisterChecker(health.NewSessionsChecker(registry.Count))
	if pc, err := health.NewProcessChecker(0); err == nil {
		hm.RegisterChecker(pc)
	} else {
		logger.Warn().Err(err).Msg("process checker unavailable")
	}
	if pinger, ok := images.(interface{ HealthCheck(context.Context) error }); ok {
		hm.RegisterChecker(health.NewPingChecker("imagestore", pinger.HealthCheck))
	}
	hm.SetDetails(func() map[string]any {
		h := orch.Health()
		return map[string]any{
			"liveSessionCount":   h.LiveSessionCount,
			"upstreamConfigured": h.UpstreamConfigured,
			"inFlight":           h.InFlight,
			"imageBackend":       images.Backend(),
		}
	})

	var metricsHandler http.Handler
	if cfg.Server.MetricsAddr != "" {
		metricsHandler = promhttp.Handler()
	}

	srv := api.NewServer(api.Config{
		CORSOrigins:    cfg.Server.CORSOrigins,
		ChartRateLimit: cfg.Server.RateLimit,
		WriteTimeout:   cfg.Sessions.WriteTimeout,
		ServeMetrics:   metricsHandler == nil,
		ImageMaxAge:    cfg.Images.TTL,
	}, api.Deps{
		Charts:   orch,
		Sessions: registry,
		Health:   hm,
		MCP:      mcp.NewServer(orch, version),
	})

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:         logger,
		APIHandler:     srv.Handler(),
		MetricsHandler: metricsHandler,
		MetricsAddr:    cfg.Server.MetricsAddr,
		Drain: func(ctx context.Context) error {
			err := orch.Shutdown(ctx)
			registry.CloseAll()
			return err
		},
	})
	if err != nil {
		_ = images.Close()
		_ = tp.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("create daemon manager: %w", err)
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("imagestore", func(context.Context) error { return images.Close() })

	cfgHolder := config.NewConfigHolder(cfg, loader, path)
	app := daemon.NewApp(logger, mgr, cfgHolder, func(next config.AppConfig) {
		xglog.SetLevel(next.Log.Level)
	})
	return app.Run(ctx)
}
