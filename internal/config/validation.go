// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/chartgw/internal/validate"
)

var (
	imageBackends = []string{"memory", "redis", "file"}
	exporterTypes = []string{"grpc", "http"}
)

// Validate checks cfg and returns a validate.ValidationError listing every problem.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.ListenAddr("server.listenAddr", cfg.Server.ListenAddr)
	if cfg.Server.MetricsAddr != "" {
		v.ListenAddr("server.metricsAddr", cfg.Server.MetricsAddr)
	}
	v.NonNegative("server.rateLimit", cfg.Server.RateLimit)
	v.DurationRange("server.shutdownTimeout", cfg.Server.ShutdownTimeout, time.Second, 5*time.Minute)

	if _, err := validate.ParseLogLevel(cfg.Log.Level); err != nil {
		v.AddError("log.level", "invalid log level (must be: debug, info, warn, error)", cfg.Log.Level)
	}

	v.URL("upstream.baseUrl", cfg.Upstream.BaseURL, []string{"http", "https"})
	v.DurationRange("upstream.timeout", cfg.Upstream.Timeout, time.Second, 5*time.Minute)
	v.Positive("upstream.breakerThreshold", cfg.Upstream.BreakerThreshold)
	v.DurationRange("upstream.breakerReset", cfg.Upstream.BreakerReset, time.Second, time.Hour)

	v.DurationRange("sessions.heartbeatInterval", cfg.Sessions.HeartbeatInterval, time.Second, 10*time.Minute)
	v.DurationRange("sessions.writeTimeout", cfg.Sessions.WriteTimeout, 100*time.Millisecond, time.Minute)
	v.Range("sessions.replaySize", cfg.Sessions.ReplaySize, 1, 100000)

	v.Range("ledger.maxEntries", cfg.Ledger.MaxEntries, 1, 1000000)
	v.Range("events.maxRequests", cfg.Events.MaxRequests, 1, 1000000)
	if cfg.Orchestrator.Watchdog < 0 {
		v.AddError("orchestrator.watchdog", "watchdog cannot be negative", cfg.Orchestrator.Watchdog)
	}

	v.OneOf("images.backend", cfg.Images.Backend, imageBackends)
	v.DurationRange("images.ttl", cfg.Images.TTL, time.Second, 7*24*time.Hour)
	switch cfg.Images.Backend {
	case "redis":
		v.NotEmpty("images.redis.addr", cfg.Images.Redis.Addr)
		v.Range("images.redis.db", cfg.Images.Redis.DB, 0, 15)
	case "file":
		v.Directory("images.dir", cfg.Images.Dir, false)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType, exporterTypes)
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "sampling rate must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	return v.Err()
}
