// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment keys.
const (
	EnvListenAddr        = "CHARTGW_LISTEN_ADDR"
	EnvMetricsAddr       = "CHARTGW_METRICS_ADDR"
	EnvCORSOrigins       = "CHARTGW_CORS_ORIGINS"
	EnvRateLimit         = "CHARTGW_RATE_LIMIT"
	EnvLogLevel          = "CHARTGW_LOG_LEVEL"
	EnvUpstreamURL       = "CHARTGW_UPSTREAM_URL"
	EnvUpstreamAPIKey    = "CHARTGW_UPSTREAM_API_KEY"
	EnvUpstreamTimeout   = "CHARTGW_UPSTREAM_TIMEOUT"
	EnvHeartbeatInterval = "CHARTGW_HEARTBEAT_INTERVAL"
	EnvLedgerMaxEntries  = "CHARTGW_LEDGER_MAX_ENTRIES"
	EnvWatchdog          = "CHARTGW_WATCHDOG"
	EnvImagesBackend     = "CHARTGW_IMAGES_BACKEND"
	EnvImagesTTL         = "CHARTGW_IMAGES_TTL"
	EnvImagesDir         = "CHARTGW_IMAGES_DIR"
	EnvImagesInline      = "CHARTGW_IMAGES_INLINE"
	EnvRedisAddr         = "CHARTGW_REDIS_ADDR"
	EnvRedisPassword     = "CHARTGW_REDIS_PASSWORD"
	EnvRedisDB           = "CHARTGW_REDIS_DB"
	EnvTracingEnabled    = "CHARTGW_TRACING_ENABLED"
	EnvTracingEndpoint   = "CHARTGW_TRACING_ENDPOINT"
	EnvTracingExporter   = "CHARTGW_TRACING_EXPORTER"
	EnvTracingSampling   = "CHARTGW_TRACING_SAMPLING_RATE"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if cfg.Images.Backend == "file" && cfg.Images.Dir != "" {
		if abs, err := filepath.Abs(cfg.Images.Dir); err == nil {
			cfg.Images.Dir = abs
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file onto cfg with strict parsing.
// Unknown fields are rejected so typos never silently fall back to defaults.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.Server.ListenAddr = l.envString(EnvListenAddr, cfg.Server.ListenAddr)
	cfg.Server.MetricsAddr = l.envString(EnvMetricsAddr, cfg.Server.MetricsAddr)
	cfg.Server.CORSOrigins = l.envList(EnvCORSOrigins, cfg.Server.CORSOrigins)
	cfg.Server.RateLimit = l.envInt(EnvRateLimit, cfg.Server.RateLimit)

	cfg.Log.Level = l.envString(EnvLogLevel, cfg.Log.Level)

	cfg.Upstream.BaseURL = l.envString(EnvUpstreamURL, cfg.Upstream.BaseURL)
	cfg.Upstream.APIKey = l.envString(EnvUpstreamAPIKey, cfg.Upstream.APIKey)
	cfg.Upstream.Timeout = l.envDuration(EnvUpstreamTimeout, cfg.Upstream.Timeout)

	cfg.Sessions.HeartbeatInterval = l.envDuration(EnvHeartbeatInterval, cfg.Sessions.HeartbeatInterval)
	cfg.Ledger.MaxEntries = l.envInt(EnvLedgerMaxEntries, cfg.Ledger.MaxEntries)
	cfg.Orchestrator.Watchdog = l.envDuration(EnvWatchdog, cfg.Orchestrator.Watchdog)

	cfg.Images.Backend = l.envString(EnvImagesBackend, cfg.Images.Backend)
	cfg.Images.TTL = l.envDuration(EnvImagesTTL, cfg.Images.TTL)
	cfg.Images.Dir = l.envString(EnvImagesDir, cfg.Images.Dir)
	cfg.Images.Inline = l.envBool(EnvImagesInline, cfg.Images.Inline)
	cfg.Images.Redis.Addr = l.envString(EnvRedisAddr, cfg.Images.Redis.Addr)
	cfg.Images.Redis.Password = l.envString(EnvRedisPassword, cfg.Images.Redis.Password)
	cfg.Images.Redis.DB = l.envInt(EnvRedisDB, cfg.Images.Redis.DB)

	cfg.Telemetry.Enabled = l.envBool(EnvTracingEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString(EnvTracingEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.ExporterType = l.envString(EnvTracingExporter, cfg.Telemetry.ExporterType)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvTracingSampling, cfg.Telemetry.SamplingRate)
}
