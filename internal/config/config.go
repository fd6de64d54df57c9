// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the gateway configuration.
// Precedence: defaults, then the YAML file, then CHARTGW_* environment variables.
package config

import (
	"time"
)

// AppConfig is the full runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Events       EventsConfig       `yaml:"events"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Images       ImagesConfig       `yaml:"images"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// MetricsAddr serves /metrics on a dedicated listener when set.
	MetricsAddr       string        `yaml:"metricsAddr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins       []string      `yaml:"corsOrigins"`
	// RateLimit is the per-IP request budget per minute on the chart API. Zero disables it.
	RateLimit int `yaml:"rateLimit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type UpstreamConfig struct {
	BaseURL          string        `yaml:"baseUrl"`
	APIKey           string        `yaml:"apiKey"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

type SessionsConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	ReplaySize        int           `yaml:"replaySize"`
}

type LedgerConfig struct {
	MaxEntries int `yaml:"maxEntries"`
}

type EventsConfig struct {
	MaxRequests int `yaml:"maxRequests"`
}

type OrchestratorConfig struct {
	Watchdog time.Duration `yaml:"watchdog"`
}

type ImagesConfig struct {
	Backend         string        `yaml:"backend"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	Dir             string        `yaml:"dir"`
	Inline          bool          `yaml:"inline"`
	Redis           RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	ExporterType string  `yaml:"exporter"` // grpc or http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:        ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RateLimit:         60,
		},
		Log: LogConfig{Level: "info"},
		Upstream: UpstreamConfig{
			BaseURL:          "https://api.chart-img.com",
			Timeout:          30 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Sessions: SessionsConfig{
			HeartbeatInterval: 30 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReplaySize:        512,
		},
		Ledger: LedgerConfig{MaxEntries: 1000},
		Events: EventsConfig{MaxRequests: 1000},
		Images: ImagesConfig{
			Backend:         "memory",
			TTL:             time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "chartgw",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
