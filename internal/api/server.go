// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the gateway over HTTP: SSE and WebSocket sessions,
// the MCP endpoint, the chart REST surface and health probes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/chartgw/internal/api/middleware"
	"github.com/ManuGH/chartgw/internal/events"
	"github.com/ManuGH/chartgw/internal/imagestore"
	"github.com/ManuGH/chartgw/internal/ledger"
	xglog "github.com/ManuGH/chartgw/internal/log"
	"github.com/ManuGH/chartgw/internal/sse"
)

// ChartService is the orchestrator surface the REST handlers use.
type ChartService interface {
	Submit(ctx context.Context, raw []byte, clientID string) (*ledger.Request, error)
	GetStatus(ctx context.Context, id string) (*ledger.Request, error)
	ListRecent(ctx context.Context, limit int) ([]*ledger.Request, error)
	History(ctx context.Context, id string) ([]events.Event, error)
	Image(ctx context.Context, id string) (imagestore.Image, error)
}

// SessionRegistry accepts new live sessions.
type SessionRegistry interface {
	Register(clientID string, stream sse.Stream, lastEventID uint64) *sse.Session
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler interface {
	ServeHealth(w http.ResponseWriter, r *http.Request)
	ServeReady(w http.ResponseWriter, r *http.Request)
}

// Config tunes the HTTP surface.
type Config struct {
	CORSOrigins []string
	// ChartRateLimit is chart submissions per minute per IP; zero disables it.
	ChartRateLimit int
	// WriteTimeout bounds a single event write on a live session.
	WriteTimeout time.Duration
	// ServeMetrics mounts /metrics on this router.
	ServeMetrics bool
	// ImageMaxAge is advertised in Cache-Control for chart images.
	ImageMaxAge time.Duration
}

// Deps are the collaborators of a Server.
type Deps struct {
	Charts   ChartService
	Sessions SessionRegistry
	Health   HealthHandler
	MCP      http.Handler
}

// Server owns the router.
type Server struct {
	cfg      Config
	deps     Deps
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: xglog.WithComponent("api"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the routed handler with the canonical middleware stack.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            len(s.cfg.CORSOrigins) > 0,
		AllowedOrigins:        s.cfg.CORSOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "chartgw/http",
		EnableLogging:         true,
	})

	// One limiter covers both submission paths.
	limit := middleware.ChartRateLimit(s.cfg.ChartRateLimit)

	s.registerProbeRoutes(r)
	s.registerSessionRoutes(r, limit)
	s.registerChartRoutes(r, limit)
	return r
}

func (s *Server) registerProbeRoutes(r chi.Router) {
	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
	}
	if s.cfg.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
}

func (s *Server) registerSessionRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/mcp/sse", s.handleSSE)
	r.Get("/mcp/ws", s.handleWebSocket)
	if s.deps.MCP != nil {
		r.With(limit).Post("/mcp", s.deps.MCP.ServeHTTP)
	}
}

func (s *Server) registerChartRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/api/v2/charts", func(r chi.Router) {
		r.With(limit).Post("/", s.handleCreateChart)
		r.Get("/", s.handleListCharts)
		r.Get("/{id}", s.handleGetChart)
		r.Get("/{id}/events", s.handleChartEvents)
		r.Get("/{id}/image", s.handleChartImage)
	})
}

// checkOrigin admits requests without Origin and configured origins. An
// empty allow list admits any origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.CORSOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
