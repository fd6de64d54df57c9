// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package render calls the upstream chart rendering API.
package render

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/chartgw/internal/chart"
	"github.com/ManuGH/chartgw/internal/resilience"
)

// Result is a rendered chart image.
type Result struct {
	Image       []byte
	ContentType string
	Duration    time.Duration
}

// Renderer produces a chart image for a validated config.
type Renderer interface {
	Render(ctx context.Context, cfg chart.Config) (*Result, error)
	Configured() bool
}

// Guarded runs a Renderer behind a circuit breaker.
type Guarded struct {
	inner   Renderer
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps inner. Only transient upstream failures trip the breaker.
func NewGuarded(inner Renderer, threshold int, resetTimeout time.Duration) *Guarded {
	return &Guarded{
		inner: inner,
		breaker: resilience.NewCircuitBreaker("render", threshold, resetTimeout,
			resilience.WithFailurePredicate(IsTransient)),
	}
}

func (g *Guarded) Render(ctx context.Context, cfg chart.Config) (*Result, error) {
	var res *Result
	err := g.breaker.Execute(func() error {
		var err error
		res, err = g.inner.Render(ctx, cfg)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &UpstreamError{Sentinel: ErrUpstreamUnavailable, Message: "chart rendering API unavailable (circuit open)"}
	}
	return res, err
}

func (g *Guarded) Configured() bool { return g.inner.Configured() }

// BreakerState exposes the breaker state for health reporting.
func (g *Guarded) BreakerState() resilience.State { return g.breaker.State() }
