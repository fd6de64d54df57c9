// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// DrainFunc finishes in-flight work and closes live sessions. It runs while
// the API server is refusing new connections and must return before ctx ends.
type DrainFunc func(ctx context.Context) error

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// APIHandler is the HTTP handler for the API server
	APIHandler http.Handler

	// MetricsHandler serves Prometheus metrics on MetricsAddr when both are set.
	MetricsHandler http.Handler
	MetricsAddr    string

	// Drain is called once the API listener is closed.
	Drain DrainFunc
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
