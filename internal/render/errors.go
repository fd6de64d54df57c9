// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package render

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotConfigured       = errors.New("chart rendering API key not configured")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBadRequest          = errors.New("rejected chart request")
	ErrUpstreamUnavailable = errors.New("chart rendering API unavailable")
	ErrBadResponse         = errors.New("unexpected response from chart rendering API")
	ErrTimeout             = errors.New("chart rendering API timed out")
)

// UpstreamError wraps a sentinel with the HTTP status and the upstream's own message.
type UpstreamError struct {
	Sentinel error
	Status   int
	Message  string // upstream-provided detail, may be empty
	Err      error  // lower-level transport error
}

func (e *UpstreamError) Error() string {
	msg := e.Sentinel.Error()
	if e.Message != "" && e.Message != msg {
		msg = e.Message
	}
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Sentinel
}

// IsTransient reports whether err should count against the circuit breaker.
// Client-side rejections (auth, validation, quota) do not.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrTimeout), errors.Is(err, ErrBadResponse):
		return true
	default:
		return false
	}
}
