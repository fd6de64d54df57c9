// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events defines lifecycle events, their wire framing and the
// per-request history store.
package events

import (
	"sync/atomic"
	"time"
)

// Kind is the event type carried on the wire as both the SSE event name and
// the JSON "type" field.
type Kind string

const (
	KindConnection Kind = "connection"
	KindRequest    Kind = "request"
	KindProgress   Kind = "progress"
	KindSuccess    Kind = "success"
	KindError      Kind = "error"
)

// SystemRequestID marks connection-level events. They are never stored.
const SystemRequestID = "system"

// TimestampFormat is ISO-8601 UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Event is one immutable notification. Data must not be mutated after New.
type Event struct {
	Type      Kind           `json:"type"`
	Message   string         `json:"message"`
	RequestID string         `json:"requestId"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Sequence  uint64         `json:"sequence"`

	// Target is the client id the event was addressed to, or empty for a broadcast.
	Target string `json:"-"`
}

// IsSystem reports whether the event is connection-scoped.
func (e Event) IsSystem() bool {
	return e.RequestID == SystemRequestID
}

// Sequence hands out process-monotonic event ids starting at 1.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next id.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the last id handed out.
func (s *Sequence) Current() uint64 {
	return s.n.Load()
}

// New builds an event stamped with the next sequence id and the current time.
// An empty requestID is treated as SystemRequestID.
func New(seq *Sequence, kind Kind, requestID, message string, data map[string]any) Event {
	if requestID == "" {
		requestID = SystemRequestID
	}
	return Event{
		Type:      kind,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(TimestampFormat),
		Data:      data,
		Sequence:  seq.Next(),
	}
}
