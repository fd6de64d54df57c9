// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sse

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/chartgw/internal/events"
	xglog "github.com/ManuGH/chartgw/internal/log"
	"github.com/ManuGH/chartgw/internal/metrics"
)

// TargetAll addresses every live session. An empty target means the same.
const TargetAll = "all"

// ReservedClientID reports ids a client may not claim because they collide
// with broadcast or system addressing.
func ReservedClientID(id string) bool {
	return id == TargetAll || id == events.SystemRequestID
}

// EventSink persists request-scoped events.
type EventSink interface {
	Append(ev events.Event) error
}

// Broadcaster builds events, records them and delivers them live.
type Broadcaster struct {
	// mu keeps sequence, store and delivery order identical.
	mu       sync.Mutex
	registry *Registry
	sink     EventSink
	seq      *events.Sequence
	logger   zerolog.Logger
}

// NewBroadcaster wires a broadcaster. seq must be the registry's sequence so
// connection and lifecycle events share one ordering.
func NewBroadcaster(registry *Registry, sink EventSink, seq *events.Sequence) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		sink:     sink,
		seq:      seq,
		logger:   xglog.WithComponent("broadcaster"),
	}
}

// Emit appends one event to the event store, unless it is a system event,
// and then delivers it to target (a client id or TargetAll). A session that
// registers between the two steps gets the event from replay; live delivery
// does not depend on the append succeeding.
func (b *Broadcaster) Emit(target string, kind events.Kind, message, requestID string, data map[string]any) events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := events.New(b.seq, kind, requestID, message, data)
	scope := "broadcast"
	if target != "" && target != TargetAll {
		scope = "targeted"
		ev.Target = target
	}

	if !ev.IsSystem() {
		if err := b.sink.Append(ev); err != nil {
			b.logger.Error().Err(err).
				Str(xglog.FieldEvent, "event.append_failed").
				Str(xglog.FieldChartRequestID, ev.RequestID).
				Msg("failed to record event")
		}
	}

	delivered := 0
	if ev.Target == "" {
		delivered = b.registry.Broadcast(ev)
	} else if b.registry.WriteToSession(target, ev) {
		delivered = 1
	}

	metrics.RecordEventEmitted(string(kind), scope)
	b.logger.Debug().
		Str(xglog.FieldEvent, "event.emitted").
		Str("type", string(kind)).
		Str(xglog.FieldChartRequestID, ev.RequestID).
		Uint64(xglog.FieldSequence, ev.Sequence).
		Str("scope", scope).
		Int("delivered", delivered).
		Msg(message)
	return ev
}
