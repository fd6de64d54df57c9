// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the chart gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// No client_id or request_id labels: both are unbounded.

var (
	// LiveSessions tracks currently registered sessions by protocol (sse, ws).
	LiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chartgw_live_sessions",
		Help: "Current number of registered event stream sessions, by protocol.",
	}, []string{"protocol"})

	// SessionClosedTotal counts deregistrations by reason.
	SessionClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartgw_session_closed_total",
		Help: "Total number of closed sessions, by reason (closed, replaced, write_error, removed, shutdown).",
	}, []string{"reason"})

	// SessionWriteFailuresTotal counts failed live writes.
	SessionWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartgw_session_write_failures_total",
		Help: "Total number of failed event or heartbeat writes to a session stream.",
	})

	// EventsEmittedTotal counts emitted events by type and delivery scope.
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartgw_events_emitted_total",
		Help: "Total number of emitted events, by type and scope (targeted, broadcast).",
	}, []string{"type", "scope"})

	// ChartRequestsTotal counts chart requests by outcome.
	ChartRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartgw_chart_requests_total",
		Help: "Total number of chart requests, by outcome (accepted, rejected, completed, failed).",
	}, []string{"outcome"})

	// ChartRequestsInFlight tracks requests in the processing state.
	ChartRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chartgw_chart_requests_in_flight",
		Help: "Current number of chart requests being rendered.",
	})

	// RenderDuration observes upstream render latency by result.
	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chartgw_render_duration_seconds",
		Help:    "Latency of upstream chart render calls.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"result"})

	// LedgerOpsTotal counts ledger operations by op and result.
	LedgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartgw_ledger_ops_total",
		Help: "Total number of request ledger operations, by op and result.",
	}, []string{"op", "result"})

	// LedgerOpDuration observes ledger operation latency.
	LedgerOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chartgw_ledger_op_duration_seconds",
		Help:    "Latency of request ledger operations.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	}, []string{"op"})

	// ImageStoreOpsTotal counts image store operations.
	ImageStoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartgw_imagestore_ops_total",
		Help: "Total number of image store operations, by backend, op and result.",
	}, []string{"backend", "op", "result"})

	// ConfigReloadTotal counts config reload attempts.
	ConfigReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartgw_config_reload_total",
		Help: "Total number of configuration reload attempts, by result.",
	}, []string{"result"})
)

// SetLiveSessions sets the session gauge for a protocol.
func SetLiveSessions(protocol string, n int) {
	LiveSessions.WithLabelValues(protocol).Set(float64(n))
}

// IncLiveSessions increments the session gauge for a protocol.
func IncLiveSessions(protocol string) {
	LiveSessions.WithLabelValues(protocol).Inc()
}

// DecLiveSessions decrements the session gauge for a protocol.
func DecLiveSessions(protocol string) {
	LiveSessions.WithLabelValues(protocol).Dec()
}

// RecordSessionClosed increments the session close counter.
func RecordSessionClosed(reason string) {
	SessionClosedTotal.WithLabelValues(reason).Inc()
}

// RecordSessionWriteFailure increments the write failure counter.
func RecordSessionWriteFailure() {
	SessionWriteFailuresTotal.Inc()
}

// RecordEventEmitted increments the emitted events counter.
func RecordEventEmitted(eventType, scope string) {
	EventsEmittedTotal.WithLabelValues(eventType, scope).Inc()
}

// RecordChartRequest increments the chart request counter.
func RecordChartRequest(outcome string) {
	ChartRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRender records one upstream render call.
func ObserveRender(result string, d time.Duration) {
	RenderDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordLedgerOp records one ledger operation.
func RecordLedgerOp(op, result string, d time.Duration) {
	LedgerOpsTotal.WithLabelValues(op, result).Inc()
	LedgerOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordImageStoreOp increments the image store counter.
func RecordImageStoreOp(backend, op, result string) {
	ImageStoreOpsTotal.WithLabelValues(backend, op, result).Inc()
}

// RecordConfigReload increments the config reload counter.
func RecordConfigReload(result string) {
	ConfigReloadTotal.WithLabelValues(result).Inc()
}

// CounterValue reads the current value of a counter (for testing).
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// GaugeValue reads the current value of a gauge (for testing).
func GaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
