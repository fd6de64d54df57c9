// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator drives chart requests through their lifecycle:
// validate, record, render, store and notify.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/chartgw/internal/chart"
	"github.com/ManuGH/chartgw/internal/events"
	"github.com/ManuGH/chartgw/internal/imagestore"
	"github.com/ManuGH/chartgw/internal/ledger"
	xglog "github.com/ManuGH/chartgw/internal/log"
	"github.com/ManuGH/chartgw/internal/metrics"
	"github.com/ManuGH/chartgw/internal/render"
)

var (
	ErrNotFound     = ledger.ErrNotFound
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// Validator turns raw submission bytes into a chart config.
type Validator interface {
	Validate(raw []byte) (chart.Config, error)
}

// Emitter delivers lifecycle events.
type Emitter interface {
	Emit(target string, kind events.Kind, message, requestID string, data map[string]any) events.Event
}

// EventHistory reads recorded events.
type EventHistory interface {
	History(requestID string) ([]events.Event, bool)
}

// SessionCounter reports live sessions.
type SessionCounter interface {
	Count() int
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Ledger    ledger.Store
	Validator Validator
	Renderer  render.Renderer
	Images    imagestore.Store
	Emitter   Emitter
	History   EventHistory
	Sessions  SessionCounter
	IDs       *ledger.IDGenerator
}

// Options tune the lifecycle.
type Options struct {
	// Watchdog force-fails a request still rendering after this long. Zero disables it.
	Watchdog time.Duration
	// ImageURLPrefix is prepended to "<id>/image" in results.
	ImageURLPrefix string
	// InlineImages adds the base64 image to results.
	InlineImages bool
}

// Health is a point-in-time snapshot for health endpoints.
type Health struct {
	LiveSessionCount   int   `json:"liveSessionCount"`
	UpstreamConfigured bool  `json:"upstreamConfigured"`
	InFlight           int64 `json:"inFlight"`
}

// Orchestrator owns the request lifecycle. Only the orchestrator writes ledger records.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	waiters map[string]chan struct{}
	closing bool

	inFlight atomic.Int64
	wg       sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New wires an orchestrator. Missing IDs get a default generator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.IDs == nil {
		deps.IDs = ledger.NewIDGenerator()
	}
	if opts.ImageURLPrefix == "" {
		opts.ImageURLPrefix = "/api/v2/charts/"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		logger:  xglog.WithComponent("orchestrator"),
		tracer:  otel.Tracer("chartgw/orchestrator"),
		waiters: make(map[string]chan struct{}),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit validates raw, records a new request, moves it to processing, emits
// the started event and hands rendering to a detached task. It returns the
// processing record without waiting for the render.
func (o *Orchestrator) Submit(ctx context.Context, raw []byte, clientID string) (*ledger.Request, error) {
	cfg, err := o.deps.Validator.Validate(raw)
	if err != nil {
		metrics.RecordChartRequest("rejected")
		return nil, fmt.Errorf("validation: %w", err)
	}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	id := o.deps.IDs.Next()
	done := make(chan struct{})
	o.waiters[id] = done
	o.wg.Add(1)
	o.mu.Unlock()

	submitted := time.Now()
	logger := xglog.WithContext(ctx, o.logger).With().
		Str(xglog.FieldChartRequestID, id).
		Str(xglog.FieldClientID, clientID).
		Str(xglog.FieldSymbol, cfg.Symbol).
		Logger()

	rec := &ledger.Request{
		RequestID: id,
		ClientID:  clientID,
		Config:    cfg,
		Status:    ledger.StatusPending,
		CreatedAt: submitted.UTC(),
	}
	if err := o.deps.Ledger.Create(ctx, rec); err != nil {
		o.abandon(id)
		return nil, fmt.Errorf("internal: create request: %w", err)
	}
	rec, err = o.deps.Ledger.Transition(ctx, id, ledger.EventStart, nil)
	if err != nil {
		o.abandon(id)
		return nil, fmt.Errorf("internal: start request: %w", err)
	}

	metrics.RecordChartRequest("accepted")
	metrics.ChartRequestsInFlight.Inc()
	o.inFlight.Add(1)

	logger.Info().
		Str(xglog.FieldEvent, "chart.accepted").
		Str(xglog.FieldInterval, cfg.Interval).
		Str(xglog.FieldChartType, cfg.ChartType).
		Str(xglog.FieldNewState, string(rec.Status)).
		Msg("chart request accepted")

	o.deps.Emitter.Emit(clientID, events.KindRequest, "Chart generation started for "+cfg.Symbol, id, map[string]any{
		"symbol":    cfg.Symbol,
		"interval":  cfg.Interval,
		"chartType": cfg.ChartType,
	})

	go o.run(id, clientID, cfg, submitted, done, logger)
	return rec, nil
}

// abandon releases bookkeeping for a request that never started.
func (o *Orchestrator) abandon(id string) {
	o.mu.Lock()
	if ch, ok := o.waiters[id]; ok {
		close(ch)
		delete(o.waiters, id)
	}
	o.mu.Unlock()
	o.wg.Done()
}

type outcome struct {
	res *render.Result
	err error
}

// internalError marks failures that did not come from the rendering API.
type internalError struct{ err error }

func (e *internalError) Error() string { return e.err.Error() }
func (e *internalError) Unwrap() error { return e.err }

// run is the detached render task. It always ends with exactly one terminal
// ledger write followed by exactly one terminal event.
func (o *Orchestrator) run(id, clientID string, cfg chart.Config, submitted time.Time, done chan struct{}, logger zerolog.Logger) {
	defer o.wg.Done()
	defer func() {
		o.inFlight.Add(-1)
		metrics.ChartRequestsInFlight.Dec()
		o.mu.Lock()
		delete(o.waiters, id)
		o.mu.Unlock()
		close(done)
	}()

	ctx, span := o.tracer.Start(o.baseCtx, "chart.generate", trace.WithAttributes(
		attribute.String("chart.request_id", id),
		attribute.String("chart.symbol", cfg.Symbol),
	))
	defer span.End()

	o.deps.Emitter.Emit(clientID, events.KindProgress, "Preparing chart request for "+cfg.Symbol, id, nil)

	renderCtx := ctx
	var watchdog <-chan time.Time
	if o.opts.Watchdog > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, o.opts.Watchdog)
		defer cancel()
		timer := time.NewTimer(o.opts.Watchdog)
		defer timer.Stop()
		watchdog = timer.C
	}

	o.deps.Emitter.Emit(clientID, events.KindProgress, "Sending request to chart rendering API", id, nil)

	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome{err: &internalError{fmt.Errorf("renderer panic: %v", r)}}
			}
		}()
		res, err := o.deps.Renderer.Render(renderCtx, cfg)
		if err == nil && res == nil {
			err = &internalError{errors.New("renderer returned no result")}
		}
		results <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-results:
	case <-watchdog:
		out = outcome{err: &internalError{fmt.Errorf("render watchdog expired after %s", o.opts.Watchdog)}}
	}

	if out.err != nil {
		o.fail(ctx, id, clientID, cfg, submitted, o.abortCause(renderCtx, out.err), span, logger)
		return
	}

	o.deps.Emitter.Emit(clientID, events.KindProgress, "Processing chart image response", id, map[string]any{
		"contentType": out.res.ContentType,
		"sizeBytes":   len(out.res.Image),
	})

	if err := o.deps.Images.Put(ctx, id, imagestore.Image{
		Data:        out.res.Image,
		ContentType: out.res.ContentType,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		o.fail(ctx, id, clientID, cfg, submitted, &internalError{fmt.Errorf("store image: %w", err)}, span, logger)
		return
	}

	o.complete(ctx, id, clientID, cfg, submitted, out.res, span, logger)
}

func (o *Orchestrator) complete(ctx context.Context, id, clientID string, cfg chart.Config, submitted time.Time, res *render.Result, span trace.Span, logger zerolog.Logger) {
	result := &ledger.Result{
		ImageURL:    o.opts.ImageURLPrefix + id + "/image",
		ContentType: res.ContentType,
		SizeBytes:   len(res.Image),
	}
	if o.opts.InlineImages {
		result.ImageBase64 = base64.StdEncoding.EncodeToString(res.Image)
	}

	elapsed := time.Since(submitted).Milliseconds()
	rec, err := o.deps.Ledger.Transition(context.WithoutCancel(ctx), id, ledger.EventComplete, func(r *ledger.Request) {
		now := time.Now().UTC()
		r.Result = result
		r.ProcessingTime = &elapsed
		r.CompletedAt = &now
	})
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "chart.complete_rejected").Msg("terminal ledger write rejected, result discarded")
		return
	}

	metrics.RecordChartRequest("completed")
	span.SetStatus(codes.Ok, "")
	logger.Info().
		Str(xglog.FieldEvent, "chart.completed").
		Str(xglog.FieldOldState, string(ledger.StatusProcessing)).
		Str(xglog.FieldNewState, string(rec.Status)).
		Int64("processing_ms", elapsed).
		Int("size_bytes", result.SizeBytes).
		Msg("chart generated")

	o.deps.Emitter.Emit(clientID, events.KindSuccess, "Chart generated successfully for "+cfg.Symbol, id, map[string]any{
		"processingTime": elapsed,
		"imageUrl":       result.ImageURL,
		"contentType":    result.ContentType,
		"sizeBytes":      result.SizeBytes,
	})
}

func (o *Orchestrator) fail(ctx context.Context, id, clientID string, cfg chart.Config, submitted time.Time, cause error, span trace.Span, logger zerolog.Logger) {
	msg := errorMessage(cause)
	elapsed := time.Since(submitted).Milliseconds()

	rec, err := o.deps.Ledger.Transition(context.WithoutCancel(ctx), id, ledger.EventFail, func(r *ledger.Request) {
		now := time.Now().UTC()
		r.ErrorMessage = msg
		r.ProcessingTime = &elapsed
		r.CompletedAt = &now
	})
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "chart.fail_rejected").Msg("terminal ledger write rejected")
		return
	}

	metrics.RecordChartRequest("failed")
	span.RecordError(cause)
	span.SetStatus(codes.Error, msg)
	logger.Warn().
		Err(cause).
		Str(xglog.FieldEvent, "chart.failed").
		Str(xglog.FieldOldState, string(ledger.StatusProcessing)).
		Str(xglog.FieldNewState, string(rec.Status)).
		Int64("processing_ms", elapsed).
		Msg("chart generation failed")

	o.deps.Emitter.Emit(clientID, events.KindError, "Chart generation failed for "+cfg.Symbol+": "+msg, id, map[string]any{
		"error":          msg,
		"processingTime": elapsed,
	})
}

// abortCause reattributes a render error to the gateway when the render
// context itself ended; the render client reports that as a transport error.
func (o *Orchestrator) abortCause(renderCtx context.Context, err error) error {
	var ie *internalError
	if errors.As(err, &ie) {
		return err
	}
	switch cerr := renderCtx.Err(); {
	case cerr == nil:
		return err
	case errors.Is(cerr, context.DeadlineExceeded) && o.opts.Watchdog > 0:
		return &internalError{fmt.Errorf("render watchdog expired after %s", o.opts.Watchdog)}
	default:
		return &internalError{fmt.Errorf("render aborted: %w", cerr)}
	}
}

// errorMessage prefixes the failure with its origin.
func errorMessage(err error) string {
	var ie *internalError
	if errors.As(err, &ie) {
		return "internal: " + ie.Error()
	}
	var ue *render.UpstreamError
	if errors.As(err, &ue) {
		return "upstream: " + ue.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "internal: render aborted: " + err.Error()
	}
	return "upstream: " + err.Error()
}

// Wait blocks until the request reaches a terminal state or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*ledger.Request, error) {
	o.mu.Lock()
	ch := o.waiters[id]
	o.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.deps.Ledger.Get(ctx, id)
}

// GetStatus returns the current record of a request.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*ledger.Request, error) {
	return o.deps.Ledger.Get(ctx, id)
}

// ListRecent returns up to limit requests, newest first.
func (o *Orchestrator) ListRecent(ctx context.Context, limit int) ([]*ledger.Request, error) {
	return o.deps.Ledger.ListRecent(ctx, limit)
}

// History returns the recorded events of a request. Events outlive pruned
// ledger records; an id known to neither store is ErrNotFound.
func (o *Orchestrator) History(ctx context.Context, id string) ([]events.Event, error) {
	if evs, ok := o.deps.History.History(id); ok {
		return evs, nil
	}
	if _, err := o.deps.Ledger.Get(ctx, id); err != nil {
		return nil, err
	}
	return []events.Event{}, nil
}

// Image returns the stored image of a completed request.
func (o *Orchestrator) Image(ctx context.Context, id string) (imagestore.Image, error) {
	return o.deps.Images.Get(ctx, id)
}

// Health reports live sessions, upstream configuration and in-flight renders.
func (o *Orchestrator) Health() Health {
	h := Health{InFlight: o.inFlight.Load()}
	if o.deps.Sessions != nil {
		h.LiveSessionCount = o.deps.Sessions.Count()
	}
	if o.deps.Renderer != nil {
		h.UpstreamConfigured = o.deps.Renderer.Configured()
	}
	return h
}

// Shutdown rejects new submissions and waits for in-flight renders. When ctx
// ends first, outstanding renders are cancelled and each still records its
// terminal state before Shutdown returns ctx.Err().
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-drained
		return ctx.Err()
	}
}
