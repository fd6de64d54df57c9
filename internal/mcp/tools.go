// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/chartgw/internal/chart"
	"github.com/ManuGH/chartgw/internal/events"
	"github.com/ManuGH/chartgw/internal/ledger"
	xglog "github.com/ManuGH/chartgw/internal/log"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100

	// maxWait caps generate_chart calls that block for the result.
	maxWait = 2 * time.Minute
)

type tool struct {
	name        string
	title       string
	description string
	inputSchema map[string]any
	annotations *toolAnnotations
	run         func(ctx context.Context, svc Service, args json.RawMessage) (any, error)
}

// argumentError marks tool arguments that could not be decoded.
type argumentError struct{ msg string }

func (e *argumentError) Error() string { return "invalid arguments: " + e.msg }

func isValidation(err error) bool {
	var verr *chart.ValidationError
	return errors.As(err, &verr)
}

func decodeArgs(args json.RawMessage, into any) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return &argumentError{msg: err.Error()}
	}
	return nil
}

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &argumentError{msg: "requestId is required"}
	}
	return id, nil
}

var requestIDSchema = map[string]any{
	"type":     "object",
	"required": []string{"requestId"},
	"properties": map[string]any{
		"requestId": map[string]any{"type": "string", "description": "Id returned by generate_chart."},
	},
	"additionalProperties": false,
}

func defaultTools() []tool {
	return []tool{
		{
			name:  "generate_chart",
			title: "Generate chart",
			description: "Render a financial chart for a symbol. Returns the request id at once; " +
				"progress and the result are pushed to the caller's SSE session. Set wait " +
				"to block until the chart is ready.",
			inputSchema: map[string]any{
				"type":     "object",
				"required": []string{"symbol"},
				"properties": map[string]any{
					"symbol":    map[string]any{"type": "string", "description": "Ticker, optionally exchange-prefixed (NASDAQ:AAPL)."},
					"interval":  map[string]any{"type": "string", "enum": chart.Intervals, "default": chart.DefaultInterval},
					"chartType": map[string]any{"type": "string", "enum": chart.ChartTypes, "default": chart.DefaultChartType},
					"width":     map[string]any{"type": "integer", "minimum": chart.MinWidth, "maximum": chart.MaxWidth, "default": chart.DefaultWidth},
					"height":    map[string]any{"type": "integer", "minimum": chart.MinHeight, "maximum": chart.MaxHeight, "default": chart.DefaultHeight},
					"theme":     map[string]any{"type": "string", "enum": chart.Themes, "default": chart.DefaultTheme},
					"timezone":  map[string]any{"type": "string", "default": chart.DefaultTimezone},
					"studies": map[string]any{
						"type":     "array",
						"maxItems": chart.MaxStudies,
						"items": map[string]any{
							"type":       "object",
							"required":   []string{"name"},
							"properties": map[string]any{"name": map[string]any{"type": "string"}, "input": map[string]any{"type": "object"}},
						},
					},
					"options": map[string]any{"type": "object", "description": "Extra rendering options passed through to the API."},
					"wait":    map[string]any{"type": "boolean", "description": "Block until the chart completes or fails."},
				},
			},
			annotations: &toolAnnotations{OpenWorldHint: boolPtr(true)},
			run:         runGenerateChart,
		},
		{
			name:        "get_chart_status",
			title:       "Chart status",
			description: "Return the current record of a chart request.",
			inputSchema: requestIDSchema,
			annotations: &toolAnnotations{ReadOnlyHint: boolPtr(true), IdempotentHint: boolPtr(true), OpenWorldHint: boolPtr(false)},
			run:         runGetChartStatus,
		},
		{
			name:        "list_recent_charts",
			title:       "Recent charts",
			description: "List the most recent chart requests, newest first.",
			inputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": maxListLimit, "default": defaultListLimit},
				},
				"additionalProperties": false,
			},
			annotations: &toolAnnotations{ReadOnlyHint: boolPtr(true), IdempotentHint: boolPtr(true), OpenWorldHint: boolPtr(false)},
			run:         runListRecent,
		},
		{
			name:        "get_chart_events",
			title:       "Chart events",
			description: "Return the lifecycle events recorded for a chart request, in emission order.",
			inputSchema: requestIDSchema,
			annotations: &toolAnnotations{ReadOnlyHint: boolPtr(true), IdempotentHint: boolPtr(true), OpenWorldHint: boolPtr(false)},
			run:         runGetChartEvents,
		},
		{
			name:        "health_check",
			title:       "Gateway health",
			description: "Report live session count, upstream configuration and renders in flight.",
			inputSchema: map[string]any{"type": "object", "additionalProperties": false},
			annotations: &toolAnnotations{ReadOnlyHint: boolPtr(true), IdempotentHint: boolPtr(true), OpenWorldHint: boolPtr(false)},
			run:         runHealthCheck,
		},
	}
}

type generateOutput struct {
	RequestID string          `json:"requestId"`
	Status    ledger.Status   `json:"status"`
	ClientID  string          `json:"clientId,omitempty"`
	Record    *ledger.Request `json:"record,omitempty"`
}

func runGenerateChart(ctx context.Context, svc Service, args json.RawMessage) (any, error) {
	var opts struct {
		Wait bool `json:"wait"`
	}
	// Chart fields are checked by the validator; only wait is read here.
	if err := json.Unmarshal(args, &opts); err != nil {
		return nil, &argumentError{msg: err.Error()}
	}

	clientID := xglog.ClientIDFromContext(ctx)
	rec, err := svc.Submit(ctx, args, clientID)
	if err != nil {
		return nil, err
	}
	out := generateOutput{RequestID: rec.RequestID, Status: rec.Status, ClientID: clientID}
	if !opts.Wait {
		return out, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	final, err := svc.Wait(waitCtx, rec.RequestID)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", rec.RequestID, err)
	}
	out.Status = final.Status
	out.Record = final
	return out, nil
}

func runGetChartStatus(ctx context.Context, svc Service, args json.RawMessage) (any, error) {
	var in struct {
		RequestID string `json:"requestId"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := requireID(in.RequestID)
	if err != nil {
		return nil, err
	}
	rec, err := svc.GetStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("chart request %s: %w", id, err)
	}
	return rec, nil
}

type listOutput struct {
	Charts []*ledger.Request `json:"charts"`
	Count  int               `json:"count"`
}

func runListRecent(ctx context.Context, svc Service, args json.RawMessage) (any, error) {
	var in struct {
		Limit *int `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	limit := defaultListLimit
	if in.Limit != nil {
		if *in.Limit < 1 || *in.Limit > maxListLimit {
			return nil, &argumentError{msg: fmt.Sprintf("limit must be between 1 and %d", maxListLimit)}
		}
		limit = *in.Limit
	}
	list, err := svc.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*ledger.Request{}
	}
	return listOutput{Charts: list, Count: len(list)}, nil
}

type eventsOutput struct {
	RequestID string         `json:"requestId"`
	Events    []events.Event `json:"events"`
}

func runGetChartEvents(ctx context.Context, svc Service, args json.RawMessage) (any, error) {
	var in struct {
		RequestID string `json:"requestId"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := requireID(in.RequestID)
	if err != nil {
		return nil, err
	}
	evs, err := svc.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("chart request %s: %w", id, err)
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return eventsOutput{RequestID: id, Events: evs}, nil
}

type healthOutput struct {
	Status             string `json:"status"`
	LiveSessionCount   int    `json:"liveSessionCount"`
	UpstreamConfigured bool   `json:"upstreamConfigured"`
	InFlight           int64  `json:"inFlight"`
}

func runHealthCheck(_ context.Context, svc Service, args json.RawMessage) (any, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	h := svc.Health()
	status := "ok"
	if !h.UpstreamConfigured {
		status = "degraded"
	}
	return healthOutput{
		Status:             status,
		LiveSessionCount:   h.LiveSessionCount,
		UpstreamConfigured: h.UpstreamConfigured,
		InFlight:           h.InFlight,
	}, nil
}
