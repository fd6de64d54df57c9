// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/chartgw/internal/chart"
	"github.com/ManuGH/chartgw/internal/metrics"
)

const (
	// DefaultBaseURL is the public chart-img endpoint.
	DefaultBaseURL = "https://api.chart-img.com"

	advancedChartPath = "/v2/tradingview/advanced-chart"
	maxImageBytes     = 10 << 20
	maxErrorBodyBytes = 4 << 10
)

// chartStyles maps chart types to the upstream "style" field.
var chartStyles = map[string]string{
	"candlestick":  "candle",
	"bar":          "bar",
	"line":         "line",
	"area":         "area",
	"heikinAshi":   "heikinAshi",
	"hollowCandle": "hollowCandle",
	"baseline":     "baseline",
}

// ClientConfig configures the chart-img client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ChartImgClient renders charts through the chart-img TradingView API.
type ChartImgClient struct {
	base   string
	apiKey string
	http   *http.Client
	tracer trace.Tracer
}

// NewChartImgClient creates a client. An empty API key yields a client whose
// Render always fails with ErrNotConfigured.
func NewChartImgClient(cfg ClientConfig) *ChartImgClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChartImgClient{
		base:   base,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		tracer: otel.Tracer("chartgw/render"),
	}
}

func (c *ChartImgClient) Configured() bool { return c.apiKey != "" }

type studyPayload struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type advancedChartPayload struct {
	Symbol   string         `json:"symbol"`
	Interval string         `json:"interval"`
	Style    string         `json:"style"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
	Theme    string         `json:"theme"`
	Timezone string         `json:"timezone,omitempty"`
	Studies  []studyPayload `json:"studies,omitempty"`
	Override map[string]any `json:"override,omitempty"`
}

// Payload translates a config into the upstream request body.
func Payload(cfg chart.Config) ([]byte, error) {
	style, ok := chartStyles[cfg.ChartType]
	if !ok {
		style = chartStyles[chart.DefaultChartType]
	}
	p := advancedChartPayload{
		Symbol:   cfg.Symbol,
		Interval: cfg.Interval,
		Style:    style,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Theme:    cfg.Theme,
		Timezone: cfg.Timezone,
		Override: cfg.Options,
	}
	for _, s := range cfg.Studies {
		p.Studies = append(p.Studies, studyPayload(s))
	}
	return json.Marshal(p)
}

func (c *ChartImgClient) Render(ctx context.Context, cfg chart.Config) (res *Result, err error) {
	if !c.Configured() {
		return nil, &UpstreamError{Sentinel: ErrNotConfigured}
	}

	ctx, span := c.tracer.Start(ctx, "chart.render", trace.WithAttributes(
		attribute.String("chart.symbol", cfg.Symbol),
		attribute.String("chart.interval", cfg.Interval),
		attribute.String("chart.type", cfg.ChartType),
	))
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveRender(result, time.Since(start))
		span.End()
	}()

	body, err := Payload(cfg)
	if err != nil {
		return nil, &UpstreamError{Sentinel: ErrBadRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+advancedChartPath, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Sentinel: ErrUpstreamUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, &UpstreamError{
			Sentinel: ErrBadResponse,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("expected image response, got %q", contentType),
		}
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if len(img) == 0 {
		return nil, &UpstreamError{Sentinel: ErrBadResponse, Status: resp.StatusCode, Message: "empty image body"}
	}
	if len(img) > maxImageBytes {
		return nil, &UpstreamError{Sentinel: ErrBadResponse, Status: resp.StatusCode, Message: "image exceeds size limit"}
	}

	return &Result{Image: img, ContentType: mediaType, Duration: time.Since(start)}, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := upstreamMessage(raw)

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case resp.StatusCode >= 500:
		sentinel = ErrUpstreamUnavailable
	case resp.StatusCode >= 400:
		sentinel = ErrBadRequest
	default:
		sentinel = ErrBadResponse
	}
	return &UpstreamError{Sentinel: sentinel, Status: resp.StatusCode, Message: msg}
}

// upstreamMessage extracts {"message": "..."} or {"error": "..."} from an error body.
func upstreamMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &UpstreamError{Sentinel: ErrTimeout, Err: err}
	}
	return &UpstreamError{Sentinel: ErrUpstreamUnavailable, Err: err}
}
