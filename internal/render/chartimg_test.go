// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package render

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/chartgw/internal/chart"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func testConfig() chart.Config {
	return chart.ApplyDefaults(chart.Config{Symbol: "NASDAQ:AAPL"})
}

func TestChartImgClient_RendersImage(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/tradingview/advanced-chart", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	c := NewChartImgClient(ClientConfig{BaseURL: srv.URL + "/", APIKey: "secret"})
	require.True(t, c.Configured())

	res, err := c.Render(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, pngBytes, res.Image)

	assert.Equal(t, "NASDAQ:AAPL", gotBody["symbol"])
	assert.Equal(t, "candle", gotBody["style"])
	assert.Equal(t, "1D", gotBody["interval"])
	assert.Equal(t, float64(800), gotBody["width"])
}

func TestChartImgClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"message":"rate limited"}`, ErrRateLimited, "rate limited (HTTP 429)"},
		{"unauthorized", http.StatusForbidden, `{"message":"Invalid API key"}`, ErrUnauthorized, "Invalid API key (HTTP 403)"},
		{"bad request", http.StatusUnprocessableEntity, `{"error":"unknown symbol"}`, ErrBadRequest, "unknown symbol (HTTP 422)"},
		{"server error", http.StatusBadGateway, `oops`, ErrUpstreamUnavailable, "oops (HTTP 502)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewChartImgClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
			_, err := c.Render(context.Background(), testConfig())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.message, err.Error())

			var ue *UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.status, ue.Status)
		})
	}
}

func TestChartImgClient_NonImageResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"x"}`))
	}))
	defer srv.Close()

	c := NewChartImgClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Render(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.True(t, IsTransient(err))
}

func TestChartImgClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewChartImgClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	_, err := c.Render(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChartImgClient_NotConfigured(t *testing.T) {
	c := NewChartImgClient(ClientConfig{})
	assert.False(t, c.Configured())

	_, err := c.Render(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPayload_MapsStudiesAndOptions(t *testing.T) {
	cfg := testConfig()
	cfg.ChartType = "heikinAshi"
	cfg.Studies = []chart.Study{{Name: "Volume"}}
	cfg.Options = map[string]any{"showLegend": false}

	raw, err := Payload(cfg)
	require.NoError(t, err)

	var p map[string]any
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, "heikinAshi", p["style"])
	assert.Equal(t, []any{map[string]any{"name": "Volume"}}, p["studies"])
	assert.Equal(t, map[string]any{"showLegend": false}, p["override"])
}

type stubRenderer struct {
	err   error
	calls int
}

func (s *stubRenderer) Render(context.Context, chart.Config) (*Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Image: pngBytes, ContentType: "image/png"}, nil
}

func (s *stubRenderer) Configured() bool { return true }

func TestGuarded_OpensOnTransientFailures(t *testing.T) {
	stub := &stubRenderer{err: &UpstreamError{Sentinel: ErrUpstreamUnavailable, Status: 503}}
	g := NewGuarded(stub, 2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := g.Render(context.Background(), testConfig())
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	}
	_, err := g.Render(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, stub.calls)
	assert.True(t, g.Configured())
}

func TestGuarded_IgnoresClientErrors(t *testing.T) {
	stub := &stubRenderer{err: &UpstreamError{Sentinel: ErrRateLimited, Status: 429}}
	g := NewGuarded(stub, 1, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := g.Render(context.Background(), testConfig())
		assert.ErrorIs(t, err, ErrRateLimited)
	}
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, "closed", string(g.BreakerState()))
}
