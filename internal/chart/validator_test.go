// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chart

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AppliesDefaults(t *testing.T) {
	cfg, err := NewValidator().Validate([]byte(`{"symbol":" nasdaq:aapl "}`))
	require.NoError(t, err)

	assert.Equal(t, "NASDAQ:AAPL", cfg.Symbol)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultChartType, cfg.ChartType)
	assert.Equal(t, DefaultWidth, cfg.Width)
	assert.Equal(t, DefaultHeight, cfg.Height)
	assert.Equal(t, DefaultTheme, cfg.Theme)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
}

func TestValidate_FullConfig(t *testing.T) {
	raw := `{
		"symbol": "BINANCE:BTCUSDT",
		"interval": "4h",
		"chartType": "line",
		"width": 1280,
		"height": 720,
		"theme": "light",
		"timezone": "UTC",
		"studies": [{"name": "RSI", "input": {"length": 14}}],
		"options": {"hideVolume": true}
	}`
	cfg, err := NewValidator().Validate([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "4h", cfg.Interval)
	assert.Equal(t, "line", cfg.ChartType)
	assert.Equal(t, 1280, cfg.Width)
	require.Len(t, cfg.Studies, 1)
	assert.Equal(t, "RSI", cfg.Studies[0].Name)
	assert.Equal(t, true, cfg.Options["hideVolume"])
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"empty body", ``, "body"},
		{"invalid json", `{"symbol":`, "body"},
		{"missing symbol", `{"interval":"1D"}`, "symbol"},
		{"bad symbol", `{"symbol":"AAPL; DROP"}`, "symbol"},
		{"bad interval", `{"symbol":"AAPL","interval":"7m"}`, "interval"},
		{"bad chart type", `{"symbol":"AAPL","chartType":"pie"}`, "chartType"},
		{"bad theme", `{"symbol":"AAPL","theme":"neon"}`, "theme"},
		{"too narrow", `{"symbol":"AAPL","width":100}`, "width"},
		{"too tall", `{"symbol":"AAPL","height":5000}`, "height"},
		{"bad timezone", `{"symbol":"AAPL","timezone":"Mars/Olympus"}`, "timezone"},
		{"unnamed study", `{"symbol":"AAPL","studies":[{"name":""}]}`, "studies[0].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator().Validate([]byte(tt.raw))
			require.Error(t, err)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			fields := make([]string, 0, len(ve.Fields))
			for _, f := range ve.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_CloneIsDeep(t *testing.T) {
	orig := Config{
		Symbol:  "AAPL",
		Studies: []Study{{Name: "MACD", Input: map[string]any{"fast": 12}}},
		Options: map[string]any{"nested": map[string]any{"a": 1}},
	}
	cp := orig.Clone()
	cp.Studies[0].Input["fast"] = 99
	cp.Options["nested"].(map[string]any)["a"] = 2

	assert.Equal(t, 12, orig.Studies[0].Input["fast"])
	assert.Equal(t, 1, orig.Options["nested"].(map[string]any)["a"])
}
