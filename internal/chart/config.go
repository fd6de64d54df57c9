// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package chart defines the chart generation request and its validation rules.
package chart

// Defaults applied by the validator when a field is omitted.
const (
	DefaultInterval  = "1D"
	DefaultChartType = "candlestick"
	DefaultWidth     = 800
	DefaultHeight    = 600
	DefaultTheme     = "dark"
	DefaultTimezone  = "Etc/UTC"
)

// Size bounds accepted by the rendering API.
const (
	MinWidth  = 320
	MaxWidth  = 1920
	MinHeight = 220
	MaxHeight = 1080

	MaxStudies = 10
)

// Allowed enumerations.
var (
	Intervals  = []string{"1m", "3m", "5m", "15m", "30m", "45m", "1h", "2h", "3h", "4h", "6h", "12h", "1D", "1W", "1M"}
	ChartTypes = []string{"candlestick", "bar", "line", "area", "heikinAshi", "hollowCandle", "baseline"}
	Themes     = []string{"light", "dark"}
)

// Study is a technical indicator overlay.
type Study struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// Config is a validated chart generation request. The gateway treats it as an
// opaque pass-through value; only the render client interprets it.
type Config struct {
	Symbol    string         `json:"symbol"`
	Interval  string         `json:"interval"`
	ChartType string         `json:"chartType"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Theme     string         `json:"theme"`
	Timezone  string         `json:"timezone,omitempty"`
	Studies   []Study        `json:"studies,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	if c.Studies != nil {
		out.Studies = make([]Study, len(c.Studies))
		for i, s := range c.Studies {
			out.Studies[i] = Study{Name: s.Name, Input: cloneMap(s.Input)}
		}
	}
	out.Options = cloneMap(c.Options)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
