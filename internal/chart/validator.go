// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ManuGH/chartgw/internal/validate"
)

var symbolPattern = regexp.MustCompile(`^([A-Z0-9_]+:)?[A-Z0-9._!/-]+$`)

const maxSymbolLen = 64

// ValidationError reports every rejected field of a submission.
type ValidationError struct {
	Fields []validate.Error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid chart config"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return strings.Join(parts, "; ")
}

// Validator turns raw submission bytes into a Config.
type Validator struct{}

// NewValidator returns the default validator.
func NewValidator() *Validator { return &Validator{} }

// Validate decodes raw JSON, applies defaults and checks every field.
// A *ValidationError is returned for malformed input.
func (Validator) Validate(raw []byte) (Config, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Config{}, &ValidationError{Fields: []validate.Error{{Field: "body", Message: "request body is empty"}}}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, &ValidationError{Fields: []validate.Error{{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}

	cfg = ApplyDefaults(cfg)
	if err := Check(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills omitted fields.
func ApplyDefaults(cfg Config) Config {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	if cfg.ChartType == "" {
		cfg.ChartType = DefaultChartType
	}
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Theme == "" {
		cfg.Theme = DefaultTheme
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	return cfg
}

// Check validates an already-decoded config.
func Check(cfg Config) error {
	v := validate.New()

	v.NotEmpty("symbol", cfg.Symbol)
	v.MaxLen("symbol", cfg.Symbol, maxSymbolLen)
	v.Pattern("symbol", cfg.Symbol, symbolPattern)
	v.OneOf("interval", cfg.Interval, Intervals)
	v.OneOf("chartType", cfg.ChartType, ChartTypes)
	v.OneOf("theme", cfg.Theme, Themes)
	v.Range("width", cfg.Width, MinWidth, MaxWidth)
	v.Range("height", cfg.Height, MinHeight, MaxHeight)
	v.Custom("timezone", cfg.Timezone, func(val any) error {
		_, err := time.LoadLocation(val.(string))
		if err != nil {
			return fmt.Errorf("unknown timezone %q", val)
		}
		return nil
	})
	if len(cfg.Studies) > MaxStudies {
		v.AddError("studies", fmt.Sprintf("at most %d studies allowed, got %d", MaxStudies, len(cfg.Studies)), len(cfg.Studies))
	}
	for i, s := range cfg.Studies {
		v.NotEmpty(fmt.Sprintf("studies[%d].name", i), s.Name)
	}

	if v.IsValid() {
		return nil
	}
	return &ValidationError{Fields: v.Errors()}
}
