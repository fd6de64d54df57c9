// SPDX-License-Identifier: MIT

package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestChartAttributes_OmitsEmpty(t *testing.T) {
	attrs := ChartAttributes("chart_1_1", "NASDAQ:AAPL", "", "")
	assert.Equal(t, []attribute.KeyValue{
		attribute.String(ChartRequestIDKey, "chart_1_1"),
		attribute.String(ChartSymbolKey, "NASDAQ:AAPL"),
	}, attrs)
}

func TestRPCAttributes(t *testing.T) {
	assert.Len(t, RPCAttributes("ping", ""), 1)
	attrs := RPCAttributes("tools/call", "generate_chart")
	assert.Equal(t, attribute.String(RPCToolKey, "generate_chart"), attrs[1])
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("boom"), "upstream")
	assert.Equal(t, attribute.Bool(ErrorKey, true), attrs[0])
	assert.Equal(t, attribute.String(ErrorTypeKey, "upstream"), attrs[1])
}

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/v2/charts/{id}", "/api/v2/charts/x", 200)
	assert.Len(t, attrs, 4)
}
