// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across the gateway.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	ChartRequestIDKey = "chart.request_id"
	ChartSymbolKey    = "chart.symbol"
	ChartIntervalKey  = "chart.interval"
	ChartTypeKey      = "chart.type"
	ChartSizeKey      = "chart.size_bytes"

	SessionClientIDKey = "session.client_id"
	SessionProtocolKey = "session.protocol"

	RPCMethodKey = "rpc.method"
	RPCToolKey   = "rpc.tool"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ChartAttributes describes one chart request. Empty values are omitted.
func ChartAttributes(requestID, symbol, interval, chartType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	for _, kv := range []struct{ key, val string }{
		{ChartRequestIDKey, requestID},
		{ChartSymbolKey, symbol},
		{ChartIntervalKey, interval},
		{ChartTypeKey, chartType},
	} {
		if kv.val != "" {
			attrs = append(attrs, attribute.String(kv.key, kv.val))
		}
	}
	return attrs
}

// RPCAttributes describes one JSON-RPC call. tool is empty outside tools/call.
func RPCAttributes(method, tool string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(RPCMethodKey, method)}
	if tool != "" {
		attrs = append(attrs, attribute.String(RPCToolKey, tool))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
