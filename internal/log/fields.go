// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID      = "request_id"
	FieldCorrelationID  = "correlation_id"
	FieldClientID       = "client_id"
	FieldChartRequestID = "chart_request_id"
	FieldSequence       = "sequence"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldProtocol  = "protocol"

	// Chart fields
	FieldSymbol    = "symbol"
	FieldInterval  = "interval"
	FieldChartType = "chart_type"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// HTTP fields
	FieldMethod   = "method"
	FieldPath     = "path"
	FieldStatus   = "status"
	FieldDuration = "duration"
)
