// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// HeartbeatFrame is the SSE keep-alive comment.
const HeartbeatFrame = ": heartbeat\n\n"

// Frame encodes ev as two SSE lines: "event: <type>" and "data: <json>",
// followed by the blank line terminator.
func Frame(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %d: %w", ev.Sequence, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(payload) + len(ev.Type) + 16)
	buf.WriteString("event: ")
	buf.WriteString(string(ev.Type))
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
