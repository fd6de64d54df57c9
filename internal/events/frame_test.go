// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Exact(t *testing.T) {
	ev := Event{
		Type:      KindProgress,
		Message:   "Sending request to chart rendering API",
		RequestID: "chart_1700000000000_1",
		Timestamp: "2024-01-02T03:04:05.678Z",
		Sequence:  7,
	}
	b, err := Frame(ev)
	require.NoError(t, err)

	want := "event: progress\n" +
		`data: {"type":"progress","message":"Sending request to chart rendering API","requestId":"chart_1700000000000_1","timestamp":"2024-01-02T03:04:05.678Z","sequence":7}` +
		"\n\n"
	assert.Equal(t, want, string(b))
}

func TestFrame_WithDataOmitsTarget(t *testing.T) {
	ev := Event{
		Type:      KindSuccess,
		Message:   "done",
		RequestID: "r1",
		Timestamp: "2024-01-02T03:04:05.678Z",
		Data:      map[string]any{"processingTime": 42},
		Target:    "client-1",
	}
	b, err := Frame(ev)
	require.NoError(t, err)

	lines := strings.Split(string(b), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "event: success", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "data: "))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &body))
	assert.Equal(t, "success", body["type"])
	assert.Equal(t, map[string]any{"processingTime": float64(42)}, body["data"])
	assert.NotContains(t, body, "Target")
	assert.NotContains(t, body, "target")
}

func TestHeartbeatFrame(t *testing.T) {
	assert.Equal(t, ": heartbeat\n\n", HeartbeatFrame)
}

func TestNew_StampsSequenceAndTimestamp(t *testing.T) {
	var seq Sequence
	a := New(&seq, KindRequest, "r1", "started", nil)
	b := New(&seq, KindProgress, "", "tick", nil)

	assert.Equal(t, uint64(1), a.Sequence)
	assert.Equal(t, uint64(2), b.Sequence)
	assert.Equal(t, uint64(2), seq.Current())
	assert.Equal(t, SystemRequestID, b.RequestID)
	assert.True(t, b.IsSystem())

	ts, err := time.Parse(time.RFC3339Nano, a.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
	assert.True(t, strings.HasSuffix(a.Timestamp, "Z"))
	assert.Len(t, a.Timestamp, len(TimestampFormat))
}
