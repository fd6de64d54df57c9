// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/chartgw/internal/events"
)

func TestHTTPStream_FramesAndHeaders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/mcp/sse", nil).WithContext(ctx)

	st, err := NewHTTPStream(rec, req, time.Second)
	require.NoError(t, err)

	require.NoError(t, st.Send(events.Event{
		Type:      events.KindProgress,
		Message:   "Preparing chart request for AAPL",
		RequestID: "r1",
		Timestamp: "2024-01-02T03:04:05.678Z",
		Sequence:  3,
	}))
	require.NoError(t, st.Heartbeat())
	require.NoError(t, st.Close())

	assert.ErrorIs(t, st.Send(events.Event{Type: events.KindProgress}), ErrStreamClosed)
	assert.ErrorIs(t, st.Heartbeat(), ErrStreamClosed)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	want := "event: progress\n" +
		`data: {"type":"progress","message":"Preparing chart request for AAPL","requestId":"r1","timestamp":"2024-01-02T03:04:05.678Z","sequence":3}` +
		"\n\n: heartbeat\n\n"
	assert.Equal(t, want, rec.Body.String())
}

func TestHTTPStream_DoneOnRequestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/mcp/sse", nil).WithContext(ctx)

	st, err := NewHTTPStream(rec, req, time.Second)
	require.NoError(t, err)

	cancel()
	select {
	case <-st.Done():
	case <-time.After(time.Second):
		t.Fatal("stream not closed after request cancellation")
	}
}

func TestWebSocketStream_EventsAndClose(t *testing.T) {
	reg := NewRegistry(Options{HeartbeatInterval: time.Hour})
	t.Cleanup(reg.CloseAll)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		st := NewWebSocketStream(conn, time.Second)
		reg.Register("ws-client", st, 0)
		<-st.Done()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, events.KindConnection, first.Type)

	require.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, reg.WriteToSession("ws-client", events.Event{Type: events.KindSuccess, RequestID: "r9", Message: "done"}))

	var second events.Event
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, events.KindSuccess, second.Type)
	assert.Equal(t, "r9", second.RequestID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
