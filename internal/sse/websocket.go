// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sse

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManuGH/chartgw/internal/events"
)

// WebSocketStream delivers events as JSON text frames. Heartbeats are ping
// control frames.
type WebSocketStream struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketStream takes ownership of conn and starts its read pump.
// Inbound messages are discarded; a read error closes the stream.
func NewWebSocketStream(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketStream {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	s := &WebSocketStream{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	conn.SetReadLimit(4096)
	go s.readPump()
	return s
}

func (s *WebSocketStream) readPump() {
	defer func() { _ = s.Close() }()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebSocketStream) Send(ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

func (s *WebSocketStream) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(s.writeTimeout))
}

func (s *WebSocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		close(s.done)
	})
	return err
}

func (s *WebSocketStream) Done() <-chan struct{} { return s.done }

func (s *WebSocketStream) Protocol() string { return "ws" }
