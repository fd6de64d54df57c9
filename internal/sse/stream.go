// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sse

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/chartgw/internal/events"
)

// ErrStreamClosed is returned by writes on a closed stream.
var ErrStreamClosed = errors.New("stream closed")

// Stream is the output side of one live client connection.
// Done is closed once the stream can no longer be written to, whether the
// peer went away or Close was called.
type Stream interface {
	Send(ev events.Event) error
	Heartbeat() error
	Close() error
	Done() <-chan struct{}
	Protocol() string
}

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// HTTPStream writes Server-Sent Events to an HTTP response.
type HTTPStream struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	closed       bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTPStream writes the event-stream response headers and returns a stream
// bound to the request lifetime. The handler must not return before Done is
// closed and Close has been called.
func NewHTTPStream(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) (*HTTPStream, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &HTTPStream{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	if err := s.rc.Flush(); err != nil {
		return nil, err
	}

	ctx := r.Context()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *HTTPStream) Send(ev events.Event) error {
	frame, err := events.Frame(ev)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *HTTPStream) Heartbeat() error {
	return s.write([]byte(events.HeartbeatFrame))
}

func (s *HTTPStream) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}

	if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Close marks the stream closed after any in-flight write has finished.
func (s *HTTPStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *HTTPStream) Done() <-chan struct{} { return s.done }

func (s *HTTPStream) Protocol() string { return "sse" }
