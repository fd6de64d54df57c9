// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sse

import (
	"sync"

	"github.com/ManuGH/chartgw/internal/events"
)

// fakeStream is an in-memory Stream.
type fakeStream struct {
	mu         sync.Mutex
	sent       []events.Event
	heartbeats int
	sendErr    error
	beatErr    error
	closed     bool

	done chan struct{}
	once sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{done: make(chan struct{})}
}

func (f *fakeStream) Send(ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStreamClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeStream) Heartbeat() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStreamClosed
	}
	if f.beatErr != nil {
		return f.beatErr
	}
	f.heartbeats++
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

// hangUp simulates the peer going away.
func (f *fakeStream) hangUp() { _ = f.Close() }

func (f *fakeStream) Done() <-chan struct{} { return f.done }

func (f *fakeStream) Protocol() string { return "fake" }

func (f *fakeStream) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeStream) events() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Event, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStream) beats() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
