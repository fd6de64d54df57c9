// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"errors"
	"sync"
)

// ErrSystemEvent is returned when a connection-level event is appended.
var ErrSystemEvent = errors.New("system events are not stored")

// Default bounds.
const (
	DefaultMaxRequests = 1000
	DefaultReplaySize  = 512
)

// StoreOptions bounds the store.
type StoreOptions struct {
	// MaxRequests caps the number of request histories; the oldest history is dropped first.
	MaxRequests int
	// ReplaySize caps the global buffer used for Last-Event-ID resumption.
	ReplaySize int
}

// Store is the append-only per-request event history.
// Events are immutable, so readers receive copies of the slices only.
type Store struct {
	mu        sync.RWMutex
	histories map[string][]Event
	order     []string // request ids, oldest first

	replay     []Event // ring buffer
	replayHead int
	replayLen  int

	maxRequests int
}

// NewStore creates an empty store.
func NewStore(opts StoreOptions) *Store {
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = DefaultMaxRequests
	}
	if opts.ReplaySize <= 0 {
		opts.ReplaySize = DefaultReplaySize
	}
	return &Store{
		histories:   make(map[string][]Event),
		replay:      make([]Event, opts.ReplaySize),
		maxRequests: opts.MaxRequests,
	}
}

// Append records ev under its request id.
func (s *Store) Append(ev Event) error {
	if ev.IsSystem() || ev.RequestID == "" {
		return ErrSystemEvent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hist, ok := s.histories[ev.RequestID]
	if !ok {
		s.order = append(s.order, ev.RequestID)
		for len(s.order) > s.maxRequests {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.histories, oldest)
		}
	}
	s.histories[ev.RequestID] = append(hist, ev)

	idx := (s.replayHead + s.replayLen) % len(s.replay)
	s.replay[idx] = ev
	if s.replayLen < len(s.replay) {
		s.replayLen++
	} else {
		s.replayHead = (s.replayHead + 1) % len(s.replay)
	}
	return nil
}

// History returns the events of one request in emission order.
// ok is false when no event was ever recorded for requestID.
func (s *Store) History(requestID string) ([]Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist, ok := s.histories[requestID]
	if !ok {
		return nil, false
	}
	out := make([]Event, len(hist))
	copy(out, hist)
	return out, true
}

// Since returns buffered events with a sequence greater than after that were
// addressed to clientID or broadcast, in sequence order.
func (s *Store) Since(after uint64, clientID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := 0; i < s.replayLen; i++ {
		ev := s.replay[(s.replayHead+i)%len(s.replay)]
		if ev.Sequence <= after {
			continue
		}
		if ev.Target != "" && ev.Target != clientID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Len returns the number of request histories held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories)
}
