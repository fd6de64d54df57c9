// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sse owns live client sessions and fans lifecycle events out to them.
package sse

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/chartgw/internal/events"
	xglog "github.com/ManuGH/chartgw/internal/log"
	"github.com/ManuGH/chartgw/internal/metrics"
)

// DefaultHeartbeatInterval is the keep-alive period of every session.
const DefaultHeartbeatInterval = 30 * time.Second

// Close reasons, used as metric labels.
const (
	reasonClosed     = "closed"
	reasonReplaced   = "replaced"
	reasonWriteError = "write_error"
	reasonRemoved    = "removed"
	reasonShutdown   = "shutdown"
)

// ReplaySource supplies buffered events for Last-Event-ID resumption.
type ReplaySource interface {
	Since(after uint64, clientID string) []events.Event
}

// Options configures a Registry.
type Options struct {
	HeartbeatInterval time.Duration
	// Sequence numbers the connection events; share it with the Broadcaster.
	Sequence *events.Sequence
	// Replay is optional.
	Replay ReplaySource
}

// Session is one registered stream.
type Session struct {
	ClientID    string
	ConnectedAt time.Time
	LastEventID uint64

	stream  Stream
	writeMu sync.Mutex
	// lastSeq is the highest request event sequence written, guarded by writeMu.
	lastSeq uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// Protocol returns the transport of the session stream.
func (s *Session) Protocol() string { return s.stream.Protocol() }

func (s *Session) send(ev events.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sendLocked(ev)
}

// sendLocked writes ev unless a request event with that sequence or a later
// one already went out, which happens when replay and live delivery overlap.
// System events are not sequenced against the replay and always pass.
func (s *Session) sendLocked(ev events.Event) error {
	sequenced := !ev.IsSystem() && ev.Sequence > 0
	if sequenced && ev.Sequence <= s.lastSeq {
		return nil
	}
	if err := s.stream.Send(ev); err != nil {
		return err
	}
	if sequenced {
		s.lastSeq = ev.Sequence
	}
	return nil
}

func (s *Session) heartbeat() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stream.Heartbeat()
}

// Registry tracks at most one live session per client id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	heartbeat time.Duration
	seq       *events.Sequence
	replay    ReplaySource
	logger    zerolog.Logger

	wg sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Sequence == nil {
		opts.Sequence = &events.Sequence{}
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		heartbeat: opts.HeartbeatInterval,
		seq:       opts.Sequence,
		replay:    opts.Replay,
		logger:    xglog.WithComponent("sse"),
	}
}

// Register installs stream as the session for clientID, replacing and closing
// any previous one. The connection event (and any replayed events after
// lastEventID) are written before Register returns and before any live event
// can reach the new session. Live copies of replayed events are dropped.
func (r *Registry) Register(clientID string, stream Stream, lastEventID uint64) *Session {
	s := &Session{
		ClientID:    clientID,
		ConnectedAt: time.Now().UTC(),
		LastEventID: lastEventID,
		stream:      stream,
		stop:        make(chan struct{}),
	}

	s.writeMu.Lock()
	r.mu.Lock()
	prev := r.sessions[clientID]
	r.sessions[clientID] = s
	r.mu.Unlock()
	metrics.IncLiveSessions(stream.Protocol())

	if prev != nil {
		r.shutdown(prev, reasonReplaced)
	}

	connected := events.New(r.seq, events.KindConnection, events.SystemRequestID, "Connected to chart gateway", map[string]any{
		"clientId":          clientID,
		"heartbeatInterval": r.heartbeat.Milliseconds(),
	})
	connected.Target = clientID
	err := stream.Send(connected)

	replayed := 0
	if err == nil && lastEventID > 0 && r.replay != nil {
		for _, ev := range r.replay.Since(lastEventID, clientID) {
			if err = s.sendLocked(ev); err != nil {
				break
			}
			replayed++
		}
	}
	s.writeMu.Unlock()

	if err != nil {
		metrics.RecordSessionWriteFailure()
		r.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "session.connect_failed").
			Str(xglog.FieldClientID, clientID).
			Msg("initial write failed, dropping session")
		r.remove(s, reasonWriteError)
		return s
	}

	r.logger.Info().
		Str(xglog.FieldEvent, "session.registered").
		Str(xglog.FieldClientID, clientID).
		Str(xglog.FieldProtocol, stream.Protocol()).
		Bool("replaced", prev != nil).
		Int("replayed", replayed).
		Msg("client connected")

	r.wg.Add(1)
	go r.watch(s)
	return s
}

// watch runs the heartbeat and deregisters s when its stream closes.
func (r *Registry) watch(s *Session) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.stream.Done():
			r.remove(s, reasonClosed)
			return
		case <-ticker.C:
			if err := s.heartbeat(); err != nil {
				metrics.RecordSessionWriteFailure()
				r.logger.Debug().Err(err).
					Str(xglog.FieldEvent, "session.heartbeat_failed").
					Str(xglog.FieldClientID, s.ClientID).
					Msg("heartbeat failed")
				r.remove(s, reasonWriteError)
				return
			}
		}
	}
}

// remove deregisters s only if it is still the current session for its id.
func (r *Registry) remove(s *Session, reason string) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.ClientID]; ok && cur == s {
		delete(r.sessions, s.ClientID)
	}
	r.mu.Unlock()
	r.shutdown(s, reason)
}

func (r *Registry) shutdown(s *Session, reason string) {
	s.stopOnce.Do(func() {
		close(s.stop)
		_ = s.stream.Close()
		metrics.DecLiveSessions(s.stream.Protocol())
		metrics.RecordSessionClosed(reason)
		r.logger.Info().
			Str(xglog.FieldEvent, "session.closed").
			Str(xglog.FieldClientID, s.ClientID).
			Str("reason", reason).
			Dur("connected_for", time.Since(s.ConnectedAt)).
			Msg("client disconnected")
	})
}

// Deregister closes and removes the session for clientID. Unknown ids are a no-op.
func (r *Registry) Deregister(clientID string) {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if ok {
		delete(r.sessions, clientID)
	}
	r.mu.Unlock()
	if ok {
		r.shutdown(s, reasonRemoved)
	}
}

// WriteToSession writes ev to the session of clientID. It reports whether the
// event reached a live session; a failed write deregisters the session.
func (r *Registry) WriteToSession(clientID string, ev events.Event) bool {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.deliver(s, ev)
}

// Broadcast writes ev to every live session and returns the number reached.
// One failing session never blocks delivery to the others.
func (r *Registry) Broadcast(ev events.Event) int {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if r.deliver(s, ev) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) deliver(s *Session, ev events.Event) bool {
	if err := s.send(ev); err != nil {
		metrics.RecordSessionWriteFailure()
		r.logger.Debug().Err(err).
			Str(xglog.FieldEvent, "session.write_failed").
			Str(xglog.FieldClientID, s.ClientID).
			Uint64(xglog.FieldSequence, ev.Sequence).
			Msg("event write failed, dropping session")
		r.remove(s, reasonWriteError)
		return false
	}
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ClientIDs returns the ids of live sessions, sorted.
func (r *Registry) ClientIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// CloseAll closes every session and waits for their watchers to exit.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		r.shutdown(s, reasonShutdown)
	}
	r.wg.Wait()
}
