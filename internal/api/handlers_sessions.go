// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/ManuGH/chartgw/internal/api/problem"
	xglog "github.com/ManuGH/chartgw/internal/log"
	"github.com/ManuGH/chartgw/internal/sse"
)

const (
	headerClientID    = "X-Client-ID"
	headerLastEventID = "Last-Event-ID"
	maxClientIDLen    = 128
)

// requestClientID returns the caller-chosen client id from X-Client-ID or
// the clientId query parameter. An empty id is allowed.
func requestClientID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(headerClientID))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("clientId"))
	}
	if id == "" {
		return "", nil
	}
	if len(id) > maxClientIDLen {
		return "", fmt.Errorf("client id exceeds %d characters", maxClientIDLen)
	}
	if sse.ReservedClientID(id) {
		return "", fmt.Errorf("client id %q is reserved", id)
	}
	for _, c := range id {
		if unicode.IsControl(c) || unicode.IsSpace(c) {
			return "", errors.New("client id contains invalid characters")
		}
	}
	return id, nil
}

// lastEventID reads the resume position from the Last-Event-ID header or
// the lastEventId query parameter. Malformed values mean no replay.
func lastEventID(r *http.Request) uint64 {
	raw := r.Header.Get(headerLastEventID)
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// sessionClientID resolves the id a new live session registers under,
// generating one when the caller did not choose.
func (s *Server) sessionClientID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := requestClientID(r)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, "sessions/invalid_client_id", "Invalid Client ID", "INVALID_CLIENT_ID", err.Error(), nil)
		return "", false
	}
	if id == "" {
		id = uuid.NewString()
	}
	return id, true
}

// handleSSE holds an event stream open until the client disconnects or the
// registry closes the session.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.sessionClientID(w, r)
	if !ok {
		return
	}
	w.Header().Set(headerClientID, clientID)

	stream, err := sse.NewHTTPStream(w, r, s.cfg.WriteTimeout)
	if err != nil {
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "session.open_failed").
			Str(xglog.FieldClientID, clientID).
			Msg("cannot open event stream")
		problem.Write(w, r, http.StatusInternalServerError, "sessions/stream_unsupported", "Streaming Unsupported", "STREAM_UNSUPPORTED", err.Error(), nil)
		return
	}

	s.deps.Sessions.Register(clientID, stream, lastEventID(r))
	<-stream.Done()
	_ = stream.Close()
}

// handleWebSocket carries the same events as handleSSE over a WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.sessionClientID(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, http.Header{headerClientID: []string{clientID}})
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "session.upgrade_failed").
			Str(xglog.FieldClientID, clientID).
			Msg("websocket upgrade failed")
		return
	}

	stream := sse.NewWebSocketStream(conn, s.cfg.WriteTimeout)
	s.deps.Sessions.Register(clientID, stream, lastEventID(r))
	<-stream.Done()
	_ = stream.Close()
}
