// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/chartgw/internal/api/problem"
	"github.com/ManuGH/chartgw/internal/chart"
	"github.com/ManuGH/chartgw/internal/events"
	"github.com/ManuGH/chartgw/internal/imagestore"
	"github.com/ManuGH/chartgw/internal/ledger"
	xglog "github.com/ManuGH/chartgw/internal/log"
	"github.com/ManuGH/chartgw/internal/orchestrator"
)

const (
	maxChartBodyBytes = 64 << 10
	defaultListLimit  = 20
	maxListLimit      = 100
)

type createChartResponse struct {
	RequestID string        `json:"requestId"`
	Status    ledger.Status `json:"status"`
	ClientID  string        `json:"clientId,omitempty"`
	StatusURL string        `json:"statusUrl"`
	EventsURL string        `json:"eventsUrl"`
}

type listChartsResponse struct {
	Charts []*ledger.Request `json:"charts"`
	Count  int               `json:"count"`
}

type chartEventsResponse struct {
	RequestID string         `json:"requestId"`
	Events    []events.Event `json:"events"`
}

func (s *Server) handleCreateChart(w http.ResponseWriter, r *http.Request) {
	clientID, err := requestClientID(r)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, "sessions/invalid_client_id", "Invalid Client ID", "INVALID_CLIENT_ID", err.Error(), nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChartBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			problem.Write(w, r, http.StatusRequestEntityTooLarge, "validation/body_too_large", "Payload Too Large", "BODY_TOO_LARGE",
				fmt.Sprintf("request body exceeds %d bytes", maxChartBodyBytes), nil)
			return
		}
		problem.Write(w, r, http.StatusBadRequest, "validation/unreadable_body", "Bad Request", "UNREADABLE_BODY", err.Error(), nil)
		return
	}

	ctx := r.Context()
	if clientID != "" {
		ctx = xglog.ContextWithClientID(ctx, clientID)
	}
	rec, err := s.deps.Charts.Submit(ctx, body, clientID)
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}

	base := "/api/v2/charts/" + rec.RequestID
	w.Header().Set("Location", base)
	writeJSON(w, http.StatusAccepted, createChartResponse{
		RequestID: rec.RequestID,
		Status:    rec.Status,
		ClientID:  clientID,
		StatusURL: base,
		EventsURL: base + "/events",
	})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *chart.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]map[string]string, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, map[string]string{"field": f.Field, "message": f.Message})
		}
		problem.Write(w, r, http.StatusBadRequest, "validation/invalid_config", "Invalid Chart Config", "INVALID_CONFIG",
			verr.Error(), map[string]any{"errors": fields})
	case errors.Is(err, orchestrator.ErrShuttingDown):
		w.Header().Set("Retry-After", "5")
		problem.Write(w, r, http.StatusServiceUnavailable, "system/shutting_down", "Service Unavailable", "SHUTTING_DOWN", err.Error(), nil)
	default:
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "chart.submit_failed").
			Msg("chart submission failed")
		problem.Write(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL", "chart submission failed", nil)
	}
}

func (s *Server) handleListCharts(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			problem.Write(w, r, http.StatusBadRequest, "validation/invalid_limit", "Invalid Limit", "INVALID_LIMIT",
				fmt.Sprintf("limit must be an integer between 1 and %d", maxListLimit), nil)
			return
		}
		limit = n
	}

	list, err := s.deps.Charts.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	if list == nil {
		list = []*ledger.Request{}
	}
	writeJSON(w, http.StatusOK, listChartsResponse{Charts: list, Count: len(list)})
}

func (s *Server) handleGetChart(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Charts.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleChartEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	evs, err := s.deps.Charts.History(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, chartEventsResponse{RequestID: id, Events: evs})
}

func (s *Server) handleChartImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.deps.Charts.Image(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, imagestore.ErrNotFound) || errors.Is(err, imagestore.ErrInvalidID) {
			problem.Write(w, r, http.StatusNotFound, "charts/image_not_found", "Not Found", "IMAGE_NOT_FOUND",
				"no image is stored for this chart request", nil)
			return
		}
		s.writeLookupError(w, r, err)
		return
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	if s.cfg.ImageMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(s.cfg.ImageMaxAge.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(img.Data)
	}
}

func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, orchestrator.ErrNotFound) {
		problem.Write(w, r, http.StatusNotFound, "charts/not_found", "Not Found", "NOT_FOUND", "chart request not found", nil)
		return
	}
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Error().Err(err).
		Str(xglog.FieldEvent, "chart.lookup_failed").
		Msg("chart lookup failed")
	problem.Write(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL", "chart lookup failed", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		xglog.L().Error().Err(err).Int(xglog.FieldStatus, status).Msg("failed to encode response")
	}
}
