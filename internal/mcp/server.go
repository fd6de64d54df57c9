// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mcp serves the Model Context Protocol over JSON-RPC 2.0 on
// POST /mcp. Lifecycle events of submitted charts are pushed to the
// caller's SSE session, which is identified by the client id.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/chartgw/internal/events"
	"github.com/ManuGH/chartgw/internal/ledger"
	xglog "github.com/ManuGH/chartgw/internal/log"
	"github.com/ManuGH/chartgw/internal/orchestrator"
	"github.com/ManuGH/chartgw/internal/sse"
	"github.com/ManuGH/chartgw/internal/telemetry"
)

// MaxBodyBytes bounds a single POST /mcp body.
const MaxBodyBytes = 1 << 20

// HeaderClientID names the session a call's events are delivered to.
const HeaderClientID = "X-Client-ID"

// Service is the part of the orchestrator the tools use.
type Service interface {
	Submit(ctx context.Context, raw []byte, clientID string) (*ledger.Request, error)
	Wait(ctx context.Context, id string) (*ledger.Request, error)
	GetStatus(ctx context.Context, id string) (*ledger.Request, error)
	ListRecent(ctx context.Context, limit int) ([]*ledger.Request, error)
	History(ctx context.Context, id string) ([]events.Event, error)
	Health() orchestrator.Health
}

// Server dispatches JSON-RPC messages. It holds no per-client state; every
// POST is answered on its own.
type Server struct {
	svc     Service
	version string
	tools   []tool
	byName  map[string]*tool
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewServer builds a server answering initialize with the given version.
func NewServer(svc Service, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		svc:     svc,
		version: version,
		tools:   defaultTools(),
		logger:  xglog.WithComponent("mcp"),
		tracer:  otel.Tracer("chartgw/mcp"),
	}
	s.byName = make(map[string]*tool, len(s.tools))
	for i := range s.tools {
		s.byName[s.tools[i].name] = &s.tools[i]
	}
	return s
}

// ServeHTTP answers one JSON-RPC message or batch. Bodies made only of
// notifications get 202 with no body.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(HeaderClientID)
	if clientID == "" {
		clientID = r.URL.Query().Get("clientId")
	}
	if sse.ReservedClientID(clientID) {
		writeHTTP(w, http.StatusBadRequest, errorResponse(json.RawMessage("null"), codeInvalidRequest,
			fmt.Sprintf("client id %q is reserved", clientID)))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeHTTP(w, http.StatusRequestEntityTooLarge, errorResponse(json.RawMessage("null"), codeInvalidRequest, "request body too large"))
			return
		}
		writeHTTP(w, http.StatusBadRequest, errorResponse(json.RawMessage("null"), codeParseError, "read body: "+err.Error()))
		return
	}

	ctx := r.Context()
	if clientID != "" {
		ctx = xglog.ContextWithClientID(ctx, clientID)
	}
	out := s.Handle(ctx, body)
	if out == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// Handle processes a single message or a batch and returns the encoded
// reply, or nil when nothing is owed (notifications only).
func (s *Server) Handle(ctx context.Context, body []byte) []byte {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			return encode(errorResponse(json.RawMessage("null"), codeParseError, "parse error: "+err.Error()))
		}
		if len(batch) == 0 {
			return encode(errorResponse(json.RawMessage("null"), codeInvalidRequest, "empty batch"))
		}
		replies := make([]*response, 0, len(batch))
		for _, msg := range batch {
			if resp := s.handleMessage(ctx, msg); resp != nil {
				replies = append(replies, resp)
			}
		}
		if len(replies) == 0 {
			return nil
		}
		return encode(replies)
	}

	resp := s.handleMessage(ctx, body)
	if resp == nil {
		return nil
	}
	return encode(resp)
}

func (s *Server) handleMessage(ctx context.Context, raw []byte) *response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(json.RawMessage("null"), codeParseError, "parse error: "+err.Error())
	}
	if req.JSONRPC != "2.0" {
		if req.isNotification() {
			return nil
		}
		return errorResponse(req.ID, codeInvalidRequest, "unsupported JSON-RPC version")
	}
	if req.Method == "" {
		if req.isNotification() {
			return nil
		}
		return errorResponse(req.ID, codeInvalidRequest, "method is required")
	}
	if req.isNotification() {
		s.logger.Debug().Str(xglog.FieldEvent, "mcp.notification").Str("method", req.Method).Msg("notification received")
		return nil
	}
	return s.dispatch(ctx, &req)
}

func (s *Server) dispatch(ctx context.Context, req *request) *response {
	ctx, span := s.tracer.Start(ctx, "mcp."+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(telemetry.RPCAttributes(req.Method, "")...))
	defer span.End()

	var resp *response
	switch req.Method {
	case "initialize":
		resp = s.handleInitialize(req)
	case "ping":
		resp = resultResponse(req.ID, map[string]any{})
	case "tools/list":
		resp = s.handleToolsList(req)
	case "tools/call":
		resp = s.handleToolsCall(ctx, req)
	default:
		resp = errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
	if resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Message)
	}
	return resp
}

func (s *Server) handleInitialize(req *request) *response {
	if len(req.Params) == 0 {
		return errorResponse(req.ID, codeInvalidParams, "params required for initialize")
	}
	var params initializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid initialize params: "+err.Error())
	}

	s.logger.Info().
		Str(xglog.FieldEvent, "mcp.initialize").
		Str("client_name", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Str("requested_version", params.ProtocolVersion).
		Msg("mcp client initialized")

	return resultResponse(req.ID, initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    serverCapabilities{Tools: &toolCapability{}},
		ServerInfo:      serverInfo{Name: "chartgw", Version: s.version},
		Instructions: "Call generate_chart to render a chart. Open GET /mcp/sse with the same " +
			"client id to receive progress events for your requests.",
	})
}

func (s *Server) handleToolsList(req *request) *response {
	descriptions := make([]toolDescription, 0, len(s.tools))
	for _, t := range s.tools {
		descriptions = append(descriptions, toolDescription{
			Name:        t.name,
			Title:       t.title,
			Description: t.description,
			InputSchema: t.inputSchema,
			Annotations: t.annotations,
		})
	}
	return resultResponse(req.ID, toolsListResult{Tools: descriptions})
}

func (s *Server) handleToolsCall(ctx context.Context, req *request) *response {
	if len(req.Params) == 0 {
		return errorResponse(req.ID, codeInvalidParams, "params required for tools/call")
	}
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	t, ok := s.byName[params.Name]
	if !ok {
		return errorResponse(req.ID, codeInvalidParams, "unknown tool: "+params.Name)
	}

	args := params.Arguments
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.RPCAttributes(req.Method, t.name)...)

	out, err := t.run(ctx, s.svc, args)
	logger := xglog.WithComponentFromContext(ctx, "mcp")
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(err, classifyError(err).Category)...)
		logger.Warn().Err(err).Str(xglog.FieldEvent, "mcp.tool_error").Str("tool", t.name).Msg("tool call failed")
	} else {
		logger.Debug().Str(xglog.FieldEvent, "mcp.tool_call").Str("tool", t.name).Msg("tool call served")
	}
	return resultResponse(req.ID, buildToolResult(out, err))
}

// buildToolResult puts structured output in both structuredContent and a text
// block. A failed call carries the error text and its classification.
func buildToolResult(out any, runErr error) toolsCallResult {
	result := toolsCallResult{}
	if runErr != nil {
		result.IsError = true
		result.Content = []contentBlock{{Type: "text", Text: runErr.Error()}}
		result.ErrorInfo = classifyError(runErr)
		return result
	}
	text, err := json.Marshal(out)
	if err != nil {
		result.IsError = true
		result.Content = []contentBlock{{Type: "text", Text: "encode result: " + err.Error()}}
		result.ErrorInfo = &errorInfo{Category: "internal"}
		return result
	}
	result.StructuredContent = out
	result.Content = []contentBlock{{Type: "text", Text: string(text)}}
	return result
}

func classifyError(err error) *errorInfo {
	var argErr *argumentError
	switch {
	case errors.As(err, &argErr):
		return &errorInfo{Category: "validation"}
	case isValidation(err):
		return &errorInfo{Category: "validation"}
	case errors.Is(err, orchestrator.ErrNotFound):
		return &errorInfo{Category: "not_found"}
	case errors.Is(err, orchestrator.ErrShuttingDown),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &errorInfo{Category: "unavailable", Retryable: true}
	default:
		return &errorInfo{Category: "internal"}
	}
}

func resultResponse(id json.RawMessage, result any) *response {
	return &response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *response {
	return &response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(errorResponse(json.RawMessage("null"), codeInternalError, "encode response: "+err.Error()))
	}
	return b
}

func writeHTTP(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encode(v))
}
