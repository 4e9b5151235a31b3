// ABOUTME: HTTP API handlers exposing the request pipeline and trace lookup.
// ABOUTME: Provides POST /api/ask, POST /api/call and read-only tool and trace routes.

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/toolgate/internal/allowlist"
	"github.com/2389/toolgate/internal/plan"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/trace"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20

// AskRequest is the JSON request body for POST /api/ask.
type AskRequest struct {
	Query string `json:"query"`
}

// CallRequest is the JSON request body for POST /api/call.
type CallRequest struct {
	Server string         `json:"server"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
}

// ListTracesResponse is the JSON response for GET /api/traces.
type ListTracesResponse struct {
	Traces []store.TraceSummary `json:"traces"`
}

// registerHTTPAPIRoutes mounts the API on mux.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ask", g.handleAsk)
	mux.HandleFunc("/api/call", g.handleCall)
	mux.HandleFunc("/api/tools", g.handleTools)
	mux.HandleFunc("/api/status", g.handleStatus)
	mux.HandleFunc("/api/traces", g.handleListTraces)
	mux.HandleFunc("/api/traces/", g.handleGetTrace)
}

// handleAsk handles POST /api/ask requests.
// Gate rejections are 200 responses with type "blocked"; only malformed
// requests fail at the HTTP layer.
func (g *Gateway) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseAskRequest(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := g.engine.Ask(r.Context(), req.Query)
	g.sendJSON(w, http.StatusOK, resp)
}

// handleCall handles POST /api/call requests: one direct tool call with
// typed output parsing, subject to the same catalog and allow-list checks.
func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseCallRequest(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := g.engine.CallTyped(r.Context(), req.Server, req.Tool, req.Args)
	switch {
	case errors.Is(err, plan.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, allowlist.ErrToolNotAllowed):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		g.logger.Warn("direct tool call failed", "server", req.Server, "tool", req.Tool, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	g.sendJSON(w, http.StatusOK, result)
}

// handleTools handles GET /api/tools requests with a fresh discovery pass.
func (g *Gateway) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, g.engine.Tools(r.Context()))
}

// handleStatus handles GET /api/status requests with each session's state.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := g.registry.Status()
	out := make(map[string]string, len(status))
	for name, state := range status {
		out[name] = state.String()
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"server_id":      g.serverID,
		"ready":          g.registry.Ready(),
		"servers":        out,
		"allowlist_mode": g.allow.Mode,
	})
}

// handleListTraces handles GET /api/traces?limit=N.
func (g *Gateway) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.traces == nil {
		g.sendJSONError(w, http.StatusNotFound, "trace database not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	traces, err := g.traces.ListTraces(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list traces", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if traces == nil {
		traces = []store.TraceSummary{}
	}
	g.sendJSON(w, http.StatusOK, ListTracesResponse{Traces: traces})
}

// handleGetTrace handles GET /api/traces/{id}. The database is consulted
// first, then the trace directory.
func (g *Gateway) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/traces/")
	if _, err := uuid.Parse(id); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid trace id")
		return
	}

	var (
		rec *trace.Record
		err error
	)
	switch {
	case g.traces != nil:
		rec, err = g.traces.GetTrace(r.Context(), id)
	case g.files != nil:
		rec, err = g.files.Load(id)
	default:
		g.sendJSONError(w, http.StatusNotFound, "trace persistence not configured")
		return
	}

	if errors.Is(err, store.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		g.sendJSONError(w, http.StatusNotFound, "trace not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load trace", "trace_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, rec)
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseAskRequest parses and validates an AskRequest.
func parseAskRequest(r io.Reader) (*AskRequest, error) {
	var req AskRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("query is required")
	}
	return &req, nil
}

// parseCallRequest parses and validates a CallRequest.
func parseCallRequest(r io.Reader) (*CallRequest, error) {
	var req CallRequest
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Server == "" {
		return nil, errors.New("server is required")
	}
	if req.Tool == "" {
		return nil, errors.New("tool is required")
	}
	return &req, nil
}
