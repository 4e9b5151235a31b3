// ABOUTME: In-process MCP-over-SSE tool server for tests and local runs.
// ABOUTME: Serves the endpoint event, accepts POSTed envelopes with 202, and answers on the stream.

package mcptest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/toolgate/internal/mcp"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultMessagePath is advertised in the endpoint event.
const DefaultMessagePath = "/messages/"

// ToolFunc executes a tool. A returned error becomes a JSON-RPC internal error.
type ToolFunc func(ctx context.Context, args map[string]any) (*mcp.MCPCallToolResult, error)

// Tool is one tool served by the fake server.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolFunc
}

// Config holds configuration for the fake server.
type Config struct {
	Name    string
	Version string
	Tools   []Tool
	Logger  *slog.Logger

	// MessagePath overrides the path advertised in the endpoint event.
	MessagePath string
	// OmitEndpoint suppresses the endpoint event entirely.
	OmitEndpoint bool
	// InitializeError answers initialize with a JSON-RPC error.
	InitializeError bool
	// PostStatus, when non-zero, is returned for every POST instead of 202.
	PostStatus int
}

// stream is one open GET connection.
type stream struct {
	id   string
	out  chan []byte
	kill chan struct{}
	once sync.Once
}

func (st *stream) close() {
	st.once.Do(func() { close(st.kill) })
}

// send queues a frame unless the stream has ended.
func (st *stream) send(frame []byte) bool {
	select {
	case st.out <- frame:
		return true
	case <-st.kill:
		return false
	}
}

// Server implements the server half of MCP over SSE.
type Server struct {
	cfg    Config
	tools  map[string]Tool
	logger *slog.Logger

	mu       sync.Mutex
	streams  map[string]*stream
	received []mcp.JSONRPCRequest
}

// NewServer creates a fake tool server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, errors.New("name is required")
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.MessagePath == "" {
		cfg.MessagePath = DefaultMessagePath
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tools := make(map[string]Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if t.Name == "" || t.Handler == nil {
			return nil, fmt.Errorf("tool %q requires a name and handler", t.Name)
		}
		if _, dup := tools[t.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Name)
		}
		tools[t.Name] = t
	}

	return &Server{
		cfg:     cfg,
		tools:   tools,
		logger:  logger.With("component", "mcptest", "server", cfg.Name),
		streams: make(map[string]*stream),
	}, nil
}

// Name returns the server's name.
func (s *Server) Name() string {
	return s.cfg.Name
}

// Handler returns the HTTP handler serving /sse and the message path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleStream)
	mux.HandleFunc(s.cfg.MessagePath, s.handleMessage)
	return mux
}

// Received returns every envelope POSTed so far, in arrival order.
func (s *Server) Received() []mcp.JSONRPCRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mcp.JSONRPCRequest, len(s.received))
	copy(out, s.received)
	return out
}

// CallCount returns how many tools/call requests named tool.
func (s *Server) CallCount(tool string) int {
	n := 0
	for _, req := range s.Received() {
		if req.Method != mcp.MethodToolsCall {
			continue
		}
		var params mcp.MCPCallToolParams
		if json.Unmarshal(req.Params, &params) == nil && params.Name == tool {
			n++
		}
	}
	return n
}

// StreamCount returns the number of open streams.
func (s *Server) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Broadcast writes a raw SSE frame to every open stream.
func (s *Server) Broadcast(frame string) {
	for _, st := range s.openStreams() {
		st.send([]byte(frame))
	}
}

// DropStreams ends every open stream, as a crashed server would.
func (s *Server) DropStreams() {
	for _, st := range s.openStreams() {
		st.close()
	}
}

func (s *Server) openStreams() []*stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	return out
}

// handleStream serves the long-lived GET stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	st := &stream{
		id:   uuid.New().String(),
		out:  make(chan []byte, 64),
		kill: make(chan struct{}),
	}

	s.mu.Lock()
	s.streams[st.id] = st
	s.mu.Unlock()

	defer func() {
		st.close()
		s.mu.Lock()
		delete(s.streams, st.id)
		s.mu.Unlock()
		s.logger.Debug("stream closed", "session_id", st.id)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !s.cfg.OmitEndpoint {
		fmt.Fprintf(w, "event: endpoint\ndata: %s?session_id=%s\n\n", s.cfg.MessagePath, st.id)
	}
	flusher.Flush()

	s.logger.Debug("stream opened", "session_id", st.id)

	for {
		select {
		case frame := <-st.out:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-st.kill:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleMessage accepts one POSTed JSON-RPC envelope.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	s.mu.Lock()
	st, ok := s.streams[sessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Could not find session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil || int64(len(body)) > MaxRequestBodySize {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil || req.JSONRPC != "2.0" {
		http.Error(w, "Could not parse message", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.received = append(s.received, req)
	s.mu.Unlock()

	if s.cfg.PostStatus != 0 {
		http.Error(w, http.StatusText(s.cfg.PostStatus), s.cfg.PostStatus)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))

	if req.IsNotification() {
		s.logger.Debug("accepted notification", "method", req.Method)
		return
	}

	// Answer asynchronously so slow tools never hold up other requests.
	go s.respond(st, req)
}

func (s *Server) respond(st *stream, req mcp.JSONRPCRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-st.kill:
			cancel()
		case <-ctx.Done():
		}
	}()

	resp := s.dispatch(ctx, req)
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
		return
	}
	st.send([]byte("event: message\ndata: " + string(data) + "\n\n"))
}

func (s *Server) dispatch(ctx context.Context, req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	switch req.Method {
	case mcp.MethodInitialize:
		if s.cfg.InitializeError {
			return errorResponse(req.ID, mcp.JSONRPCInvalidRequest, "initialize refused")
		}
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": mcp.ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": mcp.Implementation{Name: s.cfg.Name, Version: s.cfg.Version},
		})
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case mcp.MethodToolsList:
		return resultResponse(req.ID, s.listTools())
	case mcp.MethodToolsCall:
		return s.callTool(ctx, req)
	default:
		return errorResponse(req.ID, mcp.JSONRPCMethodNotFound, "method not found")
	}
}

func (s *Server) listTools() mcp.MCPListToolsResult {
	result := mcp.MCPListToolsResult{Tools: make([]mcp.MCPToolInfo, 0, len(s.cfg.Tools))}
	for _, t := range s.cfg.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		raw, _ := json.Marshal(schema)
		result.Tools = append(result.Tools, mcp.MCPToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: raw,
		})
	}
	return result
}

func (s *Server) callTool(ctx context.Context, req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	var params mcp.MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.JSONRPCInvalidParams, "invalid params")
		}
	}

	tool, ok := s.tools[params.Name]
	if !ok {
		return errorResponse(req.ID, mcp.JSONRPCInvalidParams, "Unknown tool: "+params.Name)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}

	s.logger.Debug("tools/call", "tool", params.Name)

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return errorResponse(req.ID, mcp.JSONRPCInternalError, err.Error())
	}
	return resultResponse(req.ID, result)
}

func resultResponse(id json.RawMessage, result any) mcp.JSONRPCResponse {
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, mcp.JSONRPCInternalError, "encoding result: "+err.Error())
	}
	return mcp.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: raw}
}

func errorResponse(id json.RawMessage, code int, message string) mcp.JSONRPCResponse {
	return mcp.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &mcp.JSONRPCError{Code: code, Message: message},
	}
}

// Structured builds a tool result whose structuredContent is v and whose
// text content is v's JSON encoding.
func Structured(v any) (*mcp.MCPCallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcp.MCPCallToolResult{
		Content:           []mcp.MCPContent{{Type: "text", Text: string(raw)}},
		StructuredContent: raw,
	}, nil
}

// Text builds a tool result with only text content.
func Text(text string) *mcp.MCPCallToolResult {
	return &mcp.MCPCallToolResult{Content: []mcp.MCPContent{{Type: "text", Text: text}}}
}
