// ABOUTME: JSON-RPC 2.0 envelopes and MCP tool payload types.
// ABOUTME: Shared by the SSE client session and the in-process test server.

package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ProtocolVersion is the MCP revision sent in initialize.
const ProtocolVersion = "2024-11-05"

// MCP method names used by the host.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request or notification.
// Notifications carry no ID.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// NewRequest builds a request envelope with a numeric id.
func NewRequest(id int64, method string, params any) (*JSONRPCRequest, error) {
	req, err := NewNotification(method, params)
	if err != nil {
		return nil, err
	}
	req.ID = json.RawMessage(strconv.FormatInt(id, 10))
	return req, nil
}

// NewNotification builds an envelope without an id.
func NewNotification(method string, params any) (*JSONRPCRequest, error) {
	req := &JSONRPCRequest{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s params: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// IsNotification reports whether the envelope carries no id.
func (r *JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// NumericID parses the response id as an integer. Responses to
// notifications or server-initiated messages have no usable id.
func (r *JSONRPCResponse) NumericID() (int64, bool) {
	if len(r.ID) == 0 || string(r.ID) == "null" {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(r.ID, &id); err != nil {
		// Some servers echo ids as strings
		var s string
		if json.Unmarshal(r.ID, &s) != nil {
			return 0, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return id, true
}

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content           []MCPContent    `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// InitializeParams are sent by the client to open a session.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolResult decodes the tools/call result carried by a response.
func (r *JSONRPCResponse) ToolResult() (*MCPCallToolResult, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	if len(r.Result) == 0 {
		return nil, fmt.Errorf("%w: response has no result", ErrProtocol)
	}
	var res MCPCallToolResult
	if err := json.Unmarshal(r.Result, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding tool result: %v", ErrProtocol, err)
	}
	return &res, nil
}
