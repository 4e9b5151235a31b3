// ABOUTME: Structured responses produced by the request pipeline.
// ABOUTME: One response type per terminal outcome, plus typed direct-call results.

package pipeline

import (
	"github.com/2389/toolgate/internal/grounding"
	"github.com/2389/toolgate/internal/mcp"
)

// ResponseType names the terminal outcome of a request.
type ResponseType string

const (
	TypeBlocked               ResponseType = "blocked"
	TypeFinalAnswer           ResponseType = "final_answer"
	TypeToolResult            ResponseType = "tool_result"
	TypeToolResultWithSummary ResponseType = "tool_result_with_summary"
	TypeError                 ResponseType = "error"
)

// Response is the outcome of one Ask.
type Response struct {
	Type ResponseType `json:"type"`

	// Reason explains a blocked request.
	Reason string `json:"reason,omitempty"`

	// Answer is set for final_answer responses, which always need more info.
	Answer        string `json:"answer,omitempty"`
	NeedsMoreInfo bool   `json:"needs_more_info,omitempty"`

	// Plan is the plan object that was validated, or rejected.
	Plan map[string]any `json:"plan,omitempty"`

	Typed   map[string]any     `json:"typed,omitempty"`
	Summary *grounding.Summary `json:"summary,omitempty"`

	// Raw is the untouched tool response, or planner output that failed to parse.
	Raw any `json:"raw,omitempty"`

	// Note flags a degraded result: unparsed output or a skipped or blocked summary.
	Note string `json:"note,omitempty"`

	// Error describes a failed planner or tool call.
	Error string `json:"error,omitempty"`

	TraceID   string `json:"trace_id,omitempty"`
	TracePath string `json:"trace_path,omitempty"`
}

// TypedCall is the result of a direct tool call.
type TypedCall struct {
	Raw        *mcp.JSONRPCResponse `json:"raw"`
	Typed      map[string]any       `json:"typed,omitempty"`
	TypedError string               `json:"typed_error,omitempty"`
}

// ToolsView is a discovery snapshot with the permissions derived from it.
type ToolsView struct {
	Catalog   *mcp.Catalog        `json:"catalog"`
	Mode      string              `json:"allowlist_mode"`
	Warning   string              `json:"allowlist_warning,omitempty"`
	Effective map[string][]string `json:"effective"`
}
