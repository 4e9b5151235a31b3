// ABOUTME: Plan types and the strict parser for planner output.
// ABOUTME: Accepts a decoded object or a string that is exactly one JSON object.

package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrPlanParse indicates the planner output was not exactly one JSON object.
var ErrPlanParse = errors.New("plan parse failed")

// ErrValidation indicates a parsed plan failed schema validation.
var ErrValidation = errors.New("plan validation failed")

// Plan type values.
const (
	TypeCallTool    = "call_tool"
	TypeToolCall    = "tool_call" // accepted alias of call_tool
	TypeFinalAnswer = "final_answer"
)

// Plan is a validated planner decision: *ToolCall or *FinalAnswer.
type Plan interface {
	isPlan()
}

// ToolCall requests exactly one tool invocation.
type ToolCall struct {
	Server string         `json:"server"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
}

// FinalAnswer ends the request without calling a tool.
type FinalAnswer struct {
	Answer string `json:"answer"`
}

func (*ToolCall) isPlan()    {}
func (*FinalAnswer) isPlan() {}

// Object renders the call in planner output form so it can be validated
// like any other plan.
func (c *ToolCall) Object() map[string]any {
	return map[string]any{
		"type":   TypeCallTool,
		"server": c.Server,
		"tool":   c.Tool,
		"args":   c.Args,
	}
}

// ParseStrict turns planner output into a JSON object without any lenient
// extraction. Maps pass through; strings and bytes must be exactly one
// object once trimmed. Everything else is rejected.
func ParseStrict(raw any) (map[string]any, error) {
	var data []byte
	switch v := raw.(type) {
	case map[string]any:
		if v == nil {
			return nil, fmt.Errorf("%w: plan is null", ErrPlanParse)
		}
		return v, nil
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil, fmt.Errorf("%w: planner output must be a JSON object or JSON text, got %T", ErrPlanParse, raw)
	}

	s := bytes.TrimSpace(data)
	if !bytes.HasPrefix(s, []byte("{")) || !bytes.HasSuffix(s, []byte("}")) {
		return nil, fmt.Errorf("%w: planner output must be only a JSON object", ErrPlanParse)
	}

	obj, err := DecodeObject(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrPlanParse, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: plan is null", ErrPlanParse)
	}
	return obj, nil
}

// DecodeObject decodes exactly one JSON value from data, keeping numbers as
// json.Number so integer literals stay distinguishable from floats.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON object")
	}
	return obj, nil
}

// Describe renders a plan for logs and traces.
func Describe(p Plan) string {
	switch v := p.(type) {
	case *ToolCall:
		return v.Server + "." + v.Tool
	case *FinalAnswer:
		return "final_answer: " + strings.TrimSpace(v.Answer)
	default:
		return fmt.Sprintf("%T", p)
	}
}
