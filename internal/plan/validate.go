// ABOUTME: Validates a parsed plan against the freshly discovered tool catalog.
// ABOUTME: Arguments are closed-world and type-checked against the flat input schema.

package plan

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/2389/toolgate/internal/mcp"
)

// Validate checks obj against the catalog and returns the typed plan.
// Every failure wraps ErrValidation.
func Validate(obj map[string]any, cat *mcp.Catalog) (Plan, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: plan must be a JSON object", ErrValidation)
	}

	ptype, _ := obj["type"].(string)
	switch ptype {
	case TypeFinalAnswer:
		return validateFinalAnswer(obj)
	case TypeCallTool, TypeToolCall:
		return validateToolCall(obj, cat)
	default:
		return nil, fmt.Errorf("%w: type must be call_tool or final_answer, got %q", ErrValidation, ptype)
	}
}

func validateFinalAnswer(obj map[string]any) (Plan, error) {
	needsMore, ok := obj["needs_more_info"]
	if !ok {
		needsMore = obj["needsMoreInfo"]
	}
	if b, isBool := needsMore.(bool); !isBool || !b {
		return nil, fmt.Errorf("%w: final_answer requires needs_more_info=true", ErrValidation)
	}

	answer, _ := obj["answer"].(string)
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("%w: final_answer requires a non-empty answer string", ErrValidation)
	}

	return &FinalAnswer{Answer: answer}, nil
}

func validateToolCall(obj map[string]any, cat *mcp.Catalog) (Plan, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: no tool catalog available", ErrValidation)
	}

	server, _ := obj["server"].(string)
	if !cat.HasServer(server) {
		return nil, fmt.Errorf("%w: unknown server %q", ErrValidation, server)
	}

	tool, _ := obj["tool"].(string)
	desc, ok := cat.Lookup(server, tool)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q on server %q", ErrValidation, tool, server)
	}

	args, ok := obj["args"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: args must be an object", ErrValidation)
	}

	if err := ValidateArgs(desc, args); err != nil {
		return nil, err
	}

	return &ToolCall{Server: server, Tool: tool, Args: args}, nil
}

// ValidateArgs checks args against the tool's declared input schema.
func ValidateArgs(desc mcp.ToolDescriptor, args map[string]any) error {
	schema, err := desc.Schema()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	for _, k := range schema.Required {
		if _, ok := args[k]; !ok {
			return fmt.Errorf("%w: missing required arg %q for tool %q", ErrValidation, k, desc.Name)
		}
	}

	// Iterate in sorted order so the reported violation is deterministic.
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		prop, declared := schema.Properties[k]
		if !declared {
			return fmt.Errorf("%w: unexpected arg %q for tool %q", ErrValidation, k, desc.Name)
		}
		if prop.Type == "" {
			continue
		}
		if !typeMatches(prop.Type, args[k]) {
			return fmt.Errorf("%w: arg %q expected type %q, got %s", ErrValidation, k, prop.Type, kindOf(args[k]))
		}
	}

	return nil
}

// typeMatches implements the primitive JSON Schema types. Booleans are never
// numbers and unknown declared types never match.
func typeMatches(schemaType string, v any) bool {
	switch schemaType {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		return isInteger(v)
	case "number":
		_, ok := numberValue(v)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}

// isInteger accepts Go integer values and integer JSON literals. Floats are
// never integers, including whole ones such as 3.0.
func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := strconv.ParseInt(string(n), 10, 64)
		return err == nil
	default:
		return false
	}
}

func numberValue(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := numberValue(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
