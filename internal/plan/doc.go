// Package plan turns planner output into a validated, typed decision.
//
// Three steps, each a separate gate:
//
//  1. ParseStrict accepts exactly one JSON object. Prose, code fences and
//     arrays are rejected here rather than repaired.
//  2. Validate checks the object against the catalog discovered for this
//     request. A call_tool plan must name a discovered server and tool, and
//     its args must match the tool's input schema exactly: required keys
//     present, no undeclared keys, primitive types respected. A final_answer
//     plan is only valid as a needs-more-info reply.
//  3. Match, used before planning, maps queries that mention a known
//     identifier (sp-001, policy-002, INC0010001) straight to a fetch tool.
//
// A ToolCall produced by Match still goes through Validate.
package plan
