// ABOUTME: Prompt construction for tool routing and grounded summarization.
// ABOUTME: The routing prompt carries the live tool catalog and identifier hints.

package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/plan"
)

const routingRules = `You are a tool-routing planner inside an agentic platform.

Hard rules:
- You MUST respond with ONLY valid JSON (no markdown, no extra text).
- You must choose exactly ONE of:
  1) {"type":"call_tool","server":"<server>","tool":"<tool>","args":{...}}
  2) {"type":"final_answer","answer":"...","needs_more_info":true}

Tool use rules:
- You may ONLY choose tools that appear in the provided TOOL_CATALOG.
- Tool arguments MUST match the tool's inputSchema (keys and types).
- If you cannot answer without tool output, choose final_answer with needs_more_info=true.
- Do NOT hallucinate facts. Do NOT invent tools. Do NOT guess IDs. Use search tools first when needed.
`

const searchRules = `- If the user asks to "summarize" and provides an id, you MUST first fetch the document/policy/ticket
  using the correct fetch tool above (still only one tool call total).
- If the user asks to "find/search" but does NOT provide a concrete id, use the relevant search tool first,
  passing {"query": "...", "top_k": N}.
`

const summarizerRules = `You are a strictly grounded summarizer.

HARD RULES (must follow):
1) Output ONLY ONE valid JSON object. No markdown, no extra text.
2) You MUST NOT add any facts not present in SOURCE.
3) Every item you output MUST include an 'evidence' string that is an EXACT substring copied from SOURCE.
4) NEVER paraphrase evidence. Evidence must be copied verbatim.
5) If SOURCE does not contain enough information to produce grounded claims, return empty lists.

COPY RULES (important):
- Prefer using evidence copied from fields named like: "content" or "snippet".
- If SOURCE is JSON, copy evidence from inside string values exactly as shown.

OUTPUT SCHEMA (exact keys):
{
  "type": "summary",
  "bullets": [{"claim": "...", "evidence": "..."}],
  "risks": [{"claim": "...", "evidence": "..."}],
  "recommendations": [{"claim": "...", "evidence": "..."}]
}

CONSTRAINTS:
- Keep claims short (<= 12 words).
- Limit: bullets <= 5, risks <= 3, recommendations <= 3.
- If SOURCE contains "NOT_FOUND" (or empty results), return empty lists.
`

type catalogEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CatalogJSON renders the discovered tools as server -> [{name, description, inputSchema}].
func CatalogJSON(cat *mcp.Catalog) string {
	out := make(map[string][]catalogEntry)
	if cat != nil {
		for server, tools := range cat.Tools {
			entries := make([]catalogEntry, 0, len(tools))
			for _, t := range tools {
				schema := t.InputSchema
				if len(schema) == 0 {
					schema = json.RawMessage(`{}`)
				}
				entries = append(entries, catalogEntry{Name: t.Name, Description: t.Description, InputSchema: schema})
			}
			out[server] = entries
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// IDHints returns the identifiers each shortcut rule finds in the query,
// keyed by rule name. Hints never execute anything.
func IDHints(query string, rules []plan.Shortcut) map[string]string {
	hints := make(map[string]string)
	q := strings.TrimSpace(query)
	for _, r := range rules {
		m := r.Pattern.FindStringSubmatch(q)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 && m[1] != "" {
			value = m[1]
		}
		hints[r.Name] = value
	}
	return hints
}

// RoutingMessages builds the planner prompt for one query.
func RoutingMessages(query string, cat *mcp.Catalog, rules []plan.Shortcut) []Message {
	var system strings.Builder
	system.WriteString(routingRules)
	system.WriteString("\nRouting rules (MUST follow):\n")
	for _, r := range rules {
		fmt.Fprintf(&system, "- If the user mentions an id matching %s,\n  then you MUST use %s.%s with {%q: \"<that id>\"}.\n",
			r.Pattern.String(), r.Server, r.Tool, r.Arg)
	}
	system.WriteString(searchRules)

	hints, err := json.Marshal(IDHints(query, rules))
	if err != nil {
		hints = []byte("{}")
	}

	user := fmt.Sprintf(`USER_QUERY:
%s

ID_HINTS (best-effort, may be empty):
%s

TOOL_CATALOG (JSON):
%s

Return ONLY one JSON object following the schema.
`, query, hints, CatalogJSON(cat))

	return []Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: user},
	}
}

// SummaryMessages builds the grounded summarizer prompt over source text.
func SummaryMessages(source string) []Message {
	user := "SOURCE (you may ONLY use this text):\n" + source + "\n\n" +
		"Task:\n" +
		"- Produce a grounded summary strictly following the schema.\n" +
		"- Evidence MUST be copied verbatim from SOURCE (exact substring).\n"

	return []Message{
		{Role: "system", Content: summarizerRules},
		{Role: "user", Content: user},
	}
}
