// ABOUTME: Mock enterprise tool services: SharePoint, ServiceNow, and a policy knowledge base.
// ABOUTME: Each exposes read tools plus one side-effecting tool that the allow-list must block.

package mcptest

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/toolgate/internal/mcp"
)

// NotFound is the content returned for unknown identifiers.
const NotFound = "NOT_FOUND"

const defaultTopK = 5

type record struct {
	id      string
	title   string
	snippet string
	content string
}

var sharePointDocs = []record{
	{"sp-001", "PII Logging Policy", "Do not log PII in plaintext...", "# PII Logging Policy\n- Never log secrets\n- Mask emails\n- Hash identifiers\n"},
	{"sp-002", "Incident Playbook", "Steps for incident response...", "# Incident Playbook\n- Triage\n- Mitigate\n- Postmortem\n"},
	{"sp-003", "Data Retention", "Retention periods and handling...", "# Data Retention\n- Logs: 30 days\n- Tickets: 1 year\n"},
}

var serviceNowTickets = []record{
	{"INC0010001", "PII found in application logs", "Customer emails written to debug logs...", "# INC0010001\n- Severity: SEV2\n- Customer emails found in debug logs\n- Logging disabled pending fix\n"},
	{"INC0010002", "Incident response drill", "Quarterly tabletop exercise...", "# INC0010002\n- Severity: SEV3\n- Tabletop drill completed\n- Postmortem scheduled\n"},
	{"RITM0020001", "Retention exception request", "Extend log retention for audit...", "# RITM0020001\n- Request: extend log retention to 90 days\n- Status: pending approval\n"},
}

var policyEntries = []record{
	{id: "policy-001", title: "PII Logging Policy", content: "# PII Logging Policy\n- Never log secrets\n- Mask emails and identifiers\n- Hash user identifiers\n"},
	{id: "policy-002", title: "Data Retention Policy", content: "# Data Retention Policy\n- Retain logs for 30 days\n- Retain audit events for 180 days\n- Delete on user request where applicable\n"},
	{id: "policy-003", title: "Incident Response Playbook", content: "# Incident Response Playbook\n- Classify severity (SEV1-SEV3)\n- Notify on-call + stakeholders\n- Create incident timeline and postmortem\n"},
}

func searchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "title": "Query"},
			"top_k": map[string]any{"type": "integer", "title": "Top K", "default": defaultTopK},
		},
		"required": []any{"query"},
	}
}

func idSchema(arg string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			arg: map[string]any{"type": "string"},
		},
		"required": []any{arg},
	}
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return v, nil
}

func topK(args map[string]any) int {
	switch v := args["top_k"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return defaultTopK
}

func snippet(text string, n int) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}

// searchTool matches the query against each record's title and snippet.
func searchTool(name, description, idField string, records []record, withContent bool) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: searchSchema(),
		Handler: func(_ context.Context, args map[string]any) (*mcp.MCPCallToolResult, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return nil, err
			}
			q := strings.ToLower(strings.TrimSpace(query))
			limit := topK(args)

			results := []map[string]any{}
			for _, r := range records {
				snip := r.snippet
				haystack := r.title + r.snippet
				if withContent {
					snip = snippet(r.content, 120)
					haystack = r.title + "\n" + r.content
				}
				if q == "" || !strings.Contains(strings.ToLower(haystack), q) {
					continue
				}
				results = append(results, map[string]any{idField: r.id, "title": r.title, "snippet": snip})
				if len(results) == limit {
					break
				}
			}
			return Structured(map[string]any{"query": query, "results": results})
		},
	}
}

func fetchTool(name, description, idField string, records []record) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: idSchema(idField),
		Handler: func(_ context.Context, args map[string]any) (*mcp.MCPCallToolResult, error) {
			id, err := stringArg(args, idField)
			if err != nil {
				return nil, err
			}
			content := NotFound
			for _, r := range records {
				if strings.EqualFold(r.id, id) {
					content = r.content
					break
				}
			}
			return Structured(map[string]any{idField: id, "content": content})
		},
	}
}

func sideEffectTool(name, description, idField, status string) Tool {
	return Tool{
		Name:        name,
		Description: "[SIDE_EFFECT] " + description,
		InputSchema: idSchema(idField),
		Handler: func(_ context.Context, args map[string]any) (*mcp.MCPCallToolResult, error) {
			id, err := stringArg(args, idField)
			if err != nil {
				return nil, err
			}
			return Structured(map[string]any{idField: id, "status": status})
		},
	}
}

// SharePoint returns the configuration of the mock document store.
func SharePoint() Config {
	return Config{
		Name: "mcp-sharepoint",
		Tools: []Tool{
			searchTool("search_sharepoint", "Search SharePoint for documents relevant to `query` and return top_k results.", "doc_id", sharePointDocs, false),
			fetchTool("fetch_sharepoint_doc", "Fetch a SharePoint doc by id and return its content.", "doc_id", sharePointDocs),
			sideEffectTool("delete_sharepoint_doc", "Delete a SharePoint document by id.", "doc_id", "DELETED"),
		},
	}
}

// ServiceNow returns the configuration of the mock ticketing system.
func ServiceNow() Config {
	return Config{
		Name: "mcp-servicenow",
		Tools: []Tool{
			searchTool("search_servicenow_tickets", "Search ServiceNow for tickets relevant to `query` and return top_k results.", "ticket_id", serviceNowTickets, false),
			fetchTool("get_ticket", "Fetch a ServiceNow ticket by id and return its content.", "ticket_id", serviceNowTickets),
			sideEffectTool("close_ticket", "Close a ServiceNow ticket.", "ticket_id", "CLOSED"),
		},
	}
}

// PolicyKB returns the configuration of the mock policy knowledge base.
func PolicyKB() Config {
	return Config{
		Name: "mcp-policy-kb",
		Tools: []Tool{
			searchTool("search_policy_kb", "Search policy KB for entries relevant to `query` and return top_k results.", "policy_id", policyEntries, true),
			fetchTool("fetch_policy_entry", "Fetch a policy entry by id and return its content.", "policy_id", policyEntries),
			sideEffectTool("delete_policy_entry", "Delete a policy entry.", "policy_id", "DELETED"),
		},
	}
}

// Services returns all three mock service configurations.
func Services() []Config {
	return []Config{SharePoint(), ServiceNow(), PolicyKB()}
}
