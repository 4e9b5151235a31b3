// Package allowlist decides which discovered tools may run.
//
// Discovery says what exists; the operator file says what is approved. A tool
// is callable only if it is in both. The file maps server names to tool names
// and may be JSON or YAML:
//
//	{
//	  "mcp-sharepoint": ["search_sharepoint", "fetch_sharepoint_doc"],
//	  "mcp-policy-kb": ["search_policy_kb", "fetch_policy_entry"]
//	}
//
// When the file is missing or invalid the host runs in discovered-only mode:
// every discovered tool is callable and a warning is logged and traced.
package allowlist
