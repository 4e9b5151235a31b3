// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded once at startup from a YAML (or TOML) file with
// environment variable expansion, then passed explicitly to every component.
// Nothing reads the environment after Load returns.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolgate/toolgate.yaml
//  3. ~/.config/toolgate/toolgate.yaml
//
// Files ending in .toml are decoded as TOML.
//
// # Environment Variable Expansion
//
//	planner:
//	  api_key: "${LLM_API_KEY}"
//
// # Configuration Sections
//
// Tool servers (one SSE session each):
//
//	servers:
//	  - name: mcp-sharepoint
//	    url: http://localhost:5101/sse
//	  - name: mcp-servicenow
//	    url: http://localhost:5102/sse
//
// Operator allow-list (JSON or YAML mapping server -> tool names):
//
//	allowlist:
//	  path: config/allowlist.json
//
// A missing or invalid allow-list puts the host in discovered-only mode,
// which is not suitable for production.
//
// Planner:
//
//	planner:
//	  base_url: http://localhost:8008/v1
//	  model: Qwen/Qwen2.5-7B-Instruct
//	  timeout: 60s
//	  requests_per_second: 2
//
// Session timeouts:
//
//	timeouts:
//	  endpoint: 10s
//	  handshake: 10s
//	  discovery: 10s
//	  call: 20s
//
// Audit sinks:
//
//	audit:
//	  trace_dir: ./traces
//	  database_path: ./toolgate.db
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
