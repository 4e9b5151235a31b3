// Package gateway orchestrates the toolgate server components.
//
// # Overview
//
// The gateway package is the central coordinator of a toolgate process. It
// owns the tool session registry, the request pipeline, the trace sinks and
// the HTTP server, and it manages their startup and shutdown.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config     *config.Config
//	    registry   *mcp.Registry
//	    engine     *pipeline.Engine
//	    httpServer *http.Server
//	    traces     store.TraceStore // audit.database_path
//	    files      *trace.FileSink  // audit.trace_dir
//	    allow      allowlist.Config
//	    // ...
//	}
//
// # Lifecycle
//
// New builds every component from configuration without touching the
// network. Run connects each tool server in configuration order (one
// unreachable server fails startup), then serves HTTP until its context is
// canceled. Shutdown stops HTTP, closes every session and closes the trace
// database.
//
// # HTTP API
//
//   - POST /api/ask - Run one query through the gate pipeline
//   - POST /api/call - Call one allowed tool directly with typed parsing
//   - GET /api/tools - Fresh discovery plus the effective allow-list
//   - GET /api/status - Session states and readiness
//   - GET /api/traces - Recent traces (requires audit.database_path)
//   - GET /api/traces/{id} - One full trace from the database or trace directory
//   - GET /health - Liveness check
//   - GET /health/ready - Every tool session ready
//
// Gate rejections are ordinary 200 responses whose type is "blocked"; the
// HTTP status only reflects malformed requests and infrastructure failures.
//
// # Environment
//
// TOOLGATE_DB_PATH overrides audit.database_path.
package gateway
