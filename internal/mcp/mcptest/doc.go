// Package mcptest provides an in-process MCP-over-SSE tool server.
//
// The server follows the SSE transport the host expects: GET /sse opens a
// stream whose first event names the message endpoint, POSTs to that
// endpoint are acknowledged with 202, and responses arrive later on the
// stream. Requests are answered concurrently, so a slow tool never delays
// responses to later requests.
//
// SharePoint, ServiceNow and PolicyKB return ready-made configurations for
// the three mock enterprise services, each with a side-effecting tool the
// operator allow-list is expected to block.
//
// Knobs on Config (OmitEndpoint, InitializeError, PostStatus) and the
// Broadcast and DropStreams methods let tests provoke protocol failures.
package mcptest
