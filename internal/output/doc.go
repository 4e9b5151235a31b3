// Package output validates tool results against registered output schemas.
//
// A tool result is only trusted once its structuredContent matches the JSON
// Schema registered for that exact (server, tool) pair. Tools without a
// registered schema never parse. Schemas for the read tools of the SharePoint,
// ServiceNow and policy knowledge base services are embedded from schemas/.
//
// Failures report the instance locations that did not match, for example
//
//	typed output parse failed: mcp-sharepoint.search_sharepoint does not match
//	its output schema: /results/0: missing properties: 'title'
package output
