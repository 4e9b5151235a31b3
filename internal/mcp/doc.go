// Package mcp implements the client side of the Model Context Protocol over
// Server-Sent Events.
//
// # Transport
//
// Each tool server exposes a GET stream. The first event on it is
//
//	event: endpoint
//	data: /messages/?session_id=...
//
// which names the URL, relative to the stream's origin, that JSON-RPC
// envelopes are POSTed to. The server acknowledges each POST with 200 or 202
// and delivers the actual response later as a "message" event on the stream.
//
// # Sessions
//
// A Session moves through
//
//	disconnected -> stream_started -> endpoint_known -> handshaking -> ready -> closed
//
// The handshake is an initialize request followed by the
// notifications/initialized notification. Calls before ready fail with
// ErrNotReady.
//
// Every request gets a fresh id and a buffered channel in the session's
// pending map. The stream goroutine delivers the response to that channel;
// the caller waits on it, the timeout, or the session's transport failure.
// Pending entries are removed on every exit path and unknown ids are dropped.
//
// # Registry
//
// A Registry owns sessions by server name. ConnectAll is sequential and
// fail-fast. Discover is best-effort: a failing server is reported inline in
// the Catalog and never hides the others.
//
// # Errors
//
//   - ErrTransport: the stream or a POST failed
//   - ErrProtocol: the server rejected a message or answered nonsense
//   - ErrTimeout: a bounded wait expired
//   - ErrNotReady: the handshake has not completed
//   - ErrSessionClosed: the session closed under an in-flight call
//   - ErrUnknownServer: no session under that name
package mcp
