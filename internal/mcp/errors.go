// ABOUTME: Sentinel errors for tool sessions and the session registry.
// ABOUTME: Callers match them with errors.Is; messages are wrapped with context.

package mcp

import "errors"

// ErrTransport indicates the stream or a POST failed at the network level.
var ErrTransport = errors.New("transport error")

// ErrProtocol indicates the peer violated the protocol or rejected a message.
var ErrProtocol = errors.New("protocol error")

// ErrTimeout indicates a bounded wait expired before the peer answered.
var ErrTimeout = errors.New("timed out")

// ErrNotReady indicates a call was attempted before the handshake completed.
var ErrNotReady = errors.New("session not ready")

// ErrSessionClosed indicates the session was closed while a call was in flight.
var ErrSessionClosed = errors.New("session closed")

// ErrUnknownServer indicates no session is registered under the given name.
var ErrUnknownServer = errors.New("unknown server")
