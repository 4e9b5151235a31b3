// Package sse reads Server-Sent Event streams.
//
// A Reader owns one long-lived GET request and runs its parse loop on a
// background goroutine, forwarding each dispatched event to a callback.
// Parse exposes the framing rules on their own:
//
//   - a blank line dispatches the accumulated data lines, joined by "\n"
//   - the event type defaults to "message" and resets after every blank line
//   - lines starting with ':' are comments and ignored
//   - the field value is the text after the first colon, minus one leading space
//   - a trailing carriage return is stripped
//
// Transport failures never panic or return to the caller. They surface as a
// single event with Type EventError and a non-nil Err, after which the reader
// stops. Failures caused by Stop are not reported.
package sse
