// Package trace records what happened during one request.
//
// A Recorder collects named events in order, each stamped with wall-clock
// milliseconds. Payloads that serialize to more than MaxPayloadChars are
// replaced by their truncated JSON text. Finish produces a Record that the
// caller persists once to every configured Sink.
package trace
