// ABOUTME: Per-request audit trail of ordered, timestamped pipeline events.
// ABOUTME: Oversized payloads are truncated; finished records are handed to sinks.

package trace

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxPayloadChars bounds the serialized size of any one event payload.
const MaxPayloadChars = 20000

// TruncationMarker ends a payload that was cut at MaxPayloadChars.
const TruncationMarker = "\n...[TRUNCATED]..."

// Event is one step of a request.
type Event struct {
	TSMillis int64  `json:"ts_ms"`
	Name     string `json:"name"`
	Payload  any    `json:"payload"`
}

// Record is the persisted trail of one request.
type Record struct {
	TraceID      string         `json:"trace_id"`
	Meta         map[string]any `json:"meta"`
	Events       []Event        `json:"events"`
	FinalOutput  any            `json:"final_output"`
	ResponseType string         `json:"response_type,omitempty"`
}

// EventNames returns the event names in order.
func (r *Record) EventNames() []string {
	names := make([]string, len(r.Events))
	for i, e := range r.Events {
		names[i] = e.Name
	}
	return names
}

// Sink persists finished records. Save returns where the record was
// written, or "" when the sink has no addressable location.
type Sink interface {
	Save(ctx context.Context, rec *Record) (string, error)
}

// Recorder collects events for one request.
type Recorder struct {
	mu     sync.Mutex
	id     string
	meta   map[string]any
	events []Event
	now    func() time.Time
}

// NewRecorder starts a trail under a fresh UUID.
func NewRecorder(meta map[string]any) *Recorder {
	if meta == nil {
		meta = make(map[string]any)
	}
	return &Recorder{
		id:   uuid.New().String(),
		meta: meta,
		now:  time.Now,
	}
}

// ID returns the trace id.
func (r *Recorder) ID() string {
	return r.id
}

// Event appends a named event. A nil payload is recorded as an empty object.
func (r *Recorder) Event(name string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	ev := Event{TSMillis: r.now().UnixMilli(), Name: name, Payload: Truncate(payload)}

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Finish seals the trail with the final output.
func (r *Recorder) Finish(responseType string, final any) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)
	return &Record{
		TraceID:      r.id,
		Meta:         r.meta,
		Events:       events,
		FinalOutput:  Truncate(final),
		ResponseType: responseType,
	}
}

// Truncate returns v unchanged when it serializes within MaxPayloadChars,
// otherwise the serialized text cut to that length plus TruncationMarker.
func Truncate(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	if utf8.RuneCount(data) <= MaxPayloadChars {
		return v
	}
	return string([]rune(string(data))[:MaxPayloadChars]) + TruncationMarker
}
