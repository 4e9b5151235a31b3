// ABOUTME: Background Server-Sent Events reader with cooperative stop
// ABOUTME: Parses event/data framing and reports transport failures as an error event

package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// Well-known event types.
const (
	EventMessage  = "message"
	EventEndpoint = "endpoint"

	// EventError marks a transport failure produced by the reader itself.
	// Server-sent events named "error" carry a nil Err.
	EventError = "error"
)

// maxLineSize bounds a single SSE line; tool results can be large.
const maxLineSize = 4 * 1024 * 1024

// ErrStreamClosed is reported when the server ends the stream.
var ErrStreamClosed = errors.New("stream closed by server")

// Event is one dispatched SSE record.
type Event struct {
	Type string
	Data string
	Err  error
}

// Handler receives dispatched events on the reader goroutine.
type Handler func(Event)

// Config holds the configuration for a Reader.
type Config struct {
	URL     string
	Client  *http.Client
	Handler Handler
	Logger  *slog.Logger
}

// Reader streams events from one URL on a background goroutine.
type Reader struct {
	url     string
	client  *http.Client
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	body    io.Closer
	started bool
	stopped atomic.Bool
	done    chan struct{}
}

// NewReader creates a Reader. It does not connect until Start is called.
func NewReader(cfg Config) (*Reader, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("handler is required")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reader{
		url:     cfg.URL,
		client:  client,
		handler: cfg.Handler,
		logger:  logger.With("component", "sse", "url", cfg.URL),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the background read loop. It returns immediately.
// Calling Start more than once has no effect.
func (r *Reader) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.run(ctx)
}

// Stop ends the read loop and waits for it to exit. A blocked read is
// unblocked by cancelling the request and closing the body. Idempotent.
func (r *Reader) Stop() {
	r.stopped.Store(true)

	r.mu.Lock()
	started := r.started
	if r.cancel != nil {
		r.cancel()
	}
	if r.body != nil {
		_ = r.body.Close()
	}
	r.mu.Unlock()

	if started {
		<-r.done
	}
}

// Done is closed when the read loop has exited.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

func (r *Reader) run(ctx context.Context) {
	defer close(r.done)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		r.fail(fmt.Errorf("creating stream request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.client.Do(req)
	if err != nil {
		r.fail(fmt.Errorf("connecting to stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.fail(fmt.Errorf("stream returned status %d", resp.StatusCode))
		return
	}

	r.mu.Lock()
	r.body = resp.Body
	r.mu.Unlock()

	r.logger.Debug("stream opened")

	if err := Parse(resp.Body, r.dispatch); err != nil {
		r.fail(fmt.Errorf("reading stream: %w", err))
		return
	}
	r.fail(ErrStreamClosed)
}

// fail reports a transport failure unless the reader is stopping.
func (r *Reader) fail(err error) {
	if r.stopped.Load() {
		r.logger.Debug("stream stopped", "reason", err)
		return
	}
	r.logger.Warn("stream failed", "error", err)
	r.dispatch(Event{Type: EventError, Data: err.Error(), Err: err})
}

// dispatch invokes the handler, isolating the loop from handler panics.
func (r *Reader) dispatch(ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event handler panicked", "event", ev.Type, "panic", p)
		}
	}()
	r.handler(ev)
}

// Parse reads SSE framing from body and calls emit for every dispatched
// event. It returns nil on a clean EOF and the read error otherwise.
func Parse(body io.Reader, emit func(Event)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	eventType := EventMessage
	var dataLines []string

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) > 0 {
				emit(Event{Type: eventType, Data: strings.Join(dataLines, "\n")})
			}
			eventType = EventMessage
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			if value != "" {
				eventType = value
			}
		case "data":
			dataLines = append(dataLines, value)
		}
	}

	return scanner.Err()
}
