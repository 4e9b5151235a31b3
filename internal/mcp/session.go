// ABOUTME: One MCP-over-SSE connection: endpoint discovery, handshake, and call correlation.
// ABOUTME: Responses arriving on the stream are routed to per-request channels by id.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/toolgate/internal/sse"
)

// Default bounded waits.
const (
	DefaultEndpointTimeout  = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultCallTimeout      = 20 * time.Second
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateStreamStarted
	StateEndpointKnown
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateStreamStarted:
		return "stream_started"
	case StateEndpointKnown:
		return "endpoint_known"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionConfig contains configuration options for a Session.
type SessionConfig struct {
	Name   string
	URL    string // stream URL
	Client *http.Client
	Logger *slog.Logger

	EndpointTimeout  time.Duration
	HandshakeTimeout time.Duration
	DiscoveryTimeout time.Duration
	CallTimeout      time.Duration

	ClientName    string
	ClientVersion string
}

// Session is one logical connection to a tool server.
type Session struct {
	name      string
	streamURL *url.URL
	client    *http.Client
	logger    *slog.Logger
	info      Implementation

	endpointTimeout  time.Duration
	handshakeTimeout time.Duration
	discoveryTimeout time.Duration
	callTimeout      time.Duration

	endpointCh chan string
	nextID     atomic.Int64

	// mu guards reader, state, messageURL, transportErr and pending
	mu           sync.Mutex
	reader       *sse.Reader
	state        State
	messageURL   string
	transportErr error
	pending      map[int64]chan *JSONRPCResponse

	failed    chan struct{} // closed on the first transport failure
	failOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession creates a disconnected session. Connect starts the stream.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Name == "" {
		return nil, errors.New("name is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("stream url %q must be absolute", cfg.URL)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info := Implementation{Name: cfg.ClientName, Version: cfg.ClientVersion}
	if info.Name == "" {
		info.Name = "toolgate"
	}
	if info.Version == "" {
		info.Version = "0.1.0"
	}

	s := &Session{
		name:             cfg.Name,
		streamURL:        u,
		client:           client,
		logger:           logger.With("component", "mcp", "server", cfg.Name),
		info:             info,
		endpointTimeout:  orDefault(cfg.EndpointTimeout, DefaultEndpointTimeout),
		handshakeTimeout: orDefault(cfg.HandshakeTimeout, DefaultHandshakeTimeout),
		discoveryTimeout: orDefault(cfg.DiscoveryTimeout, DefaultDiscoveryTimeout),
		callTimeout:      orDefault(cfg.CallTimeout, DefaultCallTimeout),
		endpointCh:       make(chan string, 1),
		pending:          make(map[int64]chan *JSONRPCResponse),
		failed:           make(chan struct{}),
		closed:           make(chan struct{}),
	}
	// Seed ids from the clock so restarts never reuse recent ids. Millisecond
	// ids stay below 2^53 for peers that decode numbers as doubles.
	s.nextID.Store(time.Now().UnixMilli())

	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Name returns the server name this session is registered under.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MessageURL returns the absolute URL envelopes are posted to, once known.
func (s *Session) MessageURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageURL
}

// Healthy reports whether the session is ready and its stream is intact.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady && s.transportErr == nil
}

// PendingCount returns the number of in-flight requests (for testing/monitoring).
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Connect opens the stream, waits for the endpoint event and performs the
// initialize handshake. On failure the session is closed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect called in state %s", ErrProtocol, state)
	}
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.logger.Warn("connect failed", "error", err)
		s.Close()
		return err
	}

	s.logger.Info("session ready", "message_url", s.MessageURL())
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	reader, err := sse.NewReader(sse.Config{
		URL:     s.streamURL.String(),
		Client:  s.client,
		Handler: s.handleEvent,
		Logger:  s.logger,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.reader = reader
	s.state = StateStreamStarted
	s.mu.Unlock()

	// The stream outlives the connect call.
	reader.Start(context.WithoutCancel(ctx))

	path, err := s.awaitEndpoint(ctx)
	if err != nil {
		return err
	}

	messageURL := s.resolveEndpoint(path)
	s.mu.Lock()
	s.messageURL = messageURL
	s.mu.Unlock()
	s.setState(StateEndpointKnown)
	s.logger.Debug("endpoint discovered", "message_url", messageURL)

	s.setState(StateHandshaking)
	resp, err := s.request(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ClientInfo: s.info,
	}, s.handshakeTimeout)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: initialize rejected: %v", ErrProtocol, resp.Error)
	}

	if err := s.notify(ctx, MethodInitialized, nil, s.handshakeTimeout); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	s.setState(StateReady)
	return nil
}

func (s *Session) awaitEndpoint(ctx context.Context) (string, error) {
	timer := time.NewTimer(s.endpointTimeout)
	defer timer.Stop()

	select {
	case path := <-s.endpointCh:
		return path, nil
	case <-s.failed:
		return "", fmt.Errorf("%w: waiting for endpoint: %v", ErrTransport, s.lastTransportErr())
	case <-timer.C:
		return "", fmt.Errorf("%w: no endpoint event within %s", ErrTimeout, s.endpointTimeout)
	case <-s.closed:
		return "", ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// resolveEndpoint joins the relative message path onto the stream origin.
func (s *Session) resolveEndpoint(path string) string {
	path = strings.TrimSpace(path)
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.streamURL.Scheme + "://" + s.streamURL.Host + path
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
}

func (s *Session) lastTransportErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transportErr
}

// Call sends a request and waits up to the call timeout for its response.
func (s *Session) Call(ctx context.Context, method string, params any) (*JSONRPCResponse, error) {
	return s.CallWithTimeout(ctx, method, params, s.callTimeout)
}

// CallWithTimeout sends a request and waits up to timeout for its response.
func (s *Session) CallWithTimeout(ctx context.Context, method string, params any, timeout time.Duration) (*JSONRPCResponse, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.request(ctx, method, params, timeout)
}

// Notify posts a notification. No response is expected.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.notify(ctx, method, params, s.callTimeout)
}

// ListTools runs tools/list with the discovery timeout.
func (s *Session) ListTools(ctx context.Context) ([]MCPToolInfo, error) {
	resp, err := s.CallWithTimeout(ctx, MethodToolsList, map[string]any{}, s.discoveryTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: tools/list: %v", ErrProtocol, resp.Error)
	}

	var result MCPListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding tools/list result: %v", ErrProtocol, err)
	}
	return result.Tools, nil
}

// CallTool runs tools/call with the call timeout and returns the raw response.
// A JSON-RPC error in the response is not a Go error; callers inspect it.
func (s *Session) CallTool(ctx context.Context, tool string, args map[string]any) (*JSONRPCResponse, error) {
	if args == nil {
		args = map[string]any{}
	}
	return s.Call(ctx, MethodToolsCall, MCPCallToolParams{Name: tool, Arguments: args})
}

func (s *Session) requireReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		if s.transportErr != nil {
			return fmt.Errorf("%w: %v", ErrTransport, s.transportErr)
		}
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: state is %s", ErrNotReady, s.state)
	}
}

// request assigns an id, registers the waiter, posts the envelope and
// waits for the correlated response.
func (s *Session) request(ctx context.Context, method string, params any, timeout time.Duration) (*JSONRPCResponse, error) {
	if err := s.streamFailure(method); err != nil {
		return nil, err
	}

	id := s.nextID.Add(1)

	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	respCh, err := s.createPendingRequest(id)
	if err != nil {
		return nil, err
	}
	defer s.closePendingRequest(id)

	// The deadline covers the POST as well as the wait for the response.
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.post(waitCtx, req); err != nil {
		if waitCtx.Err() != nil {
			return nil, s.timeoutError(ctx, method, id, timeout)
		}
		return nil, err
	}

	s.logger.Debug("→ request sent", "method", method, "request_id", id)

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("%w: %s request %d abandoned", ErrSessionClosed, method, id)
		}
		s.logger.Debug("← response received", "method", method, "request_id", id)
		return resp, nil
	case <-s.failed:
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, method, s.lastTransportErr())
	case <-waitCtx.Done():
		return nil, s.timeoutError(ctx, method, id, timeout)
	}
}

// timeoutError reports the caller's own cancellation as is and anything
// else as a per-call timeout.
func (s *Session) timeoutError(ctx context.Context, method string, id int64, timeout time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Warn("request timed out", "method", method, "request_id", id, "timeout", timeout)
	return fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)
}

// streamFailure returns the recorded stream failure, if any. Nothing is
// posted once the stream is gone.
func (s *Session) streamFailure(method string) error {
	select {
	case <-s.failed:
		return fmt.Errorf("%w: %s: %v", ErrTransport, method, s.lastTransportErr())
	default:
		return nil
	}
}

func (s *Session) notify(ctx context.Context, method string, params any, timeout time.Duration) error {
	if err := s.streamFailure(method); err != nil {
		return err
	}
	req, err := NewNotification(method, params)
	if err != nil {
		return err
	}

	postCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.post(postCtx, req); err != nil {
		if postCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)
		}
		return err
	}
	return nil
}

// post sends one envelope to the message URL. 200 and 202 are accepted.
func (s *Session) post(ctx context.Context, env *JSONRPCRequest) error {
	messageURL := s.MessageURL()
	if messageURL == "" {
		return fmt.Errorf("%w: message endpoint unknown", ErrNotReady)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", env.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: posting %s: %v", ErrTransport, env.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s rejected with status %d: %s",
			ErrProtocol, env.Method, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// handleEvent runs on the reader goroutine.
func (s *Session) handleEvent(ev sse.Event) {
	switch {
	case ev.Err != nil:
		s.recordTransportError(ev.Err)
	case ev.Type == sse.EventEndpoint:
		select {
		case s.endpointCh <- ev.Data:
		default:
			s.logger.Debug("ignoring repeated endpoint event", "data", ev.Data)
		}
	case ev.Type == sse.EventMessage:
		s.handleMessage(ev.Data)
	default:
		s.logger.Debug("ignoring stream event", "event", ev.Type)
	}
}

func (s *Session) handleMessage(data string) {
	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		s.logger.Debug("dropping undecodable message", "error", err)
		return
	}

	id, ok := resp.NumericID()
	if !ok {
		s.logger.Debug("dropping message without id")
		return
	}

	// Hold the lock while sending so closePendingRequest cannot close the
	// channel between lookup and send.
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pending[id]
	if !ok {
		s.logger.Debug("dropping response for unknown request", "request_id", id)
		return
	}

	select {
	case ch <- &resp:
	default:
		s.logger.Warn("response channel full, dropping response", "request_id", id)
	}
}

func (s *Session) recordTransportError(err error) {
	s.failOnce.Do(func() {
		s.mu.Lock()
		s.transportErr = err
		s.mu.Unlock()
		close(s.failed)
	})
}

// createPendingRequest registers a response channel for id.
func (s *Session) createPendingRequest(id int64) (chan *JSONRPCResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	if _, exists := s.pending[id]; exists {
		return nil, fmt.Errorf("%w: duplicate request id %d", ErrProtocol, id)
	}

	ch := make(chan *JSONRPCResponse, 1)
	s.pending[id] = ch
	return ch, nil
}

// closePendingRequest closes and removes the response channel for id.
func (s *Session) closePendingRequest(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.pending[id]; ok {
		close(ch)
		delete(s.pending, id)
	}
}

// Close stops the stream and fails all in-flight waiters. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		reader := s.reader
		cancelled := len(s.pending)
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		s.mu.Unlock()

		close(s.closed)

		if reader != nil {
			reader.Stop()
		}

		s.logger.Debug("session closed", "pending_cancelled", cancelled)
	})
}
