// ABOUTME: Session tests against a hand-written SSE peer with loose JSON handling.
// ABOUTME: Covers stalled message POSTs, double-precision ids and posting after stream loss.

package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/mcp"
)

// loosePeer speaks MCP over SSE the way dynamically typed servers do: every
// envelope is decoded into map[string]any, so ids round-trip as float64.
type loosePeer struct {
	srv *httptest.Server

	// stall reports whether a POST for method should hang until the
	// client gives up.
	stall func(method string) bool

	mu      sync.Mutex
	methods []string

	frames   chan []byte
	kill     chan struct{}
	killOnce sync.Once
}

func startLoosePeer(t *testing.T, stall func(method string) bool) *loosePeer {
	t.Helper()
	p := &loosePeer{
		stall:  stall,
		frames: make(chan []byte, 16),
		kill:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", p.handleStream)
	mux.HandleFunc("/messages/", p.handleMessage)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	t.Cleanup(p.dropStream)
	return p
}

func (p *loosePeer) url() string {
	return p.srv.URL + "/sse"
}

func (p *loosePeer) dropStream() {
	p.killOnce.Do(func() { close(p.kill) })
}

func (p *loosePeer) posted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.methods...)
}

func (p *loosePeer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprint(w, "event: endpoint\ndata: /messages/?session_id=loose\n\n")
	flusher.Flush()

	for {
		select {
		case frame := <-p.frames:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		case <-p.kill:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (p *loosePeer) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "Could not parse message", http.StatusBadRequest)
		return
	}
	method, _ := env["method"].(string)

	p.mu.Lock()
	p.methods = append(p.methods, method)
	p.mu.Unlock()

	if p.stall != nil && p.stall(method) {
		select {
		case <-r.Context().Done():
		case <-p.kill:
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)

	id, hasID := env["id"]
	if !hasID {
		return
	}
	var result any = map[string]any{}
	switch method {
	case mcp.MethodInitialize:
		result = map[string]any{
			"protocolVersion": mcp.ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "loose", "version": "1.0.0"},
		}
	case mcp.MethodToolsList:
		result = map[string]any{"tools": []any{
			map[string]any{"name": "echo", "inputSchema": map[string]any{"type": "object"}},
		}}
	}
	frame, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	if err != nil {
		return
	}
	select {
	case p.frames <- frame:
	case <-p.kill:
	}
}

func TestSession_DoubleDecodingPeer(t *testing.T) {
	peer := startLoosePeer(t, nil)
	s := newSession(t, peer.url(), nil)

	require.NoError(t, s.Connect(testContext(t)))

	tools, err := s.ListTools(testContext(t))
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, []string{mcp.MethodInitialize, mcp.MethodInitialized, mcp.MethodToolsList}, peer.posted())
}

func TestSession_StalledPostTimesOut(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, s *mcp.Session) error
	}{
		{"tools/list", func(ctx context.Context, s *mcp.Session) error {
			_, err := s.ListTools(ctx)
			return err
		}},
		{"tools/call", func(ctx context.Context, s *mcp.Session) error {
			_, err := s.CallTool(ctx, "echo", nil)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peer := startLoosePeer(t, func(method string) bool {
				return method == mcp.MethodToolsList || method == mcp.MethodToolsCall
			})
			s := newSession(t, peer.url(), func(c *mcp.SessionConfig) {
				c.DiscoveryTimeout = 200 * time.Millisecond
				c.CallTimeout = 200 * time.Millisecond
			})
			require.NoError(t, s.Connect(testContext(t)))

			errCh := make(chan error, 1)
			go func() { errCh <- tt.run(context.Background(), s) }()

			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, mcp.ErrTimeout)
			case <-time.After(3 * time.Second):
				t.Fatal("request blocked on a POST the peer never answered")
			}
			assert.Equal(t, 0, s.PendingCount())
		})
	}
}

func TestSession_StalledHandshakePostTimesOut(t *testing.T) {
	peer := startLoosePeer(t, func(method string) bool { return method == mcp.MethodInitialize })
	s := newSession(t, peer.url(), func(c *mcp.SessionConfig) { c.HandshakeTimeout = 200 * time.Millisecond })

	start := time.Now()
	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, mcp.ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, mcp.StateClosed, s.State())
}

func TestSession_NoPostAfterStreamFailure(t *testing.T) {
	peer := startLoosePeer(t, nil)
	s := newSession(t, peer.url(), nil)
	require.NoError(t, s.Connect(testContext(t)))

	peer.dropStream()
	require.Eventually(t, func() bool { return !s.Healthy() }, 3*time.Second, 10*time.Millisecond)
	before := len(peer.posted())

	_, err := s.CallTool(testContext(t), "echo", map[string]any{"value": "x"})
	assert.ErrorIs(t, err, mcp.ErrTransport)

	_, err = s.ListTools(testContext(t))
	assert.ErrorIs(t, err, mcp.ErrTransport)

	err = s.Notify(testContext(t), "notifications/progress", nil)
	assert.ErrorIs(t, err, mcp.ErrTransport)

	assert.Len(t, peer.posted(), before, "nothing reaches the peer once the stream is gone")
}
