// ABOUTME: Test helpers that run fake tool servers on httptest listeners.
// ABOUTME: Cleanup closes open streams before shutting the listener down.

package mcptest

import (
	"net/http/httptest"
	"testing"
)

// Start runs a fake server for the duration of the test and returns it with
// its stream URL.
func Start(t testing.TB, cfg Config) (*Server, string) {
	t.Helper()

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("mcptest: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.DropStreams()
		ts.Close()
	})

	return srv, ts.URL + "/sse"
}
