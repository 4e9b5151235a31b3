// ABOUTME: Tests for Registry: fail-fast connect, best-effort discovery, and dispatch.
// ABOUTME: Uses the three mock services from mcptest.

package mcp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/mcp/mcptest"
)

type fakeService struct {
	srv *mcptest.Server
	url string
}

func startServices(t *testing.T) map[string]fakeService {
	t.Helper()
	out := make(map[string]fakeService)
	for _, cfg := range mcptest.Services() {
		srv, url := mcptest.Start(t, cfg)
		out[cfg.Name] = fakeService{srv: srv, url: url}
	}
	return out
}

func newRegistry(t *testing.T, names []string, urls map[string]string) *mcp.Registry {
	t.Helper()
	var sessions []*mcp.Session
	for _, name := range names {
		s, err := mcp.NewSession(mcp.SessionConfig{
			Name:            name,
			URL:             urls[name],
			EndpointTimeout: 500 * time.Millisecond,
			CallTimeout:     2 * time.Second,
		})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	reg, err := mcp.NewRegistry(mcp.RegistryConfig{Sessions: sessions})
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}

var serviceNames = []string{"mcp-sharepoint", "mcp-servicenow", "mcp-policy-kb"}

func serviceURLs(services map[string]fakeService) map[string]string {
	urls := make(map[string]string, len(services))
	for name, svc := range services {
		urls[name] = svc.url
	}
	return urls
}

func TestNewRegistry_DuplicateName(t *testing.T) {
	a, err := mcp.NewSession(mcp.SessionConfig{Name: "dup", URL: "http://localhost:1/sse"})
	require.NoError(t, err)
	b, err := mcp.NewSession(mcp.SessionConfig{Name: "dup", URL: "http://localhost:2/sse"})
	require.NoError(t, err)

	_, err = mcp.NewRegistry(mcp.RegistryConfig{Sessions: []*mcp.Session{a, b}})
	assert.ErrorIs(t, err, mcp.ErrDuplicateServer)
}

func TestRegistry_ConnectAndDiscover(t *testing.T) {
	services := startServices(t)
	reg := newRegistry(t, serviceNames, serviceURLs(services))

	assert.False(t, reg.Ready())
	require.NoError(t, reg.ConnectAll(testContext(t)))
	assert.True(t, reg.Ready())
	assert.Equal(t, serviceNames, reg.Names())

	cat := reg.Discover(testContext(t))
	assert.Empty(t, cat.Errors)
	assert.Equal(t, serviceNames, cat.Servers)
	assert.Equal(t, 9, cat.Len())

	names := cat.ToolNames()
	assert.Equal(t, []string{"delete_sharepoint_doc", "fetch_sharepoint_doc", "search_sharepoint"}, names["mcp-sharepoint"])

	d, ok := cat.Lookup("mcp-policy-kb", "fetch_policy_entry")
	require.True(t, ok)
	schema, err := d.Schema()
	require.NoError(t, err)
	assert.Equal(t, []string{"policy_id"}, schema.Required)
	assert.Equal(t, "string", schema.Properties["policy_id"].Type)

	_, ok = cat.Lookup("mcp-policy-kb", "nope")
	assert.False(t, ok)
}

func TestRegistry_DiscoverIsBestEffort(t *testing.T) {
	services := startServices(t)
	reg := newRegistry(t, serviceNames, serviceURLs(services))
	require.NoError(t, reg.ConnectAll(testContext(t)))

	services["mcp-servicenow"].srv.DropStreams()

	cat := reg.Discover(testContext(t))
	assert.Contains(t, cat.Errors, "mcp-servicenow")
	assert.False(t, cat.HasServer("mcp-servicenow"))
	assert.True(t, cat.HasServer("mcp-sharepoint"))
	assert.True(t, cat.HasServer("mcp-policy-kb"))
	assert.Equal(t, []string{"mcp-sharepoint", "mcp-policy-kb"}, cat.Servers)
}

func TestRegistry_ConnectAllFailFast(t *testing.T) {
	services := startServices(t)
	_, silentURL := mcptest.Start(t, mcptest.Config{Name: "silent", OmitEndpoint: true})

	urls := serviceURLs(services)
	urls["silent"] = silentURL
	names := []string{"mcp-sharepoint", "silent", "mcp-policy-kb"}
	reg := newRegistry(t, names, urls)

	err := reg.ConnectAll(testContext(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, mcp.ErrTimeout)
	assert.Contains(t, err.Error(), "silent")

	status := reg.Status()
	assert.Equal(t, mcp.StateReady, status["mcp-sharepoint"])
	assert.Equal(t, mcp.StateClosed, status["silent"])
	assert.Equal(t, mcp.StateDisconnected, status["mcp-policy-kb"], "sessions after the failure are not attempted")
}

func TestRegistry_Call(t *testing.T) {
	services := startServices(t)
	reg := newRegistry(t, serviceNames, serviceURLs(services))
	require.NoError(t, reg.ConnectAll(testContext(t)))

	resp, err := reg.Call(testContext(t), "mcp-sharepoint", "fetch_sharepoint_doc", map[string]any{"doc_id": "sp-002"})
	require.NoError(t, err)
	out := structured(t, resp)
	assert.Equal(t, "sp-002", out["doc_id"])
	assert.Contains(t, out["content"], "Incident Playbook")
	assert.Equal(t, 1, services["mcp-sharepoint"].srv.CallCount("fetch_sharepoint_doc"))

	_, err = reg.Call(testContext(t), "mcp-unknown", "anything", nil)
	assert.ErrorIs(t, err, mcp.ErrUnknownServer)
}
