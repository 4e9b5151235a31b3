// ABOUTME: Tests for the chat-completions client and prompt builders.
// ABOUTME: Uses an httptest server standing in for the model runtime.

package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/plan"
)

func completion(content string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(data)
}

func TestChatJSON(t *testing.T) {
	var gotReq chatRequest
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion(`{"type":"final_answer","answer":"hi","needs_more_info":true}`)))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1/", Model: "test-model", APIKey: "sk-test"})
	out, err := c.ChatJSON(context.Background(), []Message{{Role: "user", Content: "hello"}}, Options{MaxTokens: 64, Temperature: 0})
	require.NoError(t, err)

	assert.Equal(t, "final_answer", out["type"])
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, 64, gotReq.MaxTokens)
	assert.Equal(t, []Message{{Role: "user", Content: "hello"}}, gotReq.Messages)
}

func TestChatJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, wantErr: ErrUnavailable},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantErr: ErrUnavailable},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: ErrUnavailable},
		{name: "prose only", status: http.StatusOK, body: completion("I would call a tool"), wantErr: ErrBadOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL})
			_, err := c.ChatJSON(context.Background(), nil, Options{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestChatJSON_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(completion(`{}`)))
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).ChatJSON(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestChatJSON_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(Config{BaseURL: url}).ChatJSON(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestChatJSON_CancelledContext(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ChatJSON(ctx, nil, Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]any
		wantErr bool
	}{
		{name: "bare object", content: `{"a":1}`, want: map[string]any{"a": json.Number("1")}},
		{name: "first of two objects", content: "{\"a\":1} or maybe {\"b\":2}", want: map[string]any{"a": json.Number("1")}},
		{name: "braces inside strings", content: "Plan: {\"answer\":\"use } and { freely\"} done", want: map[string]any{"answer": "use } and { freely"}},
		{name: "nested", content: "ok {\"args\":{\"q\":\"x\"}} trailing }", want: map[string]any{"args": map[string]any{"q": "x"}}},
		{name: "unbalanced", content: "here {\"a\":1", wantErr: true},
		{name: "wrapped in prose", content: "Sure! {\"a\":\"b\"} hope that helps", want: map[string]any{"a": "b"}},
		{name: "fenced", content: "```json\n{\"a\":true}\n```", want: map[string]any{"a": true}},
		{name: "array", content: `[1,2]`, wantErr: true},
		{name: "no braces", content: "nothing here", wantErr: true},
		{name: "broken span", content: "{ not json }", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractObject(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func shortcuts(t *testing.T) []plan.Shortcut {
	t.Helper()
	rules, err := plan.CompileShortcuts(config.DefaultShortcuts())
	require.NoError(t, err)
	return rules
}

func TestIDHints(t *testing.T) {
	hints := IDHints("compare SP-001 with policy-002 for inc0010001", shortcuts(t))
	assert.Equal(t, map[string]string{
		"sharepoint_doc_id":    "SP-001",
		"policy_id":            "policy-002",
		"servicenow_ticket_id": "inc0010001",
	}, hints)

	assert.Empty(t, IDHints("find vpn docs", shortcuts(t)))
}

func TestRoutingMessages(t *testing.T) {
	cat := mcp.NewCatalog()
	cat.Add("mcp-sharepoint", []mcp.ToolDescriptor{{
		Server:      "mcp-sharepoint",
		Name:        "search_sharepoint",
		Description: "Search documents",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
	}})

	msgs := RoutingMessages("summarize sp-001", cat, shortcuts(t))
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "mcp-sharepoint.fetch_sharepoint_doc")
	assert.Contains(t, msgs[0].Content, "mcp-servicenow.get_ticket")

	assert.Equal(t, "user", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "USER_QUERY:\nsummarize sp-001")
	assert.Contains(t, msgs[1].Content, `{"sharepoint_doc_id":"sp-001"}`)
	assert.Contains(t, msgs[1].Content, `"name":"search_sharepoint"`)
	assert.Contains(t, msgs[1].Content, `"inputSchema":{"type":"object"`)
}

func TestCatalogJSON_EmptySchema(t *testing.T) {
	cat := mcp.NewCatalog()
	cat.Add("s", []mcp.ToolDescriptor{{Server: "s", Name: "ping"}})
	assert.JSONEq(t, `{"s":[{"name":"ping","description":"","inputSchema":{}}]}`, CatalogJSON(cat))
	assert.Equal(t, "{}", CatalogJSON(nil))
}

func TestSummaryMessages(t *testing.T) {
	msgs := SummaryMessages(`{"content": "x"}`)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "strictly grounded summarizer")
	assert.True(t, strings.HasPrefix(msgs[1].Content, "SOURCE (you may ONLY use this text):\n{\"content\": \"x\"}"))
}
