// ABOUTME: Tests for the trace recorder, payload truncation and file sink.
// ABOUTME: File sink tests write into t.TempDir().

package trace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder(map[string]any{"query": "find vpn"})
	_, err := uuid.Parse(rec.ID())
	require.NoError(t, err)

	tick := time.UnixMilli(1_700_000_000_000)
	rec.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}

	rec.Event("request", map[string]any{"query": "find vpn"})
	rec.Event("policy_gate", nil)
	rec.Event("final_answer", map[string]any{"answer": "none"})

	out := rec.Finish("final_answer", map[string]any{"type": "final_answer"})
	assert.Equal(t, rec.ID(), out.TraceID)
	assert.Equal(t, "final_answer", out.ResponseType)
	assert.Equal(t, []string{"request", "policy_gate", "final_answer"}, out.EventNames())
	assert.Equal(t, map[string]any{}, out.Events[1].Payload)
	assert.Equal(t, int64(1_700_000_000_001), out.Events[0].TSMillis)
	assert.Less(t, out.Events[0].TSMillis, out.Events[2].TSMillis)
	assert.Equal(t, "find vpn", out.Meta["query"])
}

func TestRecorder_FreshIDs(t *testing.T) {
	assert.NotEqual(t, NewRecorder(nil).ID(), NewRecorder(nil).ID())
}

func TestTruncate(t *testing.T) {
	small := map[string]any{"content": "short"}
	assert.Equal(t, small, Truncate(small))

	big := map[string]any{"content": strings.Repeat("a", MaxPayloadChars)}
	got, ok := Truncate(big).(string)
	require.True(t, ok, "oversized payload becomes a string")
	assert.True(t, strings.HasPrefix(got, `{"content":"aaa`))
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.Equal(t, MaxPayloadChars+len(TruncationMarker), len(got))
}

func TestRecorder_TruncatesLargePayload(t *testing.T) {
	rec := NewRecorder(nil)
	rec.Event("tool_result_raw", map[string]any{"result": strings.Repeat("x", MaxPayloadChars+10)})

	out := rec.Finish("tool_result", nil)
	_, isString := out.Events[0].Payload.(string)
	assert.True(t, isString)
}

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	sink := NewFileSink(dir)

	rec := NewRecorder(map[string]any{"query": "q"})
	rec.Event("request", map[string]any{"query": "<q>"})
	record := rec.Finish("blocked", map[string]any{"type": "blocked"})

	path, err := sink.Save(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "trace_"+record.TraceID+".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"trace_id\": ")
	assert.Contains(t, string(data), `"<q>"`)

	loaded, err := sink.Load(record.TraceID)
	require.NoError(t, err)
	assert.Equal(t, record.TraceID, loaded.TraceID)
	assert.Equal(t, []string{"request"}, loaded.EventNames())
	assert.Equal(t, "blocked", loaded.ResponseType)
}

func TestFileSink_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := NewFileSink(file).Save(context.Background(), NewRecorder(nil).Finish("error", nil))
	assert.Error(t, err)
}
