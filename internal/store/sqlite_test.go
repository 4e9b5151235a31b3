// ABOUTME: Tests for SQLite trace store implementation
// ABOUTME: Covers schema creation, trace save/get, listing order and limits

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/trace"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRecord(query, responseType string) *trace.Record {
	rec := trace.NewRecorder(map[string]any{"query": query, "component": "test"})
	rec.Event("request", map[string]any{"query": query})
	return rec.Finish(responseType, map[string]any{"type": responseType})
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec := newRecord("find vpn", "tool_result")
	require.NoError(t, store.SaveTrace(ctx, rec))

	got, err := store.GetTrace(ctx, rec.TraceID)
	require.NoError(t, err)
	assert.Equal(t, rec.TraceID, got.TraceID)
}

func TestNewSQLiteStore_ReopenKeepsTraces(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "traces.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	rec := newRecord("fetch sp-001", "tool_result")
	require.NoError(t, store.SaveTrace(ctx, rec))
	require.NoError(t, store.Close())

	// Schema creation is idempotent on an existing file
	store, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetTrace(ctx, rec.TraceID)
	require.NoError(t, err)
	assert.Equal(t, "tool_result", got.ResponseType)

	var columns int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('traces') WHERE name = 'query'`).Scan(&columns))
	assert.Equal(t, 1, columns)
}

func TestSaveAndGetTrace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newRecord("summarize sp-001", "tool_result_with_summary")
	require.NoError(t, store.SaveTrace(ctx, rec))

	got, err := store.GetTrace(ctx, rec.TraceID)
	require.NoError(t, err)
	assert.Equal(t, rec.TraceID, got.TraceID)
	assert.Equal(t, "tool_result_with_summary", got.ResponseType)
	assert.Equal(t, []string{"request"}, got.EventNames())
	assert.Equal(t, "summarize sp-001", got.Meta["query"])
	assert.Equal(t, map[string]any{"type": "tool_result_with_summary"}, got.FinalOutput)
}

func TestSaveTrace_RequiresID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.SaveTrace(context.Background(), &trace.Record{}))
	assert.Error(t, store.SaveTrace(context.Background(), nil))
}

func TestSave_ImplementsSink(t *testing.T) {
	store := newTestStore(t)

	var sink trace.Sink = store
	loc, err := sink.Save(context.Background(), newRecord("q", "error"))
	require.NoError(t, err)
	assert.Empty(t, loc)
}

func TestGetTrace_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTrace(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTraces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		store.now = func() time.Time { return at }

		rec := newRecord(fmt.Sprintf("query %d", i), "tool_result")
		require.NoError(t, store.SaveTrace(ctx, rec))
		ids = append(ids, rec.TraceID)
	}

	list, err := store.ListTraces(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)

	// Newest first
	assert.Equal(t, ids[4], list[0].TraceID)
	assert.Equal(t, ids[3], list[1].TraceID)
	assert.Equal(t, "query 4", list[0].Query)
	assert.Equal(t, "test", list[0].Component)
	assert.Equal(t, "tool_result", list[0].ResponseType)
	assert.True(t, list[0].Timestamp.Equal(base.Add(4*time.Second)))

	all, err := store.ListTraces(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestNormalizeTraceLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 50},
		{-1, 50},
		{10, 10},
		{500, 500},
		{501, 500},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeTraceLimit(tt.in))
		})
	}
}
