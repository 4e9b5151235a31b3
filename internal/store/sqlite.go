// ABOUTME: SQLite implementation of TraceStore using modernc.org/sqlite
// ABOUTME: Persists request traces with idempotent schema creation on open

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/toolgate/internal/trace"
)

// tsLayout keeps timestamps fixed-width so they sort lexically
const tsLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements TraceStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens an
// in-memory database on a single connection.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS traces (
			trace_id      TEXT PRIMARY KEY,
			ts            TEXT NOT NULL,
			component     TEXT NOT NULL,
			response_type TEXT NOT NULL,
			query         TEXT NOT NULL DEFAULT '',
			record_json   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_traces_ts ON traces(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_traces_response_type ON traces(response_type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveTrace stores a finished trace record. Saving the same trace ID twice
// replaces the earlier row.
func (s *SQLiteStore) SaveTrace(ctx context.Context, rec *trace.Record) error {
	if rec == nil || rec.TraceID == "" {
		return fmt.Errorf("trace record requires a trace id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}

	component, _ := rec.Meta["component"].(string)
	query, _ := rec.Meta["query"].(string)

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO traces (trace_id, ts, component, response_type, query, record_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.TraceID,
		s.now().UTC().Format(tsLayout),
		component,
		rec.ResponseType,
		query,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting trace: %w", err)
	}

	s.logger.Debug("saved trace",
		"trace_id", rec.TraceID,
		"response_type", rec.ResponseType,
		"events", len(rec.Events),
	)
	return nil
}

// Save implements trace.Sink. Rows have no file location, so the
// returned location is always empty.
func (s *SQLiteStore) Save(ctx context.Context, rec *trace.Record) (string, error) {
	return "", s.SaveTrace(ctx, rec)
}

// GetTrace retrieves a trace by ID.
// Returns ErrNotFound if the trace doesn't exist.
func (s *SQLiteStore) GetTrace(ctx context.Context, traceID string) (*trace.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM traces WHERE trace_id = ?`, traceID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying trace: %w", err)
	}

	var rec trace.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling trace: %w", err)
	}
	return &rec, nil
}

// normalizeTraceLimit applies default (50) and cap (500) to list limits.
func normalizeTraceLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// ListTraces returns the most recent traces, newest first
func (s *SQLiteStore) ListTraces(ctx context.Context, limit int) ([]TraceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, ts, component, response_type, query
		FROM traces
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, normalizeTraceLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying traces: %w", err)
	}
	defer rows.Close()

	var out []TraceSummary
	for rows.Next() {
		var t TraceSummary
		var tsStr string
		if err := rows.Scan(&t.TraceID, &tsStr, &t.Component, &t.ResponseType, &t.Query); err != nil {
			return nil, fmt.Errorf("scanning trace: %w", err)
		}
		t.Timestamp, err = time.Parse(tsLayout, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing ts: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating traces: %w", err)
	}
	return out, nil
}

// Compile-time interface checks
var (
	_ TraceStore = (*SQLiteStore)(nil)
	_ trace.Sink = (*SQLiteStore)(nil)
)
