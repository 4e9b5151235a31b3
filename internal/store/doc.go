// Package store persists request traces in SQLite.
//
// # Architecture
//
// TraceStore is the read/write surface used by the HTTP API. SQLiteStore
// implements it and also satisfies trace.Sink, so the pipeline can hand
// finished records to it alongside the file sink.
//
// # Schema
//
// One table holds every trace:
//
//	traces(trace_id, ts, component, response_type, query, record_json)
//
// component and query come from the record's meta; record_json is the full
// trail including the final output.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// Use NewSQLiteStore(":memory:") for tests that do not need a file.
//
// # Schema
//
// The traces table and its indexes are created with IF NOT EXISTS on every
// open, so reopening an existing database file is safe.
package store
