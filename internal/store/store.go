// ABOUTME: Store interfaces and models for persisted request traces
// ABOUTME: Defines TraceStore and the summary row returned by listings

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/toolgate/internal/trace"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// TraceSummary is one row of a trace listing
type TraceSummary struct {
	TraceID      string    `json:"trace_id"`
	Timestamp    time.Time `json:"ts"`
	Component    string    `json:"component"`
	ResponseType string    `json:"response_type"`
	Query        string    `json:"query"`
}

// TraceStore persists and retrieves request traces
type TraceStore interface {
	// SaveTrace stores a finished trace record
	SaveTrace(ctx context.Context, rec *trace.Record) error

	// GetTrace retrieves a trace by ID.
	// Returns ErrNotFound if the trace doesn't exist.
	GetTrace(ctx context.Context, traceID string) (*trace.Record, error)

	// ListTraces returns the most recent traces, newest first
	ListTraces(ctx context.Context, limit int) ([]TraceSummary, error)

	// Close closes the store
	Close() error
}
