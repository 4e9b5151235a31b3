// ABOUTME: Directory-backed trace sink writing one indented JSON file per request.
// ABOUTME: Files are named trace_<id>.json.

package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes records into Dir, creating it on first use.
type FileSink struct {
	Dir string
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// Path returns the file a record with the given id is written to.
func (s *FileSink) Path(traceID string) string {
	return filepath.Join(s.Dir, "trace_"+traceID+".json")
}

// Save writes rec and returns the file path.
func (s *FileSink) Save(_ context.Context, rec *Record) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating trace directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return "", fmt.Errorf("encoding trace: %w", err)
	}

	path := s.Path(rec.TraceID)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing trace: %w", err)
	}
	return path, nil
}

// Load reads a record previously written by Save.
func (s *FileSink) Load(traceID string) (*Record, error) {
	data, err := os.ReadFile(s.Path(traceID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding trace %s: %w", traceID, err)
	}
	return &rec, nil
}
