// Package file appends batches as NDJSON to a local file, syncing after
// every batch so an acknowledged batch survives a crash.
package file

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sequra/s3logsbeat/internal/adapters/driven/sink/ndjson"
	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure Sink implements the interface.
var _ driven.Sink = (*Sink)(nil)

// Sink is an append-only file output.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens path for appending, creating it and its parent directory.
func Open(path string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: output file path is required", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}
	return &Sink{f: f, path: path}, nil
}

// Path returns the output file path.
func (s *Sink) Path() string {
	return s.path
}

// Send appends the batch and syncs the file.
func (s *Sink) Send(ctx context.Context, batch *domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := ndjson.Encode(&buf, batch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("write batch %s: %w", batch.ID, os.ErrClosed)
	}
	if _, err := s.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write batch %s: %w", batch.ID, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync batch %s: %w", batch.ID, err)
	}
	return nil
}

// Close closes the file. Calling Close twice is safe.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
