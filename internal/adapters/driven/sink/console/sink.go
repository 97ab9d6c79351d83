// Package console writes batches as NDJSON to a stream, standard output by
// default.
package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sequra/s3logsbeat/internal/adapters/driven/sink/ndjson"
	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure Sink implements the interface.
var _ driven.Sink = (*Sink)(nil)

// Sink writes each batch in a single write call.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a sink writing to w. A nil writer means standard output.
func New(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{w: w}
}

// Send encodes and writes the batch.
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
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write batch %s: %w", batch.ID, err)
	}
	return nil
}

// Close is a no-op; the stream is owned by the caller.
func (s *Sink) Close() error {
	return nil
}
