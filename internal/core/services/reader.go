package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

const readBufferSize = 64 * 1024

// RecordReader opens objects as streams of line records.
type RecordReader struct {
	maxLineBytes int
	now          func() time.Time
}

// NewRecordReader creates a reader from configuration.
func NewRecordReader(cfg domain.ReaderConfig) *RecordReader {
	return &RecordReader{
		maxLineBytes: cfg.MaxLineBytes,
		now:          time.Now,
	}
}

// Open starts reading ref at decoded byte offset.
//
// Uncompressed objects are fetched from offset directly. Compressed objects
// are fetched from the start and the first offset decoded bytes discarded,
// which reproduces record boundaries exactly.
func (r *RecordReader) Open(ctx context.Context, store driven.ObjectStore, ref domain.ObjectRef, offset int64) (*RecordStream, error) {
	compression := ref.Compression()

	fetchAt := offset
	if compression != domain.CompressionNone {
		fetchAt = 0
	}
	body, err := store.Open(ctx, ref, fetchAt)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}

	stream := &RecordStream{
		ref:     ref,
		closers: []func() error{body.Close},
		offset:  offset,
		maxLine: r.maxLineBytes,
		now:     r.now,
	}

	var decoded io.Reader = body
	switch compression {
	case domain.CompressionGzip:
		gz, err := gzip.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("open gzip stream %s: %w", ref, err)
		}
		stream.closers = append(stream.closers, gz.Close)
		decoded = gz
	case domain.CompressionZstd:
		zr, err := zstd.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("open zstd stream %s: %w", ref, err)
		}
		stream.closers = append(stream.closers, func() error {
			zr.Close()
			return nil
		})
		decoded = zr
	}

	if compression != domain.CompressionNone && offset > 0 {
		n, err := io.CopyN(io.Discard, decoded, offset)
		if err != nil {
			_ = stream.Close()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %s holds %d decoded bytes, resume offset is %d", domain.ErrInvalidInput, ref, n, offset)
			}
			return nil, fmt.Errorf("skip to offset %d of %s: %w", offset, ref, err)
		}
	}

	stream.br = bufio.NewReaderSize(decoded, readBufferSize)
	return stream, nil
}

// RecordStream yields the records of one object in order.
// It is not safe for concurrent use.
type RecordStream struct {
	ref       domain.ObjectRef
	br        *bufio.Reader
	closers   []func() error
	offset    int64
	maxLine   int
	malformed int64
	now       func() time.Time
}

// Next returns the next record, or io.EOF at the end of the object.
// Empty lines are skipped. Lines longer than the configured maximum are
// skipped and counted by Malformed. Both still advance Offset.
func (s *RecordStream) Next() (domain.Record, error) {
	for {
		line, n, tooLong, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return domain.Record{}, io.EOF
			}
			return domain.Record{}, fmt.Errorf("read %s at offset %d: %w", s.ref, s.offset, err)
		}
		s.offset += n

		if tooLong {
			s.malformed++
			continue
		}
		if len(line) == 0 {
			continue
		}
		return domain.Record{
			Object:    s.ref,
			Offset:    s.offset,
			Payload:   line,
			DecodedAt: s.now(),
		}, nil
	}
}

// readLine consumes one line including its terminator and returns the line
// content, the number of decoded bytes consumed and whether the line
// exceeded the maximum length. A final line without terminator is returned
// with a nil error; io.EOF is returned only when nothing is left.
func (s *RecordStream) readLine() ([]byte, int64, bool, error) {
	var (
		buf     []byte
		n       int64
		tooLong bool
	)
	for {
		chunk, err := s.br.ReadSlice('\n')
		n += int64(len(chunk))
		if !tooLong {
			if len(buf)+len(chunk) > s.maxLine+2 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if n == 0 {
				return nil, 0, false, io.EOF
			}
		default:
			return nil, 0, false, err
		}
		break
	}

	buf = bytes.TrimSuffix(buf, []byte("\n"))
	buf = bytes.TrimSuffix(buf, []byte("\r"))
	if len(buf) > s.maxLine {
		tooLong = true
	}
	if tooLong {
		return nil, n, true, nil
	}
	return buf, n, false, nil
}

// Offset returns the decoded position reached so far.
func (s *RecordStream) Offset() int64 {
	return s.offset
}

// Malformed returns the number of oversized lines skipped.
func (s *RecordStream) Malformed() int64 {
	return s.malformed
}

// Close releases the decoder and the underlying object stream.
func (s *RecordStream) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
