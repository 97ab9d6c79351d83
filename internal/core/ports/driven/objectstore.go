package driven

import (
	"context"
	"io"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

// ObjectStore discovers and opens log objects.
type ObjectStore interface {
	// List calls fn for every object under prefix. Order is unspecified.
	// Iteration stops at the first error returned by fn.
	// Rejected credentials are reported as domain.ErrStorageAuth.
	List(ctx context.Context, prefix string, fn func(domain.ObjectRef) error) error

	// Open returns the stored bytes of ref starting at byte offset.
	// Callers pass a non-zero offset only for uncompressed objects.
	Open(ctx context.Context, ref domain.ObjectRef, offset int64) (io.ReadCloser, error)
}

// Watcher is implemented by object stores that can notify about changes.
type Watcher interface {
	// Watch returns a channel receiving a value whenever new data may be
	// available. The channel is closed when ctx is cancelled.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
