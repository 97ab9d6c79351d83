package driven

import (
	"context"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

// Sink delivers batches to the output.
type Sink interface {
	// Send delivers every record of the batch. A nil error acknowledges the
	// whole batch; any error is a negative acknowledgement and the batch
	// will be sent again.
	Send(ctx context.Context, batch *domain.Batch) error

	// Close flushes and releases resources.
	Close() error
}
