package driven

import (
	"context"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

// NotificationQueue receives object-created notifications.
type NotificationQueue interface {
	// Receive long-polls for messages. An empty result means the queue had
	// nothing to deliver within the wait time.
	// Rejected credentials are reported as domain.ErrStorageAuth.
	Receive(ctx context.Context) ([]domain.Notification, error)

	// Delete removes a processed message from the queue.
	Delete(ctx context.Context, n domain.Notification) error

	// Name identifies the queue in logs.
	Name() string
}
