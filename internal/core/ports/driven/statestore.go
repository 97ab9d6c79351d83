package driven

import (
	"context"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

// StateStore persists per-object read progress.
// Implementations must be safe for concurrent use.
type StateStore interface {
	// Get returns the state for key, or domain.ErrNotFound.
	Get(ctx context.Context, key string) (*domain.ReadState, error)

	// Put atomically inserts or replaces the state. A nil error means
	// the state survives a process crash.
	Put(ctx context.Context, state domain.ReadState) error

	// ListIncomplete returns states that are neither completed nor failed.
	ListIncomplete(ctx context.Context) ([]domain.ReadState, error)

	// List returns every state ordered by key.
	List(ctx context.Context) ([]domain.ReadState, error)

	// Delete removes the state for key so the object is harvested again.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}
