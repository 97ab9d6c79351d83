package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure ackTracker implements the interface.
var _ domain.Acknowledger = (*ackTracker)(nil)

// ackTracker follows the published records of one harvest attempt and
// advances the object's durable offset as batches are acknowledged.
// Once failed it stops advancing the offset, so records of a failed batch
// are never skipped by acknowledgements of later batches.
type ackTracker struct {
	states driven.StateStore
	now    func() time.Time

	mu      sync.Mutex
	state   domain.ReadState
	pending int
	err     error
	changed chan struct{}
}

func newAckTracker(states driven.StateStore, state domain.ReadState, now func() time.Time) *ackTracker {
	return &ackTracker{
		states:  states,
		now:     now,
		state:   state,
		changed: make(chan struct{}, 1),
	}
}

// add registers n records about to be published.
func (t *ackTracker) add(n int) {
	t.mu.Lock()
	t.pending += n
	t.mu.Unlock()
}

// Delivered implements domain.Acknowledger.
func (t *ackTracker) Delivered(ctx context.Context, n int, offset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.notify()

	t.pending -= n
	if t.err != nil {
		return nil
	}
	next := t.state
	if !next.Advance(offset, t.now()) {
		return nil
	}
	if err := t.states.Put(ctx, next); err != nil {
		return fmt.Errorf("%w: put state %s: %w", domain.ErrStateStore, next.Key, err)
	}
	t.state = next
	return nil
}

// Failed implements domain.Acknowledger.
func (t *ackTracker) Failed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.notify()

	if t.err == nil {
		t.err = err
	}
}

func (t *ackTracker) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// failure returns the error that failed the attempt, if any.
func (t *ackTracker) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// wait blocks until every published record was acknowledged or the
// attempt failed.
func (t *ackTracker) wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		pending, err := t.pending, t.err
		t.mu.Unlock()

		if err != nil {
			return err
		}
		if pending <= 0 {
			return nil
		}
		select {
		case <-t.changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// finish stops further offset updates and persists the final state
// built by update from the latest acknowledged state.
func (t *ackTracker) finish(ctx context.Context, cause error, update func(*domain.ReadState)) (domain.ReadState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.notify()

	if t.err == nil {
		t.err = cause
	}
	next := t.state
	update(&next)
	next.UpdatedAt = t.now()
	if err := t.states.Put(ctx, next); err != nil {
		return t.state, fmt.Errorf("%w: put state %s: %w", domain.ErrStateStore, next.Key, err)
	}
	t.state = next
	return next, nil
}

// seal stops further offset updates without writing anything.
func (t *ackTracker) seal(cause error) {
	t.Failed(cause)
}
