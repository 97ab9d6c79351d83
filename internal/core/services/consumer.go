package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/logger"
)

// deleteTimeout bounds the removal of one processed message.
const deleteTimeout = 10 * time.Second

// QueueConsumer feeds the objects announced on a source's notification
// queue to the harvester pool. A message is deleted once every object it
// announced reached a terminal phase. Messages left undeleted, because of
// a shutdown or a failed deletion, are received again.
type QueueConsumer struct {
	pool       *HarvesterPool
	backoff    *Backoff
	counters   *Counters
	maxRetries int
}

// NewQueueConsumer creates a consumer. maxRetries bounds consecutive
// receive failures in once mode.
func NewQueueConsumer(pool *HarvesterPool, backoff *Backoff, counters *Counters, maxRetries int) *QueueConsumer {
	return &QueueConsumer{
		pool:       pool,
		backoff:    backoff,
		counters:   counters,
		maxRetries: maxRetries,
	}
}

// Consume receives from src.Queue until ctx is done. With once set it
// returns after the queue comes back empty. Only process-level failures
// are returned.
func (c *QueueConsumer) Consume(ctx context.Context, src *Source, once bool) error {
	queue := src.Queue
	if queue == nil {
		return fmt.Errorf("%w: source %s has no queue", domain.ErrInvalidInput, src.Name)
	}
	logger.Debug("Receiving notifications from %s", queue.Name())

	failures := 0
	for ctx.Err() == nil {
		batch, err := queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if domain.IsPermanent(err) {
				return fmt.Errorf("receive %s: %w", src.Name, err)
			}
			failures++
			c.counters.listingErrors.Add(1)
			if once && failures > c.maxRetries {
				logger.Warn("Giving up on %s after %d failed receives: %v", queue.Name(), failures, err)
				return nil
			}
			logger.Warn("Receiving from %s failed (attempt %d): %v", queue.Name(), failures, err)
			if werr := c.backoff.Wait(ctx, failures); werr != nil {
				return nil
			}
			continue
		}
		failures = 0

		c.counters.messagesReceived.Add(int64(len(batch)))
		for _, n := range batch {
			if err := c.dispatch(ctx, src, n); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		if once && len(batch) == 0 {
			logger.Debug("Queue %s is empty", queue.Name())
			return nil
		}
	}
	return nil
}

// dispatch submits the objects of n. The extra count held until every
// object was submitted keeps an early finisher from deleting n while
// later objects are still being admitted.
func (c *QueueConsumer) dispatch(ctx context.Context, src *Source, n domain.Notification) error {
	var remaining atomic.Int64
	remaining.Store(1)
	done := func() {
		if remaining.Add(-1) == 0 {
			c.delete(ctx, src, n)
		}
	}

	for _, ref := range n.Objects {
		if !src.Input.InWindow(ref.LastModified) {
			continue
		}
		c.counters.objectsListed.Add(1)
		remaining.Add(1)
		if _, err := c.pool.SubmitTracked(ctx, src, ref, done); err != nil {
			return err
		}
	}
	if len(n.Objects) == 0 {
		logger.Debug("Message %s of %s announces no objects", n.ID, src.Queue.Name())
	}
	done()
	return nil
}

func (c *QueueConsumer) delete(ctx context.Context, src *Source, n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()

	if err := src.Queue.Delete(ctx, n); err != nil {
		logger.Warn("Deleting message %s from %s failed, it will be received again: %v", n.ID, src.Queue.Name(), err)
		return
	}
	c.counters.messagesDeleted.Add(1)
	logger.Debug("Deleted message %s from %s", n.ID, src.Queue.Name())
}
