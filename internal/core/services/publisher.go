package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
	"github.com/sequra/s3logsbeat/internal/logger"
)

// Publisher batches records and delivers them to the sink.
//
// A single flush task owns the current batch and sends one batch at a
// time, so the records of one object are acknowledged in offset order
// and no durable offset moves past an unacknowledged batch.
type Publisher struct {
	cfg             domain.PublisherConfig
	shutdownTimeout time.Duration
	sink            driven.Sink
	backoff         *Backoff
	counters        *Counters
	newID           func() string

	queue     chan domain.Record
	done      chan struct{}
	closeOnce sync.Once
}

// NewPublisher creates a publisher. Batching starts with Run.
func NewPublisher(
	cfg domain.PublisherConfig,
	shutdownTimeout time.Duration,
	sink driven.Sink,
	backoff *Backoff,
	counters *Counters,
) *Publisher {
	return &Publisher{
		cfg:             cfg,
		shutdownTimeout: shutdownTimeout,
		sink:            sink,
		backoff:         backoff,
		counters:        counters,
		newID:           uuid.NewString,
		queue:           make(chan domain.Record, cfg.QueueSize),
		done:            make(chan struct{}),
	}
}

// Publish enqueues a record, blocking while the queue is full.
func (p *Publisher) Publish(ctx context.Context, rec domain.Record) error {
	select {
	case <-p.done:
		return domain.ErrPipelineClosed
	default:
	}
	select {
	case p.queue <- rec:
		return nil
	case <-p.done:
		return domain.ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run accumulates and flushes batches until ctx is cancelled. On
// cancellation it stops accepting records, flushes what is buffered and
// returns. Sends in progress at that point get shutdownTimeout to finish.
// It returns an error only for process-level failures.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.closeOnce.Do(func() { close(p.done) })

	flushCtx, cancelFlush := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFlush()
	go func() {
		select {
		case <-flushCtx.Done():
			return
		case <-ctx.Done():
		}
		t := time.NewTimer(p.shutdownTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			cancelFlush()
		case <-flushCtx.Done():
		}
	}()

	ticker := time.NewTicker(p.cfg.FlushInterval.Std())
	defer ticker.Stop()

	batch := &domain.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		b := batch
		batch = &domain.Batch{}
		return p.flush(flushCtx, b)
	}

	for {
		select {
		case <-ctx.Done():
			p.closeOnce.Do(func() { close(p.done) })
			return p.shutdown(flushCtx, batch)

		case rec := <-p.queue:
			batch.Add(rec)
			if batch.Len() >= p.cfg.BatchSize || batch.Bytes >= p.cfg.BatchBytes {
				if err := flush(); err != nil {
					return err
				}
			}

		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// shutdown flushes the current batch and anything left in the queue.
func (p *Publisher) shutdown(ctx context.Context, batch *domain.Batch) error {
	for {
		drained := false
		for !drained && batch.Len() < p.cfg.BatchSize && batch.Bytes < p.cfg.BatchBytes {
			select {
			case rec := <-p.queue:
				batch.Add(rec)
			default:
				drained = true
			}
		}
		if batch.Len() > 0 {
			if err := p.flush(ctx, batch); err != nil {
				return err
			}
		}
		if drained || ctx.Err() != nil {
			return nil
		}
		batch = &domain.Batch{}
	}
}

// flush sends b until it is acknowledged or the retry budget is spent.
// Exhaustion fails the harvest attempts owning its records instead of
// dropping them silently.
func (p *Publisher) flush(ctx context.Context, b *domain.Batch) error {
	b.ID = p.newID()
	for attempt := 1; ; attempt++ {
		b.Attempt = attempt
		sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout.Std())
		err := p.sink.Send(sendCtx, b)
		cancel()

		if err == nil {
			p.counters.batchesSent.Add(1)
			return p.ack(context.WithoutCancel(ctx), b)
		}
		if attempt > p.cfg.MaxRetries {
			p.giveUp(b, err)
			return nil
		}

		p.counters.batchesRetried.Add(1)
		logger.Warn("Batch %s of %d records rejected (attempt %d): %v", b.ID, b.Len(), attempt, err)
		if werr := p.backoff.Wait(ctx, attempt); werr != nil {
			p.giveUp(b, err)
			return nil
		}
	}
}

func (p *Publisher) giveUp(b *domain.Batch, err error) {
	p.counters.batchesFailed.Add(1)
	logger.Error("Batch %s of %d records failed after %d attempts: %v", b.ID, b.Len(), b.Attempt, err)
	cause := fmt.Errorf("%w: batch %s: %w", domain.ErrDeliveryFailed, b.ID, err)
	for _, g := range b.AckGroups() {
		g.Ack.Failed(cause)
	}
}

// ack credits every harvest attempt represented in the batch.
func (p *Publisher) ack(ctx context.Context, b *domain.Batch) error {
	for _, g := range b.AckGroups() {
		if err := g.Ack.Delivered(ctx, g.Count, g.Offset); err != nil {
			return err
		}
	}
	p.counters.recordsAcked.Add(int64(b.Len()))
	logger.Debug("Batch %s of %d records acknowledged", b.ID, b.Len())
	return nil
}
