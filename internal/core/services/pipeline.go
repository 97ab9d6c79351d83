package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
	"github.com/sequra/s3logsbeat/internal/core/ports/driving"
	"github.com/sequra/s3logsbeat/internal/logger"
)

// ReadyMessage is logged once every pipeline task has started.
const ReadyMessage = "s3logsbeat is running! Hit CTRL-C to stop it."

// Ensure Pipeline implements the interface.
var _ driving.Pipeline = (*Pipeline)(nil)

// PipelineOptions controls how Run drives the pipeline.
type PipelineOptions struct {
	// PollFrequency is the interval between listing cycles.
	PollFrequency time.Duration

	// Once lists every source a single time and returns when all
	// discovered objects reached a terminal phase.
	Once bool

	// FullScanEvery resets every listing cursor each N cycles. Zero
	// keeps the cursors for the lifetime of the pipeline.
	FullScanEvery int
}

// Pipeline wires the lister, harvester pool and publisher together.
type Pipeline struct {
	opts      PipelineOptions
	sources   []*Source
	states    driven.StateStore
	lister    *Lister
	pool      *HarvesterPool
	publisher *Publisher
	consumer  *QueueConsumer
	counters  *Counters

	running    atomic.Bool
	incomplete atomic.Int64
}

// NewPipeline creates a pipeline from its components.
func NewPipeline(
	opts PipelineOptions,
	sources []*Source,
	states driven.StateStore,
	lister *Lister,
	pool *HarvesterPool,
	publisher *Publisher,
	counters *Counters,
) *Pipeline {
	return &Pipeline{
		opts:      opts,
		sources:   sources,
		states:    states,
		lister:    lister,
		pool:      pool,
		publisher: publisher,
		consumer:  NewQueueConsumer(pool, lister.backoff, counters, lister.maxRetries),
		counters:  counters,
	}
}

// Run implements driving.Pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: pipeline already running", domain.ErrInvalidInput)
	}
	defer p.running.Store(false)

	incomplete, err := p.states.ListIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("%w: list incomplete states: %w", domain.ErrStateStore, err)
	}
	p.incomplete.Store(int64(len(incomplete)))
	if len(incomplete) > 0 {
		logger.Info("Resuming %d partially read objects", len(incomplete))
		for _, s := range incomplete {
			logger.Debug("  %s at offset %d", s.Key, s.Offset)
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return p.publisher.Run(gctx) })
	g.Go(func() error { return p.pool.Run(gctx) })
	if p.opts.Once {
		g.Go(func() error {
			defer stop()
			return p.runOnce(gctx)
		})
	} else {
		g.Go(func() error { return p.schedule(gctx) })
		g.Go(func() error { return p.consumeQueues(gctx, false) })
	}

	logger.Info(ReadyMessage)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Pipeline stopped: %v", err)
		return err
	}
	logger.Info("Pipeline stopped")
	return nil
}

// Status implements driving.Pipeline.
func (p *Pipeline) Status() driving.PipelineStatus {
	status := p.counters.Snapshot()
	status.Running = p.running.Load()
	status.IncompleteAtStart = int(p.incomplete.Load())
	return status
}

// runOnce lists every source a single time, drains every queue and waits
// until the pool is idle.
func (p *Pipeline) runOnce(ctx context.Context) error {
	cursors := make(map[string]time.Time)
	if err := p.scan(ctx, cursors); err != nil {
		return err
	}
	if err := p.consumeQueues(ctx, true); err != nil {
		return err
	}
	if err := p.pool.Wait(ctx); err != nil {
		return nil //nolint:nilerr // cancellation is a clean stop
	}
	logger.Info("All discovered objects processed")
	return nil
}

// schedule lists every source each poll interval and whenever a watched
// store signals new data.
func (p *Pipeline) schedule(ctx context.Context) error {
	trigger := make(chan struct{}, 1)
	for _, src := range p.sources {
		w, ok := src.Store.(driven.Watcher)
		if !ok {
			continue
		}
		events, err := w.Watch(ctx)
		if err != nil {
			logger.Warn("Watching %s failed, relying on polling: %v", src.Name, err)
			continue
		}
		go func() {
			for range events {
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
		}()
	}

	cursors := make(map[string]time.Time)
	if err := p.scan(ctx, cursors); err != nil {
		return err
	}

	ticker := time.NewTicker(p.opts.PollFrequency)
	defer ticker.Stop()

	for cycle := 1; ; cycle++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-trigger:
		}
		if p.opts.FullScanEvery > 0 && cycle%p.opts.FullScanEvery == 0 {
			logger.Debug("Listing cycle %d scans every source from the beginning", cycle)
			clear(cursors)
		}
		if err := p.scan(ctx, cursors); err != nil {
			return err
		}
	}
}

// consumeQueues runs one consumer per queue source until all return.
func (p *Pipeline) consumeQueues(ctx context.Context, once bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range p.sources {
		if src.Queue == nil {
			continue
		}
		g.Go(func() error { return p.consumer.Consume(gctx, src, once) })
	}
	return g.Wait()
}

// scan runs one listing cycle over every source and prefix and submits
// what it finds. Only process-level failures are returned.
func (p *Pipeline) scan(ctx context.Context, cursors map[string]time.Time) error {
	for _, src := range p.sources {
		for _, prefix := range src.Prefixes {
			cursorKey := src.Name + "\x00" + prefix
			refs, next, err := p.lister.List(ctx, src, prefix, cursors[cursorKey])
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if domain.IsPermanent(err) {
					return fmt.Errorf("list %s: %w", src.Name, err)
				}
				p.counters.listingErrors.Add(1)
				logger.Warn("Listing %s %q failed, retrying next cycle: %v", src.Name, prefix, err)
				continue
			}

			for _, ref := range refs {
				p.counters.objectsListed.Add(1)
				if _, err := p.pool.Submit(ctx, src, ref); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
			cursors[cursorKey] = next
		}
	}
	return nil
}
