package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
	"github.com/sequra/s3logsbeat/internal/logger"
)

var (
	errAttemptDone = errors.New("harvest attempt finished")
	errUpToDate    = errors.New("object is up to date")
)

// recordPublisher is the part of Publisher used by harvesters.
type recordPublisher interface {
	Publish(ctx context.Context, rec domain.Record) error
}

type harvestJob struct {
	src      *Source
	ref      domain.ObjectRef
	failures int
	// stalls counts attempts ended by a batch that could not be
	// delivered. They never count toward MaxObjectRetries.
	stalls int
}

// HarvesterPool reads admitted objects with a fixed number of workers.
// An object key is held by at most one job from admission until it
// reaches a terminal phase, across listing cycles and retries.
type HarvesterPool struct {
	cfg       domain.PipelineConfig
	states    driven.StateStore
	reader    *RecordReader
	publisher recordPublisher
	backoff   *Backoff
	counters  *Counters
	now       func() time.Time

	queue chan *harvestJob
	fatal chan error

	mu      sync.Mutex
	active  map[string]domain.HarvestPhase
	waiters map[string][]func()
	pending int
	idle    chan struct{}
}

// NewHarvesterPool creates a pool. Workers start with Run.
func NewHarvesterPool(
	cfg domain.PipelineConfig,
	states driven.StateStore,
	reader *RecordReader,
	publisher recordPublisher,
	backoff *Backoff,
	counters *Counters,
) *HarvesterPool {
	idle := make(chan struct{})
	close(idle)
	return &HarvesterPool{
		cfg:       cfg,
		states:    states,
		reader:    reader,
		publisher: publisher,
		backoff:   backoff,
		counters:  counters,
		now:       time.Now,
		queue:     make(chan *harvestJob, cfg.QueueSize),
		fatal:     make(chan error, 1),
		active:    make(map[string]domain.HarvestPhase),
		waiters:   make(map[string][]func()),
		idle:      idle,
	}
}

// Submit admits ref for harvesting unless its key is already held by the
// pool or its read state says there is nothing to read. It blocks while
// the admission queue is full.
func (p *HarvesterPool) Submit(ctx context.Context, src *Source, ref domain.ObjectRef) (bool, error) {
	return p.SubmitTracked(ctx, src, ref, nil)
}

// SubmitTracked is Submit with a callback run once the object reaches a
// terminal phase. That includes an object with nothing left to read, in
// which case done runs before SubmitTracked returns, and an object already
// held by the pool, in which case done follows the holding job. done is
// never run for an object abandoned on shutdown.
func (p *HarvesterPool) SubmitTracked(ctx context.Context, src *Source, ref domain.ObjectRef, done func()) (bool, error) {
	key := ref.StateKey()
	if !p.reserve(key, done) {
		return false, nil
	}

	state, err := p.states.Get(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.release(key)
		return false, fmt.Errorf("%w: get state %s: %w", domain.ErrStateStore, key, err)
	}
	if _, harvest := state.Resume(ref); !harvest {
		p.complete(key)
		return false, nil
	}

	p.setPhase(key, domain.PhaseAdmitted)
	select {
	case p.queue <- &harvestJob{src: src, ref: ref}:
		p.counters.objectsAdmitted.Add(1)
		logger.Debug("Admitted %s", ref)
		return true, nil
	case <-ctx.Done():
		p.release(key)
		return false, ctx.Err()
	}
}

// Run starts the workers and blocks until ctx is cancelled or a
// process-level failure occurs.
func (p *HarvesterPool) Run(ctx context.Context) error {
	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(workCtx)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-p.fatal:
	}
	cancel()
	wg.Wait()
	p.drain()
	return err
}

// Wait blocks until every admitted object reached a terminal phase or
// ctx is done.
func (p *HarvesterPool) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Phase returns the phase of an object held by the pool.
func (p *HarvesterPool) Phase(key string) (domain.HarvestPhase, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	phase, ok := p.active[key]
	return phase, ok
}

func (p *HarvesterPool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.harvest(ctx, job)
		}
	}
}

// harvest runs one attempt and routes its outcome.
func (p *HarvesterPool) harvest(ctx context.Context, job *harvestJob) {
	key := job.ref.StateKey()
	p.setPhase(key, domain.PhaseReading)

	tracker, err := p.attempt(ctx, job)
	switch {
	case err == nil:
		p.counters.objectsCompleted.Add(1)
		p.complete(key)
	case errors.Is(err, errUpToDate):
		p.complete(key)
	case ctx.Err() != nil:
		p.release(key)
	case domain.IsPermanent(err):
		p.release(key)
		p.reportFatal(err)
	default:
		p.fail(ctx, job, tracker, err)
	}
}

// attempt reads the object from its durable offset, publishes every
// decodable record and waits for all of them to be acknowledged before
// marking the object completed.
func (p *HarvesterPool) attempt(ctx context.Context, job *harvestJob) (*ackTracker, error) {
	ref := job.ref
	key := ref.StateKey()

	existing, err := p.states.Get(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: get state %s: %w", domain.ErrStateStore, key, err)
	}
	offset, harvest := existing.Resume(ref)
	if !harvest {
		return nil, errUpToDate
	}

	state := domain.NewReadState(ref)
	if existing != nil && offset > 0 {
		state = *existing
		state.ETag = ref.ETag
		state.Size = ref.Size
		state.Completed = false
	}
	tracker := newAckTracker(p.states, state, p.now)

	logger.Debug("Harvesting %s from offset %d", ref, offset)
	stream, err := p.reader.Open(ctx, job.src.Store, ref, offset)
	if err != nil {
		return tracker, err
	}
	defer stream.Close()

	for {
		if err := tracker.failure(); err != nil {
			return tracker, err
		}
		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return tracker, p.abandon(ctx, tracker, err)
		}

		ev, err := job.src.Parser.Parse(rec.Payload)
		if errors.Is(err, domain.ErrSkipRecord) {
			continue
		}
		if err != nil {
			p.counters.recordsMalformed.Add(1)
			logger.Debug("Skipping record of %s at offset %d: %v", ref, rec.Offset, err)
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = rec.DecodedAt
		}
		job.src.Enrich(&ev, ref)
		rec.Event = ev

		tracker.add(1)
		if err := p.publisher.Publish(ctx, rec.WithAck(tracker)); err != nil {
			tracker.add(-1)
			return tracker, err
		}
		p.counters.recordsPublished.Add(1)
	}
	p.counters.recordsMalformed.Add(stream.Malformed())

	if err := tracker.wait(ctx); err != nil {
		return tracker, err
	}

	total := stream.Offset()
	final, err := tracker.finish(ctx, errAttemptDone, func(s *domain.ReadState) {
		if total > s.Offset {
			s.Offset = total
		}
		s.Completed = true
		s.Failed = false
		s.Attempts = job.failures + 1
		s.LastError = ""
	})
	if err != nil {
		return tracker, err
	}
	logger.Info("Completed %s (%d bytes)", ref, final.Offset)
	return tracker, nil
}

// abandon waits for records already handed to the publisher before the
// attempt is given up, so a retry never races their acknowledgements.
func (p *HarvesterPool) abandon(ctx context.Context, tracker *ackTracker, cause error) error {
	if err := tracker.wait(ctx); err != nil && domain.IsPermanent(err) {
		return err
	}
	tracker.seal(cause)
	return cause
}

// fail schedules a retry or, when the retry budget is exhausted, marks the
// object permanently failed. Delivery failures are retried without limit
// and leave the durable offset untouched, so a sink outage never fails an
// object.
func (p *HarvesterPool) fail(ctx context.Context, job *harvestJob, tracker *ackTracker, cause error) {
	key := job.ref.StateKey()

	if errors.Is(cause, domain.ErrDeliveryFailed) {
		job.stalls++
		delay := p.backoff.Delay(job.stalls)
		logger.Warn("Delivery of %s failed, retrying in %s: %v", job.ref, delay, cause)
		p.retry(ctx, job, delay)
		return
	}

	job.failures++
	if job.failures >= p.cfg.MaxObjectRetries || domain.IsObjectPermanent(cause) {
		p.setPhase(key, domain.PhaseFailedPermanent)
		if err := p.markFailed(ctx, job, tracker, cause); err != nil {
			p.release(key)
			p.reportFatal(err)
			return
		}
		p.counters.objectsFailed.Add(1)
		logger.Error("Giving up on %s after %d attempts: %v", job.ref, job.failures, cause)
		p.complete(key)
		return
	}

	delay := p.backoff.Delay(job.failures)
	logger.Warn("Harvest of %s failed (attempt %d), retrying in %s: %v", job.ref, job.failures, delay, cause)
	p.retry(ctx, job, delay)
}

// retry requeues job after delay. The key stays held meanwhile.
func (p *HarvesterPool) retry(ctx context.Context, job *harvestJob, delay time.Duration) {
	key := job.ref.StateKey()
	p.setPhase(key, domain.PhaseFailedRetryable)
	p.counters.objectsRetried.Add(1)

	go func() {
		if err := sleep(ctx, delay); err != nil {
			p.release(key)
			return
		}
		select {
		case p.queue <- job:
			p.setPhase(key, domain.PhaseAdmitted)
		case <-ctx.Done():
			p.release(key)
		}
	}()
}

func (p *HarvesterPool) markFailed(ctx context.Context, job *harvestJob, tracker *ackTracker, cause error) error {
	update := func(s *domain.ReadState) {
		s.Failed = true
		s.Completed = false
		s.Attempts = job.failures
		s.LastError = cause.Error()
	}
	if tracker != nil {
		_, err := tracker.finish(ctx, fmt.Errorf("%w: %w", domain.ErrObjectFailed, cause), update)
		return err
	}
	state := domain.NewReadState(job.ref)
	update(&state)
	state.UpdatedAt = p.now()
	if err := p.states.Put(ctx, state); err != nil {
		return fmt.Errorf("%w: put state %s: %w", domain.ErrStateStore, state.Key, err)
	}
	return nil
}

func (p *HarvesterPool) reportFatal(err error) {
	select {
	case p.fatal <- err:
	default:
	}
}

// reserve claims key for a new job. It returns false if the key is held.
// A non-nil done is registered with the job holding key either way.
func (p *HarvesterPool) reserve(key string, done func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done != nil {
		p.waiters[key] = append(p.waiters[key], done)
	}
	if _, ok := p.active[key]; ok {
		return false
	}
	p.active[key] = domain.PhaseDiscovered
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
	return true
}

// complete frees key once its job reached a terminal phase.
func (p *HarvesterPool) complete(key string) {
	p.finish(key, true)
}

// release frees key for a job dropped before reaching a terminal phase.
func (p *HarvesterPool) release(key string) {
	p.finish(key, false)
}

// finish frees key. Callbacks of a terminal job run before the pool can
// report itself idle.
func (p *HarvesterPool) finish(key string, terminal bool) {
	p.mu.Lock()
	if _, ok := p.active[key]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, key)
	waiters := p.waiters[key]
	delete(p.waiters, key)
	p.mu.Unlock()

	if terminal {
		for _, done := range waiters {
			done()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

func (p *HarvesterPool) setPhase(key string, phase domain.HarvestPhase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[key]; ok {
		p.active[key] = phase
	}
}

// drain releases jobs left in the queue after the workers stopped.
func (p *HarvesterPool) drain() {
	for {
		select {
		case job := <-p.queue:
			p.release(job.ref.StateKey())
		default:
			return
		}
	}
}
