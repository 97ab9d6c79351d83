package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

type publisherFixture struct {
	publisher *Publisher
	sink      *mockSink
	states    *failingStateStore
	counters  *Counters
	cancel    context.CancelFunc
	errCh     chan error
}

func startPublisher(t *testing.T, cfg domain.PublisherConfig, sink *mockSink) *publisherFixture {
	t.Helper()
	counters := NewCounters()
	p := NewPublisher(cfg, 200*time.Millisecond, sink, NewBackoff(testConfig().Backoff), counters)
	ctx, cancel := context.WithCancel(context.Background())
	f := &publisherFixture{
		publisher: p,
		sink:      sink,
		states:    newFailingStateStore(),
		counters:  counters,
		cancel:    cancel,
		errCh:     make(chan error, 1),
	}
	go func() { f.errCh <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return f
}

func (f *publisherFixture) stop(t *testing.T) error {
	t.Helper()
	f.cancel()
	select {
	case err := <-f.errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
		return nil
	}
}

// publish sends n records of object key through a fresh tracker.
func (f *publisherFixture) publish(t *testing.T, key string, n int) *ackTracker {
	t.Helper()
	ref := domain.ObjectRef{Bucket: "b", Key: key}
	tracker := newAckTracker(f.states, domain.NewReadState(ref), time.Now)
	for i := 1; i <= n; i++ {
		tracker.add(1)
		rec := domain.Record{Object: ref, Offset: int64(i * 10), Payload: []byte(fmt.Sprintf("%09d", i))}
		require.NoError(t, f.publisher.Publish(context.Background(), rec.WithAck(tracker)))
	}
	return tracker
}

func TestPublisher_FlushTriggers_CountThenInterval(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 100
	cfg.FlushInterval = domain.Duration(300 * time.Millisecond)
	f := startPublisher(t, cfg, &mockSink{})

	f.publish(t, "a.log", 250)

	require.Eventually(t, func() bool { return len(f.sink.batchSizes()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{100, 100, 50}, f.sink.batchSizes())
	require.NoError(t, f.stop(t))
}

func TestPublisher_FlushTriggers_Bytes(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 1000
	cfg.BatchBytes = 45
	cfg.FlushInterval = domain.Duration(time.Hour)
	f := startPublisher(t, cfg, &mockSink{})

	// Payloads are 9 bytes: five records reach 45 bytes.
	f.publish(t, "a.log", 10)

	require.Eventually(t, func() bool { return len(f.sink.batchSizes()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{5, 5}, f.sink.batchSizes())
	require.NoError(t, f.stop(t))
}

func TestPublisher_AckAdvancesStateOnce(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 10
	f := startPublisher(t, cfg, &mockSink{})

	tracker := f.publish(t, "a.log", 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tracker.wait(ctx))

	st, err := f.states.Get(context.Background(), "b/a.log")
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Offset)
	assert.Equal(t, 1, f.states.putCount())
	assert.Equal(t, int64(10), f.counters.Snapshot().RecordsAcked)
}

func TestPublisher_NackNackAck(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 10
	sink := &mockSink{results: []error{errors.New("503"), errors.New("timeout")}}
	f := startPublisher(t, cfg, sink)

	tracker := f.publish(t, "a.log", 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tracker.wait(ctx))

	sink.mu.Lock()
	assert.Equal(t, 3, sink.sends)
	assert.Equal(t, []int{1, 2, 3}, sink.attempts)
	assert.Equal(t, sink.ids[0], sink.ids[2])
	assert.Len(t, sink.delivered, 1)
	sink.mu.Unlock()

	st, err := f.states.Get(context.Background(), "b/a.log")
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Offset)
	assert.Equal(t, 1, f.states.putCount())

	status := f.counters.Snapshot()
	assert.Equal(t, int64(2), status.BatchesRetried)
	assert.Equal(t, int64(1), status.BatchesSent)
	assert.Equal(t, int64(0), status.BatchesFailed)
}

func TestPublisher_RetriesExhausted_FailsTracker(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 5
	cfg.MaxRetries = 2
	sink := &mockSink{failAlways: errors.New("rejected")}
	f := startPublisher(t, cfg, sink)

	tracker := f.publish(t, "a.log", 5)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tracker.wait(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.Equal(t, 3, sink.sendCount())
	assert.Equal(t, 0, f.states.putCount())
	assert.Equal(t, int64(1), f.counters.Snapshot().BatchesFailed)
}

func TestPublisher_FailedTrackerIgnoresLaterAcks(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 5
	cfg.MaxRetries = 0
	sink := &mockSink{results: []error{errors.New("rejected")}}
	f := startPublisher(t, cfg, sink)

	// First batch fails, second succeeds: the offset must not skip the first.
	tracker := f.publish(t, "a.log", 10)
	require.Eventually(t, func() bool { return sink.sendCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, f.stop(t))

	assert.Error(t, tracker.failure())
	assert.Equal(t, 0, f.states.putCount())
}

func TestPublisher_StateStoreErrorIsFatal(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 5
	f := startPublisher(t, cfg, &mockSink{})
	f.states.armPut(errors.New("disk full"))

	f.publish(t, "a.log", 5)

	select {
	case err := <-f.errCh:
		require.Error(t, err)
		assert.True(t, domain.IsPermanent(err))
		assert.ErrorIs(t, err, domain.ErrStateStore)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop on state store failure")
	}

	err := f.publisher.Publish(context.Background(), domain.Record{})
	assert.ErrorIs(t, err, domain.ErrPipelineClosed)
}

func TestPublisher_ShutdownFlushesBuffered(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 1000
	cfg.FlushInterval = domain.Duration(time.Hour)
	f := startPublisher(t, cfg, &mockSink{})

	tracker := f.publish(t, "a.log", 42)
	require.NoError(t, f.stop(t))

	assert.Equal(t, []int{42}, f.sink.batchSizes())
	assert.NoError(t, tracker.failure())
	st, err := f.states.Get(context.Background(), "b/a.log")
	require.NoError(t, err)
	assert.Equal(t, int64(420), st.Offset)
}

func TestPublisher_OrderPerObject(t *testing.T) {
	cfg := testConfig().Publisher
	cfg.BatchSize = 7
	f := startPublisher(t, cfg, &mockSink{})

	f.publish(t, "a.log", 50)
	require.Eventually(t, func() bool { return len(f.sink.records()) == 50 }, 5*time.Second, 10*time.Millisecond)

	var last int64
	for _, r := range f.sink.records() {
		assert.Greater(t, r.Offset, last)
		last = r.Offset
	}
}
