package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/sequra/s3logsbeat/internal/adapters/driven/storage/memory"
	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// --- Test configuration ---

func testConfig() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.Pipeline = domain.PipelineConfig{
		Workers:          2,
		QueueSize:        16,
		MaxObjectRetries: 3,
		ShutdownTimeout:  domain.Duration(200 * time.Millisecond),
	}
	cfg.Lister = domain.ListerConfig{
		PollFrequency: domain.Duration(20 * time.Millisecond),
		MaxRetries:    2,
	}
	cfg.Publisher = domain.PublisherConfig{
		BatchSize:     100,
		BatchBytes:    1 << 20,
		FlushInterval: domain.Duration(20 * time.Millisecond),
		QueueSize:     1024,
		MaxRetries:    3,
		SendTimeout:   domain.Duration(time.Second),
	}
	cfg.Backoff = domain.BackoffConfig{
		Initial:    domain.Duration(time.Millisecond),
		Max:        domain.Duration(5 * time.Millisecond),
		Multiplier: 2,
	}
	cfg.Reader = domain.ReaderConfig{MaxLineBytes: 1024}
	cfg.State = domain.StateConfig{Backend: domain.StateBackendMemory}
	return cfg
}

// lines returns n lines "line-00000\n" ... of 11 bytes each.
func lines(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&buf, "line-%05d\n", i)
	}
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// --- Mock object store ---

type mockObject struct {
	ref  domain.ObjectRef
	data []byte
}

type openCall struct {
	key    string
	offset int64
}

// mockObjectStore implements driven.ObjectStore over in-memory objects.
type mockObjectStore struct {
	mu        sync.Mutex
	objects   map[string]*mockObject
	listErrs  []error
	listCalls int
	openErrs  map[string][]error
	readErrs  map[string][]error
	opens     []openCall
	gate      chan struct{}
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{
		objects:  make(map[string]*mockObject),
		openErrs: make(map[string][]error),
		readErrs: make(map[string][]error),
	}
}

func (m *mockObjectStore) put(bucket, key string, data []byte, modified time.Time) domain.ObjectRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := domain.ObjectRef{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(data)),
		LastModified: modified,
		ETag:         fmt.Sprintf("etag-%d", len(data)),
	}
	m.objects[key] = &mockObject{ref: ref, data: data}
	return ref
}

func (m *mockObjectStore) List(ctx context.Context, prefix string, fn func(domain.ObjectRef) error) error {
	m.mu.Lock()
	m.listCalls++
	if len(m.listErrs) > 0 {
		err := m.listErrs[0]
		m.listErrs = m.listErrs[1:]
		m.mu.Unlock()
		return err
	}
	var refs []domain.ObjectRef
	for _, o := range m.objects {
		if strings.HasPrefix(o.ref.Key, prefix) {
			refs = append(refs, o.ref)
		}
	}
	m.mu.Unlock()

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockObjectStore) Open(ctx context.Context, ref domain.ObjectRef, offset int64) (io.ReadCloser, error) {
	m.mu.Lock()
	m.opens = append(m.opens, openCall{key: ref.Key, offset: offset})
	gate := m.gate
	if errs := m.openErrs[ref.Key]; len(errs) > 0 {
		m.openErrs[ref.Key] = errs[1:]
		m.mu.Unlock()
		return nil, errs[0]
	}
	var readErr error
	if errs := m.readErrs[ref.Key]; len(errs) > 0 {
		readErr = errs[0]
		m.readErrs[ref.Key] = errs[1:]
	}
	obj, ok := m.objects[ref.Key]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	data := obj.data[offset:]
	if readErr != nil {
		// Fail halfway through the remaining bytes.
		return io.NopCloser(io.MultiReader(bytes.NewReader(data[:len(data)/2]), &errReader{err: readErr})), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockObjectStore) openCalls() []openCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]openCall(nil), m.opens...)
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }

// --- Mock parser ---

// mockParser keeps the line as message, skips lines starting with "#"
// and rejects lines starting with "!".
type mockParser struct{}

func (mockParser) Parse(line []byte) (domain.Event, error) {
	if bytes.HasPrefix(line, []byte("#")) {
		return domain.Event{}, domain.ErrSkipRecord
	}
	if bytes.HasPrefix(line, []byte("!")) {
		return domain.Event{}, fmt.Errorf("%w: rejected", domain.ErrMalformedRecord)
	}
	return domain.Event{
		ID:     string(line),
		Fields: map[string]any{"message": string(line)},
	}, nil
}

// --- Mock sink ---

// mockSink records delivered batches. Scripted results are returned
// in order, then every send succeeds unless failAlways is set.
type mockSink struct {
	mu         sync.Mutex
	results    []error
	failAlways error
	sends      int
	attempts   []int
	ids        []string
	delivered  [][]domain.Record
	sizes      []int
}

func (m *mockSink) Send(_ context.Context, batch *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	m.attempts = append(m.attempts, batch.Attempt)
	m.ids = append(m.ids, batch.ID)

	var err error
	if len(m.results) > 0 {
		err = m.results[0]
		m.results = m.results[1:]
	} else {
		err = m.failAlways
	}
	if err != nil {
		return err
	}
	m.delivered = append(m.delivered, append([]domain.Record(nil), batch.Records...))
	m.sizes = append(m.sizes, batch.Len())
	return nil
}

func (m *mockSink) Close() error { return nil }

func (m *mockSink) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

func (m *mockSink) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.sizes...)
}

// payloads returns every delivered payload in delivery order.
func (m *mockSink) payloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, b := range m.delivered {
		for _, r := range b {
			out = append(out, string(r.Payload))
		}
	}
	return out
}

func (m *mockSink) records() []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Record
	for _, b := range m.delivered {
		out = append(out, b...)
	}
	return out
}

// --- Mock notification queue ---

// mockQueue serves scripted receive errors, then scripted batches, then
// empty long polls.
type mockQueue struct {
	mu        sync.Mutex
	errs      []error
	batches   [][]domain.Notification
	deleteErr error
	receives  int
	deleted   []string
}

var _ driven.NotificationQueue = (*mockQueue)(nil)

func (q *mockQueue) push(batch ...domain.Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = append(q.batches, batch)
}

func (q *mockQueue) Receive(ctx context.Context) ([]domain.Notification, error) {
	q.mu.Lock()
	q.receives++
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		q.mu.Unlock()
		return nil, err
	}
	if len(q.batches) > 0 {
		batch := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return batch, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (q *mockQueue) Delete(_ context.Context, n domain.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deleteErr != nil {
		return q.deleteErr
	}
	q.deleted = append(q.deleted, n.ID)
	return nil
}

func (q *mockQueue) Name() string { return "mock-queue" }

func (q *mockQueue) deletedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

// --- State store wrappers ---

// failingStateStore wraps a memory store and fails writes once armed.
type failingStateStore struct {
	*memory.StateStore
	mu     sync.Mutex
	putErr error
	puts   int
}

var _ driven.StateStore = (*failingStateStore)(nil)

func newFailingStateStore() *failingStateStore {
	return &failingStateStore{StateStore: memory.NewStateStore()}
}

func (s *failingStateStore) Put(ctx context.Context, state domain.ReadState) error {
	s.mu.Lock()
	s.puts++
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.StateStore.Put(ctx, state)
}

func (s *failingStateStore) armPut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

func (s *failingStateStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// --- Logger capture ---

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// --- Harness ---

// harness runs a pool and a publisher against mocks.
type harness struct {
	cfg       domain.Config
	states    *failingStateStore
	objects   *mockObjectStore
	sink      *mockSink
	counters  *Counters
	publisher *Publisher
	pool      *HarvesterPool
	source    *Source

	cancel  context.CancelFunc
	poolErr chan error
	pubErr  chan error
}

func newHarness(t *testing.T, cfg domain.Config, states *failingStateStore, objects *mockObjectStore, sink *mockSink) *harness {
	t.Helper()
	if states == nil {
		states = newFailingStateStore()
	}
	if objects == nil {
		objects = newMockObjectStore()
	}
	if sink == nil {
		sink = &mockSink{}
	}
	counters := NewCounters()
	backoff := NewBackoff(cfg.Backoff)
	publisher := NewPublisher(cfg.Publisher, cfg.Pipeline.ShutdownTimeout.Std(), sink, backoff, counters)
	pool := NewHarvesterPool(cfg.Pipeline, states, NewRecordReader(cfg.Reader), publisher, backoff, counters)

	src, err := NewSource("test", domain.InputConfig{Type: domain.InputTypeS3}, objects, mockParser{}, nil)
	require.NoError(t, err)

	return &harness{
		cfg:       cfg,
		states:    states,
		objects:   objects,
		sink:      sink,
		counters:  counters,
		publisher: publisher,
		pool:      pool,
		source:    src,
	}
}

func (h *harness) start(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.poolErr = make(chan error, 1)
	h.pubErr = make(chan error, 1)
	go func() { h.pubErr <- h.publisher.Run(ctx) }()
	go func() { h.poolErr <- h.pool.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
	return ctx
}

// stop cancels the harness and returns the publisher and pool errors.
func (h *harness) stop(t *testing.T) (pubErr, poolErr error) {
	t.Helper()
	if h.cancel == nil {
		return nil, nil
	}
	h.cancel()
	h.cancel = nil
	timeout := time.After(5 * time.Second)
	select {
	case pubErr = <-h.pubErr:
	case <-timeout:
		t.Fatal("publisher did not stop")
	}
	select {
	case poolErr = <-h.poolErr:
	case <-timeout:
		t.Fatal("pool did not stop")
	}
	return pubErr, poolErr
}

func (h *harness) state(t *testing.T, key string) *domain.ReadState {
	t.Helper()
	st, err := h.states.Get(context.Background(), key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	return st
}

func waitIdle(t *testing.T, pool *HarvesterPool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))
}
