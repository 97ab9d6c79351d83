package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

func testBatch(messages ...string) *domain.Batch {
	b := &domain.Batch{ID: "batch-1", Attempt: 2}
	for _, m := range messages {
		b.Add(domain.Record{
			Object:  domain.ObjectRef{Bucket: "b", Key: "a.log"},
			Payload: []byte(m),
			Event:   domain.Event{ID: m, Fields: map[string]any{"message": m}},
		})
	}
	return b
}

type received struct {
	mu      sync.Mutex
	headers http.Header
	docs    []map[string]any
	calls   int
}

func (r *received) snapshot() (int, http.Header, []map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.headers, r.docs
}

func newServer(t *testing.T, status int) (*httptest.Server, *received) {
	t.Helper()
	rec := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.calls++
		rec.headers = r.Header.Clone()
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var doc map[string]any
			if err := json.Unmarshal(sc.Bytes(), &doc); err == nil {
				rec.docs = append(rec.docs, doc)
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("backend says no\n"))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestNew_Validation(t *testing.T) {
	for _, u := range []string{"", "localhost:9200", "ftp://host/x", "http://"} {
		_, err := New(domain.HTTPOutputConfig{URL: u}, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidConfig, u)
	}

	s, err := New(domain.HTTPOutputConfig{URL: "https://logs.example.com/_bulk"}, nil)
	require.NoError(t, err)
	assert.Same(t, http.DefaultClient, s.client)
}

func TestSink_Send(t *testing.T) {
	srv, rec := newServer(t, http.StatusAccepted)
	s, err := New(domain.HTTPOutputConfig{
		URL:     srv.URL + "/ingest",
		Headers: map[string]string{"Authorization": "Bearer t0k"},
	}, srv.Client())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), testBatch("one", "two")))

	calls, headers, docs := rec.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "application/x-ndjson", headers.Get("Content-Type"))
	assert.Equal(t, "Bearer t0k", headers.Get("Authorization"))
	assert.Equal(t, "batch-1", headers.Get(HeaderBatchID))
	assert.Equal(t, "2", headers.Get(HeaderAttempt))
	require.Len(t, docs, 2)
	assert.Equal(t, "one", docs[0]["message"])
	assert.Equal(t, "two", docs[1]["_id"])
}

func TestSink_SendEmptyBatch(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK)
	s, err := New(domain.HTTPOutputConfig{URL: srv.URL}, srv.Client())
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), testBatch()))
	calls, _, _ := rec.snapshot()
	assert.Zero(t, calls)
}

func TestSink_SendNon2xx(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusBadGateway} {
		srv, _ := newServer(t, status)
		s, err := New(domain.HTTPOutputConfig{URL: srv.URL}, srv.Client())
		require.NoError(t, err)

		err = s.Send(context.Background(), testBatch("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status")
		assert.Contains(t, err.Error(), "backend says no")
	}
}

func TestSink_SendTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	s, err := New(domain.HTTPOutputConfig{URL: srv.URL}, srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Send(ctx, testBatch("x")), context.DeadlineExceeded)
}

func TestSink_SendUnreachable(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	s, err := New(domain.HTTPOutputConfig{URL: url}, nil)
	require.NoError(t, err)
	assert.Error(t, s.Send(context.Background(), testBatch("x")))
}
