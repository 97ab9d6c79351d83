// Package http posts batches as NDJSON request bodies. Any 2xx response
// acknowledges the batch.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sequra/s3logsbeat/internal/adapters/driven/sink/ndjson"
	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure Sink implements the interface.
var _ driven.Sink = (*Sink)(nil)

// Header names set on every request.
const (
	HeaderBatchID = "X-Batch-Id"
	HeaderAttempt = "X-Batch-Attempt"
)

// maxErrorBody caps how much of an error response is quoted in errors.
const maxErrorBody = 512

// Sink is an HTTP endpoint output.
type Sink struct {
	client  *http.Client
	url     string
	headers map[string]string
}

// New creates a sink posting to cfg.URL. A nil client uses http.DefaultClient;
// per-request deadlines come from the Send context.
func New(cfg domain.HTTPOutputConfig, client *http.Client) (*Sink, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: output url %q must be an absolute http(s) URL", domain.ErrInvalidConfig, cfg.URL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Sink{client: client, url: cfg.URL, headers: cfg.Headers}, nil
}

// Send posts the batch.
func (s *Sink) Send(ctx context.Context, batch *domain.Batch) error {
	if batch.Len() == 0 {
		return ctx.Err()
	}

	var body bytes.Buffer
	if err := ndjson.Encode(&body, batch); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", ndjson.ContentType)
	req.Header.Set(HeaderBatchID, batch.ID)
	req.Header.Set(HeaderAttempt, fmt.Sprint(batch.Attempt))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch %s: %w", batch.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("post batch %s: status %d: %s", batch.ID, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close releases idle connections.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
