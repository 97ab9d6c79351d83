package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/logger"
)

// Lister produces the objects of a source that are due for harvesting.
// It is stateless apart from the throttle: the caller owns the cursor.
type Lister struct {
	limiter    *rate.Limiter
	backoff    *Backoff
	maxRetries int
	lookback   time.Duration
}

// NewLister creates a lister. A zero request rate disables throttling.
func NewLister(cfg domain.ListerConfig, backoff *Backoff) *Lister {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Lister{
		limiter:    rate.NewLimiter(limit, burst),
		backoff:    backoff,
		maxRetries: cfg.MaxRetries,
		lookback:   cfg.Lookback.Std(),
	}
}

// List returns the objects under prefix modified at or after cursor and
// inside the source's since/to window, oldest first, together with the
// cursor for the next call. Calling it again with the same cursor yields
// the same objects unless the store changed.
func (l *Lister) List(ctx context.Context, src *Source, prefix string, cursor time.Time) ([]domain.ObjectRef, time.Time, error) {
	var refs []domain.ObjectRef
	var err error
	for attempt := 0; ; attempt++ {
		refs, err = l.listOnce(ctx, src, prefix, cursor)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrStorageAuth) || ctx.Err() != nil {
			return nil, cursor, err
		}
		if attempt >= l.maxRetries {
			return nil, cursor, fmt.Errorf("list %s %q: %w", src.Name, prefix, err)
		}
		logger.Debug("Listing %s %q failed (attempt %d): %v", src.Name, prefix, attempt+1, err)
		if werr := l.backoff.Wait(ctx, attempt+1); werr != nil {
			return nil, cursor, werr
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].LastModified.Equal(refs[j].LastModified) {
			return refs[i].LastModified.Before(refs[j].LastModified)
		}
		return refs[i].Key < refs[j].Key
	})

	next := cursor
	if n := len(refs); n > 0 {
		if c := refs[n-1].LastModified.Add(-l.lookback); c.After(next) {
			next = c
		}
	}
	return refs, next, nil
}

func (l *Lister) listOnce(ctx context.Context, src *Source, prefix string, cursor time.Time) ([]domain.ObjectRef, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}
	var refs []domain.ObjectRef
	err := src.Store.List(ctx, prefix, func(ref domain.ObjectRef) error {
		if ref.LastModified.Before(cursor) || !src.Input.InWindow(ref.LastModified) {
			return nil
		}
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}
