package services

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

// Backoff computes exponentially growing, jittered retry delays.
// It is stateless and safe for concurrent use.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	// random returns a value in [0, 1). Replaced in tests.
	random func() float64
}

// NewBackoff creates a backoff from configuration.
func NewBackoff(cfg domain.BackoffConfig) *Backoff {
	return &Backoff{
		initial:    cfg.Initial.Std(),
		max:        cfg.Max.Std(),
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		random:     rand.Float64,
	}
}

// Delay returns the wait before retry number attempt (1-based).
// The result lies within jitter of initial*multiplier^(attempt-1), capped at max.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if base > float64(b.max) || math.IsInf(base, 1) {
		base = float64(b.max)
	}
	if b.jitter > 0 {
		base *= 1 - b.jitter + 2*b.jitter*b.random()
	}
	if base > float64(b.max) {
		base = float64(b.max)
	}
	return time.Duration(base)
}

// Wait sleeps for the delay of attempt or until ctx is done.
func (b *Backoff) Wait(ctx context.Context, attempt int) error {
	return sleep(ctx, b.Delay(attempt))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
