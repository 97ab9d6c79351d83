// Package redis pushes batches onto a Redis list, one NDJSON document per
// element, with a single RPUSH per batch.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/sequra/s3logsbeat/internal/adapters/driven/sink/ndjson"
	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure Sink implements the interface.
var _ driven.Sink = (*Sink)(nil)

const (
	maxIdleConns = 2
	idleTimeout  = 4 * time.Minute
)

// Sink is a Redis list output.
type Sink struct {
	pool *redis.Pool
	key  string
}

// New creates a sink dialing cfg.Address lazily through a connection pool.
func New(cfg domain.RedisOutputConfig) (*Sink, error) {
	if cfg.Address == "" || cfg.Key == "" {
		return nil, fmt.Errorf("%w: redis address and key are required", domain.ErrInvalidConfig)
	}

	opts := []redis.DialOption{redis.DialDatabase(cfg.DB)}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}
	if t := cfg.Timeout.Std(); t > 0 {
		opts = append(opts,
			redis.DialConnectTimeout(t),
			redis.DialReadTimeout(t),
			redis.DialWriteTimeout(t),
		)
	}

	pool := &redis.Pool{
		MaxIdle:     maxIdleConns,
		IdleTimeout: idleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.Address, opts...)
		},
		TestOnBorrow: func(c redis.Conn, lastUsed time.Time) error {
			if time.Since(lastUsed) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return NewWithPool(pool, cfg.Key), nil
}

// NewWithPool creates a sink on an existing pool.
func NewWithPool(pool *redis.Pool, key string) *Sink {
	return &Sink{pool: pool, key: key}
}

// Send appends every record of the batch to the list.
func (s *Sink) Send(ctx context.Context, batch *domain.Batch) error {
	if batch.Len() == 0 {
		return ctx.Err()
	}
	lines, err := ndjson.MarshalBatch(batch)
	if err != nil {
		return err
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	n, err := redis.Int(redis.DoContext(conn, ctx, "RPUSH", redis.Args{s.key}.AddFlat(lines)...))
	if err != nil {
		return fmt.Errorf("push batch %s: %w", batch.ID, err)
	}
	if n < len(lines) {
		return fmt.Errorf("push batch %s: list length %d below batch size %d", batch.ID, n, len(lines))
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	return s.pool.Close()
}
