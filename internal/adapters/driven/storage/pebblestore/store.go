// Package pebblestore provides a Pebble-backed implementation of the
// StateStore port. Every write is committed with a WAL fsync.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// DirName is the database directory created inside the data directory.
const DirName = "registry.pebble"

// keyPrefix namespaces read states within the keyspace.
const keyPrefix = "readstate/"

// Ensure Store implements the interface.
var _ driven.StateStore = (*Store)(nil)

// record is the persisted form of a read state.
type record struct {
	Key       string    `json:"key"`
	ETag      string    `json:"etag,omitempty"`
	Size      int64     `json:"size"`
	Offset    int64     `json:"offset"`
	Completed bool      `json:"completed,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a Pebble-backed StateStore.
type Store struct {
	db   *pebble.DB
	path string
}

// Open creates or opens the registry inside dataDir.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, DirName)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database directory.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves the read state for an object key.
func (s *Store) Get(_ context.Context, key string) (*domain.ReadState, error) {
	val, closer, err := s.db.Get(stateKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("reading read state: %w", err)
	}
	defer closer.Close()

	state, err := decode(val)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Put stores or replaces a read state.
func (s *Store) Put(ctx context.Context, state domain.ReadState) error {
	if state.Key == "" {
		return domain.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(record{
		Key:       state.Key,
		ETag:      state.ETag,
		Size:      state.Size,
		Offset:    state.Offset,
		Completed: state.Completed,
		Failed:    state.Failed,
		Attempts:  state.Attempts,
		LastError: state.LastError,
		UpdatedAt: state.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshalling read state: %w", err)
	}
	if err := s.db.Set(stateKey(state.Key), val, pebble.Sync); err != nil {
		return fmt.Errorf("saving read state: %w", err)
	}
	return nil
}

// ListIncomplete returns states neither completed nor failed.
func (s *Store) ListIncomplete(ctx context.Context) ([]domain.ReadState, error) {
	return s.scan(ctx, func(st domain.ReadState) bool {
		return !st.Completed && !st.Failed
	})
}

// List returns every state ordered by key.
func (s *Store) List(ctx context.Context) ([]domain.ReadState, error) {
	return s.scan(ctx, func(domain.ReadState) bool { return true })
}

// Delete removes the read state for a key.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Delete(stateKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("deleting read state: %w", err)
	}
	return nil
}

// scan iterates the readstate/ keyspace in key order.
func (s *Store) scan(ctx context.Context, keep func(domain.ReadState) bool) ([]domain.ReadState, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: prefixUpperBound([]byte(keyPrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("opening iterator: %w", err)
	}
	defer iter.Close()

	var states []domain.ReadState
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state, err := decode(iter.Value())
		if err != nil {
			return nil, err
		}
		if keep(state) {
			states = append(states, state)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating read states: %w", err)
	}
	return states, nil
}

func stateKey(key string) []byte {
	return []byte(keyPrefix + key)
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func decode(val []byte) (domain.ReadState, error) {
	var r record
	if err := json.Unmarshal(val, &r); err != nil {
		return domain.ReadState{}, fmt.Errorf("decoding read state: %w", err)
	}
	return domain.ReadState{
		Key:       r.Key,
		ETag:      r.ETag,
		Size:      r.Size,
		Offset:    r.Offset,
		Completed: r.Completed,
		Failed:    r.Failed,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		UpdatedAt: r.UpdatedAt,
	}, nil
}
