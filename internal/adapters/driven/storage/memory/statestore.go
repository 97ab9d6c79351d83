package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure StateStore implements the interface.
var _ driven.StateStore = (*StateStore)(nil)

// StateStore is an in-memory implementation of driven.StateStore.
// Progress is lost when the process exits.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]domain.ReadState
}

// NewStateStore creates a new in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]domain.ReadState),
	}
}

// Get retrieves the read state for an object key.
func (s *StateStore) Get(_ context.Context, key string) (*domain.ReadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &state, nil
}

// Put stores or replaces a read state.
func (s *StateStore) Put(_ context.Context, state domain.ReadState) error {
	if state.Key == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Key] = state
	return nil
}

// ListIncomplete returns states neither completed nor failed.
func (s *StateStore) ListIncomplete(ctx context.Context) ([]domain.ReadState, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var incomplete []domain.ReadState
	for _, st := range all {
		if !st.Completed && !st.Failed {
			incomplete = append(incomplete, st)
		}
	}
	return incomplete, nil
}

// List returns every state ordered by key.
func (s *StateStore) List(_ context.Context) ([]domain.ReadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]domain.ReadState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Key < states[j].Key })
	return states, nil
}

// Delete removes the read state for a key.
func (s *StateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

// Close is a no-op.
func (s *StateStore) Close() error {
	return nil
}
