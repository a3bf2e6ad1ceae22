package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/atmx/weather-edge/internal/model"
)

// MemoryStore implements Store in memory. Used for testing and dry runs.
// Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	state   []byte
	settled []model.Position
	saves   int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the last saved state.
func (s *MemoryStore) Load(_ context.Context) (*model.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, ErrNoState
	}
	var st model.State
	if err := json.Unmarshal(s.state, &st); err != nil {
		return nil, ErrCorruptState
	}
	return &st, nil
}

// Save stores an encoded copy so later mutation by the caller is not seen.
func (s *MemoryStore) Save(_ context.Context, st *model.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = data
	s.saves++
	return nil
}

// Append records a settled position.
func (s *MemoryStore) Append(_ context.Context, pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, pos)
	return nil
}

// Settled returns the audit records appended so far.
func (s *MemoryStore) Settled() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Position(nil), s.settled...)
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
