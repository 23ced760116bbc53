package engine

import (
	"sync"

	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// Store is the in-memory cache of one device's latest state.
//
// Single-writer-per-field: the poller writes snapshot and health, each
// actuator writes only its own relay's entry. Readers receive copies.
type Store struct {
	mu sync.RWMutex

	snapshot    *intercom.CallSnapshot
	health      ConnectionHealth
	relayStates map[int]RelayState
}

// NewStore creates a store with every configured relay in its initial
// state: doors idle, gates unknown (position is never assumed at boot).
func NewStore(initial map[int]RelayState) *Store {
	states := make(map[int]RelayState, len(initial))
	for index, state := range initial {
		states[index] = state
	}
	return &Store{relayStates: states}
}

// SetSnapshot records the latest poll result.
func (s *Store) SetSnapshot(snap intercom.CallSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &snap
}

// Snapshot returns the latest poll result, or ok=false before the first
// successful poll.
func (s *Store) Snapshot() (intercom.CallSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return intercom.CallSnapshot{}, false
	}
	return *s.snapshot, true
}

// SetHealth records the device's connection health.
func (s *Store) SetHealth(health ConnectionHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = health
}

// Health returns the current connection health.
func (s *Store) Health() ConnectionHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// SetRelayState records one relay's state.
func (s *Store) SetRelayState(index int, state RelayState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayStates[index] = state
}

// RelayState returns one relay's state, or ok=false for an index that
// was never configured.
func (s *Store) RelayState(index int) (RelayState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.relayStates[index]
	return state, ok
}

// RelayStates returns a copy of all relay states.
func (s *Store) RelayStates() map[int]RelayState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]RelayState, len(s.relayStates))
	for index, state := range s.relayStates {
		out[index] = state
	}
	return out
}
