package protocol

import (
	"context"
	"sync"
	"time"
)

// Filter narrows List results. Zero-valued fields match everything.
type Filter struct {
	UserID     string
	ProtocolID string
	Status     Status
}

func (f Filter) matches(state *ProtocolState) bool {
	if f.UserID != "" && state.UserID != f.UserID {
		return false
	}
	if f.ProtocolID != "" && state.ProtocolID != f.ProtocolID {
		return false
	}
	if f.Status != "" && state.Status != f.Status {
		return false
	}
	return true
}

// StateStore persists protocol instances with TTL expiry. Expired states
// are treated as absent by Get and List.
type StateStore interface {
	Get(ctx context.Context, instanceID string) (*ProtocolState, error)
	Put(ctx context.Context, state *ProtocolState) error
	Delete(ctx context.Context, instanceID string) error
	List(ctx context.Context, filter Filter) ([]*ProtocolState, error)
}

// MemoryStateStore is an in-process StateStore for tests and
// single-node deployments.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*ProtocolState
	now    func() time.Time
}

var _ StateStore = (*MemoryStateStore)(nil)

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]*ProtocolState),
		now:    time.Now,
	}
}

func (s *MemoryStateStore) Get(_ context.Context, instanceID string) (*ProtocolState, error) {
	s.mu.RLock()
	state, ok := s.states[instanceID]
	s.mu.RUnlock()
	if !ok || state.Expired(s.now()) {
		return nil, ErrInstanceNotFound
	}
	return cloneState(state), nil
}

func (s *MemoryStateStore) Put(_ context.Context, state *ProtocolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.InstanceID] = cloneState(state)
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, instanceID)
	return nil
}

func (s *MemoryStateStore) List(_ context.Context, filter Filter) ([]*ProtocolState, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ProtocolState
	for _, state := range s.states {
		if state.Expired(now) || !filter.matches(state) {
			continue
		}
		out = append(out, cloneState(state))
	}
	return out, nil
}

func cloneState(state *ProtocolState) *ProtocolState {
	c := *state
	c.History = append([]HistoryRecord(nil), state.History...)
	if state.Variables != nil {
		c.Variables = make(map[string]any, len(state.Variables))
		for k, v := range state.Variables {
			c.Variables[k] = v
		}
	}
	return &c
}
