package risk

import (
	"context"
	"fmt"
	"sync"
)

// MemoryAttemptStore is an in-memory login attempt store for demo/test use.
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*LoginAttempt
	byUser   map[string][]string
}

// NewMemoryAttemptStore creates an in-memory login attempt store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts: make(map[string]*LoginAttempt),
		byUser:   make(map[string][]string),
	}
}

func (s *MemoryAttemptStore) Create(_ context.Context, a *LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.attempts[a.ID]; exists {
		return fmt.Errorf("login attempt %s already exists", a.ID)
	}
	s.attempts[a.ID] = copyAttempt(a)
	s.byUser[a.UserID] = append(s.byUser[a.UserID], a.ID)
	return nil
}

func (s *MemoryAttemptStore) Get(_ context.Context, id string) (*LoginAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

func (s *MemoryAttemptStore) Update(_ context.Context, a *LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attempts[a.ID]; !ok {
		return ErrAttemptNotFound
	}
	s.attempts[a.ID] = copyAttempt(a)
	return nil
}

func (s *MemoryAttemptStore) ListByUser(_ context.Context, userID string, limit int) ([]*LoginAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	var result []*LoginAttempt
	for i := len(ids) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, copyAttempt(s.attempts[ids[i]]))
	}
	return result, nil
}

func copyAttempt(a *LoginAttempt) *LoginAttempt {
	cp := *a
	flags := make(map[string]bool, len(a.Flags))
	for k, v := range a.Flags {
		flags[k] = v
	}
	cp.Flags = flags
	return &cp
}
