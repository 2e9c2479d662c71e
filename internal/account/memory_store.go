package account

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository is an in-memory account repository for demo/test use.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*Account

	// FailNextSave makes the next Save return an error, for testing the
	// service's rollback paths.
	FailNextSave bool
}

// NewMemoryRepository creates an in-memory account repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*Account)}
}

func (r *MemoryRepository) Create(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[a.ID]; exists {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) Save(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailNextSave {
		r.FailNextSave = false
		return fmt.Errorf("repository unavailable")
	}
	if _, ok := r.accounts[a.ID]; !ok {
		return ErrAccountNotFound
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) List(_ context.Context, ownerID string, limit int) ([]*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Account
	for _, a := range r.accounts {
		if a.OwnerID != ownerID {
			continue
		}
		cp := *a
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
