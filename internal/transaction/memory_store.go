package transaction

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory transaction store for demo/test use.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*Transaction
	order        []string // creation order, for stable listing
}

// NewMemoryStore creates an in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transactions: make(map[string]*Transaction)}
}

func (s *MemoryStore) Create(_ context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[t.ID]; exists {
		return fmt.Errorf("transaction %s already exists", t.ID)
	}
	s.transactions[t.ID] = copyTxn(t)
	s.order = append(s.order, t.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTxn(t), nil
}

func (s *MemoryStore) Update(_ context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[t.ID]; !ok {
		return ErrTransactionNotFound
	}
	s.transactions[t.ID] = copyTxn(t)
	return nil
}

func (s *MemoryStore) ListByAccount(_ context.Context, accountID string, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Transaction
	// Most recent first.
	for i := len(s.order) - 1; i >= 0 && len(result) < limit; i-- {
		t := s.transactions[s.order[i]]
		if t.AccountID != accountID {
			continue
		}
		result = append(result, copyTxn(t))
	}
	return result, nil
}

func copyTxn(t *Transaction) *Transaction {
	cp := *t
	if t.FraudFlags != nil {
		cp.FraudFlags = append([]string(nil), t.FraudFlags...)
	}
	return &cp
}
