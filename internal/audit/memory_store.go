package audit

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory append-only store for demo/test use.
// Entries are held in sequence order; there is no way to update or remove
// one through the Store interface.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry

	// FailNext makes the next Append return an error, for testing the
	// fail-closed behavior of the ledger.
	FailNext bool
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNext {
		s.FailNext = false
		return fmt.Errorf("store unavailable")
	}
	if want := uint64(len(s.entries)) + 1; entry.Sequence != want {
		return fmt.Errorf("sequence %d out of order, want %d", entry.Sequence, want)
	}

	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryStore) ReadRange(_ context.Context, fromSeq, toSeq uint64) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Entry
	for _, e := range s.entries {
		if e.Sequence < fromSeq || e.Sequence > toSeq {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) ReadLast(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	cp := *s.entries[len(s.entries)-1]
	return &cp, nil
}

// Tamper overwrites a stored entry in place, bypassing the Store interface.
// Only tests use it, to simulate on-disk modification of a sealed record.
func (s *MemoryStore) Tamper(seq uint64, mutate func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Sequence == seq {
			mutate(e)
			return
		}
	}
}
