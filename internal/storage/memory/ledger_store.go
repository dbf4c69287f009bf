// Package memory keeps the ledger document in memory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
)

// LedgerStore stores the serialized ledger in memory.
type LedgerStore struct {
	mu     sync.RWMutex
	data   []byte
	writes int
}

// NewLedgerStore creates an empty in-memory store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// NewLedgerStoreWithData seeds the store, e.g. with a corrupt document in tests.
func NewLedgerStoreWithData(data []byte) *LedgerStore {
	return &LedgerStore{data: append([]byte(nil), data...)}
}

// Read returns a copy of the stored document or ledger.ErrNotFound.
func (s *LedgerStore) Read(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ledger.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

// Write replaces the stored document.
func (s *LedgerStore) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.writes++
	return nil
}

// Writes returns how many times the document was written.
func (s *LedgerStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
