// Package memory keeps the latest ledger snapshot in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/internal/storage"
)

// Store is an in-memory SnapshotStore.
type Store struct {
	mu    sync.RWMutex
	snap  *ledger.Snapshot
	saves int
}

var _ storage.SnapshotStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Load returns a copy of the last saved snapshot.
func (s *Store) Load(_ context.Context) (*ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, storage.ErrNotFound
	}
	return s.snap.Clone(), nil
}

// Save replaces the stored snapshot with a copy of snap.
func (s *Store) Save(_ context.Context, snap *ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap.Clone()
	s.saves++
	return nil
}

// Saves returns how many snapshots have been written.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
