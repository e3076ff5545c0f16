package memory

import (
	"context"
	"sync"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

// WalletProfileStore is an in-memory implementation of storage.WalletProfileStore.
type WalletProfileStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WalletProfile // keyed by wallet address
}

// NewWalletProfileStore creates a new in-memory wallet profile store.
func NewWalletProfileStore() *WalletProfileStore {
	return &WalletProfileStore{
		data: make(map[string]*domain.WalletProfile),
	}
}

// Load retrieves a profile by wallet address. Returns ErrNotFound if not exists.
func (s *WalletProfileStore) Load(_ context.Context, walletAddress string) (*domain.WalletProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[walletAddress]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// Save inserts or replaces the profile for its wallet address.
func (s *WalletProfileStore) Save(_ context.Context, p *domain.WalletProfile) error {
	if p == nil || p.WalletAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[p.WalletAddress] = p.Clone()
	return nil
}

// Len returns the number of stored profiles.
func (s *WalletProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ storage.WalletProfileStore = (*WalletProfileStore)(nil)
