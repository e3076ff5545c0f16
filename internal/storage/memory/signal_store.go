package memory

import (
	"context"
	"sort"
	"sync"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Signal // keyed by signal_id
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		data: make(map[string]*domain.Signal),
	}
}

// Insert adds a new signal. Returns ErrDuplicateKey if signal_id exists.
func (s *SignalStore) Insert(_ context.Context, sig *domain.Signal) error {
	if sig == nil || sig.SignalID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sig.SignalID]; exists {
		return storage.ErrDuplicateKey
	}

	sigCopy := *sig
	s.data[sig.SignalID] = &sigCopy
	return nil
}

// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(_ context.Context, signalID string) (*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, exists := s.data[signalID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	sigCopy := *sig
	return &sigCopy, nil
}

// ListActive retrieves signals with created_at <= now < expires_at, newest first.
func (s *SignalStore) ListActive(_ context.Context, now int64, limit int) ([]*domain.Signal, error) {
	return s.filter(limit, func(sig *domain.Signal) bool {
		return sig.CreatedAt <= now && now < sig.ExpiresAt
	}), nil
}

// ListByToken retrieves signals for a token, newest first.
func (s *SignalStore) ListByToken(_ context.Context, tokenAddress string, limit int) ([]*domain.Signal, error) {
	return s.filter(limit, func(sig *domain.Signal) bool {
		return sig.TokenAddress == tokenAddress
	}), nil
}

func (s *SignalStore) filter(limit int, keep func(*domain.Signal) bool) []*domain.Signal {
	s.mu.RLock()
	var result []*domain.Signal
	for _, sig := range s.data {
		if keep(sig) {
			sigCopy := *sig
			result = append(result, &sigCopy)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].SignalID < result[j].SignalID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

var _ storage.SignalStore = (*SignalStore)(nil)
