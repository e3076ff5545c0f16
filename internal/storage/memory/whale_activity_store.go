package memory

import (
	"context"
	"sort"
	"sync"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

// WhaleActivityStore is an in-memory implementation of storage.WhaleActivityStore.
type WhaleActivityStore struct {
	mu         sync.RWMutex
	data       []*domain.WhaleActivity
	signatures map[string]struct{}
}

// NewWhaleActivityStore creates a new in-memory whale activity store.
func NewWhaleActivityStore() *WhaleActivityStore {
	return &WhaleActivityStore{
		signatures: make(map[string]struct{}),
	}
}

// InsertBulk appends activity records. Duplicate signatures are ignored.
func (s *WhaleActivityStore) InsertBulk(_ context.Context, activity []*domain.WhaleActivity) error {
	if len(activity) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range activity {
		if a == nil || a.Signature == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, a := range activity {
		if _, exists := s.signatures[a.Signature]; exists {
			continue
		}
		s.signatures[a.Signature] = struct{}{}
		aCopy := *a
		s.data = append(s.data, &aCopy)
	}
	return nil
}

// ListRecent retrieves the most recent records by block time, newest first.
func (s *WhaleActivityStore) ListRecent(_ context.Context, limit int) ([]*domain.WhaleActivity, error) {
	s.mu.RLock()
	result := make([]*domain.WhaleActivity, 0, len(s.data))
	for _, a := range s.data {
		aCopy := *a
		result = append(result, &aCopy)
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BlockTime > result[j].BlockTime
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByToken retrieves records for a token within [start, end] (inclusive), oldest first.
func (s *WhaleActivityStore) ListByToken(_ context.Context, tokenAddress string, start, end int64) ([]*domain.WhaleActivity, error) {
	s.mu.RLock()
	var result []*domain.WhaleActivity
	for _, a := range s.data {
		if a.TokenAddress == tokenAddress && a.BlockTime >= start && a.BlockTime <= end {
			aCopy := *a
			result = append(result, &aCopy)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BlockTime < result[j].BlockTime
	})
	return result, nil
}

var _ storage.WhaleActivityStore = (*WhaleActivityStore)(nil)
