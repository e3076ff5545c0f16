package memory

import (
	"context"
	"sort"
	"sync"

	"whale-signal-engine/internal/storage"
)

// ClusterGraphStore is an in-memory implementation of storage.ClusterGraphStore.
type ClusterGraphStore struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // cluster -> wallets
	tokens  map[string]map[string]int64    // cluster -> token -> last observed
}

// NewClusterGraphStore creates a new in-memory cluster graph store.
func NewClusterGraphStore() *ClusterGraphStore {
	return &ClusterGraphStore{
		members: make(map[string]map[string]struct{}),
		tokens:  make(map[string]map[string]int64),
	}
}

// LinkCluster merges a cluster, its wallets and the token it was observed on.
func (s *ClusterGraphStore) LinkCluster(_ context.Context, clusterID, tokenAddress string, wallets []string, observedAt int64) error {
	if clusterID == "" || len(wallets) == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[clusterID]
	if !ok {
		m = make(map[string]struct{})
		s.members[clusterID] = m
		s.tokens[clusterID] = make(map[string]int64)
	}
	for _, w := range wallets {
		m[w] = struct{}{}
	}
	if observedAt > s.tokens[clusterID][tokenAddress] {
		s.tokens[clusterID][tokenAddress] = observedAt
	}
	return nil
}

// ClusterMembers returns the wallet addresses of a cluster, sorted.
func (s *ClusterGraphStore) ClusterMembers(_ context.Context, clusterID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[clusterID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	wallets := make([]string, 0, len(m))
	for w := range m {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)
	return wallets, nil
}

var _ storage.ClusterGraphStore = (*ClusterGraphStore)(nil)
