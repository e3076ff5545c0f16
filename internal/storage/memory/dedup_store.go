package memory

import (
	"context"
	"sync"
	"time"

	"whale-signal-engine/internal/storage"
)

// DefaultMaxDedupEntries bounds the dedup set when no size is given.
const DefaultMaxDedupEntries = 100_000

type dedupEntry struct {
	signalID  string
	createdAt int64
	seq       uint64
}

type dedupMark struct {
	createdAt int64
	seq       uint64
}

// DedupStore is a bounded in-memory implementation of storage.DedupStore.
// Ids are remembered for horizon measured in signal event time, and the
// oldest ids are evicted first once maxEntries is reached.
type DedupStore struct {
	mu         sync.Mutex
	seen       map[string]dedupMark
	fifo       []dedupEntry
	head       int
	seq        uint64
	newest     int64
	maxEntries int
}

// NewDedupStore creates a dedup store holding at most maxEntries ids.
func NewDedupStore(maxEntries int) *DedupStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxDedupEntries
	}
	return &DedupStore{
		seen:       make(map[string]dedupMark),
		maxEntries: maxEntries,
	}
}

// MarkPublished records signalID and reports whether it was new within the horizon.
func (s *DedupStore) MarkPublished(_ context.Context, signalID string, createdAt int64, horizon time.Duration) (bool, error) {
	if signalID == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if createdAt > s.newest {
		s.newest = createdAt
	}
	cutoff := s.newest - horizon.Milliseconds()
	s.evictExpired(cutoff)

	if mark, exists := s.seen[signalID]; exists && mark.createdAt >= cutoff {
		return false, nil
	}

	s.seq++
	s.seen[signalID] = dedupMark{createdAt: createdAt, seq: s.seq}
	s.fifo = append(s.fifo, dedupEntry{signalID: signalID, createdAt: createdAt, seq: s.seq})

	for s.live() > s.maxEntries {
		s.popFront()
	}
	return true, nil
}

// Len returns the number of remembered ids.
func (s *DedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *DedupStore) live() int {
	return len(s.fifo) - s.head
}

func (s *DedupStore) evictExpired(cutoff int64) {
	for s.live() > 0 && s.fifo[s.head].createdAt < cutoff {
		s.popFront()
	}
}

func (s *DedupStore) popFront() {
	e := s.fifo[s.head]
	s.fifo[s.head] = dedupEntry{}
	s.head++
	if mark, ok := s.seen[e.signalID]; ok && mark.seq == e.seq {
		delete(s.seen, e.signalID)
	}
	// compact once the consumed prefix dominates the slice
	if s.head > 1024 && s.head*2 > len(s.fifo) {
		s.fifo = append([]dedupEntry(nil), s.fifo[s.head:]...)
		s.head = 0
	}
}

var _ storage.DedupStore = (*DedupStore)(nil)
