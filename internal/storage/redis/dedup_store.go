package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/storage"
)

// DefaultKeyPrefix namespaces dedup keys.
const DefaultKeyPrefix = "whale:signal:"

// DedupStore implements storage.DedupStore with SET NX.
// Keys expire after the horizon in wall-clock time.
type DedupStore struct {
	client redis.UniversalClient
	prefix string
}

// NewDedupStore creates a dedup store. An empty prefix uses DefaultKeyPrefix.
func NewDedupStore(client redis.UniversalClient, prefix string) *DedupStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &DedupStore{client: client, prefix: prefix}
}

// Compile-time interface check.
var _ storage.DedupStore = (*DedupStore)(nil)

// MarkPublished records signalID and reports whether it was new.
func (s *DedupStore) MarkPublished(ctx context.Context, signalID string, createdAt int64, horizon time.Duration) (ok bool, err error) {
	if signalID == "" {
		return false, storage.ErrInvalidInput
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("redis", "mark_published", time.Since(start).Seconds(), err)
	}(time.Now())

	if horizon < time.Second {
		horizon = time.Second
	}

	ok, err = s.client.SetNX(ctx, s.prefix+signalID, createdAt, horizon).Result()
	if err != nil {
		return false, fmt.Errorf("set dedup key: %w", err)
	}
	return ok, nil
}
