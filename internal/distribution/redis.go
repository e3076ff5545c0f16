package distribution

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"whale-signal-engine/internal/domain"
)

// RedisConsumer publishes deliveries on a Redis pub/sub channel.
type RedisConsumer struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisConsumer creates a pub/sub consumer on channel.
func NewRedisConsumer(client redis.UniversalClient, channel string) *RedisConsumer {
	return &RedisConsumer{client: client, channel: channel}
}

func (r *RedisConsumer) Name() string { return "redis" }

func (r *RedisConsumer) Deliver(ctx context.Context, d *domain.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return backoff.Permanent(err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
