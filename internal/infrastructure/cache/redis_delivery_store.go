package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storesync/backend/internal/domain/storesync"
)

const defaultDeliveryKeyPrefix = "storesync:webhook:"

// RedisDeliveryStore remembers webhook deliveries in Redis so every instance
// behind the load balancer sees them
type RedisDeliveryStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisDeliveryStore creates a store on an existing client
func NewRedisDeliveryStore(client *redis.Client, keyPrefix string) *RedisDeliveryStore {
	if keyPrefix == "" {
		keyPrefix = defaultDeliveryKeyPrefix
	}
	return &RedisDeliveryStore{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed records the delivery with SET NX so only the first caller wins
func (s *RedisDeliveryStore) MarkProcessed(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+deliveryID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record webhook delivery: %w", err)
	}
	return ok, nil
}

// IsProcessed reports whether the delivery key exists
func (s *RedisDeliveryStore) IsProcessed(ctx context.Context, deliveryID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+deliveryID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook delivery: %w", err)
	}
	return n > 0, nil
}

var _ storesync.WebhookDeliveryStore = (*RedisDeliveryStore)(nil)
