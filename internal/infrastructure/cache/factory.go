package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/config"
)

// Registry backends
const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// JobRegistryFactory creates the active job registry selected by configuration
type JobRegistryFactory struct {
	syncConfig            config.SyncConfig
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	client                *redis.Client // set once Create connected to Redis
}

// JobRegistryFactoryOption is a functional option for configuring the factory
type JobRegistryFactoryOption func(*JobRegistryFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) JobRegistryFactoryOption {
	return func(f *JobRegistryFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// the in-process registry. Default is false.
func WithInMemoryFallback(allow bool) JobRegistryFactoryOption {
	return func(f *JobRegistryFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewJobRegistryFactory creates a new factory
func NewJobRegistryFactory(syncCfg config.SyncConfig, redisCfg config.RedisConfig, opts ...JobRegistryFactoryOption) *JobRegistryFactory {
	f := &JobRegistryFactory{
		syncConfig:  syncCfg,
		redisConfig: redisCfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns the configured registry and a function releasing its resources
func (f *JobRegistryFactory) Create() (storesync.ActiveJobRegistry, func() error, error) {
	noop := func() error { return nil }

	if f.syncConfig.Registry != RegistryRedis {
		f.logger.Info("Using in-memory sync job registry")
		return NewInMemoryJobRegistry(), noop, nil
	}

	client, err := NewRedisClient(f.redisConfig)
	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, noop, fmt.Errorf("redis sync job registry unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory sync job registry. "+
			"Concurrent syncs of one store are only prevented within this instance.",
			zap.Error(err),
		)
		return NewInMemoryJobRegistry(), noop, nil
	}

	f.logger.Info("Using Redis sync job registry",
		zap.String("addr", f.redisConfig.Addr()),
		zap.Duration("lock_ttl", f.syncConfig.LockTTL),
	)
	f.client = client
	registry := NewRedisJobRegistry(client, f.syncConfig.LockPrefix, f.syncConfig.LockTTL)
	return registry, registry.Close, nil
}

// DeliveryStore returns the webhook delivery store matching the registry
// returned by Create: Redis-backed when Create connected to Redis, in-memory
// otherwise. Call it after Create; the Redis store shares its client.
func (f *JobRegistryFactory) DeliveryStore() (storesync.WebhookDeliveryStore, func() error) {
	if f.client != nil {
		prefix := f.syncConfig.LockPrefix
		if prefix == "" {
			prefix = defaultJobKeyPrefix
		}
		return NewRedisDeliveryStore(f.client, prefix+"webhook:"), func() error { return nil }
	}
	store := NewInMemoryDeliveryStore()
	return store, store.Close
}
