package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/config"
)

// deliveryContract runs the behaviour both stores share
func deliveryContract(t *testing.T, store storesync.WebhookDeliveryStore) {
	ctx := context.Background()

	seen, err := store.IsProcessed(ctx, "d-1")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := store.MarkProcessed(ctx, "d-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkProcessed(ctx, "d-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, again, "a delivery is recorded once")

	seen, err = store.IsProcessed(ctx, "d-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.IsProcessed(ctx, "d-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestInMemoryDeliveryStore(t *testing.T) {
	store := NewInMemoryDeliveryStore()
	t.Cleanup(func() { _ = store.Close() })
	deliveryContract(t, store)
}

func TestInMemoryDeliveryStore_Expiry(t *testing.T) {
	store := NewInMemoryDeliveryStore()
	defer store.Close()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "short", time.Minute)
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "long", time.Hour)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	seen, err := store.IsProcessed(ctx, "short")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := store.MarkProcessed(ctx, "short", time.Minute)
	require.NoError(t, err)
	assert.True(t, first, "an expired delivery may be recorded again")

	now = now.Add(2 * time.Minute)
	store.sweep()
	assert.Equal(t, 1, store.Len())
}

func TestInMemoryDeliveryStore_Concurrent(t *testing.T) {
	store := NewInMemoryDeliveryStore()
	defer store.Close()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkProcessed(context.Background(), "same", time.Hour)
			if err == nil && ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestInMemoryDeliveryStore_CloseTwice(t *testing.T) {
	store := NewInMemoryDeliveryStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestRedisDeliveryStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisDeliveryStore(client, "")
	deliveryContract(t, store)

	assert.True(t, mr.Exists(defaultDeliveryKeyPrefix+"d-1"))
	assert.Equal(t, time.Hour, mr.TTL(defaultDeliveryKeyPrefix+"d-1"))

	mr.FastForward(2 * time.Hour)
	seen, err := store.IsProcessed(context.Background(), "d-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisDeliveryStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	store := NewRedisDeliveryStore(client, "x:")
	_, err := store.MarkProcessed(context.Background(), "d", time.Minute)
	assert.Error(t, err)
	_, err = store.IsProcessed(context.Background(), "d")
	assert.Error(t, err)
}

func TestJobRegistryFactory_DeliveryStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		f := NewJobRegistryFactory(config.SyncConfig{Registry: RegistryMemory}, config.RedisConfig{})
		_, closeRegistry, err := f.Create()
		require.NoError(t, err)
		defer closeRegistry()

		store, closeStore := f.DeliveryStore()
		defer closeStore()
		assert.IsType(t, &InMemoryDeliveryStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host, port := splitAddr(t, mr)
		f := NewJobRegistryFactory(
			config.SyncConfig{Registry: RegistryRedis, LockPrefix: "app:"},
			config.RedisConfig{Host: host, Port: port},
		)
		_, closeRegistry, err := f.Create()
		require.NoError(t, err)
		defer closeRegistry()

		store, closeStore := f.DeliveryStore()
		defer closeStore()
		require.IsType(t, &RedisDeliveryStore{}, store)

		_, err = store.MarkProcessed(context.Background(), "d-9", time.Minute)
		require.NoError(t, err)
		assert.True(t, mr.Exists("app:webhook:d-9"))
	})
}
