package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/backend/internal/infrastructure/config"
)

func newTestRedisRegistry(t *testing.T, ttl time.Duration) (*RedisJobRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisJobRegistry(client, "test:", ttl), mr
}

func TestRedisJobRegistry(t *testing.T) {
	registry, _ := newTestRedisRegistry(t, time.Minute)
	registryContract(t, registry)
}

func TestRedisJobRegistry_Keys(t *testing.T) {
	registry, mr := newTestRedisRegistry(t, time.Minute)
	job := newJob(t, uuid.New(), uuid.New())

	ok, err := registry.TryAcquire(context.Background(), job)
	require.NoError(t, err)
	require.True(t, ok)

	owner, err := mr.Get("test:lock:" + job.StoreID.String())
	require.NoError(t, err)
	assert.Equal(t, job.ID.String(), owner)
	assert.True(t, mr.Exists("test:job:"+job.StoreID.String()))

	members, err := mr.Members("test:tenant:" + job.TenantID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{job.StoreID.String()}, members)
	assert.Equal(t, time.Minute, mr.TTL("test:lock:"+job.StoreID.String()))
}

func TestRedisJobRegistry_LockExpires(t *testing.T) {
	registry, mr := newTestRedisRegistry(t, 10*time.Second)
	ctx := context.Background()
	tenantID, storeID := uuid.New(), uuid.New()

	crashed := newJob(t, tenantID, storeID)
	ok, err := registry.TryAcquire(ctx, crashed)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	got, err := registry.Get(ctx, storeID)
	require.NoError(t, err)
	assert.Nil(t, got, "entry of a dead worker expires")

	jobs, err := registry.List(ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.False(t, mr.Exists("test:tenant:"+tenantID.String()), "stale index members are pruned")

	ok, err = registry.TryAcquire(ctx, newJob(t, tenantID, storeID))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisJobRegistry_UpdateRefreshesTTL(t *testing.T) {
	registry, mr := newTestRedisRegistry(t, 10*time.Second)
	ctx := context.Background()
	job := newJob(t, uuid.New(), uuid.New())

	ok, err := registry.TryAcquire(ctx, job)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(8 * time.Second)
	job.Progress = 30
	require.NoError(t, registry.Update(ctx, job))
	mr.FastForward(8 * time.Second)

	got, err := registry.Get(ctx, job.StoreID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 30, got.Progress)
}

func TestRedisJobRegistry_Unavailable(t *testing.T) {
	registry, mr := newTestRedisRegistry(t, time.Minute)
	mr.Close()

	ctx := context.Background()
	_, err := registry.TryAcquire(ctx, newJob(t, uuid.New(), uuid.New()))
	assert.Error(t, err)
	assert.Error(t, registry.Ping(ctx))
}

func TestJobRegistryFactory(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		registry, closeFn, err := NewJobRegistryFactory(config.SyncConfig{Registry: RegistryMemory}, config.RedisConfig{}).Create()
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &InMemoryJobRegistry{}, registry)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host, port := splitAddr(t, mr)
		registry, closeFn, err := NewJobRegistryFactory(
			config.SyncConfig{Registry: RegistryRedis, LockTTL: time.Minute, LockPrefix: "x:"},
			config.RedisConfig{Host: host, Port: port},
		).Create()
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &RedisJobRegistry{}, registry)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		syncCfg := config.SyncConfig{Registry: RegistryRedis}
		redisCfg := config.RedisConfig{Host: "127.0.0.1", Port: 1}

		_, _, err := NewJobRegistryFactory(syncCfg, redisCfg).Create()
		assert.Error(t, err)

		registry, _, err := NewJobRegistryFactory(syncCfg, redisCfg, WithInMemoryFallback(true)).Create()
		require.NoError(t, err)
		assert.IsType(t, &InMemoryJobRegistry{}, registry)
	})
}

func splitAddr(t *testing.T, mr *miniredis.Miniredis) (string, int) {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return mr.Host(), port
}
