package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/storesync/backend/internal/domain/storesync"
)

const (
	defaultJobKeyPrefix = "storesync:"
	defaultJobLockTTL   = 10 * time.Minute
)

// Keys per store:
//
//	{prefix}lock:{store}   owning job id, expires after the lock TTL
//	{prefix}job:{store}    JSON snapshot of the job, same TTL
//	{prefix}tenant:{id}    set of store ids with an active job
//
// Every write of a running job refreshes both TTLs, so an entry outlives its
// worker by at most one TTL.
var (
	acquireScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[3]) then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
  redis.call('SADD', KEYS[3], ARGV[4])
  return 1
end
return 0`)

	updateScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return 1
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  redis.call('SREM', KEYS[3], ARGV[2])
  return 1
end
return 0`)
)

// RedisJobRegistry implements ActiveJobRegistry with a Redis lock per store.
// It is suitable for deployments where several instances run syncs.
type RedisJobRegistry struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisJobRegistry creates a registry on an existing client
func NewRedisJobRegistry(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisJobRegistry {
	if keyPrefix == "" {
		keyPrefix = defaultJobKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultJobLockTTL
	}
	return &RedisJobRegistry{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisJobRegistry) lockKey(storeID uuid.UUID) string {
	return r.keyPrefix + "lock:" + storeID.String()
}

func (r *RedisJobRegistry) jobKey(storeID uuid.UUID) string {
	return r.keyPrefix + "job:" + storeID.String()
}

func (r *RedisJobRegistry) tenantKey(tenantID uuid.UUID) string {
	return r.keyPrefix + "tenant:" + tenantID.String()
}

// TryAcquire takes the store lock and stores the first snapshot atomically
func (r *RedisJobRegistry) TryAcquire(ctx context.Context, job *storesync.SyncJob) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode sync job: %w", err)
	}

	res, err := acquireScript.Run(ctx, r.client,
		[]string{r.lockKey(job.StoreID), r.jobKey(job.StoreID), r.tenantKey(job.TenantID)},
		job.ID.String(), data, r.ttl.Milliseconds(), job.StoreID.String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	return res == 1, nil
}

// Update stores a new snapshot while job holds the lock
func (r *RedisJobRegistry) Update(ctx context.Context, job *storesync.SyncJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode sync job: %w", err)
	}

	err = updateScript.Run(ctx, r.client,
		[]string{r.lockKey(job.StoreID), r.jobKey(job.StoreID)},
		job.ID.String(), data, r.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update sync job: %w", err)
	}
	return nil
}

// Get returns the store's active job, or nil
func (r *RedisJobRegistry) Get(ctx context.Context, storeID uuid.UUID) (*storesync.SyncJob, error) {
	data, err := r.client.Get(ctx, r.jobKey(storeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}

	var job storesync.SyncJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode sync job: %w", err)
	}
	return &job, nil
}

// List returns the tenant's active jobs and prunes index members whose
// entries expired.
func (r *RedisJobRegistry) List(ctx context.Context, tenantID uuid.UUID) ([]storesync.SyncJob, error) {
	tenantKey := r.tenantKey(tenantID)
	members, err := r.client.SMembers(ctx, tenantKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active stores: %w", err)
	}

	out := make([]storesync.SyncJob, 0, len(members))
	if len(members) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(members))
	valid := make([]string, 0, len(members))
	for _, m := range members {
		storeID, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		keys = append(keys, r.jobKey(storeID))
		valid = append(valid, m)
	}
	if len(keys) == 0 {
		return out, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load active jobs: %w", err)
	}

	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, valid[i])
			continue
		}
		var job storesync.SyncJob
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			continue
		}
		out = append(out, job)
	}
	if len(stale) > 0 {
		_ = r.client.SRem(ctx, tenantKey, stale...).Err()
	}
	return out, nil
}

// Release deletes the lock and snapshot if jobID still owns them
func (r *RedisJobRegistry) Release(ctx context.Context, storeID, jobID uuid.UUID) error {
	job, err := r.Get(ctx, storeID)
	if err != nil {
		return err
	}
	tenantKey := r.keyPrefix + "tenant:"
	if job != nil {
		tenantKey = r.tenantKey(job.TenantID)
	}

	err = releaseScript.Run(ctx, r.client,
		[]string{r.lockKey(storeID), r.jobKey(storeID), tenantKey},
		jobID.String(), storeID.String(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (r *RedisJobRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *RedisJobRegistry) Close() error {
	return r.client.Close()
}

var _ storesync.ActiveJobRegistry = (*RedisJobRegistry)(nil)
