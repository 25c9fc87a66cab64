package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/storesync/backend/internal/domain/storesync"
)

// InMemoryJobRegistry implements ActiveJobRegistry with a mutex-guarded map.
// It only enforces single-flight inside one process.
type InMemoryJobRegistry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*storesync.SyncJob
}

// NewInMemoryJobRegistry creates an empty registry
func NewInMemoryJobRegistry() *InMemoryJobRegistry {
	return &InMemoryJobRegistry{jobs: make(map[uuid.UUID]*storesync.SyncJob)}
}

// TryAcquire registers job unless its store already has one
func (r *InMemoryJobRegistry) TryAcquire(_ context.Context, job *storesync.SyncJob) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.StoreID]; exists {
		return false, nil
	}
	r.jobs[job.StoreID] = job.Clone()
	return true, nil
}

// Update replaces the snapshot if job still owns its store
func (r *InMemoryJobRegistry) Update(_ context.Context, job *storesync.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.jobs[job.StoreID]; ok && cur.ID == job.ID {
		r.jobs[job.StoreID] = job.Clone()
	}
	return nil
}

// Get returns a copy of the store's active job, or nil
func (r *InMemoryJobRegistry) Get(_ context.Context, storeID uuid.UUID) (*storesync.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if job, ok := r.jobs[storeID]; ok {
		return job.Clone(), nil
	}
	return nil, nil
}

// List returns copies of the tenant's active jobs
func (r *InMemoryJobRegistry) List(_ context.Context, tenantID uuid.UUID) ([]storesync.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]storesync.SyncJob, 0)
	for _, job := range r.jobs {
		if job.TenantID == tenantID {
			out = append(out, *job.Clone())
		}
	}
	return out, nil
}

// Release removes the store's entry when it belongs to jobID
func (r *InMemoryJobRegistry) Release(_ context.Context, storeID, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.jobs[storeID]; ok && cur.ID == jobID {
		delete(r.jobs, storeID)
	}
	return nil
}

// Ping always succeeds
func (r *InMemoryJobRegistry) Ping(context.Context) error {
	return nil
}

// Len returns the number of active jobs
func (r *InMemoryJobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

var _ storesync.ActiveJobRegistry = (*InMemoryJobRegistry)(nil)
