package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/backend/internal/domain/storesync"
)

func finishedJob(t *testing.T, tenantID, storeID uuid.UUID, started time.Time, status storesync.JobStatus) *storesync.SyncJob {
	t.Helper()
	job, err := storesync.NewSyncJob(tenantID, storeID, storesync.SyncTypeIncremental, storesync.TriggerScheduled, started)
	require.NoError(t, err)
	require.NoError(t, job.Run())
	end := started.Add(time.Minute)
	switch status {
	case storesync.JobStatusCompleted:
		require.NoError(t, job.Complete(end))
	case storesync.JobStatusFailed:
		require.NoError(t, job.Fail(end, errors.New("invalid credential")))
	case storesync.JobStatusCancelled:
		require.NoError(t, job.Cancel(end))
	}
	return job
}

func TestGormSyncRunRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormSyncRunRepository(db)
	ctx := context.Background()
	tenantID, storeID := uuid.New(), uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	old := finishedJob(t, tenantID, storeID, now.Add(-40*24*time.Hour), storesync.JobStatusFailed)
	failed := finishedJob(t, tenantID, storeID, now.Add(-3*time.Hour), storesync.JobStatusFailed)
	partial := finishedJob(t, tenantID, storeID, now.Add(-2*time.Hour), storesync.JobStatusCompleted)
	partial.SourceErrors = 1
	partial.AddError("orders: source unavailable")
	partial.Results.Customers.Persisted = 12
	manual := finishedJob(t, tenantID, storeID, now.Add(-90*time.Minute), storesync.JobStatusFailed)
	manual.Source = storesync.TriggerManual
	latest := finishedJob(t, tenantID, storeID, now.Add(-time.Hour), storesync.JobStatusCompleted)

	for _, j := range []*storesync.SyncJob{old, failed, partial, manual, latest} {
		require.NoError(t, repo.Record(ctx, j))
	}

	t.Run("find by id round-trips errors and results", func(t *testing.T) {
		got, err := repo.FindByID(ctx, tenantID, partial.ID)
		require.NoError(t, err)
		assert.Equal(t, storesync.JobStatusCompleted, got.Status)
		assert.Equal(t, []string{"orders: source unavailable"}, got.Errors)
		assert.Equal(t, 12, got.Results.Customers.Persisted)
		assert.Equal(t, storesync.TriggerScheduled, got.Source)

		_, err = repo.FindByID(ctx, uuid.New(), partial.ID)
		assert.ErrorIs(t, err, storesync.ErrJobNotFound)
	})

	t.Run("latest by store", func(t *testing.T) {
		got, err := repo.LatestByStore(ctx, storeID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, latest.ID, got.ID)

		none, err := repo.LatestByStore(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("recent scheduled failures include source errors", func(t *testing.T) {
		n, err := repo.CountRecentFailures(ctx, storeID, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("delete before retention", func(t *testing.T) {
		n, err := repo.DeleteBefore(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = repo.FindByID(ctx, tenantID, old.ID)
		assert.True(t, storesync.IsNotFound(err))
	})
}

func TestGormSyncRunRepository_CancelledRunIsKept(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormSyncRunRepository(db)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	cancelled := finishedJob(t, uuid.New(), uuid.New(), started, storesync.JobStatusCancelled)
	require.NoError(t, repo.Record(ctx, cancelled))

	// The worker finishes the same job after it was cancelled.
	late := cancelled.Clone()
	late.Status = storesync.JobStatusCompleted
	late.Progress = 100
	require.NoError(t, repo.Record(ctx, late))

	got, err := repo.FindByID(ctx, cancelled.TenantID, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, storesync.JobStatusCancelled, got.Status)
	assert.Less(t, got.Progress, 100)

	again := cancelled.Clone()
	again.AddError("sync interrupted by shutdown")
	require.NoError(t, repo.Record(ctx, again))

	got, err = repo.FindByID(ctx, cancelled.TenantID, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sync interrupted by shutdown"}, got.Errors, "a cancelled snapshot still replaces a cancelled run")

	completed := finishedJob(t, uuid.New(), uuid.New(), started, storesync.JobStatusCompleted)
	require.NoError(t, repo.Record(ctx, completed))
	completed.SourceErrors = 2
	require.NoError(t, repo.Record(ctx, completed))
	got, err = repo.FindByID(ctx, completed.TenantID, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SourceErrors)
}
