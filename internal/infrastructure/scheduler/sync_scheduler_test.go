package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/cache"
	"github.com/storesync/backend/internal/infrastructure/persistence"
	"github.com/storesync/backend/tests/testutil"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type mockSyncRunner struct {
	mock.Mock
}

func (m *mockSyncRunner) TriggerSync(ctx context.Context, tenantID, storeID uuid.UUID, syncType storesync.SyncType, source storesync.TriggerSource) (*storesync.SyncJob, error) {
	args := m.Called(ctx, tenantID, storeID, syncType, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storesync.SyncJob), args.Error(1)
}

func (m *mockSyncRunner) RunningJobs() int {
	return m.Called().Int(0)
}

type mockPinger struct {
	err error
}

func (p mockPinger) Ping(context.Context) error { return p.err }

type schedulerFixture struct {
	syncs     *mockSyncRunner
	stores    *persistence.GormStoreRepository
	runs      *persistence.GormSyncRunRepository
	scheduler *SyncScheduler
	now       time.Time
}

func newSchedulerFixture(t *testing.T, database Pinger) *schedulerFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	cipher, err := persistence.NewTokenCipher("")
	require.NoError(t, err)

	f := &schedulerFixture{
		syncs:  new(mockSyncRunner),
		stores: persistence.NewGormStoreRepository(db, cipher),
		runs:   persistence.NewGormSyncRunRepository(db),
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	s, err := NewSyncScheduler(DefaultConfig(), Dependencies{
		Syncs:    f.syncs,
		Stores:   f.stores,
		Runs:     f.runs,
		Registry: cache.NewInMemoryJobRegistry(),
		Database: database,
	}, zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return f.now }
	f.scheduler = s
	return f
}

func (f *schedulerFixture) addStore(t *testing.T, name string, freq storesync.SyncFrequency, lastSync *time.Time) *storesync.Store {
	t.Helper()
	store, err := storesync.NewStore(testutil.TestTenantID(), name, "shpat_token", freq)
	require.NoError(t, err)
	store.MarkConnected(nil)
	store.LastSyncAt = lastSync
	require.NoError(t, f.stores.Save(context.Background(), store))
	return store
}

func (f *schedulerFixture) recordRun(t *testing.T, storeID uuid.UUID, status storesync.JobStatus, sourceErrors int, startedAt time.Time) {
	t.Helper()
	f.recordRunFrom(t, storeID, storesync.TriggerScheduled, status, sourceErrors, startedAt)
}

func (f *schedulerFixture) recordRunFrom(t *testing.T, storeID uuid.UUID, source storesync.TriggerSource, status storesync.JobStatus, sourceErrors int, startedAt time.Time) {
	t.Helper()
	job, err := storesync.NewSyncJob(testutil.TestTenantID(), storeID, storesync.SyncTypeIncremental, source, startedAt)
	require.NoError(t, err)
	job.Status = status
	job.SourceErrors = sourceErrors
	require.NoError(t, f.runs.Record(context.Background(), job))
}

func at(t time.Time) *time.Time { return &t }

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewSyncScheduler_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CleanupSchedule = "every night"
	_, err := NewSyncScheduler(cfg, Dependencies{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.FailureThreshold = 0
	_, err = NewSyncScheduler(cfg, Dependencies{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSyncScheduler_Entries(t *testing.T) {
	f := newSchedulerFixture(t, nil)

	entries := f.scheduler.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, TaskCleanup, entries[0].Name)
	assert.Equal(t, "0 2 * * *", entries[0].Schedule)
	assert.Equal(t, TaskHealth, entries[1].Name)
	assert.Equal(t, TaskSyncCheck, entries[2].Name)

	require.NoError(t, f.scheduler.Start(context.Background()))
	defer func() { require.NoError(t, f.scheduler.Stop(context.Background())) }()

	for _, e := range f.scheduler.Entries() {
		assert.False(t, e.Next.IsZero(), "%s has a next run once started", e.Name)
		assert.Nil(t, e.Prev)
	}
}

func TestSyncScheduler_StartStop(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.scheduler.Stop(ctx), ErrSchedulerNotRunning)
	require.NoError(t, f.scheduler.Start(ctx))
	require.NoError(t, f.scheduler.Start(ctx), "starting twice is a no-op")
	require.NoError(t, f.scheduler.Stop(ctx))
}

func TestSyncScheduler_TriggerNow_UnknownTask(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	assert.ErrorIs(t, f.scheduler.TriggerNow(context.Background(), "reindex"), ErrTaskNotFound)
}

// ---------------------------------------------------------------------------
// Sync check
// ---------------------------------------------------------------------------

func TestSyncScheduler_CheckDueStores(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()

	never := f.addStore(t, "never-synced", storesync.SyncFrequencyDaily, nil)
	stale := f.addStore(t, "stale", storesync.SyncFrequencyHourly, at(f.now.Add(-2*time.Hour)))
	f.addStore(t, "fresh", storesync.SyncFrequencyDaily, at(f.now.Add(-time.Hour)))
	f.addStore(t, "manual", storesync.SyncFrequencyManual, nil)
	busy := f.addStore(t, "busy", storesync.SyncFrequencyHourly, nil)
	disconnected := f.addStore(t, "gone", storesync.SyncFrequencyHourly, nil)
	disconnected.Disconnect()
	require.NoError(t, f.stores.Save(ctx, disconnected))

	job := &storesync.SyncJob{ID: uuid.New()}
	for _, s := range []*storesync.Store{never, stale} {
		f.syncs.On("TriggerSync", mock.Anything, s.TenantID, s.ID, storesync.SyncTypeIncremental, storesync.TriggerScheduled).
			Return(job, nil).Once()
	}
	f.syncs.On("TriggerSync", mock.Anything, busy.TenantID, busy.ID, storesync.SyncTypeIncremental, storesync.TriggerScheduled).
		Return(nil, storesync.ErrSyncInProgress).Once()

	started, err := f.scheduler.CheckDueStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	f.syncs.AssertExpectations(t)
	f.syncs.AssertNumberOfCalls(t, "TriggerSync", 3)
}

func TestSyncScheduler_TriggerNow_SyncCheck(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	store := f.addStore(t, "acme", storesync.SyncFrequencyHourly, nil)

	f.syncs.On("TriggerSync", mock.Anything, store.TenantID, store.ID, storesync.SyncTypeIncremental, storesync.TriggerScheduled).
		Return(nil, errors.New("registry down")).Once()

	require.NoError(t, f.scheduler.TriggerNow(context.Background(), TaskSyncCheck), "a store that fails to start does not fail the task")
	f.syncs.AssertExpectations(t)
}

// ---------------------------------------------------------------------------
// Failure escalation
// ---------------------------------------------------------------------------

func TestSyncScheduler_HandleJobFinished(t *testing.T) {
	ctx := context.Background()

	failedJob := func(storeID uuid.UUID, source storesync.TriggerSource) *storesync.SyncJob {
		return &storesync.SyncJob{ID: uuid.New(), StoreID: storeID, Source: source, Status: storesync.JobStatusFailed}
	}

	t.Run("disables automatic sync at the threshold", func(t *testing.T) {
		f := newSchedulerFixture(t, nil)
		store := f.addStore(t, "acme", storesync.SyncFrequencyHourly, nil)
		f.recordRun(t, store.ID, storesync.JobStatusFailed, 0, f.now.Add(-3*time.Hour))
		f.recordRun(t, store.ID, storesync.JobStatusCompleted, 2, f.now.Add(-2*time.Hour))
		f.recordRun(t, store.ID, storesync.JobStatusFailed, 0, f.now.Add(-time.Hour))

		f.scheduler.HandleJobFinished(ctx, failedJob(store.ID, storesync.TriggerScheduled))

		got, err := f.stores.FindByID(ctx, store.TenantID, store.ID)
		require.NoError(t, err)
		assert.Equal(t, storesync.ConnectionStateError, got.ConnectionState)
		assert.Equal(t, "Sync failed 3 times. Automatic sync disabled.", got.LastError)
		assert.False(t, got.IsDue(f.now))
	})

	t.Run("failures outside the window are ignored", func(t *testing.T) {
		f := newSchedulerFixture(t, nil)
		store := f.addStore(t, "acme", storesync.SyncFrequencyHourly, nil)
		f.recordRun(t, store.ID, storesync.JobStatusFailed, 0, f.now.Add(-48*time.Hour))
		f.recordRun(t, store.ID, storesync.JobStatusFailed, 0, f.now.Add(-30*time.Hour))
		f.recordRun(t, store.ID, storesync.JobStatusFailed, 0, f.now.Add(-time.Hour))

		f.scheduler.HandleJobFinished(ctx, failedJob(store.ID, storesync.TriggerScheduled))

		got, err := f.stores.FindByID(ctx, store.TenantID, store.ID)
		require.NoError(t, err)
		assert.Equal(t, storesync.ConnectionStateConnected, got.ConnectionState)
	})

	t.Run("failed manual runs do not count", func(t *testing.T) {
		f := newSchedulerFixture(t, nil)
		store := f.addStore(t, "acme", storesync.SyncFrequencyHourly, nil)
		f.recordRun(t, store.ID, storesync.JobStatusFailed, 0, f.now.Add(-3*time.Hour))
		f.recordRunFrom(t, store.ID, storesync.TriggerManual, storesync.JobStatusFailed, 0, f.now.Add(-2*time.Hour))
		f.recordRunFrom(t, store.ID, storesync.TriggerAPI, storesync.JobStatusCompleted, 1, f.now.Add(-90*time.Minute))
		f.recordRun(t, store.ID, storesync.JobStatusFailed, 0, f.now.Add(-time.Hour))

		f.scheduler.HandleJobFinished(ctx, failedJob(store.ID, storesync.TriggerScheduled))

		got, err := f.stores.FindByID(ctx, store.TenantID, store.ID)
		require.NoError(t, err)
		assert.Equal(t, storesync.ConnectionStateConnected, got.ConnectionState)
	})

	t.Run("manual jobs are not escalated", func(t *testing.T) {
		f := newSchedulerFixture(t, nil)
		store := f.addStore(t, "acme", storesync.SyncFrequencyHourly, nil)
		for i := 1; i <= 3; i++ {
			f.recordRun(t, store.ID, storesync.JobStatusFailed, 0, f.now.Add(-time.Duration(i)*time.Hour))
		}

		f.scheduler.HandleJobFinished(ctx, failedJob(store.ID, storesync.TriggerManual))

		got, err := f.stores.FindByID(ctx, store.TenantID, store.ID)
		require.NoError(t, err)
		assert.Equal(t, storesync.ConnectionStateConnected, got.ConnectionState)
	})
}

// ---------------------------------------------------------------------------
// Cleanup
// ---------------------------------------------------------------------------

func TestSyncScheduler_CleanupRuns(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	store := f.addStore(t, "acme", storesync.SyncFrequencyHourly, nil)

	f.recordRun(t, store.ID, storesync.JobStatusCompleted, 0, f.now.Add(-40*24*time.Hour))
	f.recordRun(t, store.ID, storesync.JobStatusCompleted, 0, f.now.Add(-31*24*time.Hour))
	f.recordRun(t, store.ID, storesync.JobStatusCompleted, 0, f.now.Add(-time.Hour))

	deleted, err := f.scheduler.CleanupRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	latest, err := f.runs.LatestByStore(ctx, store.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)

	require.NoError(t, f.scheduler.TriggerNow(ctx, TaskCleanup))
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestSyncScheduler_CheckHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		f := newSchedulerFixture(t, mockPinger{})
		broken := f.addStore(t, "broken", storesync.SyncFrequencyHourly, nil)
		require.NoError(t, f.stores.UpdateConnectionState(ctx, broken.ID, storesync.ConnectionStateError, "revoked"))
		f.addStore(t, "fine", storesync.SyncFrequencyHourly, nil)
		f.syncs.On("RunningJobs").Return(2)

		report := f.scheduler.CheckHealth(ctx)

		assert.Equal(t, HealthOK, report.Status)
		assert.Equal(t, HealthOK, report.Database)
		assert.Equal(t, HealthOK, report.Registry)
		assert.Equal(t, int64(1), report.ErroredStores)
		assert.Equal(t, 2, report.RunningJobs)
		assert.Equal(t, f.now, report.CheckedAt)
	})

	t.Run("database down", func(t *testing.T) {
		f := newSchedulerFixture(t, mockPinger{err: errors.New("connection refused")})
		f.syncs.On("RunningJobs").Return(0)

		report := f.scheduler.CheckHealth(ctx)

		assert.Equal(t, HealthDegraded, report.Status)
		assert.Equal(t, "connection refused", report.Database)
		assert.Equal(t, HealthOK, report.Registry)
	})

	t.Run("memory warning disabled", func(t *testing.T) {
		f := newSchedulerFixture(t, nil)
		f.scheduler.config.MemoryWarnMB = 0
		f.syncs.On("RunningJobs").Return(0)
		assert.False(t, f.scheduler.CheckHealth(ctx).MemoryHigh)

		require.NoError(t, f.scheduler.TriggerNow(ctx, TaskHealth))
	})
}
