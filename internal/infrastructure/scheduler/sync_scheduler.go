package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/logger"
	"github.com/storesync/backend/internal/infrastructure/telemetry"
)

// Names of the scheduled tasks
const (
	TaskSyncCheck = "sync_check"
	TaskCleanup   = "cleanup"
	TaskHealth    = "health_check"
)

var (
	ErrSchedulerNotRunning = errors.New("scheduler: not started")
	ErrTaskNotFound        = errors.New("scheduler: unknown task")
	ErrInvalidConfig       = errors.New("scheduler: invalid config")
)

// cronParser accepts standard 5-field expressions and descriptors like "@every 30s"
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// SyncRunner starts sync jobs
type SyncRunner interface {
	TriggerSync(ctx context.Context, tenantID, storeID uuid.UUID, syncType storesync.SyncType, source storesync.TriggerSource) (*storesync.SyncJob, error)
	RunningJobs() int
}

// Pinger checks a backend dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds scheduler configuration
type Config struct {
	SyncCheckSchedule string
	CleanupSchedule   string
	HealthSchedule    string

	// FailureThreshold failed runs within FailureWindow disable automatic sync
	FailureThreshold int
	FailureWindow    time.Duration

	RunRetention time.Duration
	MemoryWarnMB uint64
	TaskTimeout  time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		SyncCheckSchedule: "0 * * * *",
		CleanupSchedule:   "0 2 * * *",
		HealthSchedule:    "*/15 * * * *",
		FailureThreshold:  3,
		FailureWindow:     24 * time.Hour,
		RunRetention:      30 * 24 * time.Hour,
		MemoryWarnMB:      1000,
		TaskTimeout:       10 * time.Minute,
	}
}

// Dependencies are what the scheduled tasks work on
type Dependencies struct {
	Syncs    SyncRunner
	Stores   storesync.StoreRepository
	Runs     storesync.SyncRunRepository
	Registry storesync.ActiveJobRegistry
	Database Pinger
}

// EntryInfo describes a scheduled task
type EntryInfo struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Next     time.Time  `json:"next"`
	Prev     *time.Time `json:"prev,omitempty"`
}

type task struct {
	name     string
	schedule string
	id       cron.EntryID
	run      func(ctx context.Context) error
}

// SyncScheduler runs the periodic sync check, run history cleanup and
// health check on cron schedules.
type SyncScheduler struct {
	config  Config
	deps    Dependencies
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics
	now     func() time.Time

	cron  *cron.Cron
	tasks map[string]*task

	mu        sync.Mutex
	isRunning bool
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// NewSyncScheduler creates a scheduler. Invalid cron expressions are
// reported here rather than at Start.
func NewSyncScheduler(cfg Config, deps Dependencies, logger *zap.Logger) (*SyncScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold < 1 {
		return nil, fmt.Errorf("%w: failure threshold must be at least 1", ErrInvalidConfig)
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}

	cronLog := cronLogger{l: logger.Named("cron").Sugar()}
	s := &SyncScheduler{
		config: cfg,
		deps:   deps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		tasks:   make(map[string]*task),
		baseCtx: context.Background(),
	}

	for _, t := range []*task{
		{name: TaskSyncCheck, schedule: cfg.SyncCheckSchedule, run: s.runSyncCheck},
		{name: TaskCleanup, schedule: cfg.CleanupSchedule, run: s.runCleanup},
		{name: TaskHealth, schedule: cfg.HealthSchedule, run: s.runHealthCheck},
	} {
		if err := s.register(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SyncScheduler) register(t *task) error {
	schedule, err := cronParser.Parse(t.schedule)
	if err != nil {
		return fmt.Errorf("%w: %s schedule %q: %v", ErrInvalidConfig, t.name, t.schedule, err)
	}
	t.id = s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(t) }))
	s.tasks[t.name] = t
	return nil
}

// SetMetrics sets the metrics recorder
func (s *SyncScheduler) SetMetrics(m *telemetry.SyncMetrics) {
	s.metrics = m
}

// Start starts the cron loop
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()

	s.logger.Info("Sync scheduler started",
		zap.String("sync_check", s.config.SyncCheckSchedule),
		zap.String("cleanup", s.config.CleanupSchedule),
		zap.String("health_check", s.config.HealthSchedule),
	)
	return nil
}

// Stop stops scheduling and waits for running tasks until ctx is done
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	stopped := s.cron.Stop()
	cancel()

	select {
	case <-stopped.Done():
		s.logger.Info("Sync scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// TriggerNow runs a task immediately on the calling goroutine
func (s *SyncScheduler) TriggerNow(ctx context.Context, name string) error {
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.TaskTimeout)
	defer cancel()
	return t.run(ctx)
}

// Entries lists the scheduled tasks by name with their next run time.
// Next is zero until the scheduler is started.
func (s *SyncScheduler) Entries() []EntryInfo {
	out := make([]EntryInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		entry := s.cron.Entry(t.id)
		info := EntryInfo{Name: t.name, Schedule: t.schedule, Next: entry.Next}
		if !entry.Prev.IsZero() {
			prev := entry.Prev
			info.Prev = &prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *SyncScheduler) execute(t *task) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	if err := t.run(ctx); err != nil {
		s.logger.Error("Scheduled task failed",
			zap.String("task", t.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Scheduled task finished",
		zap.String("task", t.name),
		zap.Duration("duration", time.Since(start)),
	)
}

// ---------------------------------------------------------------------------
// Sync check
// ---------------------------------------------------------------------------

func (s *SyncScheduler) runSyncCheck(ctx context.Context) error {
	_, err := s.CheckDueStores(ctx)
	return err
}

// CheckDueStores starts an incremental sync for every connected store whose
// frequency interval has elapsed. It returns the number of jobs started.
func (s *SyncScheduler) CheckDueStores(ctx context.Context) (int, error) {
	stores, err := s.deps.Stores.FindConnected(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list connected stores: %w", err)
	}

	now := s.now()
	started := 0
	for i := range stores {
		store := &stores[i]
		if !store.IsDue(now) {
			continue
		}

		job, err := s.deps.Syncs.TriggerSync(ctx, store.TenantID, store.ID, storesync.SyncTypeIncremental, storesync.TriggerScheduled)
		switch {
		case err == nil:
			started++
			s.logger.Info("Scheduled sync started",
				zap.String("store_id", store.ID.String()),
				zap.String("tenant_id", store.TenantID.String()),
				zap.String("job_id", job.ID.String()),
			)
		case errors.Is(err, storesync.ErrSyncInProgress):
			s.logger.Debug("Scheduled sync skipped, store is already syncing",
				zap.String("store_id", store.ID.String()),
			)
		default:
			s.logger.Warn("Failed to start scheduled sync",
				zap.String("store_id", store.ID.String()),
				zap.String("tenant_id", store.TenantID.String()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Sync check finished",
		zap.Int("connected_stores", len(stores)),
		zap.Int("started", started),
	)
	return started, nil
}

// HandleJobFinished disables automatic sync for a store whose scheduled
// syncs keep failing. Register it with the sync service's completion hook.
func (s *SyncScheduler) HandleJobFinished(ctx context.Context, job *storesync.SyncJob) {
	if job.Source != storesync.TriggerScheduled {
		return
	}
	if job.Status != storesync.JobStatusFailed && job.SourceErrors == 0 {
		return
	}

	log := logger.Enrich(ctx, s.logger).With(zap.String("store_id", job.StoreID.String()))
	failures, err := s.deps.Runs.CountRecentFailures(ctx, job.StoreID, s.now().Add(-s.config.FailureWindow))
	if err != nil {
		log.Warn("Failed to count recent sync failures", zap.Error(err))
		return
	}
	if failures < int64(s.config.FailureThreshold) {
		return
	}

	msg := fmt.Sprintf("Sync failed %d times. Automatic sync disabled.", failures)
	if err := s.deps.Stores.UpdateConnectionState(ctx, job.StoreID, storesync.ConnectionStateError, msg); err != nil {
		log.Error("Failed to disable automatic sync", zap.Error(err))
		return
	}
	log.Warn("Automatic sync disabled after repeated failures", zap.Int64("failures", failures))
}

// ---------------------------------------------------------------------------
// Cleanup
// ---------------------------------------------------------------------------

func (s *SyncScheduler) runCleanup(ctx context.Context) error {
	_, err := s.CleanupRuns(ctx)
	return err
}

// CleanupRuns deletes sync run history older than the retention
func (s *SyncScheduler) CleanupRuns(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.config.RunRetention)
	deleted, err := s.deps.Runs.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sync runs: %w", err)
	}
	s.logger.Info("Sync run history cleaned up",
		zap.Int64("deleted", deleted),
		zap.Time("before", before),
	)
	return deleted, nil
}

// ---------------------------------------------------------------------------
// cron logging
// ---------------------------------------------------------------------------

// cronLogger adapts zap to cron.Logger. Routine cron messages go to debug.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
