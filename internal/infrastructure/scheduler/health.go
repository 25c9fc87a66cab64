package scheduler

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/storesync/backend/internal/domain/storesync"
)

// HealthStatus values
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthReport is the result of one health check
type HealthReport struct {
	Status        string    `json:"status"`
	CheckedAt     time.Time `json:"checked_at"`
	Database      string    `json:"database"`
	Registry      string    `json:"registry"`
	MemoryMB      uint64    `json:"memory_mb"`
	MemoryHigh    bool      `json:"memory_high"`
	ErroredStores int64     `json:"errored_stores"`
	RunningJobs   int       `json:"running_jobs"`
}

func (s *SyncScheduler) runHealthCheck(ctx context.Context) error {
	s.CheckHealth(ctx)
	return nil
}

// CheckHealth probes the database and job registry, reads memory usage and
// counts stores in the error state. Every probe is best effort; a failing
// probe degrades the report instead of aborting the check.
func (s *SyncScheduler) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    HealthOK,
		CheckedAt: s.now(),
		Database:  HealthOK,
		Registry:  HealthOK,
	}

	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(ctx); err != nil {
			report.Database = err.Error()
			report.Status = HealthDegraded
			s.logger.Error("Health check: database unreachable", zap.Error(err))
		}
	}
	if s.deps.Registry != nil {
		if err := s.deps.Registry.Ping(ctx); err != nil {
			report.Registry = err.Error()
			report.Status = HealthDegraded
			s.logger.Error("Health check: job registry unreachable", zap.Error(err))
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	report.MemoryMB = mem.HeapAlloc / (1024 * 1024)
	if s.config.MemoryWarnMB > 0 && report.MemoryMB > s.config.MemoryWarnMB {
		report.MemoryHigh = true
		s.logger.Warn("Health check: memory usage high",
			zap.Uint64("heap_mb", report.MemoryMB),
			zap.Uint64("threshold_mb", s.config.MemoryWarnMB),
		)
	}

	if s.deps.Stores != nil {
		errored, err := s.deps.Stores.CountByState(ctx, storesync.ConnectionStateError)
		if err != nil {
			s.logger.Warn("Health check: failed to count errored stores", zap.Error(err))
		} else {
			report.ErroredStores = errored
		}
	}

	if s.deps.Syncs != nil {
		report.RunningJobs = s.deps.Syncs.RunningJobs()
		s.metrics.RecordActiveJobs(ctx, report.RunningJobs)
	}

	s.logger.Info("Health check finished",
		zap.String("status", report.Status),
		zap.Uint64("heap_mb", report.MemoryMB),
		zap.Int64("errored_stores", report.ErroredStores),
		zap.Int("running_jobs", report.RunningJobs),
	)
	return report
}
