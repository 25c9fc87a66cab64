package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/persistence/models"
)

// GormSyncRunRepository implements storesync.SyncRunRepository using GORM
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

var _ storesync.SyncRunRepository = (*GormSyncRunRepository)(nil)

// runUpdates are the columns a later snapshot of the same run rewrites
var runUpdates = []string{
	"status", "since_date", "completed_at", "progress", "total_items",
	"processed_items", "source_errors", "errors", "results", "created_at",
}

// Record stores a terminal job. Recording the same job again overwrites it,
// except that a cancelled run only takes another cancelled snapshot: a worker
// finishing after the cancellation cannot turn it into a completed run.
func (r *GormSyncRunRepository) Record(ctx context.Context, job *storesync.SyncJob) error {
	m := models.SyncRunModelFromDomain(job)
	m.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(runUpdates),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{
				SQL:  "sync_runs.status <> ? OR excluded.status = ?",
				Vars: []any{storesync.JobStatusCancelled, storesync.JobStatusCancelled},
			},
		}},
	}).Create(m).Error
}

// FindByID finds a recorded job of a tenant
func (r *GormSyncRunRepository) FindByID(ctx context.Context, tenantID, jobID uuid.UUID) (*storesync.SyncJob, error) {
	var m models.SyncRunModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, jobID).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storesync.ErrJobNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// LatestByStore returns the most recently started recorded job of a store,
// or nil when the store has none.
func (r *GormSyncRunRepository) LatestByStore(ctx context.Context, storeID uuid.UUID) (*storesync.SyncJob, error) {
	var rows []models.SyncRunModel
	if err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("started_at DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToDomain(), nil
}

// CountRecentFailures counts scheduled runs started since the given time that
// failed or could not reach the store API for part of the data.
func (r *GormSyncRunRepository) CountRecentFailures(ctx context.Context, storeID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SyncRunModel{}).
		Where("store_id = ? AND started_at >= ?", storeID, since).
		Where("trigger_source = ?", storesync.TriggerScheduled).
		Where("status = ? OR source_errors > 0", storesync.JobStatusFailed).
		Count(&count).Error
	return count, err
}

// DeleteBefore removes runs started before the given time
func (r *GormSyncRunRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("started_at < ?", before).
		Delete(&models.SyncRunModel{})
	return result.RowsAffected, result.Error
}
