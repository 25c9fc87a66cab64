package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/domain/storesync"
)

var (
	// ErrObjectNotFound is returned when a key is not stored
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrEmptyKey is returned for operations without a key
	ErrEmptyKey = errors.New("storage: key is required")
)

// ObjectStorage is the subset of an object store the archive needs
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error)
}

const archiveTimeout = 10 * time.Second

// RunArchive keeps one JSON report per finished sync job, keyed by tenant
// and job id, so results outlive the in-memory registry.
type RunArchive struct {
	objects ObjectStorage
	prefix  string
	logger  *zap.Logger
}

// NewRunArchive creates an archive writing under prefix
func NewRunArchive(objects ObjectStorage, prefix string, logger *zap.Logger) *RunArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunArchive{objects: objects, prefix: prefix, logger: logger}
}

// Key returns the object key of a job report
func (a *RunArchive) Key(tenantID, jobID uuid.UUID) string {
	return path.Join(a.prefix, tenantID.String(), jobID.String()+".json")
}

// Archive writes the report of a terminal job
func (a *RunArchive) Archive(ctx context.Context, job *storesync.SyncJob) error {
	if job == nil {
		return errors.New("storage: job is required")
	}
	if !job.IsTerminal() {
		return fmt.Errorf("storage: job %s is still %s", job.ID, job.Status)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	return a.objects.Put(ctx, a.Key(job.TenantID, job.ID), data, "application/json")
}

// HandleJobFinished archives a job reported by the sync service. Failures
// are logged and never affect the job.
func (a *RunArchive) HandleJobFinished(ctx context.Context, job *storesync.SyncJob) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := a.Archive(ctx, job); err != nil {
		a.logger.Warn("Failed to archive sync run report",
			zap.String("job_id", job.ID.String()),
			zap.String("store_id", job.StoreID.String()),
			zap.Error(err),
		)
		return
	}
	a.logger.Debug("Archived sync run report", zap.String("job_id", job.ID.String()))
}

// Report reads an archived job back
func (a *RunArchive) Report(ctx context.Context, tenantID, jobID uuid.UUID) (*storesync.SyncJob, error) {
	data, err := a.objects.Get(ctx, a.Key(tenantID, jobID))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, storesync.ErrJobNotFound
		}
		return nil, err
	}
	var job storesync.SyncJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &job, nil
}

// ReportURL returns a time-limited download link for an archived report
func (a *RunArchive) ReportURL(ctx context.Context, tenantID, jobID uuid.UUID) (string, time.Time, error) {
	key := a.Key(tenantID, jobID)
	ok, err := a.objects.Exists(ctx, key)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ok {
		return "", time.Time{}, storesync.ErrJobNotFound
	}
	return a.objects.PresignGet(ctx, key, 0)
}
