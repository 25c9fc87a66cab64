package storesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/logger"
	"github.com/storesync/backend/internal/infrastructure/telemetry"
)

// ErrServiceStopped is returned by TriggerSync after Shutdown
var ErrServiceStopped = errors.New("storesync: sync service stopped")

// errJobCancelled stops the execution of a job cancelled from outside
var errJobCancelled = errors.New("sync job cancelled")

// finalWriteTimeout bounds the writes made after a job finished
const finalWriteTimeout = 15 * time.Second

// defaultDeliveryTTL is how long processed webhook deliveries are remembered
const defaultDeliveryTTL = 24 * time.Hour

// Config tunes job execution
type Config struct {
	PageSize     int // records per page request; 0 means the platform maximum
	WorkerBudget int // jobs executing at once in this process; 0 means unlimited
	DeliveryTTL  time.Duration
}

// Dependencies are the ports the sync service works with
type Dependencies struct {
	Stores     storesync.StoreRepository
	Records    storesync.RecordGateway
	Statistics storesync.StatisticsReader
	Runs       storesync.SyncRunRepository
	Registry   storesync.ActiveJobRegistry
	API        storesync.StoreAPI
	Deliveries storesync.WebhookDeliveryStore // optional
}

// JobFinishedFunc is called once a job reached a terminal status
type JobFinishedFunc func(ctx context.Context, job *storesync.SyncJob)

// SyncService runs sync jobs. It owns the job lifecycle; records are only
// written through the RecordGateway.
type SyncService struct {
	stores     storesync.StoreRepository
	records    storesync.RecordGateway
	statistics storesync.StatisticsReader
	runs       storesync.SyncRunRepository
	registry   storesync.ActiveJobRegistry
	api        storesync.StoreAPI
	deliveries storesync.WebhookDeliveryStore
	logger     *zap.Logger
	metrics    *telemetry.SyncMetrics
	config     Config
	now        func() time.Time

	slots   chan struct{}
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Int64

	hooksMu sync.RWMutex
	hooks   []JobFinishedFunc
}

// NewSyncService creates a new sync service
func NewSyncService(deps Dependencies, cfg Config, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	s := &SyncService{
		stores:     deps.Stores,
		records:    deps.Records,
		statistics: deps.Statistics,
		runs:       deps.Runs,
		registry:   deps.Registry,
		api:        deps.API,
		deliveries: deps.Deliveries,
		logger:     logger,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
		baseCtx:    baseCtx,
		stop:       stop,
	}
	if cfg.WorkerBudget > 0 {
		s.slots = make(chan struct{}, cfg.WorkerBudget)
	}
	if s.config.DeliveryTTL <= 0 {
		s.config.DeliveryTTL = defaultDeliveryTTL
	}
	return s
}

// SetMetrics sets the metrics recorder
func (s *SyncService) SetMetrics(m *telemetry.SyncMetrics) {
	s.metrics = m
}

// OnJobFinished registers a callback for terminal jobs. Callbacks run on the
// worker goroutine after the job was recorded and released.
func (s *SyncService) OnJobFinished(fn JobFinishedFunc) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Shutdown stops accepting jobs, interrupts running ones at their next page
// and waits for them until ctx is done.
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sync jobs: %w", ctx.Err())
	}
}

// Wait blocks until every started job finished
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// RunningJobs returns the number of jobs executing in this process
func (s *SyncService) RunningJobs() int {
	return int(s.running.Load())
}

// ---------------------------------------------------------------------------
// Public operations
// ---------------------------------------------------------------------------

// TriggerSync registers a new job for the store and starts it in the
// background. It returns as soon as the job is registered.
func (s *SyncService) TriggerSync(ctx context.Context, tenantID, storeID uuid.UUID, syncType storesync.SyncType, source storesync.TriggerSource) (*storesync.SyncJob, error) {
	if !syncType.IsValid() {
		return nil, storesync.ErrInvalidSyncType
	}
	if s.baseCtx.Err() != nil {
		return nil, ErrServiceStopped
	}

	store, err := s.stores.FindByID(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}
	if err := store.CanSync(); err != nil {
		return nil, err
	}

	job, err := storesync.NewSyncJob(tenantID, storeID, syncType, source, s.now())
	if err != nil {
		return nil, err
	}
	job.SinceDate = storesync.SinceDate(syncType, store.LastSyncAt)

	acquired, err := s.registry.TryAcquire(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to register sync job: %w", err)
	}
	if !acquired {
		return nil, storesync.ErrSyncInProgress
	}

	logger.Enrich(ctx, s.logger).Info("Sync job started",
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("store_id", storeID.String()),
		zap.String("type", string(syncType)),
		zap.String("source", string(source)),
	)

	snapshot := job.Clone()

	// The job outlives the request but keeps its trace and log fields.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(s.baseCtx, cancel)

	s.wg.Add(1)
	s.running.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Add(-1)
		defer cancel()
		defer stopAfter()
		telemetry.WithProfilingLabels(jobCtx, map[string]string{
			telemetry.ProfilingLabelOperation: "sync",
			telemetry.ProfilingLabelSyncType:  string(job.Type),
			telemetry.ProfilingLabelTrigger:   string(job.Source),
		}, func(ctx context.Context) {
			s.run(ctx, job, store)
		})
	}()

	return snapshot, nil
}

// CancelSync cancels the active job with the given id. It returns false when
// the tenant has no such active job. A page request already in flight is not
// interrupted; the worker stops before its next page.
func (s *SyncService) CancelSync(ctx context.Context, jobID, tenantID uuid.UUID) (bool, error) {
	jobs, err := s.registry.List(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to list active sync jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if job.ID != jobID {
			continue
		}
		if err := job.Cancel(s.now()); err != nil {
			return false, nil
		}
		if err := s.registry.Release(ctx, job.StoreID, job.ID); err != nil {
			return false, fmt.Errorf("failed to release sync job: %w", err)
		}
		if err := s.runs.Record(ctx, job); err != nil {
			logger.Enrich(ctx, s.logger).Warn("Failed to record cancelled sync job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
		logger.Enrich(ctx, s.logger).Info("Sync job cancelled",
			zap.String("job_id", job.ID.String()),
			zap.String("store_id", job.StoreID.String()),
		)
		return true, nil
	}
	return false, nil
}

// GetStatus reports the tenant's stores with their active job and last run.
// storeID narrows the report to one store.
func (s *SyncService) GetStatus(ctx context.Context, tenantID uuid.UUID, storeID *uuid.UUID) (*StatusReport, error) {
	var stores []storesync.Store
	if storeID != nil {
		store, err := s.stores.FindByID(ctx, tenantID, *storeID)
		if err != nil {
			return nil, err
		}
		stores = []storesync.Store{*store}
	} else {
		var err error
		if stores, err = s.stores.FindByTenant(ctx, tenantID); err != nil {
			return nil, err
		}
	}

	report := &StatusReport{Stores: make([]StoreStatus, 0, len(stores))}
	for i := range stores {
		st := &stores[i]
		status := StoreStatus{
			StoreID:         st.ID,
			Domain:          st.Domain,
			Name:            st.Name,
			ConnectionState: st.ConnectionState,
			SyncFrequency:   st.SyncFrequency,
			LastSyncAt:      st.LastSyncAt,
			LastError:       st.LastError,
			NeedsReconnect:  st.ConnectionState == storesync.ConnectionStateError,
		}

		active, err := s.registry.Get(ctx, st.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read active sync job: %w", err)
		}
		if active != nil {
			status.ActiveJob = active
			report.ActiveSyncs++
		}

		last, err := s.runs.LatestByStore(ctx, st.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read last sync run: %w", err)
		}
		status.LastRun = last

		report.Stores = append(report.Stores, status)
	}
	return report, nil
}

// GetJob returns an active or recorded job of the tenant
func (s *SyncService) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*storesync.SyncJob, error) {
	jobs, err := s.registry.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sync jobs: %w", err)
	}
	for i := range jobs {
		if jobs[i].ID == jobID {
			return &jobs[i], nil
		}
	}
	return s.runs.FindByID(ctx, tenantID, jobID)
}

// GetSyncStatistics returns record counts for the tenant over a period
func (s *SyncService) GetSyncStatistics(ctx context.Context, tenantID uuid.UUID, q StatisticsQuery) (*storesync.SyncStatistics, error) {
	period, err := storesync.ParseStatisticsPeriod(q.Period)
	if err != nil {
		return nil, err
	}
	if q.StoreID != nil {
		if _, err := s.stores.FindByID(ctx, tenantID, *q.StoreID); err != nil {
			return nil, err
		}
	}

	since := period.Since(s.now())
	stats, err := s.statistics.SyncStatistics(ctx, tenantID, q.StoreID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync statistics: %w", err)
	}
	stats.Period = period
	stats.Since = since
	return stats, nil
}

// ---------------------------------------------------------------------------
// Job execution
// ---------------------------------------------------------------------------

func (s *SyncService) run(ctx context.Context, job *storesync.SyncJob, store *storesync.Store) {
	ctx = logger.WithTenantID(ctx, job.TenantID.String())
	ctx = logger.WithStoreID(ctx, job.StoreID.String())
	ctx = logger.WithJobID(ctx, job.ID.String())

	ctx, span := telemetry.StartSpan(ctx, "storesync.sync",
		telemetry.SpanAttrTenantID.String(job.TenantID.String()),
		telemetry.SpanAttrStoreID.String(job.StoreID.String()),
		telemetry.SpanAttrJobID.String(job.ID.String()),
		telemetry.SpanAttrSyncType.String(string(job.Type)),
		telemetry.SpanAttrTrigger.String(string(job.Source)),
	)
	defer span.End()

	log := logger.Enrich(ctx, s.logger)

	// Guaranteed cleanup: whatever the exit path, the store is freed.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
		defer cancel()
		if err := s.registry.Release(releaseCtx, job.StoreID, job.ID); err != nil {
			log.Error("Failed to release sync job", zap.Error(err))
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Sync job panicked", zap.Any("panic", r), zap.Stack("stack"))
			if !job.IsTerminal() {
				_ = job.Fail(s.now(), fmt.Errorf("internal error: %v", r))
				s.finish(ctx, job, store, log)
			}
		}
	}()

	if !s.acquireSlot(ctx) {
		s.interrupt(ctx, job, store, log)
		return
	}
	defer s.releaseSlot()

	if s.isCancelled(ctx, job, log) {
		_ = job.Cancel(s.now())
		s.finish(ctx, job, store, log)
		return
	}

	if err := job.Run(); err != nil {
		log.Error("Sync job cannot run", zap.Error(err))
		return
	}
	s.publish(ctx, job, log)

	conn := store.Connection()
	synced := 0
	var fatal error

	for _, kind := range storesync.SyncOrder {
		if ctx.Err() != nil {
			s.interrupt(ctx, job, store, log)
			return
		}
		if s.isCancelled(ctx, job, log) {
			_ = job.Cancel(s.now())
			s.finish(ctx, job, store, log)
			return
		}

		err := s.syncKind(ctx, job, conn, kind, log)
		switch {
		case err == nil:
			synced++
			job.AdvanceProgress(storesync.KindCompleteProgress(kind))
			s.publish(ctx, job, log)
			continue
		case errors.Is(err, errJobCancelled):
			_ = job.Cancel(s.now())
			s.finish(ctx, job, store, log)
			return
		case ctx.Err() != nil:
			s.interrupt(ctx, job, store, log)
			return
		case storesync.IsInvalidCredential(err):
			fatal = err
		default:
			// Keep what was persisted and go on with the next kind. Only an
			// unreachable store API feeds the escalation counter.
			if storesync.IsSourceUnavailable(err) {
				job.SourceErrors++
				s.metrics.RecordSourceError(ctx, kind.String())
			}
			job.AddError(fmt.Sprintf("%s: %v", kind, err))
			log.Warn("Resource kind sync stopped early",
				zap.String("kind", kind.String()),
				zap.Error(err),
			)
			job.AdvanceProgress(storesync.KindCompleteProgress(kind))
			s.publish(ctx, job, log)
			continue
		}
		break
	}

	if fatal == nil && synced == 0 {
		cause := storesync.ErrSourceRequestFailed
		if job.SourceErrors > 0 {
			cause = storesync.ErrSourceUnavailable
		}
		fatal = fmt.Errorf("%w: no resource kind could be synced", cause)
	}

	telemetry.Conclude(span, fatal)
	if fatal != nil {
		_ = job.Fail(s.now(), fatal)
	}
	s.finish(ctx, job, store, log)
}

// syncKind pages through one resource kind. It returns nil once the last
// page was processed.
func (s *SyncService) syncKind(ctx context.Context, job *storesync.SyncJob, conn storesync.Connection, kind storesync.ResourceKind, log *zap.Logger) error {
	ctx, span := telemetry.StartSpan(ctx, "storesync.sync_"+kind.String(),
		telemetry.SpanAttrKind.String(kind.String()),
	)
	defer span.End()

	it := storesync.NewPageIterator(s.api, conn, kind, job.SinceDate)
	if s.config.PageSize > 0 {
		it.SetLimit(s.config.PageSize)
	}
	result := job.Results.For(kind)

	for !it.Done() {
		if it.Pages() > 0 && s.isCancelled(ctx, job, log) {
			return errJobCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := it.Next(ctx)
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("page %d: %w", it.Pages(), err)
		}

		n := page.Len()
		result.Fetched += n
		job.TotalItems += n
		if n > 0 {
			persisted, failed := s.persistPage(ctx, job.TenantID, job.StoreID, page)
			failed = append(failed, page.Invalid...)
			result.Persisted += persisted
			result.Failed += len(failed)
			job.ProcessedItems += n
			for _, rerr := range failed {
				job.AddError(rerr.Error())
			}
			s.metrics.RecordRecords(ctx, kind.String(), telemetry.OutcomePersisted, persisted)
			s.metrics.RecordRecords(ctx, kind.String(), telemetry.OutcomeFailed, len(failed))
		}

		job.AdvanceProgress(storesync.KindProgress(kind, result.Fetched))
		s.publish(ctx, job, log)

		log.Debug("Page synced",
			zap.String("kind", kind.String()),
			zap.Int("page", it.Pages()),
			zap.Int("records", n),
			zap.Int("progress", job.Progress),
		)
	}

	span.SetAttributes(telemetry.CountAttributes(result.Fetched, result.Persisted, result.Failed, it.Pages())...)
	return nil
}

// finish records a terminal job, updates the store and notifies listeners
func (s *SyncService) finish(ctx context.Context, job *storesync.SyncJob, store *storesync.Store, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	if !job.IsTerminal() && s.isCancelled(ctx, job, log) {
		_ = job.Cancel(s.now())
	}
	if !job.IsTerminal() {
		if err := s.stores.MarkSynced(ctx, store.ID, s.now()); err != nil {
			_ = job.Fail(s.now(), fmt.Errorf("failed to update store after sync: %w", err))
		} else {
			_ = job.Complete(s.now())
		}
	}

	if job.Status == storesync.JobStatusFailed {
		msg := "sync failed"
		if n := len(job.Errors); n > 0 {
			msg = job.Errors[n-1]
		}
		if err := s.stores.UpdateConnectionState(ctx, store.ID, storesync.ConnectionStateError, msg); err != nil {
			log.Error("Failed to mark store as errored", zap.Error(err))
		}
	}

	if err := s.runs.Record(ctx, job); err != nil {
		log.Warn("Failed to record sync run", zap.Error(err))
	}
	s.publish(ctx, job, log)

	duration := job.Duration(s.now())
	s.metrics.RecordJob(ctx, string(job.Type), string(job.Source), string(job.Status), duration)

	fields := []zap.Field{
		zap.String("status", string(job.Status)),
		zap.Int("progress", job.Progress),
		zap.Int("total_items", job.TotalItems),
		zap.Int("errors", len(job.Errors)),
		zap.Duration("duration", duration),
	}
	if job.Status == storesync.JobStatusFailed {
		log.Warn("Sync job failed", fields...)
	} else {
		log.Info("Sync job finished", fields...)
	}

	s.hooksMu.RLock()
	hooks := append([]JobFinishedFunc(nil), s.hooks...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job.Clone())
	}
}

// interrupt ends a job stopped by Shutdown. The store is left as it is.
func (s *SyncService) interrupt(ctx context.Context, job *storesync.SyncJob, store *storesync.Store, log *zap.Logger) {
	job.AddError("sync interrupted by shutdown")
	_ = job.Cancel(s.now())
	s.finish(ctx, job, store, log)
}

// isCancelled reports whether job no longer owns its registry entry. An
// unreachable registry does not stop the job.
func (s *SyncService) isCancelled(ctx context.Context, job *storesync.SyncJob, log *zap.Logger) bool {
	cur, err := s.registry.Get(ctx, job.StoreID)
	if err != nil {
		log.Warn("Failed to read sync job from registry", zap.Error(err))
		return false
	}
	return cur == nil || cur.ID != job.ID || cur.Status == storesync.JobStatusCancelled
}

func (s *SyncService) publish(ctx context.Context, job *storesync.SyncJob, log *zap.Logger) {
	if err := s.registry.Update(ctx, job); err != nil {
		log.Warn("Failed to publish sync progress", zap.Error(err))
	}
}

func (s *SyncService) acquireSlot(ctx context.Context) bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *SyncService) releaseSlot() {
	if s.slots != nil {
		<-s.slots
	}
}

// ---------------------------------------------------------------------------
// Page persistence
// ---------------------------------------------------------------------------

// persistPage transforms a page and writes it in kind-sized batches. It
// returns the number of persisted records and the per-record failures.
func (s *SyncService) persistPage(ctx context.Context, tenantID, storeID uuid.UUID, page *storesync.Page) (int, []storesync.RecordError) {
	switch page.Kind {
	case storesync.ResourceCustomers:
		records, failed := transformAll(page.Customers, storesync.ResourceCustomers,
			func(r *storesync.RemoteCustomer) int64 { return r.ID },
			func(r *storesync.RemoteCustomer) (*storesync.Customer, error) {
				return storesync.TransformCustomer(r, tenantID, storeID)
			})
		failed = append(failed, inBatches(records, page.Kind.BatchSize(), func(batch []storesync.Customer) []storesync.RecordError {
			return s.records.UpsertCustomers(ctx, batch)
		})...)
		return len(page.Customers) - len(failed), failed

	case storesync.ResourceProducts:
		records, failed := transformAll(page.Products, storesync.ResourceProducts,
			func(r *storesync.RemoteProduct) int64 { return r.ID },
			func(r *storesync.RemoteProduct) (*storesync.Product, error) {
				return storesync.TransformProduct(r, tenantID, storeID)
			})
		failed = append(failed, inBatches(records, page.Kind.BatchSize(), func(batch []storesync.Product) []storesync.RecordError {
			return s.records.UpsertProducts(ctx, batch)
		})...)
		return len(page.Products) - len(failed), failed

	case storesync.ResourceOrders:
		records, failed := transformAll(page.Orders, storesync.ResourceOrders,
			func(r *storesync.RemoteOrder) int64 { return r.ID },
			func(r *storesync.RemoteOrder) (*storesync.Order, error) {
				return storesync.TransformOrder(r, tenantID, storeID)
			})
		var lineFailures []storesync.RecordError
		failed = append(failed, inBatches(records, page.Kind.BatchSize(), func(batch []storesync.Order) []storesync.RecordError {
			failures, lines := s.persistOrders(ctx, batch)
			lineFailures = append(lineFailures, lines...)
			return failures
		})...)
		// Line item failures are reported but do not count as failed orders.
		return len(page.Orders) - len(failed), append(failed, lineFailures...)
	}
	return 0, nil
}

// persistOrders upserts a batch of orders, then the line items of every order
// that was persisted.
func (s *SyncService) persistOrders(ctx context.Context, batch []storesync.Order) ([]storesync.RecordError, []storesync.RecordError) {
	ids, failed := s.records.UpsertOrders(ctx, batch)

	var lineFailures []storesync.RecordError
	for i := range batch {
		o := &batch[i]
		orderID, ok := ids[o.ExternalID]
		if !ok || len(o.LineItems) == 0 {
			continue
		}
		for _, rerr := range s.records.UpsertLineItems(ctx, orderID, o.LineItems) {
			lineFailures = append(lineFailures, storesync.NewRecordError(storesync.ResourceOrders, o.ExternalID,
				fmt.Errorf("line item %d: %w", rerr.ExternalID, rerr.Err)))
		}
	}
	return failed, lineFailures
}

// transformAll maps raw records, collecting the ones that cannot be transformed
func transformAll[R, T any](raws []R, kind storesync.ResourceKind, externalID func(*R) int64, transform func(*R) (*T, error)) ([]T, []storesync.RecordError) {
	out := make([]T, 0, len(raws))
	var failed []storesync.RecordError
	for i := range raws {
		rec, err := transform(&raws[i])
		if err != nil {
			failed = append(failed, storesync.NewRecordError(kind, externalID(&raws[i]), err))
			continue
		}
		out = append(out, *rec)
	}
	return out, failed
}

// inBatches calls write for consecutive slices of at most size records
func inBatches[T any](records []T, size int, write func([]T) []storesync.RecordError) []storesync.RecordError {
	var failed []storesync.RecordError
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		failed = append(failed, write(records[start:end])...)
	}
	return failed
}
