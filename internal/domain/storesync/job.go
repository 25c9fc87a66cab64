package storesync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IncrementalOverlap is subtracted from the last sync time when computing the
// lower bound of an incremental sync, to pick up records committed late on the
// source side.
const IncrementalOverlap = time.Hour

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// SyncType selects between a full and an incremental pass
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// IsValid returns true if the sync type is known
func (t SyncType) IsValid() bool {
	return t == SyncTypeFull || t == SyncTypeIncremental
}

// JobStatus is the state of a sync job
type JobStatus string

const (
	JobStatusStarted   JobStatus = "started"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true for completed, failed and cancelled
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// TriggerSource records what started a job
type TriggerSource string

const (
	TriggerManual    TriggerSource = "manual"
	TriggerScheduled TriggerSource = "scheduled"
	TriggerAPI       TriggerSource = "api"
)

// ---------------------------------------------------------------------------
// SyncJob
// ---------------------------------------------------------------------------

// KindResult counts what happened to the records of one resource kind
type KindResult struct {
	Fetched   int `json:"fetched"`
	Persisted int `json:"persisted"`
	Failed    int `json:"failed"`
}

// JobResults holds per-kind counters
type JobResults struct {
	Customers KindResult `json:"customers"`
	Products  KindResult `json:"products"`
	Orders    KindResult `json:"orders"`
}

// For returns the counters of the given kind
func (r *JobResults) For(kind ResourceKind) *KindResult {
	switch kind {
	case ResourceCustomers:
		return &r.Customers
	case ResourceProducts:
		return &r.Products
	default:
		return &r.Orders
	}
}

// SyncJob is one sync attempt for a store. It is not safe for concurrent use;
// the orchestrator serializes access to it.
type SyncJob struct {
	ID             uuid.UUID     `json:"id"`
	TenantID       uuid.UUID     `json:"tenant_id"`
	StoreID        uuid.UUID     `json:"store_id"`
	Type           SyncType      `json:"type"`
	Source         TriggerSource `json:"source"`
	Status         JobStatus     `json:"status"`
	SinceDate      *time.Time    `json:"since_date,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Progress       int           `json:"progress"`
	TotalItems     int           `json:"total_items"`
	ProcessedItems int           `json:"processed_items"`
	SourceErrors   int           `json:"source_errors"`
	Errors         []string      `json:"errors"`
	Results        JobResults    `json:"results"`
}

// NewSyncJob creates a job in the started state
func NewSyncJob(tenantID, storeID uuid.UUID, syncType SyncType, source TriggerSource, now time.Time) (*SyncJob, error) {
	if !syncType.IsValid() {
		return nil, ErrInvalidSyncType
	}
	if source == "" {
		source = TriggerManual
	}
	return &SyncJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		StoreID:   storeID,
		Type:      syncType,
		Source:    source,
		Status:    JobStatusStarted,
		StartedAt: now,
		Errors:    make([]string, 0),
	}, nil
}

// IsTerminal returns true if the job reached a final state
func (j *SyncJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Run moves a started job to running
func (j *SyncJob) Run() error {
	if j.Status != JobStatusStarted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusRunning)
	}
	j.Status = JobStatusRunning
	return nil
}

// Complete finishes a running job. Progress reaches 100 only here.
func (j *SyncJob) Complete(now time.Time) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusCompleted)
	}
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.CompletedAt = &now
	return nil
}

// Fail finishes a non-terminal job with an error
func (j *SyncJob) Fail(now time.Time, cause error) error {
	if j.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusFailed)
	}
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	if cause != nil {
		j.AddError(cause.Error())
	}
	return nil
}

// Cancel finishes a non-terminal job as cancelled
func (j *SyncJob) Cancel(now time.Time) error {
	if j.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusCancelled)
	}
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	return nil
}

// AddError appends a message to the job's error list
func (j *SyncJob) AddError(msg string) {
	j.Errors = append(j.Errors, msg)
}

// AdvanceProgress raises progress to p. Progress never decreases and stays
// below 100 until the job completes.
func (j *SyncJob) AdvanceProgress(p int) {
	if p > 99 {
		p = 99
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// Clone returns a deep copy safe to hand to readers
func (j *SyncJob) Clone() *SyncJob {
	c := *j
	c.Errors = append(make([]string, 0, len(j.Errors)), j.Errors...)
	if j.SinceDate != nil {
		t := *j.SinceDate
		c.SinceDate = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Duration returns how long the job ran, or has been running
func (j *SyncJob) Duration(now time.Time) time.Duration {
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(j.StartedAt)
	}
	return now.Sub(j.StartedAt)
}

// ---------------------------------------------------------------------------
// Sync rules
// ---------------------------------------------------------------------------

// SinceDate returns the lower time bound for a sync. Full syncs and stores
// that have never synced have none.
func SinceDate(syncType SyncType, lastSyncAt *time.Time) *time.Time {
	if syncType != SyncTypeIncremental || lastSyncAt == nil {
		return nil
	}
	t := lastSyncAt.Add(-IncrementalOverlap)
	return &t
}

// progressWindow is the share of overall progress owned by a resource kind
type progressWindow struct {
	base  int
	width int
}

var progressWindows = map[ResourceKind]progressWindow{
	ResourceCustomers: {base: 0, width: 25},
	ResourceProducts:  {base: 25, width: 25},
	ResourceOrders:    {base: 50, width: 50},
}

// progressScale is the record count at which a kind's window is estimated full
const progressScale = 1000

// KindProgress estimates overall progress after processed records of kind.
// Customers own 0-25, products 25-50 and orders 50-100; the result is an
// estimate and is capped below 100.
func KindProgress(kind ResourceKind, processed int) int {
	w, ok := progressWindows[kind]
	if !ok {
		return 0
	}
	share := processed * w.width / progressScale
	if share > w.width {
		share = w.width
	}
	p := w.base + share
	if p > 99 {
		p = 99
	}
	return p
}

// KindCompleteProgress is the progress once every record of kind is processed
func KindCompleteProgress(kind ResourceKind) int {
	w := progressWindows[kind]
	p := w.base + w.width
	if p > 99 {
		p = 99
	}
	return p
}
