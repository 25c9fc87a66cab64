package storesync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Store API
// ---------------------------------------------------------------------------

// StoreAPI is the external storefront platform, consumed page by page
type StoreAPI interface {
	// FetchPage returns one page of kind. An empty page means there is nothing more.
	FetchPage(ctx context.Context, conn Connection, kind ResourceKind, query PageQuery) (*Page, error)

	// VerifyConnection checks the credential and returns the shop descriptor
	VerifyConnection(ctx context.Context, conn Connection) (*ShopInfo, error)

	// CountResources returns record totals per kind
	CountResources(ctx context.Context, conn Connection) (*ResourceCounts, error)
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// StoreRepository persists stores
type StoreRepository interface {
	FindByID(ctx context.Context, tenantID, storeID uuid.UUID) (*Store, error)
	FindByDomain(ctx context.Context, domain string) (*Store, error)
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]Store, error)
	FindConnected(ctx context.Context) ([]Store, error)
	CountByState(ctx context.Context, state ConnectionState) (int64, error)
	Save(ctx context.Context, store *Store) error
	Delete(ctx context.Context, tenantID, storeID uuid.UUID) error

	// MarkSynced sets last_sync_at and the connected state
	MarkSynced(ctx context.Context, storeID uuid.UUID, at time.Time) error

	// UpdateConnectionState sets the connection state and the last error message
	UpdateConnectionState(ctx context.Context, storeID uuid.UUID, state ConnectionState, lastError string) error
}

// RecordGateway owns all writes of synced records. Upserts are keyed by
// (tenant, external id); line items by (order, external line item id).
// Batch calls never fail as a whole: each failed record is reported in the
// returned list and the rest are persisted.
type RecordGateway interface {
	UpsertCustomers(ctx context.Context, records []Customer) []RecordError
	UpsertProducts(ctx context.Context, records []Product) []RecordError

	// UpsertOrders returns the local id of every persisted order by external id
	UpsertOrders(ctx context.Context, records []Order) (map[int64]uuid.UUID, []RecordError)
	UpsertLineItems(ctx context.Context, orderID uuid.UUID, items []LineItem) []RecordError

	// DeleteByExternalID is idempotent; deleting an absent record succeeds
	DeleteByExternalID(ctx context.Context, kind ResourceKind, tenantID, storeID uuid.UUID, externalID int64) error
}

// StatisticsReader answers dashboard count queries
type StatisticsReader interface {
	SyncStatistics(ctx context.Context, tenantID uuid.UUID, storeID *uuid.UUID, since time.Time) (*SyncStatistics, error)
}

// SyncRunRepository keeps the history of finished jobs
type SyncRunRepository interface {
	Record(ctx context.Context, job *SyncJob) error
	FindByID(ctx context.Context, tenantID, jobID uuid.UUID) (*SyncJob, error)
	LatestByStore(ctx context.Context, storeID uuid.UUID) (*SyncJob, error)
	CountRecentFailures(ctx context.Context, storeID uuid.UUID, since time.Time) (int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ---------------------------------------------------------------------------
// Active job registry
// ---------------------------------------------------------------------------

// ActiveJobRegistry holds the non-terminal job of each store. TryAcquire is
// an atomic check-and-insert; it is what enforces one active job per store.
// Implementations may be process-local or backed by a distributed lock.
type ActiveJobRegistry interface {
	// TryAcquire registers job under its store. It returns false if the store
	// already has an active job.
	TryAcquire(ctx context.Context, job *SyncJob) (bool, error)

	// Update publishes a new snapshot of a job that still owns its store
	Update(ctx context.Context, job *SyncJob) error

	// Get returns the active job of a store, or nil when there is none
	Get(ctx context.Context, storeID uuid.UUID) (*SyncJob, error)

	// List returns the active jobs of a tenant
	List(ctx context.Context, tenantID uuid.UUID) ([]SyncJob, error)

	// Release removes the store's entry if it is still owned by jobID
	Release(ctx context.Context, storeID, jobID uuid.UUID) error

	// Ping checks the registry backend
	Ping(ctx context.Context) error
}
