package storesync

import (
	"time"

	"github.com/google/uuid"

	"github.com/storesync/backend/internal/domain/storesync"
)

// ---------------------------------------------------------------------------
// Sync DTOs
// ---------------------------------------------------------------------------

// StoreStatus is one store in a status report
type StoreStatus struct {
	StoreID         uuid.UUID                 `json:"store_id"`
	Domain          string                    `json:"domain"`
	Name            string                    `json:"name"`
	ConnectionState storesync.ConnectionState `json:"connection_state"`
	SyncFrequency   storesync.SyncFrequency   `json:"sync_frequency"`
	LastSyncAt      *time.Time                `json:"last_sync_at,omitempty"`
	LastError       string                    `json:"last_error,omitempty"`
	NeedsReconnect  bool                      `json:"needs_reconnect"`
	ActiveJob       *storesync.SyncJob        `json:"active_job,omitempty"`
	LastRun         *storesync.SyncJob        `json:"last_run,omitempty"`
}

// StatusReport is the result of GetStatus
type StatusReport struct {
	Stores      []StoreStatus `json:"stores"`
	ActiveSyncs int           `json:"active_syncs"`
}

// StatisticsQuery selects the statistics of a tenant
type StatisticsQuery struct {
	StoreID *uuid.UUID
	Period  string // 7d, 30d or 90d; empty means 30d
}

// WebhookResult describes what a processed webhook changed
type WebhookResult struct {
	StoreID    uuid.UUID               `json:"store_id"`
	Kind       storesync.ResourceKind  `json:"kind"`
	Action     storesync.WebhookAction `json:"action"`
	ExternalID int64                   `json:"external_id"`
	Duplicate  bool                    `json:"duplicate,omitempty"`
}

// ---------------------------------------------------------------------------
// Store DTOs
// ---------------------------------------------------------------------------

// ConnectStoreInput contains the input for connecting a shop
type ConnectStoreInput struct {
	Domain        string
	AccessToken   string
	SyncFrequency storesync.SyncFrequency // empty means daily
}

// StoreInfo is a store as returned to callers. It never carries the credential.
type StoreInfo struct {
	ID              uuid.UUID                 `json:"id"`
	TenantID        uuid.UUID                 `json:"tenant_id"`
	Domain          string                    `json:"domain"`
	Name            string                    `json:"name"`
	Currency        string                    `json:"currency,omitempty"`
	Timezone        string                    `json:"timezone,omitempty"`
	ConnectionState storesync.ConnectionState `json:"connection_state"`
	SyncFrequency   storesync.SyncFrequency   `json:"sync_frequency"`
	LastSyncAt      *time.Time                `json:"last_sync_at,omitempty"`
	LastError       string                    `json:"last_error,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// ToStoreInfo converts a domain store
func ToStoreInfo(s *storesync.Store) StoreInfo {
	return StoreInfo{
		ID:              s.ID,
		TenantID:        s.TenantID,
		Domain:          s.Domain,
		Name:            s.Name,
		Currency:        s.Currency,
		Timezone:        s.Timezone,
		ConnectionState: s.ConnectionState,
		SyncFrequency:   s.SyncFrequency,
		LastSyncAt:      s.LastSyncAt,
		LastError:       s.LastError,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// ConnectionTestResult is the result of TestConnection
type ConnectionTestResult struct {
	Shop   *storesync.ShopInfo       `json:"shop"`
	Counts *storesync.ResourceCounts `json:"counts,omitempty"`
}
