package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/storesync/backend/internal/domain/storesync"
)

// StoreModel is the persistence model for the Store aggregate. The access
// token is stored encrypted; repositories convert it with a TokenCipher.
type StoreModel struct {
	ID                   uuid.UUID                 `gorm:"type:uuid;primary_key"`
	TenantID             uuid.UUID                 `gorm:"type:uuid;not null;index:idx_stores_tenant"`
	Domain               string                    `gorm:"type:varchar(255);not null;uniqueIndex:idx_stores_domain"`
	Name                 string                    `gorm:"type:varchar(255)"`
	ExternalShopID       int64                     `gorm:"column:external_shop_id"`
	Currency             string                    `gorm:"type:varchar(3)"`
	Timezone             string                    `gorm:"type:varchar(64)"`
	AccessTokenEncrypted string                    `gorm:"type:text;column:access_token_encrypted"`
	ConnectionState      storesync.ConnectionState `gorm:"type:varchar(20);not null;default:'pending';index:idx_stores_state"`
	SyncFrequency        storesync.SyncFrequency   `gorm:"type:varchar(20);not null;default:'daily'"`
	LastSyncAt           *time.Time
	LastError            string    `gorm:"type:text"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StoreModel) TableName() string {
	return "stores"
}

// ToDomain converts the model to a domain Store. The token is passed in
// already decrypted.
func (m *StoreModel) ToDomain(accessToken string) *storesync.Store {
	return &storesync.Store{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Domain:          m.Domain,
		Name:            m.Name,
		ExternalShopID:  m.ExternalShopID,
		Currency:        m.Currency,
		Timezone:        m.Timezone,
		AccessToken:     accessToken,
		ConnectionState: m.ConnectionState,
		SyncFrequency:   m.SyncFrequency,
		LastSyncAt:      m.LastSyncAt,
		LastError:       m.LastError,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// StoreModelFromDomain creates a model from a domain Store and its encrypted token
func StoreModelFromDomain(s *storesync.Store, encryptedToken string) *StoreModel {
	return &StoreModel{
		ID:                   s.ID,
		TenantID:             s.TenantID,
		Domain:               s.Domain,
		Name:                 s.Name,
		ExternalShopID:       s.ExternalShopID,
		Currency:             s.Currency,
		Timezone:             s.Timezone,
		AccessTokenEncrypted: encryptedToken,
		ConnectionState:      s.ConnectionState,
		SyncFrequency:        s.SyncFrequency,
		LastSyncAt:           s.LastSyncAt,
		LastError:            s.LastError,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}
