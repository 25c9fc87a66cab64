package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/persistence/models"
)

// GormStoreRepository implements storesync.StoreRepository using GORM
type GormStoreRepository struct {
	db     *gorm.DB
	cipher *TokenCipher
}

// NewGormStoreRepository creates a new GormStoreRepository. A nil cipher
// stores tokens unencrypted.
func NewGormStoreRepository(db *gorm.DB, cipher *TokenCipher) *GormStoreRepository {
	if cipher == nil {
		cipher = &TokenCipher{}
	}
	return &GormStoreRepository{db: db, cipher: cipher}
}

var _ storesync.StoreRepository = (*GormStoreRepository)(nil)

// FindByID finds a store of a tenant
func (r *GormStoreRepository) FindByID(ctx context.Context, tenantID, storeID uuid.UUID) (*storesync.Store, error) {
	var m models.StoreModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, storeID).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storesync.ErrStoreNotFound
		}
		return nil, err
	}
	return r.toDomain(&m)
}

// FindByDomain finds a store by its shop domain, across tenants
func (r *GormStoreRepository) FindByDomain(ctx context.Context, domain string) (*storesync.Store, error) {
	var m models.StoreModel
	if err := r.db.WithContext(ctx).Where("domain = ?", domain).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storesync.ErrStoreNotFound
		}
		return nil, err
	}
	return r.toDomain(&m)
}

// FindByTenant lists the stores of a tenant ordered by creation time
func (r *GormStoreRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]storesync.Store, error) {
	var rows []models.StoreModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(rows)
}

// FindConnected lists connected stores of all tenants
func (r *GormStoreRepository) FindConnected(ctx context.Context) ([]storesync.Store, error) {
	var rows []models.StoreModel
	if err := r.db.WithContext(ctx).
		Where("connection_state = ?", storesync.ConnectionStateConnected).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(rows)
}

// CountByState counts stores in the given connection state
func (r *GormStoreRepository) CountByState(ctx context.Context, state storesync.ConnectionState) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.StoreModel{}).
		Where("connection_state = ?", state).
		Count(&count).Error
	return count, err
}

// Save creates or updates a store
func (r *GormStoreRepository) Save(ctx context.Context, store *storesync.Store) error {
	sealed, err := r.cipher.Seal(store.AccessToken, store.ID.String())
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	if store.UpdatedAt.IsZero() {
		store.UpdatedAt = time.Now().UTC()
	}
	if store.CreatedAt.IsZero() {
		store.CreatedAt = store.UpdatedAt
	}
	return r.db.WithContext(ctx).Save(models.StoreModelFromDomain(store, sealed)).Error
}

// Delete removes a store of a tenant
func (r *GormStoreRepository) Delete(ctx context.Context, tenantID, storeID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, storeID).
		Delete(&models.StoreModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storesync.ErrStoreNotFound
	}
	return nil
}

// MarkSynced records a finished sync and clears any previous error
func (r *GormStoreRepository) MarkSynced(ctx context.Context, storeID uuid.UUID, at time.Time) error {
	return r.updateColumns(ctx, storeID, map[string]any{
		"last_sync_at":     at,
		"connection_state": storesync.ConnectionStateConnected,
		"last_error":       "",
		"updated_at":       time.Now().UTC(),
	})
}

// UpdateConnectionState sets the connection state and last error of a store
func (r *GormStoreRepository) UpdateConnectionState(ctx context.Context, storeID uuid.UUID, state storesync.ConnectionState, lastError string) error {
	return r.updateColumns(ctx, storeID, map[string]any{
		"connection_state": state,
		"last_error":       lastError,
		"updated_at":       time.Now().UTC(),
	})
}

func (r *GormStoreRepository) updateColumns(ctx context.Context, storeID uuid.UUID, values map[string]any) error {
	result := r.db.WithContext(ctx).Model(&models.StoreModel{}).
		Where("id = ?", storeID).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storesync.ErrStoreNotFound
	}
	return nil
}

func (r *GormStoreRepository) toDomain(m *models.StoreModel) (*storesync.Store, error) {
	token, err := r.cipher.Open(m.AccessTokenEncrypted, m.ID.String())
	if err != nil {
		return nil, err
	}
	return m.ToDomain(token), nil
}

func (r *GormStoreRepository) toDomainList(rows []models.StoreModel) ([]storesync.Store, error) {
	stores := make([]storesync.Store, 0, len(rows))
	for i := range rows {
		s, err := r.toDomain(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", rows[i].ID, err)
		}
		stores = append(stores, *s)
	}
	return stores, nil
}
