package storesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/logger"
)

// StoreService manages store connections
type StoreService struct {
	stores   storesync.StoreRepository
	api      storesync.StoreAPI
	registry storesync.ActiveJobRegistry
	logger   *zap.Logger
}

// NewStoreService creates a new store service
func NewStoreService(
	stores storesync.StoreRepository,
	api storesync.StoreAPI,
	registry storesync.ActiveJobRegistry,
	logger *zap.Logger,
) *StoreService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreService{
		stores:   stores,
		api:      api,
		registry: registry,
		logger:   logger,
	}
}

// ConnectStore verifies the access token with the platform and stores the
// shop as connected. A shop already connected by another tenant cannot be
// taken over; the owning tenant may reconnect it with a new token.
func (s *StoreService) ConnectStore(ctx context.Context, tenantID uuid.UUID, in ConnectStoreInput) (*StoreInfo, error) {
	store, err := storesync.NewStore(tenantID, in.Domain, strings.TrimSpace(in.AccessToken), in.SyncFrequency)
	if err != nil {
		return nil, err
	}

	existing, err := s.stores.FindByDomain(ctx, store.Domain)
	switch {
	case err == nil:
		if existing.TenantID != tenantID {
			return nil, storesync.ErrDomainTaken
		}
		existing.AccessToken = store.AccessToken
		if in.SyncFrequency != "" {
			existing.SyncFrequency = store.SyncFrequency
		}
		store = existing
	case !storesync.IsNotFound(err):
		return nil, err
	}

	info, err := s.api.VerifyConnection(ctx, store.Connection())
	if err != nil {
		logger.Enrich(ctx, s.logger).Warn("Store connection verification failed",
			zap.String("domain", store.Domain),
			zap.Error(err),
		)
		return nil, err
	}
	store.MarkConnected(info)

	if err := s.stores.Save(ctx, store); err != nil {
		return nil, fmt.Errorf("failed to save store: %w", err)
	}

	logger.Enrich(ctx, s.logger).Info("Store connected",
		zap.String("store_id", store.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("domain", store.Domain),
	)
	result := ToStoreInfo(store)
	return &result, nil
}

// DisconnectStore drops the store's credential. It is refused while a sync
// of the store is running.
func (s *StoreService) DisconnectStore(ctx context.Context, tenantID, storeID uuid.UUID) (*StoreInfo, error) {
	store, err := s.stores.FindByID(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}

	active, err := s.registry.Get(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to read active sync job: %w", err)
	}
	if active != nil {
		return nil, storesync.ErrSyncInProgress
	}

	store.Disconnect()
	if err := s.stores.Save(ctx, store); err != nil {
		return nil, fmt.Errorf("failed to save store: %w", err)
	}

	logger.Enrich(ctx, s.logger).Info("Store disconnected",
		zap.String("store_id", storeID.String()),
		zap.String("tenant_id", tenantID.String()),
	)
	result := ToStoreInfo(store)
	return &result, nil
}

// UpdateSyncFrequency changes how often the scheduler syncs the store
func (s *StoreService) UpdateSyncFrequency(ctx context.Context, tenantID, storeID uuid.UUID, frequency storesync.SyncFrequency) (*StoreInfo, error) {
	if !frequency.IsValid() {
		return nil, storesync.ErrInvalidFrequency
	}
	store, err := s.stores.FindByID(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}
	store.SyncFrequency = frequency
	store.UpdatedAt = time.Now().UTC()
	if err := s.stores.Save(ctx, store); err != nil {
		return nil, fmt.Errorf("failed to save store: %w", err)
	}
	result := ToStoreInfo(store)
	return &result, nil
}

// TestConnection checks the stored credential and reports record totals.
// A rejected credential puts the store into the error state.
func (s *StoreService) TestConnection(ctx context.Context, tenantID, storeID uuid.UUID) (*ConnectionTestResult, error) {
	store, err := s.stores.FindByID(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}
	if store.AccessToken == "" {
		return nil, storesync.ErrMissingCredential
	}

	info, err := s.api.VerifyConnection(ctx, store.Connection())
	if err != nil {
		if storesync.IsInvalidCredential(err) {
			if uerr := s.stores.UpdateConnectionState(ctx, store.ID, storesync.ConnectionStateError, err.Error()); uerr != nil {
				logger.Enrich(ctx, s.logger).Error("Failed to mark store as errored", zap.Error(uerr))
			}
		}
		return nil, err
	}

	result := &ConnectionTestResult{Shop: info}
	counts, err := s.api.CountResources(ctx, store.Connection())
	if err != nil {
		// Counts are informational; a verified shop is still reported.
		logger.Enrich(ctx, s.logger).Warn("Failed to count store resources",
			zap.String("store_id", storeID.String()),
			zap.Error(err),
		)
	} else {
		result.Counts = counts
	}
	return result, nil
}

// ListStores returns the tenant's stores
func (s *StoreService) ListStores(ctx context.Context, tenantID uuid.UUID) ([]StoreInfo, error) {
	stores, err := s.stores.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]StoreInfo, len(stores))
	for i := range stores {
		out[i] = ToStoreInfo(&stores[i])
	}
	return out, nil
}

// GetStore returns one store of the tenant
func (s *StoreService) GetStore(ctx context.Context, tenantID, storeID uuid.UUID) (*StoreInfo, error) {
	store, err := s.stores.FindByID(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}
	result := ToStoreInfo(store)
	return &result, nil
}

// RemoveStore deletes a disconnected store. Synced records are kept.
func (s *StoreService) RemoveStore(ctx context.Context, tenantID, storeID uuid.UUID) error {
	store, err := s.stores.FindByID(ctx, tenantID, storeID)
	if err != nil {
		return err
	}
	if store.ConnectionState == storesync.ConnectionStateConnected {
		return fmt.Errorf("%w: disconnect the store first", storesync.ErrPrecondition)
	}
	if err := s.stores.Delete(ctx, tenantID, storeID); err != nil && !errors.Is(err, storesync.ErrStoreNotFound) {
		return err
	}
	return nil
}
