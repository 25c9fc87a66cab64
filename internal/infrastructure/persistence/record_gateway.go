package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/logger"
	"github.com/storesync/backend/internal/infrastructure/persistence/models"
)

// GormRecordGateway implements storesync.RecordGateway and
// storesync.StatisticsReader using GORM.
//
// Each batch is written with a single INSERT ... ON CONFLICT DO UPDATE. When
// that statement fails the batch is retried row by row so that one bad row
// only costs itself.
type GormRecordGateway struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormRecordGateway creates a new GormRecordGateway
func NewGormRecordGateway(db *gorm.DB) *GormRecordGateway {
	return &GormRecordGateway{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var (
	_ storesync.RecordGateway    = (*GormRecordGateway)(nil)
	_ storesync.StatisticsReader = (*GormRecordGateway)(nil)
)

func upsertOn(keys []string, updates []string) clause.OnConflict {
	cols := make([]clause.Column, len(keys))
	for i, k := range keys {
		cols[i] = clause.Column{Name: k}
	}
	return clause.OnConflict{Columns: cols, DoUpdates: clause.AssignmentColumns(updates)}
}

var (
	recordKey   = []string{"tenant_id", "external_id"}
	lineItemKey = []string{"order_id", "external_id"}
)

// upsertBatch writes rows in one statement, falling back to one statement
// per row. externalID reports the id used in RecordError for row i.
func upsertBatch[T any](ctx context.Context, db *gorm.DB, kind storesync.ResourceKind, conflict clause.OnConflict, rows []T, externalID func(int) int64) []storesync.RecordError {
	if len(rows) == 0 {
		return nil
	}
	tx := db.WithContext(ctx).Clauses(conflict)
	err := tx.Create(&rows).Error
	if err == nil {
		return nil
	}
	logger.L(ctx).Warn("batch upsert failed, retrying per record",
		zap.String("kind", kind.String()),
		zap.Int("records", len(rows)),
		zap.Error(err),
	)

	var failed []storesync.RecordError
	for i := range rows {
		if err := db.WithContext(ctx).Clauses(conflict).Create(&rows[i]).Error; err != nil {
			failed = append(failed, storesync.NewRecordError(kind, externalID(i), fmt.Errorf("%w: %v", storesync.ErrPersistence, err)))
		}
	}
	return failed
}

// UpsertCustomers inserts or updates customers by (tenant_id, external_id)
func (g *GormRecordGateway) UpsertCustomers(ctx context.Context, records []storesync.Customer) []storesync.RecordError {
	now := g.now()
	rows := make([]models.CustomerModel, len(records))
	for i := range records {
		rows[i] = *models.CustomerModelFromDomain(&records[i], now)
	}
	return upsertBatch(ctx, g.db, storesync.ResourceCustomers,
		upsertOn(recordKey, models.CustomerUpdateColumns), rows,
		func(i int) int64 { return rows[i].ExternalID })
}

// UpsertProducts inserts or updates products by (tenant_id, external_id)
func (g *GormRecordGateway) UpsertProducts(ctx context.Context, records []storesync.Product) []storesync.RecordError {
	now := g.now()
	rows := make([]models.ProductModel, len(records))
	for i := range records {
		rows[i] = *models.ProductModelFromDomain(&records[i], now)
	}
	return upsertBatch(ctx, g.db, storesync.ResourceProducts,
		upsertOn(recordKey, models.ProductUpdateColumns), rows,
		func(i int) int64 { return rows[i].ExternalID })
}

// UpsertOrders inserts or updates orders by (tenant_id, external_id) and
// returns the local id of each persisted order. Existing orders keep the id
// they were first stored with.
func (g *GormRecordGateway) UpsertOrders(ctx context.Context, records []storesync.Order) (map[int64]uuid.UUID, []storesync.RecordError) {
	ids := make(map[int64]uuid.UUID, len(records))
	if len(records) == 0 {
		return ids, nil
	}

	now := g.now()
	rows := make([]models.OrderModel, len(records))
	for i := range records {
		rows[i] = *models.OrderModelFromDomain(&records[i], now)
	}
	failed := upsertBatch(ctx, g.db, storesync.ResourceOrders,
		upsertOn(recordKey, models.OrderUpdateColumns), rows,
		func(i int) int64 { return rows[i].ExternalID })

	// The tenant is the same for every record of a batch; orders are grouped
	// per tenant anyway to keep the lookup correct for mixed input.
	byTenant := make(map[uuid.UUID][]int64)
	for _, o := range records {
		byTenant[o.TenantID] = append(byTenant[o.TenantID], o.ExternalID)
	}
	for tenantID, externalIDs := range byTenant {
		var resolved []struct {
			ID         uuid.UUID
			ExternalID int64
		}
		if err := g.db.WithContext(ctx).Model(&models.OrderModel{}).
			Select("id", "external_id").
			Where("tenant_id = ? AND external_id IN ?", tenantID, externalIDs).
			Find(&resolved).Error; err != nil {
			for _, ext := range externalIDs {
				failed = append(failed, storesync.NewRecordError(storesync.ResourceOrders, ext,
					fmt.Errorf("%w: resolve order id: %v", storesync.ErrPersistence, err)))
			}
			continue
		}
		for _, r := range resolved {
			ids[r.ExternalID] = r.ID
		}
	}
	return ids, failed
}

// UpsertLineItems inserts or updates the line items of one order by
// (order_id, external_id)
func (g *GormRecordGateway) UpsertLineItems(ctx context.Context, orderID uuid.UUID, items []storesync.LineItem) []storesync.RecordError {
	now := g.now()
	rows := make([]models.LineItemModel, len(items))
	for i := range items {
		items[i].OrderID = orderID
		rows[i] = *models.LineItemModelFromDomain(&items[i], now)
	}
	return upsertBatch(ctx, g.db, storesync.ResourceOrders,
		upsertOn(lineItemKey, models.LineItemUpdateColumns), rows,
		func(i int) int64 { return rows[i].ExternalID })
}

// DeleteByExternalID removes one synced record. Deleting an order also
// removes its line items. Absent records are not an error.
func (g *GormRecordGateway) DeleteByExternalID(ctx context.Context, kind storesync.ResourceKind, tenantID, storeID uuid.UUID, externalID int64) error {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ? AND store_id = ? AND external_id = ?", tenantID, storeID, externalID)
	}

	switch kind {
	case storesync.ResourceCustomers:
		return g.db.WithContext(ctx).Scopes(scope).Delete(&models.CustomerModel{}).Error
	case storesync.ResourceProducts:
		return g.db.WithContext(ctx).Scopes(scope).Delete(&models.ProductModel{}).Error
	case storesync.ResourceOrders:
		return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var orderIDs []uuid.UUID
			if err := tx.Model(&models.OrderModel{}).Scopes(scope).Pluck("id", &orderIDs).Error; err != nil {
				return err
			}
			if len(orderIDs) == 0 {
				return nil
			}
			if err := tx.Where("order_id IN ?", orderIDs).Delete(&models.LineItemModel{}).Error; err != nil {
				return err
			}
			return tx.Where("id IN ?", orderIDs).Delete(&models.OrderModel{}).Error
		})
	default:
		return fmt.Errorf("%w: unknown resource kind %q", storesync.ErrValidation, kind)
	}
}

// SyncStatistics counts orders and customers created at the source since
// the given time, and all products.
func (g *GormRecordGateway) SyncStatistics(ctx context.Context, tenantID uuid.UUID, storeID *uuid.UUID, since time.Time) (*storesync.SyncStatistics, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("tenant_id = ?", tenantID)
		if storeID != nil {
			db = db.Where("store_id = ?", *storeID)
		}
		return db
	}
	stats := &storesync.SyncStatistics{Since: since}

	if err := g.db.WithContext(ctx).Model(&models.OrderModel{}).Scopes(scope).
		Where("source_created_at >= ?", since).
		Count(&stats.Orders).Error; err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	if err := g.db.WithContext(ctx).Model(&models.CustomerModel{}).Scopes(scope).
		Where("source_created_at >= ?", since).
		Count(&stats.Customers).Error; err != nil {
		return nil, fmt.Errorf("count customers: %w", err)
	}
	if err := g.db.WithContext(ctx).Model(&models.ProductModel{}).Scopes(scope).
		Count(&stats.Products).Error; err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	storeScope := g.db.WithContext(ctx).Model(&models.StoreModel{}).Where("tenant_id = ?", tenantID)
	if storeID != nil {
		storeScope = storeScope.Where("id = ?", *storeID)
	}
	var last []models.StoreModel
	if err := storeScope.Select("last_sync_at").
		Where("last_sync_at IS NOT NULL").
		Order("last_sync_at DESC").
		Limit(1).
		Find(&last).Error; err != nil {
		return nil, fmt.Errorf("last sync date: %w", err)
	}
	if len(last) > 0 {
		stats.LastSyncDate = last[0].LastSyncAt
	}
	return stats, nil
}
