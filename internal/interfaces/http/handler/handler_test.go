package handler_test

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	storesyncapp "github.com/storesync/backend/internal/application/storesync"
	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/cache"
	"github.com/storesync/backend/internal/infrastructure/persistence"
	"github.com/storesync/backend/internal/interfaces/http/middleware"
	"github.com/storesync/backend/tests/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// fixture wires the real services over an in-memory database
type fixture struct {
	db       *gorm.DB
	api      *testutil.FakeStoreAPI
	stores   *persistence.GormStoreRepository
	runs     *persistence.GormSyncRunRepository
	registry *cache.InMemoryJobRegistry
	storeSvc *storesyncapp.StoreService
	syncSvc  *storesyncapp.SyncService
	tenantID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	cipher, err := persistence.NewTokenCipher("")
	require.NoError(t, err)

	f := &fixture{
		db: db,
		api: testutil.NewFakeStoreAPI(
			testutil.GenerateCustomers(3),
			testutil.GenerateProducts(2),
			testutil.GenerateOrders(2, 1),
		),
		stores:   persistence.NewGormStoreRepository(db, cipher),
		runs:     persistence.NewGormSyncRunRepository(db),
		registry: cache.NewInMemoryJobRegistry(),
		tenantID: testutil.TestTenantID(),
	}
	gateway := persistence.NewGormRecordGateway(db)
	deliveries := cache.NewInMemoryDeliveryStore()
	t.Cleanup(func() { _ = deliveries.Close() })
	f.storeSvc = storesyncapp.NewStoreService(f.stores, f.api, f.registry, zap.NewNop())
	f.syncSvc = storesyncapp.NewSyncService(storesyncapp.Dependencies{
		Stores:     f.stores,
		Records:    gateway,
		Statistics: gateway,
		Runs:       f.runs,
		Registry:   f.registry,
		API:        f.api,
		Deliveries: deliveries,
	}, storesyncapp.Config{}, zap.NewNop())
	t.Cleanup(f.syncSvc.Wait)
	return f
}

// connectedStore saves a connected store for the fixture's tenant
func (f *fixture) connectedStore(t *testing.T, name string) *storesync.Store {
	t.Helper()
	store := testutil.ConnectedStore(t, f.tenantID, name, storesync.SyncFrequencyDaily)
	require.NoError(t, f.stores.Save(context.Background(), store))
	return store
}

// withTenant sets the tenant and path parameters on a test context
func withTenant(tenantID uuid.UUID, params ...gin.Param) func(t *testing.T, tc *testutil.TestContext) {
	return func(t *testing.T, tc *testutil.TestContext) {
		if tenantID != uuid.Nil {
			tc.SetTenantID(tenantID)
		}
		tc.Context.Params = params
	}
}

func idParam(id uuid.UUID) gin.Param {
	return gin.Param{Key: "id", Value: id.String()}
}

func dataOf(t *testing.T, tc *testutil.TestContext) map[string]any {
	t.Helper()
	data, ok := testutil.JSONResponse(t, tc)["data"].(map[string]any)
	require.True(t, ok, "expected an object in data")
	return data
}
