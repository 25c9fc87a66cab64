// Package testutil holds fixtures shared by the sync backend tests: an
// in-memory database, connected stores, a scripted store API and gin contexts.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/persistence/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// NewTestUUID derives a stable id from seed.
func NewTestUUID(seed string) uuid.UUID {
	return uuid.NewSHA1(testNamespace, []byte(seed))
}

// TestTenantID is the tenant most tests act as.
func TestTenantID() uuid.UUID {
	return NewTestUUID("test-tenant")
}

// NewSQLiteDB opens an in-memory database holding every sync table. The
// pool is pinned to one connection because each sqlite :memory: connection
// is its own database.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	pool, err := db.DB()
	require.NoError(t, err)
	pool.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = pool.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.StoreModel{},
		&models.CustomerModel{},
		&models.ProductModel{},
		&models.OrderModel{},
		&models.LineItemModel{},
		&models.SyncRunModel{},
	))
	return db
}

// ConnectedStore builds a store of tenantID that has passed verification.
// It is not saved.
func ConnectedStore(t *testing.T, tenantID uuid.UUID, domain string, freq storesync.SyncFrequency) *storesync.Store {
	t.Helper()
	store, err := storesync.NewStore(tenantID, domain, "shpat_token", freq)
	require.NoError(t, err)
	store.MarkConnected(&storesync.ShopInfo{ID: 42, Name: domain, Currency: "USD"})
	return store
}

// TestContext is a gin context with the recorder its handler writes to.
type TestContext struct {
	Context  *gin.Context
	Recorder *httptest.ResponseRecorder
	Engine   *gin.Engine
}

func NewTestContext(t *testing.T) *TestContext {
	t.Helper()
	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return &TestContext{Context: c, Recorder: w, Engine: engine}
}

// SetTenantID stores the tenant under the key the tenant middleware uses.
func (tc *TestContext) SetTenantID(id uuid.UUID) {
	tc.Context.Set("tenant_id", id)
}

func (tc *TestContext) SetHeader(key, value string) {
	tc.Context.Request.Header.Set(key, value)
}

func (tc *TestContext) ResponseBody() []byte { return tc.Recorder.Body.Bytes() }

func (tc *TestContext) ResponseCode() int { return tc.Recorder.Code }

// AssertNever fails if condition turns true at any poll within d.
func AssertNever(t *testing.T, condition func() bool, d, interval time.Duration, msgAndArgs ...any) {
	t.Helper()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	timeout := time.After(d)
	for {
		if condition() {
			require.Fail(t, "Condition unexpectedly became true", msgAndArgs...)
		}
		select {
		case <-timeout:
			return
		case <-ticker.C:
		}
	}
}
