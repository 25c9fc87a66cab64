package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/persistence/models"
)

func TestNewSQLiteDB(t *testing.T) {
	db := NewSQLiteDB(t)

	for _, table := range []any{&models.StoreModel{}, &models.OrderModel{}, &models.LineItemModel{}, &models.SyncRunModel{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}
}

func TestTestContext(t *testing.T) {
	tc := NewTestContext(t)
	tenantID := uuid.New()

	tc.SetTenantID(tenantID)
	tc.SetHeader("Authorization", "Bearer token")
	tc.Recorder.WriteHeader(http.StatusCreated)

	val, ok := tc.Context.Get("tenant_id")
	assert.True(t, ok)
	assert.Equal(t, tenantID, val)
	assert.Equal(t, "Bearer token", tc.Context.Request.Header.Get("Authorization"))
	assert.Equal(t, http.StatusCreated, tc.ResponseCode())
}

func TestNewTestUUID(t *testing.T) {
	assert.Equal(t, NewTestUUID("seed"), NewTestUUID("seed"))
	assert.NotEqual(t, NewTestUUID("seed"), NewTestUUID("other"))
	assert.Equal(t, NewTestUUID("test-tenant"), TestTenantID())
}

func TestConnectedStore(t *testing.T) {
	store := ConnectedStore(t, TestTenantID(), "acme.myshopify.com", storesync.SyncFrequencyDaily)

	assert.Equal(t, TestTenantID(), store.TenantID)
	assert.Equal(t, storesync.SyncFrequencyDaily, store.SyncFrequency)
	assert.Equal(t, storesync.ConnectionStateConnected, store.ConnectionState)
	assert.Equal(t, "USD", store.Currency)
}

func TestAssertNever(t *testing.T) {
	AssertNever(t, func() bool { return false }, 30*time.Millisecond, 5*time.Millisecond)
}

func TestFakeStoreAPI_Pages(t *testing.T) {
	api := NewFakeStoreAPI(GenerateCustomers(5), nil, nil)
	ctx := context.Background()

	page, err := api.FetchPage(ctx, storesync.Connection{}, storesync.ResourceCustomers, storesync.PageQuery{Limit: 2, SinceID: 2})
	require.NoError(t, err)
	require.Len(t, page.Customers, 2)
	assert.Equal(t, int64(3), page.Customers[0].ID)
	assert.Equal(t, int64(4), page.LastID())

	since := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err = api.FetchPage(ctx, storesync.Connection{}, storesync.ResourceCustomers, storesync.PageQuery{CreatedAtMin: &since})
	require.NoError(t, err)
	assert.Zero(t, page.Len())

	assert.Len(t, api.CallsFor(storesync.ResourceCustomers), 2)
}

func TestFakeStoreAPI_Failures(t *testing.T) {
	api := NewFakeStoreAPI(nil, GenerateProducts(1), nil)
	ctx := context.Background()

	api.FailKind(storesync.ResourceProducts, storesync.ErrSourceUnavailable)
	_, err := api.FetchPage(ctx, storesync.Connection{}, storesync.ResourceProducts, storesync.PageQuery{})
	assert.True(t, errors.Is(err, storesync.ErrSourceUnavailable))

	api.FailKind(storesync.ResourceProducts, nil)
	page, err := api.FetchPage(ctx, storesync.Connection{}, storesync.ResourceProducts, storesync.PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Len())

	api.FailVerify(storesync.ErrInvalidCredential)
	_, err = api.VerifyConnection(ctx, storesync.Connection{Domain: "acme.myshopify.com"})
	assert.True(t, storesync.IsInvalidCredential(err))
}

func TestGenerateOrders(t *testing.T) {
	orders := GenerateOrders(3, 2)
	require.Len(t, orders, 3)
	assert.Len(t, orders[2].LineItems, 2)
	assert.Equal(t, int64(302), orders[2].LineItems[1].ID)
}

func TestRunHTTPTestCase(t *testing.T) {
	echo := func(c *gin.Context) {
		raw, _ := c.GetRawData()
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"period": c.Query("period"),
				"body":   string(raw),
				"shop":   c.GetHeader("X-Shop"),
			},
		})
	}

	RunHTTPTestCase(t, echo, HTTPTestCase{
		Name:           "query raw body and headers",
		Method:         http.MethodPost,
		Query:          url.Values{"period": {"7d"}},
		RawBody:        []byte(`{"id":1}`),
		Headers:        map[string]string{"X-Shop": "acme.myshopify.com"},
		ExpectedStatus: http.StatusOK,
		ExpectedBody:   map[string]any{"success": true},
		Validate: func(t *testing.T, tc *TestContext) {
			data := DecodeData[map[string]string](t, tc)
			assert.Equal(t, "7d", data["period"])
			assert.Equal(t, `{"id":1}`, data["body"])
			assert.Equal(t, "acme.myshopify.com", data["shop"])
		},
	})
}

func TestAssertErrorResponse(t *testing.T) {
	failing := func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   gin.H{"code": "SYNC_IN_PROGRESS", "message": "busy"},
		})
	}

	RunHTTPTestCase(t, failing, HTTPTestCase{
		ExpectedStatus: http.StatusConflict,
		ExpectedCode:   "SYNC_IN_PROGRESS",
	})
}
