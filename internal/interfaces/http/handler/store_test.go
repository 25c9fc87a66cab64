package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/interfaces/http/dto"
	"github.com/storesync/backend/internal/interfaces/http/handler"
	"github.com/storesync/backend/tests/testutil"
)

func TestStoreHandler_Connect(t *testing.T) {
	f := newFixture(t)
	h := handler.NewStoreHandler(f.storeSvc)

	testutil.RunHTTPTestCases(t, h.Connect, []testutil.HTTPTestCase{
		{
			Name:           "connects and normalizes the domain",
			Method:         http.MethodPost,
			Body:           map[string]any{"domain": "https://Acme.myshopify.com/admin", "access_token": "shpat_secret", "sync_frequency": "hourly"},
			Setup:          withTenant(f.tenantID),
			ExpectedStatus: http.StatusCreated,
			Validate: func(t *testing.T, tc *testutil.TestContext) {
				data := dataOf(t, tc)
				assert.Equal(t, "acme.myshopify.com", data["domain"])
				assert.Equal(t, string(storesync.ConnectionStateConnected), data["connection_state"])
				assert.Equal(t, "hourly", data["sync_frequency"])
				assert.NotContains(t, data, "access_token")
			},
		},
		{
			Name:           "missing token",
			Method:         http.MethodPost,
			Body:           map[string]any{"domain": "acme"},
			Setup:          withTenant(f.tenantID),
			ExpectedStatus: http.StatusBadRequest,
			Validate: func(t *testing.T, tc *testutil.TestContext) {
				testutil.AssertErrorResponse(t, tc, dto.ErrCodeValidation)
			},
		},
		{
			Name:           "invalid domain",
			Method:         http.MethodPost,
			Body:           map[string]any{"domain": "bad domain?", "access_token": "shpat_secret"},
			Setup:          withTenant(f.tenantID),
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Name:           "unknown frequency",
			Method:         http.MethodPost,
			Body:           map[string]any{"domain": "acme", "access_token": "shpat_secret", "sync_frequency": "yearly"},
			Setup:          withTenant(f.tenantID),
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Name:           "domain owned by another tenant",
			Method:         http.MethodPost,
			Body:           map[string]any{"domain": "acme", "access_token": "shpat_secret"},
			Setup:          withTenant(testutil.NewTestUUID("other-tenant")),
			ExpectedStatus: http.StatusConflict,
			Validate: func(t *testing.T, tc *testutil.TestContext) {
				testutil.AssertErrorResponse(t, tc, dto.ErrCodeConflict)
			},
		},
		{
			Name:           "no tenant",
			Method:         http.MethodPost,
			Body:           map[string]any{"domain": "acme", "access_token": "shpat_secret"},
			ExpectedStatus: http.StatusUnauthorized,
		},
	})
}

func TestStoreHandler_Connect_RejectedCredential(t *testing.T) {
	f := newFixture(t)
	f.api.FailVerify(storesync.ErrInvalidCredential)
	h := handler.NewStoreHandler(f.storeSvc)

	testutil.RunHTTPTestCase(t, h.Connect, testutil.HTTPTestCase{
		Method:         http.MethodPost,
		Body:           map[string]any{"domain": "acme", "access_token": "shpat_revoked"},
		Setup:          withTenant(f.tenantID),
		ExpectedStatus: http.StatusUnauthorized,
		Validate: func(t *testing.T, tc *testutil.TestContext) {
			testutil.AssertErrorResponse(t, tc, dto.ErrCodeInvalidCredential)
		},
	})
}

func TestStoreHandler_ListAndGet(t *testing.T) {
	f := newFixture(t)
	store := f.connectedStore(t, "acme")
	f.connectedStore(t, "globex")
	h := handler.NewStoreHandler(f.storeSvc)

	testutil.RunHTTPTestCase(t, h.List, testutil.HTTPTestCase{
		Setup:          withTenant(f.tenantID),
		ExpectedStatus: http.StatusOK,
		Validate: func(t *testing.T, tc *testutil.TestContext) {
			data, ok := testutil.JSONResponse(t, tc)["data"].([]any)
			require.True(t, ok)
			assert.Len(t, data, 2)
		},
	})

	testutil.RunHTTPTestCases(t, h.Get, []testutil.HTTPTestCase{
		{
			Name:           "found",
			Setup:          withTenant(f.tenantID, idParam(store.ID)),
			ExpectedStatus: http.StatusOK,
			Validate: func(t *testing.T, tc *testutil.TestContext) {
				assert.Equal(t, store.ID.String(), dataOf(t, tc)["id"])
			},
		},
		{
			Name:           "other tenant",
			Setup:          withTenant(testutil.NewTestUUID("other-tenant"), idParam(store.ID)),
			ExpectedStatus: http.StatusNotFound,
		},
		{
			Name:           "malformed id",
			Setup:          withTenant(f.tenantID, gin.Param{Key: "id", Value: "not-a-uuid"}),
			ExpectedStatus: http.StatusBadRequest,
		},
	})
}

func TestStoreHandler_Disconnect(t *testing.T) {
	f := newFixture(t)
	h := handler.NewStoreHandler(f.storeSvc)
	ctx := context.Background()

	t.Run("keeps the store", func(t *testing.T) {
		store := f.connectedStore(t, "acme")
		testutil.RunHTTPTestCase(t, h.Disconnect, testutil.HTTPTestCase{
			Method:         http.MethodDelete,
			Setup:          withTenant(f.tenantID, idParam(store.ID)),
			ExpectedStatus: http.StatusOK,
			Validate: func(t *testing.T, tc *testutil.TestContext) {
				assert.Equal(t, string(storesync.ConnectionStateDisconnected), dataOf(t, tc)["connection_state"])
			},
		})
		got, err := f.stores.FindByID(ctx, f.tenantID, store.ID)
		require.NoError(t, err)
		assert.Empty(t, got.AccessToken)
	})

	t.Run("purge removes the store", func(t *testing.T) {
		store := f.connectedStore(t, "globex")
		testutil.RunHTTPTestCase(t, h.Disconnect, testutil.HTTPTestCase{
			Method:         http.MethodDelete,
			Path:           "/?purge=true",
			Setup:          withTenant(f.tenantID, idParam(store.ID)),
			ExpectedStatus: http.StatusOK,
		})
		_, err := f.stores.FindByID(ctx, f.tenantID, store.ID)
		assert.True(t, errors.Is(err, storesync.ErrStoreNotFound))
	})

	t.Run("refused while syncing", func(t *testing.T) {
		store := f.connectedStore(t, "initech")
		job, err := storesync.NewSyncJob(f.tenantID, store.ID, storesync.SyncTypeFull, storesync.TriggerManual, store.CreatedAt)
		require.NoError(t, err)
		acquired, err := f.registry.TryAcquire(ctx, job)
		require.NoError(t, err)
		require.True(t, acquired)

		testutil.RunHTTPTestCase(t, h.Disconnect, testutil.HTTPTestCase{
			Method:         http.MethodDelete,
			Setup:          withTenant(f.tenantID, idParam(store.ID)),
			ExpectedStatus: http.StatusConflict,
			Validate: func(t *testing.T, tc *testutil.TestContext) {
				testutil.AssertErrorResponse(t, tc, dto.ErrCodeSyncInProgress)
			},
		})
	})

	t.Run("unknown store", func(t *testing.T) {
		testutil.RunHTTPTestCase(t, h.Disconnect, testutil.HTTPTestCase{
			Method:         http.MethodDelete,
			Setup:          withTenant(f.tenantID, idParam(uuid.New())),
			ExpectedStatus: http.StatusNotFound,
		})
	})
}

func TestStoreHandler_UpdateFrequency(t *testing.T) {
	f := newFixture(t)
	store := f.connectedStore(t, "acme")
	h := handler.NewStoreHandler(f.storeSvc)

	testutil.RunHTTPTestCases(t, h.UpdateFrequency, []testutil.HTTPTestCase{
		{
			Name:           "weekly",
			Method:         http.MethodPut,
			Body:           map[string]any{"sync_frequency": "weekly"},
			Setup:          withTenant(f.tenantID, idParam(store.ID)),
			ExpectedStatus: http.StatusOK,
			Validate: func(t *testing.T, tc *testutil.TestContext) {
				assert.Equal(t, "weekly", dataOf(t, tc)["sync_frequency"])
			},
		},
		{
			Name:           "missing frequency",
			Method:         http.MethodPut,
			Body:           map[string]any{},
			Setup:          withTenant(f.tenantID, idParam(store.ID)),
			ExpectedStatus: http.StatusBadRequest,
		},
	})
}

func TestStoreHandler_TestConnection(t *testing.T) {
	f := newFixture(t)
	store := f.connectedStore(t, "acme")
	h := handler.NewStoreHandler(f.storeSvc)

	testutil.RunHTTPTestCase(t, h.TestConnection, testutil.HTTPTestCase{
		Method:         http.MethodPost,
		Setup:          withTenant(f.tenantID, idParam(store.ID)),
		ExpectedStatus: http.StatusOK,
		Validate: func(t *testing.T, tc *testutil.TestContext) {
			counts, ok := dataOf(t, tc)["counts"].(map[string]any)
			require.True(t, ok)
			assert.EqualValues(t, 3, counts["customers"])
		},
	})
}
