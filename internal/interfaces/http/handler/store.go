package handler

import (
	"github.com/gin-gonic/gin"

	storesyncapp "github.com/storesync/backend/internal/application/storesync"
	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/interfaces/http/middleware"
)

// ConnectStoreRequest is the body of POST /stores
type ConnectStoreRequest struct {
	Domain        string `json:"domain" binding:"required,shop_domain"`
	AccessToken   string `json:"access_token" binding:"required,min=8"`
	SyncFrequency string `json:"sync_frequency" binding:"omitempty,oneof=hourly every_4_hours every_12_hours daily weekly manual"`
}

// UpdateFrequencyRequest is the body of PUT /stores/:id/frequency
type UpdateFrequencyRequest struct {
	SyncFrequency string `json:"sync_frequency" binding:"required,oneof=hourly every_4_hours every_12_hours daily weekly manual"`
}

// StoreHandler serves store connection endpoints
type StoreHandler struct {
	BaseHandler
	stores *storesyncapp.StoreService
}

// NewStoreHandler creates a new StoreHandler
func NewStoreHandler(stores *storesyncapp.StoreService) *StoreHandler {
	return &StoreHandler{stores: stores}
}

// Connect verifies the credential and connects a shop
// POST /stores
func (h *StoreHandler) Connect(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req ConnectStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	store, err := h.stores.ConnectStore(c.Request.Context(), tenantID, storesyncapp.ConnectStoreInput{
		Domain:        req.Domain,
		AccessToken:   req.AccessToken,
		SyncFrequency: storesync.SyncFrequency(req.SyncFrequency),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, store)
}

// List returns the tenant's stores
// GET /stores
func (h *StoreHandler) List(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	stores, err := h.stores.ListStores(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stores)
}

// Get returns one store
// GET /stores/:id
func (h *StoreHandler) Get(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	storeID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	store, err := h.stores.GetStore(c.Request.Context(), tenantID, storeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, store)
}

// Disconnect drops the store's credential. With ?purge=true the store row is
// removed as well; synced records are kept either way.
// DELETE /stores/:id
func (h *StoreHandler) Disconnect(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	storeID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	store, err := h.stores.DisconnectStore(ctx, tenantID, storeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if c.Query("purge") == "true" {
		if err := h.stores.RemoveStore(ctx, tenantID, storeID); err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, gin.H{"id": storeID, "removed": true})
		return
	}
	h.Success(c, store)
}

// UpdateFrequency changes the scheduled sync frequency
// PUT /stores/:id/frequency
func (h *StoreHandler) UpdateFrequency(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	storeID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req UpdateFrequencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	store, err := h.stores.UpdateSyncFrequency(c.Request.Context(), tenantID, storeID, storesync.SyncFrequency(req.SyncFrequency))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, store)
}

// TestConnection re-verifies the stored credential
// POST /stores/:id/test
func (h *StoreHandler) TestConnection(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	storeID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	result, err := h.stores.TestConnection(c.Request.Context(), tenantID, storeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
