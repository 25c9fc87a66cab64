package handler

import (
	"github.com/gin-gonic/gin"

	storesyncapp "github.com/storesync/backend/internal/application/storesync"
	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/ecommerce"
	"github.com/storesync/backend/internal/interfaces/http/dto"
)

// Webhook headers sent by the store platform
const (
	HeaderShopifyTopic      = "X-Shopify-Topic"
	HeaderShopifyShopDomain = "X-Shopify-Shop-Domain"
	HeaderShopifyWebhookID  = "X-Shopify-Webhook-Id"
)

// WebhookHandler applies push notifications from connected shops
type WebhookHandler struct {
	BaseHandler
	syncs  *storesyncapp.SyncService
	secret string
}

// WebhookOption configures a WebhookHandler
type WebhookOption func(*WebhookHandler)

// WithWebhookSecret makes the handler reject deliveries whose
// X-Shopify-Hmac-Sha256 header does not match the body.
func WithWebhookSecret(secret string) WebhookOption {
	return func(h *WebhookHandler) {
		h.secret = secret
	}
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(syncs *storesyncapp.SyncService, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{syncs: syncs}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Shopify handles a single webhook delivery
// POST /webhooks/shopify
func (h *WebhookHandler) Shopify(c *gin.Context) {
	topic := c.GetHeader(HeaderShopifyTopic)
	shop := c.GetHeader(HeaderShopifyShopDomain)
	if topic == "" || shop == "" {
		h.BadRequest(c, "Missing webhook topic or shop domain header")
		return
	}
	payload, err := c.GetRawData()
	if err != nil {
		h.BadRequest(c, "Failed to read webhook payload")
		return
	}
	if h.secret != "" && !ecommerce.VerifyShopifyWebhook(h.secret, payload, c.GetHeader(ecommerce.HeaderShopifyHmac)) {
		h.Error(c, dto.ErrCodeUnauthorized, "Invalid webhook signature")
		return
	}

	result, err := h.syncs.ProcessWebhook(c.Request.Context(), storesync.WebhookEvent{
		Topic:      topic,
		ShopDomain: shop,
		DeliveryID: c.GetHeader(HeaderShopifyWebhookID),
		Payload:    payload,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ShopDomainKey keys webhook rate limiting by the sending shop
func ShopDomainKey(c *gin.Context) string {
	if shop := c.GetHeader(HeaderShopifyShopDomain); shop != "" {
		return shop
	}
	return c.ClientIP()
}
