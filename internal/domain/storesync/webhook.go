package storesync

import (
	"context"
	"strings"
	"time"
)

// WebhookAction is what a webhook event asks for
type WebhookAction string

const (
	WebhookUpsert WebhookAction = "upsert"
	WebhookDelete WebhookAction = "delete"
)

// WebhookEvent is a store event delivered by the platform. Signature
// verification happens before the event reaches this package.
type WebhookEvent struct {
	Topic      string
	ShopDomain string
	Payload    []byte
	DeliveryID string // platform webhook id; empty disables deduplication
}

// WebhookDeliveryStore remembers processed webhook deliveries. The platform
// retries deliveries it considers failed, so the same id may arrive twice.
type WebhookDeliveryStore interface {
	// IsProcessed reports whether the delivery was already applied
	IsProcessed(ctx context.Context, deliveryID string) (bool, error)
	// MarkProcessed records the delivery for ttl. It returns false when the
	// delivery was already recorded.
	MarkProcessed(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error)
}

// ParseWebhookTopic maps a topic like "orders/updated" to its resource kind
// and action.
func ParseWebhookTopic(topic string) (ResourceKind, WebhookAction, error) {
	resource, event, ok := strings.Cut(strings.ToLower(strings.TrimSpace(topic)), "/")
	if !ok {
		return "", "", ErrUnsupportedTopic
	}
	kind := ResourceKind(resource)
	if !kind.IsValid() {
		return "", "", ErrUnsupportedTopic
	}

	switch event {
	case "create", "update", "updated":
		return kind, WebhookUpsert, nil
	case "delete":
		return kind, WebhookDelete, nil
	}
	return "", "", ErrUnsupportedTopic
}

// DeletedResource is the payload of a delete event
type DeletedResource struct {
	ID int64 `json:"id"`
}
