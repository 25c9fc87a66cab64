package storesync

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/infrastructure/logger"
	"github.com/storesync/backend/internal/infrastructure/telemetry"
)

// ProcessWebhook applies a single store event: the record is upserted, or
// deleted by external id for delete topics. The event's signature must have
// been verified by the caller.
func (s *SyncService) ProcessWebhook(ctx context.Context, event storesync.WebhookEvent) (*WebhookResult, error) {
	ctx, span := telemetry.StartConsumerSpan(ctx, "storesync.webhook",
		telemetry.SpanAttrTopic.String(event.Topic),
		telemetry.SpanAttrShopDomain.String(event.ShopDomain),
	)
	defer span.End()

	kind, action, err := storesync.ParseWebhookTopic(event.Topic)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordWebhook(ctx, event.Topic, telemetry.OutcomeFailed)
		return nil, err
	}

	if s.isDuplicateDelivery(ctx, event) {
		s.metrics.RecordWebhook(ctx, event.Topic, telemetry.OutcomeDuplicate)
		telemetry.SetOK(span)
		logger.Enrich(ctx, s.logger).Info("Webhook delivery already processed",
			zap.String("topic", event.Topic),
			zap.String("delivery_id", event.DeliveryID),
		)
		return &WebhookResult{Kind: kind, Action: action, Duplicate: true}, nil
	}

	result, err := s.applyWebhook(ctx, event, kind, action)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordWebhook(ctx, event.Topic, telemetry.OutcomeFailed)
		logger.Enrich(ctx, s.logger).Warn("Webhook processing failed",
			zap.String("topic", event.Topic),
			zap.String("shop_domain", event.ShopDomain),
			zap.Error(err),
		)
		return nil, err
	}

	s.markDelivered(ctx, event)
	telemetry.SetOK(span)
	s.metrics.RecordWebhook(ctx, event.Topic, telemetry.OutcomePersisted)
	logger.Enrich(ctx, s.logger).Info("Webhook processed",
		zap.String("topic", event.Topic),
		zap.String("store_id", result.StoreID.String()),
		zap.Int64("external_id", result.ExternalID),
	)
	return result, nil
}

func (s *SyncService) applyWebhook(ctx context.Context, event storesync.WebhookEvent, kind storesync.ResourceKind, action storesync.WebhookAction) (*WebhookResult, error) {
	domain, err := storesync.NormalizeDomain(event.ShopDomain)
	if err != nil {
		return nil, err
	}
	store, err := s.stores.FindByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if store.ConnectionState == storesync.ConnectionStateDisconnected {
		return nil, storesync.ErrStoreNotConnected
	}

	result := &WebhookResult{StoreID: store.ID, Kind: kind, Action: action}

	if action == storesync.WebhookDelete {
		var deleted storesync.DeletedResource
		if err := json.Unmarshal(event.Payload, &deleted); err != nil || deleted.ID == 0 {
			return nil, fmt.Errorf("%w: delete payload has no id", storesync.ErrInvalidRecord)
		}
		result.ExternalID = deleted.ID
		if err := s.records.DeleteByExternalID(ctx, kind, store.TenantID, store.ID, deleted.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", storesync.ErrPersistence, err)
		}
		return result, nil
	}

	page := &storesync.Page{Kind: kind}
	var decodeErr error
	switch kind {
	case storesync.ResourceCustomers:
		var raw storesync.RemoteCustomer
		decodeErr = json.Unmarshal(event.Payload, &raw)
		page.Customers = []storesync.RemoteCustomer{raw}
	case storesync.ResourceProducts:
		var raw storesync.RemoteProduct
		decodeErr = json.Unmarshal(event.Payload, &raw)
		page.Products = []storesync.RemoteProduct{raw}
	case storesync.ResourceOrders:
		var raw storesync.RemoteOrder
		decodeErr = json.Unmarshal(event.Payload, &raw)
		page.Orders = []storesync.RemoteOrder{raw}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", storesync.ErrInvalidRecord, decodeErr)
	}
	result.ExternalID = page.LastID()

	if _, failed := s.persistPage(ctx, store.TenantID, store.ID, page); len(failed) > 0 {
		return nil, failed[0]
	}
	return result, nil
}

// isDuplicateDelivery reports whether the delivery was applied before. A
// failing store lets the delivery through; applying a webhook twice only
// rewrites the same record.
func (s *SyncService) isDuplicateDelivery(ctx context.Context, event storesync.WebhookEvent) bool {
	if s.deliveries == nil || event.DeliveryID == "" {
		return false
	}
	seen, err := s.deliveries.IsProcessed(ctx, event.DeliveryID)
	if err != nil {
		logger.Enrich(ctx, s.logger).Warn("Failed to check webhook delivery",
			zap.String("delivery_id", event.DeliveryID),
			zap.Error(err),
		)
		return false
	}
	return seen
}

func (s *SyncService) markDelivered(ctx context.Context, event storesync.WebhookEvent) {
	if s.deliveries == nil || event.DeliveryID == "" {
		return
	}
	if _, err := s.deliveries.MarkProcessed(ctx, event.DeliveryID, s.config.DeliveryTTL); err != nil {
		logger.Enrich(ctx, s.logger).Warn("Failed to record webhook delivery",
			zap.String("delivery_id", event.DeliveryID),
			zap.Error(err),
		)
	}
}
