package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer of sync and webhook spans
const TracerName = "storesync"

// Span attribute keys
const (
	SpanAttrTenantID   attribute.Key = "storesync.tenant_id"
	SpanAttrStoreID    attribute.Key = "storesync.store_id"
	SpanAttrJobID      attribute.Key = "storesync.job_id"
	SpanAttrSyncType   attribute.Key = "storesync.sync_type"
	SpanAttrTrigger    attribute.Key = "storesync.trigger"
	SpanAttrKind       attribute.Key = "storesync.resource_kind"
	SpanAttrTopic      attribute.Key = "storesync.webhook_topic"
	SpanAttrShopDomain attribute.Key = "storesync.shop_domain"
	SpanAttrFetched    attribute.Key = "storesync.records.fetched"
	SpanAttrPersisted  attribute.Key = "storesync.records.persisted"
	SpanAttrFailed     attribute.Key = "storesync.records.failed"
	SpanAttrPages      attribute.Key = "storesync.pages"
)

// StartSpan starts an internal span on the global provider. The caller ends it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, name, trace.SpanKindInternal, attrs)
}

// StartConsumerSpan starts a span for work pushed to us, such as a webhook
// delivery.
func StartConsumerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, name, trace.SpanKindConsumer, attrs)
}

func start(ctx context.Context, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(kind)}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span successful
func SetOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Conclude sets the final status from err: failed when non-nil, ok otherwise
func Conclude(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
		return
	}
	SetOK(span)
}

// CountAttributes returns the record counters of a page loop
func CountAttributes(fetched, persisted, failed, pages int) []attribute.KeyValue {
	return []attribute.KeyValue{
		SpanAttrFetched.Int(fetched),
		SpanAttrPersisted.Int(persisted),
		SpanAttrFailed.Int(failed),
		SpanAttrPages.Int(pages),
	}
}

// TraceID returns the trace id of the span in ctx, or "" when there is none
func TraceID(ctx context.Context) string {
	traceID := trace.SpanFromContext(ctx).SpanContext().TraceID()
	if !traceID.IsValid() {
		return ""
	}
	return traceID.String()
}
