package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/storesync/backend/internal/infrastructure/telemetry"
)

func newTracedRouter(t *testing.T, tenantID uuid.UUID) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})

	r := gin.New()
	r.Use(Tracing("storesync-test", "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	api := r.Group("", func(c *gin.Context) {
		c.Set(TenantIDKey, tenantID)
		c.Next()
	}, SpanEnricher())
	api.GET("/stores/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	api.GET("/sync/jobs/:id", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	return r, sr
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestTracing_SkipsUntracedPaths(t *testing.T) {
	r, sr := newTracedRouter(t, uuid.New())
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, sr.Ended())
}

func TestSpanEnricher(t *testing.T) {
	tenantID := uuid.New()
	r, sr := newTracedRouter(t, tenantID)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stores/s-1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sync/jobs/j-1", nil))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	store := spanAttrs(spans[0])
	assert.Equal(t, tenantID.String(), store[telemetry.SpanAttrTenantID])
	assert.Equal(t, "s-1", store[telemetry.SpanAttrStoreID])
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)

	job := spanAttrs(spans[1])
	assert.Equal(t, "j-1", job[telemetry.SpanAttrJobID])
	assert.NotContains(t, job, telemetry.SpanAttrStoreID)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
