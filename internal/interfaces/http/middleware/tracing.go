package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storesync/backend/internal/infrastructure/telemetry"
)

// Tracing starts the server span of each request. Requests to untraced
// paths, such as health probes, get no span.
func Tracing(serviceName string, untraced ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(untraced))
	for _, p := range untraced {
		skip[p] = struct{}{}
	}
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		_, ok := skip[r.URL.Path]
		return !ok
	}))
}

// SpanEnricher tags the server span with the request, tenant and addressed
// store or job, and marks 5xx responses failed. It runs after Tenant.
func SpanEnricher() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			c.Next()
			return
		}
		span.SetAttributes(requestAttributes(c)...)

		c.Next()

		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func requestAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := GetRequestID(c); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if tenantID, ok := GetTenantUUID(c); ok {
		attrs = append(attrs, telemetry.SpanAttrTenantID.String(tenantID.String()))
	}
	if id := c.Param("id"); id != "" {
		switch route := c.FullPath(); {
		case strings.Contains(route, "/stores/:id"):
			attrs = append(attrs, telemetry.SpanAttrStoreID.String(id))
		case strings.Contains(route, "/jobs/:id"):
			attrs = append(attrs, telemetry.SpanAttrJobID.String(id))
		}
	}
	return attrs
}
