package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/storesync/backend/internal/infrastructure/telemetry"
)

type httpMetrics struct {
	requests *telemetry.Counter
	duration *telemetry.Histogram
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	in, err := telemetry.NewInstruments(meter)
	if err != nil {
		return nil, err
	}
	m := &httpMetrics{
		requests: in.Counter("http_server_request_total", "{requests}", "HTTP requests by route and status"),
		duration: in.Histogram("http_server_request_duration_seconds", "s", "HTTP request latency", telemetry.HTTPDurationBuckets),
	}
	return m, in.Err()
}

// HTTPMetrics counts requests and records latency per route pattern.
// Unmatched routes are grouped under "unmatched" to bound cardinality.
func HTTPMetrics(meter metric.Meter) (gin.HandlerFunc, error) {
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := c.Request.Context()
		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		m.duration.RecordDuration(ctx, time.Since(start), attrs...)

		attrs = append(attrs, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))
		if tenantID, ok := GetTenantUUID(c); ok {
			attrs = append(attrs, telemetry.AttrTenantID.String(tenantID.String()))
		}
		m.requests.Inc(ctx, attrs...)
	}, nil
}
