package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments creates a set of instruments on one meter. Creation errors are
// collected so a constructor can check Err once after declaring everything.
type Instruments struct {
	meter metric.Meter
	errs  []error
}

// NewInstruments returns a builder for meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	return &Instruments{meter: meter}, nil
}

// Err returns every creation failure seen so far.
func (in *Instruments) Err() error {
	return errors.Join(in.errs...)
}

func (in *Instruments) fail(kind, name string, err error) {
	in.errs = append(in.errs, fmt.Errorf("create %s %s: %w", kind, name, err))
}

// Counter declares a monotonic int64 counter.
func (in *Instruments) Counter(name, unit, description string) *Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		in.fail("counter", name, err)
		return nil
	}
	return &Counter{inst: c}
}

// Histogram declares a float64 histogram. Nil buckets use the SDK defaults.
func (in *Instruments) Histogram(name, unit, description string, buckets []float64) *Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(description), metric.WithUnit(unit)}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	if err != nil {
		in.fail("histogram", name, err)
		return nil
	}
	return &Histogram{inst: h}
}

// Gauge declares an int64 gauge holding the last recorded value.
func (in *Instruments) Gauge(name, unit, description string) *Gauge {
	g, err := in.meter.Int64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		in.fail("gauge", name, err)
		return nil
	}
	return &Gauge{inst: g}
}

// Counter is nil-safe.
type Counter struct {
	inst metric.Int64Counter
}

func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.inst.Add(ctx, n, metric.WithAttributes(attrs...))
}

func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Histogram is nil-safe.
type Histogram struct {
	inst metric.Float64Histogram
}

func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.inst.Record(ctx, v, metric.WithAttributes(attrs...))
}

// RecordDuration records d in seconds.
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), attrs...)
}

// Gauge is nil-safe.
type Gauge struct {
	inst metric.Int64Gauge
}

func (g *Gauge) Record(ctx context.Context, v int64, attrs ...attribute.KeyValue) {
	if g == nil {
		return
	}
	g.inst.Record(ctx, v, metric.WithAttributes(attrs...))
}
