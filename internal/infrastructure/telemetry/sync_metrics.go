package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sync metric attribute keys
var (
	AttrSyncType    = attribute.Key("sync.type")
	AttrSyncStatus  = attribute.Key("sync.status")
	AttrSyncSource  = attribute.Key("sync.source")
	AttrSyncKind    = attribute.Key("sync.kind")
	AttrSyncOutcome = attribute.Key("sync.outcome")
)

// Record outcomes
const (
	OutcomePersisted = "persisted"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// SyncDurationBuckets are bucket boundaries for whole sync jobs (seconds).
var SyncDurationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}

// SyncMetrics holds the instruments of the sync engine.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	jobsTotal       *Counter
	recordsTotal    *Counter
	sourceErrors    *Counter
	webhooksTotal   *Counter
	jobDuration     *Histogram
	activeJobsGauge *Gauge
}

// NewSyncMetrics registers the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	in, err := NewInstruments(meter)
	if err != nil {
		return nil, err
	}
	sm := &SyncMetrics{
		jobsTotal:       in.Counter("storesync_jobs_total", "{jobs}", "Finished sync jobs by status"),
		recordsTotal:    in.Counter("storesync_records_total", "{records}", "Synced records by kind and outcome"),
		sourceErrors:    in.Counter("storesync_source_errors_total", "{errors}", "Store API failures during syncs"),
		webhooksTotal:   in.Counter("storesync_webhooks_total", "{events}", "Processed webhook events"),
		jobDuration:     in.Histogram("storesync_job_duration_seconds", "s", "Duration of finished sync jobs", SyncDurationBuckets),
		activeJobsGauge: in.Gauge("storesync_active_jobs", "{jobs}", "Active sync jobs seen by the last health check"),
	}
	if err := in.Err(); err != nil {
		return nil, err
	}
	return sm, nil
}

// RecordJob records a finished job
func (m *SyncMetrics) RecordJob(ctx context.Context, syncType, source, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrSyncType.String(syncType),
		AttrSyncSource.String(source),
		AttrSyncStatus.String(status),
	}
	m.jobsTotal.Inc(ctx, attrs...)
	m.jobDuration.RecordDuration(ctx, d, attrs...)
}

// RecordRecords counts n records of kind with the given outcome
func (m *SyncMetrics) RecordRecords(ctx context.Context, kind, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsTotal.Add(ctx, int64(n), AttrSyncKind.String(kind), AttrSyncOutcome.String(outcome))
}

// RecordSourceError counts one store API failure for kind
func (m *SyncMetrics) RecordSourceError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.sourceErrors.Inc(ctx, AttrSyncKind.String(kind))
}

// RecordWebhook counts a processed webhook event
func (m *SyncMetrics) RecordWebhook(ctx context.Context, topic, outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.Inc(ctx, attribute.String("webhook.topic", topic), AttrSyncOutcome.String(outcome))
}

// RecordActiveJobs sets the active job gauge
func (m *SyncMetrics) RecordActiveJobs(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.activeJobsGauge.Record(ctx, int64(n))
}
