package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/md-rashed-zaman/groupchat/libs/outbox"

type publisherMetrics struct {
	published     metric.Int64Counter
	failed        metric.Int64Counter
	quarantined   metric.Int64Counter
	batchDuration metric.Float64Histogram
	attrs         metric.MeasurementOption
}

func newPublisherMetrics(exchange string) *publisherMetrics {
	meter := otel.Meter(instrumentationName)
	m := &publisherMetrics{
		attrs: metric.WithAttributes(attribute.String("messaging.destination.name", exchange)),
	}

	var err error
	if m.published, err = meter.Int64Counter("outbox.records.published",
		metric.WithDescription("Outbox records confirmed by the broker")); err != nil {
		m.published = noop.Int64Counter{}
	}
	if m.failed, err = meter.Int64Counter("outbox.records.failed_attempts",
		metric.WithDescription("Failed delivery attempts")); err != nil {
		m.failed = noop.Int64Counter{}
	}
	if m.quarantined, err = meter.Int64Counter("outbox.records.quarantined",
		metric.WithDescription("Records moved to FAILED after exhausting retries")); err != nil {
		m.quarantined = noop.Int64Counter{}
	}
	if m.batchDuration, err = meter.Float64Histogram("outbox.batch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of one publisher poll")); err != nil {
		m.batchDuration = noop.Float64Histogram{}
	}
	return m
}

func (m *publisherMetrics) record(ctx context.Context, res BatchResult, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	if res.Published > 0 {
		m.published.Add(ctx, int64(res.Published), m.attrs)
	}
	if res.Failed > 0 {
		m.failed.Add(ctx, int64(res.Failed), m.attrs)
	}
	if res.Quarantined > 0 {
		m.quarantined.Add(ctx, int64(res.Quarantined), m.attrs)
	}
	m.batchDuration.Record(ctx, elapsed.Seconds(), m.attrs)
}
