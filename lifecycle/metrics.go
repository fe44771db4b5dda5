package lifecycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for datastore operations.
type metrics struct {
	// Operation latency histogram
	operationDuration metric.Float64Histogram

	// Lifecycle defects
	doubleFinished metric.Int64Counter
	orphaned       metric.Int64Counter
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	// Operation duration histogram with recommended buckets for database operations
	m.operationDuration, err = meter.Float64Histogram(
		"db.client.operation.duration",
		metric.WithDescription("Duration of database client operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.doubleFinished, err = meter.Int64Counter(
		"db.client.operation.double_finish",
		metric.WithDescription("Number of finish notifications received for already finished operations"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	m.orphaned, err = meter.Int64Counter(
		"db.client.operation.orphaned",
		metric.WithDescription("Number of operations that finished after their unit of work ended"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordDuration records the duration of a finished operation.
func (m *metrics) recordDuration(
	ctx context.Context,
	duration time.Duration,
	operation string,
	attrs []attribute.KeyValue,
	err error,
) {
	if m == nil || m.operationDuration == nil {
		return
	}

	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs, attrs...)

	if operation != "" {
		allAttrs = append(allAttrs, attribute.String("db.operation", operation))
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	allAttrs = append(allAttrs, attribute.String("status", status))

	m.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(allAttrs...))
}

func (m *metrics) recordDoubleFinish(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.doubleFinished == nil {
		return
	}
	m.doubleFinished.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordOrphaned(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.orphaned == nil {
		return
	}
	m.orphaned.Add(ctx, 1, metric.WithAttributes(attrs...))
}
