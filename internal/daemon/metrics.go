package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds operational metrics of the daemon loop.
type DaemonMetrics struct {
	triggers    metric.Int64Counter
	reloads     metric.Int64Counter
	lastSuccess metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on meter.
func NewDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	triggers, err := meter.Int64Counter(
		"saasmeter.daemon.triggers",
		metric.WithDescription("Number of pass triggers by source"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return nil, err
	}

	reloads, err := meter.Int64Counter(
		"saasmeter.daemon.config_reloads",
		metric.WithDescription("Number of config reloads by status"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, err
	}

	lastSuccess, err := meter.Int64Gauge(
		"saasmeter.daemon.last_success_timestamp",
		metric.WithDescription("Start time of the last completed pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		triggers:    triggers,
		reloads:     reloads,
		lastSuccess: lastSuccess,
	}, nil
}

// RecordTrigger records a pass trigger.
func (m *DaemonMetrics) RecordTrigger(ctx context.Context, source string) {
	m.triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordReload records a config reload with status.
func (m *DaemonMetrics) RecordReload(ctx context.Context, status string) {
	m.reloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordPassCompleted records the start time of a completed pass.
func (m *DaemonMetrics) RecordPassCompleted(ctx context.Context, started time.Time) {
	m.lastSuccess.Record(ctx, started.Unix())
}
