package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestDaemonMetrics_RecordTrigger(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	dm, err := NewDaemonMetrics(provider.Meter("saasmeter.daemon"))
	require.NoError(t, err)

	ctx := context.Background()
	dm.RecordTrigger(ctx, "initial")
	dm.RecordTrigger(ctx, "interval")
	dm.RecordTrigger(ctx, "interval")

	metrics := collect(t, reader)
	m, ok := metrics["saasmeter.daemon.triggers"]
	require.True(t, ok)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2)

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		source, _ := dp.Attributes.Value(attribute.Key("source"))
		counts[source.AsString()] = dp.Value
	}
	assert.Equal(t, int64(1), counts["initial"])
	assert.Equal(t, int64(2), counts["interval"])
}

func TestDaemonMetrics_RecordReload(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	dm, err := NewDaemonMetrics(provider.Meter("saasmeter.daemon"))
	require.NoError(t, err)

	dm.RecordReload(context.Background(), "error")

	m, ok := collect(t, reader)["saasmeter.daemon.config_reloads"]
	require.True(t, ok)
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)

	status, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.Equal(t, "error", status.AsString())
}

func TestDaemonMetrics_RecordPassCompleted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	dm, err := NewDaemonMetrics(provider.Meter("saasmeter.daemon"))
	require.NoError(t, err)

	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	dm.RecordPassCompleted(context.Background(), started)

	m, ok := collect(t, reader)["saasmeter.daemon.last_success_timestamp"]
	require.True(t, ok)
	gauge := m.Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, started.Unix(), gauge.DataPoints[0].Value)
}
