package sink

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/saasmeter/pkg/emission"
)

// recordingSink implements PassSink for testing.
type recordingSink struct {
	mu      sync.Mutex
	emitted []emission.Emission
	begins  int
	commits int
	aborts  int
}

func (r *recordingSink) EmitGauge(name string, value float64, labels emission.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, emission.Emission{Name: name, Value: value, Labels: labels})
}

func (r *recordingSink) BeginPass()  { r.begins++ }
func (r *recordingSink) CommitPass() { r.commits++ }
func (r *recordingSink) AbortPass()  { r.aborts++ }

// plainSink implements only Sink.
type plainSink struct{ calls int }

func (p *plainSink) EmitGauge(string, float64, emission.Labels) { p.calls++ }

func TestPrometheusSink_EmitGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, WithNamespace("saasmeter"), WithHelp(map[string]string{
		"cluster_status": "Change status of a cluster.",
	}))

	s.EmitGauge("cluster_status", 1, emission.L("project", "alpha", "cluster", "c0"))
	s.EmitGauge("cluster_status", 0, emission.L("project", "alpha", "cluster", "c1"))

	expected := `
# HELP saasmeter_cluster_status Change status of a cluster.
# TYPE saasmeter_cluster_status gauge
saasmeter_cluster_status{cluster="c0",project="alpha"} 1
saasmeter_cluster_status{cluster="c1",project="alpha"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "saasmeter_cluster_status"))
}

func TestPrometheusSink_LastWriteWins(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.BeginPass()
	s.EmitGauge("hourly_rate", 1.5, emission.L("id", "d-1", "name", "prod"))
	s.CommitPass()

	s.BeginPass()
	s.EmitGauge("hourly_rate", 2.5, emission.L("name", "prod", "id", "d-1"))
	s.CommitPass()

	assert.Equal(t, 1, count(t, reg, "hourly_rate"))
	value := testutil.ToFloat64(mustFamily(t, s, "hourly_rate").vec.WithLabelValues("d-1", "prod"))
	assert.Equal(t, 2.5, value)
}

func TestPrometheusSink_NoLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, WithNamespace("saasmeter"))

	s.EmitGauge("monthly_cost_grand_total", 42, emission.Labels{})

	expected := `
# HELP saasmeter_monthly_cost_grand_total saasmeter_monthly_cost_grand_total gauge
# TYPE saasmeter_monthly_cost_grand_total gauge
saasmeter_monthly_cost_grand_total 42
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))
}

func TestPrometheusSink_MismatchedLabelKeysDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.EmitGauge("project_users_total", 3, emission.L("project", "alpha"))
	s.EmitGauge("project_users_total", 4, emission.L("project", "beta", "extra", "x"))

	assert.Equal(t, 1, count(t, reg, "project_users_total"))
}

func TestPrometheusSink_ExpiresStaleSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, WithStaleExpiry(true))

	s.BeginPass()
	s.EmitGauge("project_users_total", 3, emission.L("project", "alpha"))
	s.EmitGauge("project_users_total", 1, emission.L("project", "beta"))
	s.CommitPass()
	require.Equal(t, 2, count(t, reg, "project_users_total"))

	s.BeginPass()
	s.EmitGauge("project_users_total", 4, emission.L("project", "alpha"))
	s.CommitPass()

	expected := `
# HELP project_users_total project_users_total gauge
# TYPE project_users_total gauge
project_users_total{project="alpha"} 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))

	active := s.Series()
	require.Len(t, active, 1)
	assert.Equal(t, `project_users_total{project="alpha"}`, active[0].Key)
}

func TestPrometheusSink_KeepsStaleSeriesWhenDisabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, WithStaleExpiry(false))

	s.BeginPass()
	s.EmitGauge("project_users_total", 3, emission.L("project", "alpha"))
	s.EmitGauge("project_users_total", 1, emission.L("project", "beta"))
	s.CommitPass()

	s.BeginPass()
	s.EmitGauge("project_users_total", 4, emission.L("project", "alpha"))
	s.CommitPass()

	assert.Equal(t, 2, count(t, reg, "project_users_total"))
}

func TestPrometheusSink_AbortKeepsPublishedValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, WithStaleExpiry(true))

	s.BeginPass()
	s.EmitGauge("cluster_status", 0, emission.L("project", "alpha", "cluster", "c0"))
	s.CommitPass()

	s.BeginPass()
	s.AbortPass()

	assert.Equal(t, 1, count(t, reg, "cluster_status"))
	assert.Len(t, s.Series(), 1)
}

func TestPrometheusSink_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheusSink(reg)
	b := NewPrometheusSink(reg)

	a.EmitGauge("hourly_rate", 1, emission.L("id", "d-1", "name", "prod"))
	b.EmitGauge("hourly_rate", 2, emission.L("id", "d-2", "name", "dev"))

	assert.Equal(t, 2, count(t, reg, "hourly_rate"))
}

func TestPrometheusSink_ConcurrentEmits(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			project := string(rune('a' + i))
			s.EmitGauge("project_users_total", float64(i), emission.L("project", project))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, count(t, reg, "project_users_total"))
}

func TestSeriesTracker(t *testing.T) {
	tracker := NewSeriesTracker()

	assert.Nil(t, tracker.Stale(), "no baseline before first commit")

	_, dup := tracker.Observe("m", emission.L("k", "1"), 1)
	assert.False(t, dup)
	_, dup = tracker.Observe("m", emission.L("k", "1"), 1)
	assert.False(t, dup, "same value is not a conflict")
	prev, dup := tracker.Observe("m", emission.L("k", "1"), 2)
	assert.True(t, dup)
	assert.Equal(t, 1.0, prev)

	tracker.Observe("m", emission.L("k", "2"), 1)
	tracker.Commit()
	assert.Len(t, tracker.Active(), 2)

	tracker.Observe("m", emission.L("k", "2"), 1)
	stale := tracker.Stale()
	require.Len(t, stale, 1)
	assert.Equal(t, `m{k="1"}`, stale[0].Key)
}

func TestMultiSink(t *testing.T) {
	r := &recordingSink{}
	p := &plainSink{}
	multi := NewMultiSink(r, p)

	multi.BeginPass()
	multi.EmitGauge("m", 1, emission.L("k", "v"))
	multi.CommitPass()
	multi.AbortPass()

	assert.Len(t, r.emitted, 1)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 1, r.begins)
	assert.Equal(t, 1, r.commits)
	assert.Equal(t, 1, r.aborts)
}

func TestLogSink(t *testing.T) {
	var buf strings.Builder
	l := &LogSink{logger: zerolog.New(&buf), level: zerolog.InfoLevel}

	l.EmitGauge("cluster_status", 2, emission.L("project", "alpha", "cluster", "c0"))

	out := buf.String()
	assert.Contains(t, out, `"metric":"cluster_status"`)
	assert.Contains(t, out, `"project":"alpha"`)
	assert.Contains(t, out, `"value":2`)
}

func mustFamily(t *testing.T, s *PrometheusSink, name string) *gaugeFamily {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[name]
	require.True(t, ok)
	return f
}

func count(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	n, err := testutil.GatherAndCount(reg, name)
	require.NoError(t, err)
	return n
}
