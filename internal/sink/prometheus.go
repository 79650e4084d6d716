package sink

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/saasmeter/pkg/emission"
)

// PrometheusSink publishes emissions as gauges on a Prometheus registry.
// One GaugeVec per metric name; the first emission fixes its label keys.
type PrometheusSink struct {
	namespace   string
	registerer  prometheus.Registerer
	help        map[string]string
	expireStale bool

	mu       sync.Mutex
	families map[string]*gaugeFamily
	tracker  *SeriesTracker
}

type gaugeFamily struct {
	vec  *prometheus.GaugeVec
	keys []string // sorted
}

// PrometheusOption configures a PrometheusSink.
type PrometheusOption func(*PrometheusSink)

// WithNamespace prefixes every metric name with namespace_.
func WithNamespace(namespace string) PrometheusOption {
	return func(s *PrometheusSink) { s.namespace = namespace }
}

// WithHelp sets help strings by bare metric name.
func WithHelp(help map[string]string) PrometheusOption {
	return func(s *PrometheusSink) { s.help = help }
}

// WithStaleExpiry deletes series a committed pass did not write.
func WithStaleExpiry(enabled bool) PrometheusOption {
	return func(s *PrometheusSink) { s.expireStale = enabled }
}

// NewPrometheusSink creates a sink registering its gauges on reg.
func NewPrometheusSink(reg prometheus.Registerer, opts ...PrometheusOption) *PrometheusSink {
	s := &PrometheusSink{
		registerer: reg,
		families:   make(map[string]*gaugeFamily),
		tracker:    NewSeriesTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmitGauge sets the gauge for (name, labels) to value.
func (s *PrometheusSink) EmitGauge(name string, value float64, labels emission.Labels) {
	s.mu.Lock()
	defer s.mu.Unlock()

	family, err := s.family(name, labels)
	if err != nil {
		log.Error().Err(err).Str("metric", name).Msg("dropping emission")
		return
	}

	family.vec.With(labels.Map()).Set(value)

	if prev, dup := s.tracker.Observe(name, labels, value); dup {
		log.Warn().
			Str("series", emission.SeriesKey(name, labels)).
			Float64("previous", prev).
			Float64("value", value).
			Msg("series written twice in one pass")
	}
}

func (s *PrometheusSink) family(name string, labels emission.Labels) (*gaugeFamily, error) {
	keys := labels.Keys()
	slices.Sort(keys)

	if f, ok := s.families[name]; ok {
		if !slices.Equal(f.keys, keys) {
			return nil, fmt.Errorf("label keys %v do not match registered keys %v", keys, f.keys)
		}
		return f, nil
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: s.namespace,
		Name:      name,
		Help:      s.helpFor(name),
	}, labels.Keys())

	if err := s.registerer.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register gauge: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, fmt.Errorf("register gauge: %w", err)
		}
		vec = existing
	}

	f := &gaugeFamily{vec: vec, keys: keys}
	s.families[name] = f
	return f, nil
}

func (s *PrometheusSink) helpFor(name string) string {
	if h, ok := s.help[name]; ok {
		return h
	}
	return prometheus.BuildFQName(s.namespace, "", name) + " gauge"
}

// BeginPass starts tracking a new pass.
func (s *PrometheusSink) BeginPass() {
	s.tracker.Reset()
}

// CommitPass makes the pass the new baseline, deleting stale series when enabled.
func (s *PrometheusSink) CommitPass() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expireStale {
		for _, series := range s.tracker.Stale() {
			f, ok := s.families[series.Name]
			if !ok {
				continue
			}
			if f.vec.Delete(series.Labels.Map()) {
				log.Debug().Str("series", series.Key).Msg("expired stale series")
			}
		}
	}
	s.tracker.Commit()
}

// AbortPass discards what the pass tracked; published values stay as they are.
func (s *PrometheusSink) AbortPass() {
	s.tracker.Reset()
}

// Series returns the series written by the last committed pass, ordered by key.
func (s *PrometheusSink) Series() []Series {
	return s.tracker.Active()
}
