// Package collector runs collection passes: it lists projects, fans out one
// bounded task per project and feeds every decoded response through the
// mapper into a sink.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/yairfalse/saasmeter/internal/config"
	"github.com/yairfalse/saasmeter/internal/filter"
	"github.com/yairfalse/saasmeter/internal/mapper"
	"github.com/yairfalse/saasmeter/internal/restclient"
	"github.com/yairfalse/saasmeter/internal/sink"
	"github.com/yairfalse/saasmeter/internal/telemetry"
	"github.com/yairfalse/saasmeter/pkg/emission"
)

// Recorder receives self telemetry for passes and steps.
type Recorder interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordPass(ctx context.Context, outcome string, d time.Duration, projects int)
	RecordStepError(ctx context.Context, step, kind string)
	TaskStarted(ctx context.Context)
	TaskFinished(ctx context.Context)
}

// Collector runs collection passes. Passes never overlap.
type Collector struct {
	sink     sink.Sink
	recorder Recorder
	now      func() time.Time

	mu       sync.Mutex
	client   restclient.Getter
	settings settings

	running atomic.Bool
	state   atomic.Int32
}

// settings is the per-pass snapshot of everything a reload may change.
type settings struct {
	itemsPerPage int
	concurrency  int64
	chartField   string
	hourlyRate   bool
	monthlyCosts bool
	chartWindow  time.Duration
	chartBounded bool
	filter       *filter.Filter
}

func settingsFrom(cfg *config.Config) settings {
	return settings{
		itemsPerPage: cfg.API.ItemsPerPage,
		concurrency:  int64(cfg.Collector.Concurrency),
		chartField:   cfg.API.ChartResultsField,
		hourlyRate:   cfg.Collector.HourlyRate,
		monthlyCosts: cfg.Collector.MonthlyCosts,
		chartWindow:  cfg.Collector.ChartWindow,
		chartBounded: cfg.Collector.ChartBounded,
		filter:       filter.New(cfg.Collector.IncludeProjects, cfg.Collector.ExcludeProjects),
	}
}

// Option configures a Collector.
type Option func(*Collector)

// WithRecorder sets the telemetry recorder. The default records nothing.
func WithRecorder(r Recorder) Option {
	return func(c *Collector) { c.recorder = r }
}

// WithClock overrides time.Now, used for billing windows.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a collector reading through client and writing to s.
func New(client restclient.Getter, s sink.Sink, cfg *config.Config, opts ...Option) *Collector {
	c := &Collector{
		sink:     s,
		recorder: telemetry.NewNoop(),
		now:      time.Now,
		client:   client,
		settings: settingsFrom(cfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reconfigure replaces the client and settings. A running pass keeps the
// ones it started with.
func (c *Collector) Reconfigure(client restclient.Getter, cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
	c.settings = settingsFrom(cfg)
}

// State returns the current scheduler state.
func (c *Collector) State() State {
	return State(c.state.Load())
}

func (c *Collector) setState(s State) {
	c.state.Store(int32(s))
}

// pass carries the state shared by the tasks of one pass.
type pass struct {
	client   restclient.Getter
	settings settings
	emitted  atomic.Int64
	failures failureLog
}

// RunPass runs one collection pass. A failed project listing aborts the pass
// and is returned; every other failure is isolated and reported in the result.
func (c *Collector) RunPass(ctx context.Context) (*PassResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer c.running.Store(false)
	defer c.setState(Idle)

	c.mu.Lock()
	p := &pass{client: c.client, settings: c.settings}
	c.mu.Unlock()

	result := &PassResult{
		ID:      uuid.NewString(),
		Started: c.now(),
	}
	start := time.Now()

	ctx, span := c.recorder.StartSpan(ctx, "collect.pass", attribute.String("pass_id", result.ID))
	defer span.End()

	c.begin()

	c.setState(FetchingTopLevel)
	groups, err := c.listGroups(ctx, p)
	if err != nil {
		c.abort()
		result.Duration = time.Since(start)
		c.recorder.RecordPass(ctx, OutcomeFatal, result.Duration, 0)
		c.recorder.RecordStepError(ctx, StepGroups, string(restclient.Kind(err)))
		log.Error().Ctx(ctx).Err(err).Str("pass_id", result.ID).Msg("project listing failed, pass aborted")
		return nil, fmt.Errorf("list projects: %w", err)
	}
	groups = p.settings.filter.Groups(groups)
	result.Entities = len(groups)

	c.setState(FanningOut)
	var wg sync.WaitGroup

	for _, step := range c.accountSteps(p) {
		wg.Add(1)
		go func(s accountStep) {
			defer wg.Done()
			c.runAccountStep(ctx, p, s)
		}(step)
	}

	gate := semaphore.NewWeighted(p.settings.concurrency)
	for i, g := range groups {
		if err := gate.Acquire(ctx, 1); err != nil {
			for _, skipped := range groups[i:] {
				p.failures.add(StepFailure{
					Project:   skipped.Name,
					ProjectID: skipped.ID,
					Step:      StepAdmission,
					Kind:      restclient.Kind(err),
					Err:       err,
				})
			}
			log.Warn().Ctx(ctx).Err(err).Int("skipped", len(groups)-i).Msg("pass canceled before all projects were admitted")
			break
		}

		wg.Add(1)
		go func(g mapper.Project) {
			defer wg.Done()
			defer gate.Release(1)
			c.recorder.TaskStarted(ctx)
			defer c.recorder.TaskFinished(ctx)
			c.collectProject(ctx, p, g)
		}(mapper.Project{ID: g.ID, Name: g.Name})
	}

	c.setState(Draining)
	wg.Wait()

	result.Duration = time.Since(start)
	result.Emitted = p.emitted.Load()
	result.Failures = p.failures.list()

	outcome := result.Outcome()
	if ctx.Err() != nil {
		// An interrupted pass did not visit everything; keep the previous baseline.
		outcome = OutcomeCanceled
		c.abort()
	} else {
		c.commit()
	}
	c.recorder.RecordPass(ctx, outcome, result.Duration, result.Entities)

	log.Info().Ctx(ctx).
		Str("pass_id", result.ID).
		Str("outcome", outcome).
		Int("projects", result.Entities).
		Int64("emitted", result.Emitted).
		Int("failures", len(result.Failures)).
		Dur("duration", result.Duration).
		Msg("collection pass complete")

	return result, nil
}

func (c *Collector) begin() {
	if ps, ok := c.sink.(sink.PassSink); ok {
		ps.BeginPass()
	}
}

func (c *Collector) commit() {
	if ps, ok := c.sink.(sink.PassSink); ok {
		ps.CommitPass()
	}
}

func (c *Collector) abort() {
	if ps, ok := c.sink.(sink.PassSink); ok {
		ps.AbortPass()
	}
}

func (c *Collector) emit(p *pass, ems []emission.Emission) {
	for _, e := range ems {
		c.sink.EmitGauge(e.Name, e.Value, e.Labels)
	}
	p.emitted.Add(int64(len(ems)))
}

func (c *Collector) fail(ctx context.Context, p *pass, f StepFailure) {
	p.failures.add(f)
	c.recorder.RecordStepError(ctx, f.Step, string(f.Kind))

	event := log.Warn().Ctx(ctx).Err(f.Err).Str("step", f.Step).Str("kind", string(f.Kind))
	if f.ProjectID != "" {
		event = event.Str("project", f.Project).Str("project_id", f.ProjectID)
	}
	if f.Cluster != "" {
		event = event.Str("cluster", f.Cluster)
	}
	event.Msg("collection step failed")
}
