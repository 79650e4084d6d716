// Package daemon runs collection passes on a schedule and serves the
// resulting gauges over HTTP.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/saasmeter/internal/collector"
	"github.com/yairfalse/saasmeter/internal/config"
	"github.com/yairfalse/saasmeter/internal/restclient"
	"github.com/yairfalse/saasmeter/internal/sink"
)

const shutdownTimeout = 5 * time.Second

// ClientFactory builds the API client for a (re)loaded config.
type ClientFactory func(config.APIConfig) (restclient.Getter, error)

// SeriesSource reports the series published by the last committed pass.
type SeriesSource interface {
	Series() []sink.Series
}

// Daemon triggers collection passes and serves /metrics and health endpoints.
type Daemon struct {
	collector  *collector.Collector
	gatherer   prometheus.Gatherer
	metrics    *DaemonMetrics
	configPath string
	newClient  ClientFactory
	series     SeriesSource

	mu  sync.RWMutex
	cfg *config.Config

	startTime   time.Time
	passCount   atomic.Int64
	lastSuccess atomic.Int64 // unix seconds
	ready       atomic.Bool

	addrMu sync.Mutex
	addr   net.Addr
	bound  chan struct{}
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithConfigPath reloads the config from path when the file changes.
// Reloads apply at the next pass.
func WithConfigPath(path string) Option {
	return func(d *Daemon) { d.configPath = path }
}

// WithClientFactory overrides how reloads build the API client.
func WithClientFactory(f ClientFactory) Option {
	return func(d *Daemon) { d.newClient = f }
}

// WithSeries reports the published series count on /health.
func WithSeries(src SeriesSource) Option {
	return func(d *Daemon) { d.series = src }
}

// WithMetrics records daemon metrics.
func WithMetrics(m *DaemonMetrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// New creates a daemon driving c and exposing gatherer on /metrics.
func New(cfg *config.Config, c *collector.Collector, gatherer prometheus.Gatherer, opts ...Option) *Daemon {
	d := &Daemon{
		collector: c,
		gatherer:  gatherer,
		cfg:       cfg,
		startTime: time.Now(),
		bound:     make(chan struct{}),
		newClient: func(api config.APIConfig) (restclient.Getter, error) {
			return restclient.New(api)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Start runs the HTTP server, the pass trigger and the config watcher until
// ctx is cancelled or one of them fails.
func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.config()

	listener, err := net.Listen("tcp", cfg.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Metrics.Listen, err)
	}
	d.setAddr(listener.Addr())

	var g run.Group

	// HTTP server
	{
		srv := &http.Server{
			Handler:           d.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			log.Info().Str("addr", listener.Addr().String()).Msg("serving metrics")
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	// Pass trigger
	{
		triggerCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			if cfg.Collector.Schedule != "" {
				return d.runCron(triggerCtx, cfg.Collector.Schedule)
			}
			return d.runTicker(triggerCtx, cfg.Collector.Interval)
		}, func(error) {
			cancel()
		})
	}

	// Config watcher
	if d.configPath != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return config.Watch(watchCtx, d.configPath, d.reload)
		}, func(error) {
			cancel()
		})
	}

	// Parent context
	{
		done := make(chan struct{})
		g.Add(func() error {
			select {
			case <-ctx.Done():
			case <-done:
			}
			return nil
		}, func(error) {
			close(done)
		})
	}

	err = g.Run()
	log.Info().Int64("passes", d.passCount.Load()).Msg("daemon stopped")
	return err
}

func (d *Daemon) runTicker(ctx context.Context, interval time.Duration) error {
	d.trigger(ctx, "initial")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.trigger(ctx, "interval")
		}
	}
}

func (d *Daemon) runCron(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := c.AddFunc(schedule, func() { d.trigger(ctx, "schedule") }); err != nil {
		return fmt.Errorf("schedule passes %q: %w", schedule, err)
	}

	d.trigger(ctx, "initial")

	c.Start()
	log.Info().Str("schedule", schedule).Time("next", c.Entries()[0].Next).Msg("pass schedule started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// trigger runs one pass. Failures are logged; the next trigger retries.
func (d *Daemon) trigger(ctx context.Context, source string) {
	if ctx.Err() != nil {
		return
	}
	d.passCount.Add(1)
	if d.metrics != nil {
		d.metrics.RecordTrigger(ctx, source)
	}

	result, err := d.collector.RunPass(ctx)
	switch {
	case errors.Is(err, collector.ErrPassInProgress):
		log.Warn().Str("source", source).Msg("previous pass still running, skipping")
		return
	case err != nil:
		log.Error().Err(err).Str("source", source).Msg("collection pass failed")
		return
	}

	d.ready.Store(true)
	if ctx.Err() == nil {
		d.lastSuccess.Store(result.Started.Unix())
		if d.metrics != nil {
			d.metrics.RecordPassCompleted(ctx, result.Started)
		}
	}
}

// reload swaps in a new config. The API client, collector settings and log
// level apply at the next pass; see restartRequired for the rest.
func (d *Daemon) reload(cfg *config.Config) {
	ctx := context.Background()

	client, err := d.newClient(cfg.API)
	if err != nil {
		log.Error().Err(err).Msg("config reload rejected")
		if d.metrics != nil {
			d.metrics.RecordReload(ctx, "error")
		}
		return
	}

	d.mu.Lock()
	prev := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	d.collector.Reconfigure(client, cfg)
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && level != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
		log.Info().Str("level", level.String()).Msg("log level changed")
	}
	if d.metrics != nil {
		d.metrics.RecordReload(ctx, "success")
	}

	if changed := restartRequired(prev, cfg); len(changed) > 0 {
		log.Warn().Strs("settings", changed).Msg("changed settings take effect after restart")
	}
}

// restartRequired lists the settings that differ between prev and next but
// are only read at startup.
func restartRequired(prev, next *config.Config) []string {
	var changed []string
	if prev.Metrics.Listen != next.Metrics.Listen {
		changed = append(changed, "metrics.listen")
	}
	if prev.Metrics.Namespace != next.Metrics.Namespace {
		changed = append(changed, "metrics.namespace")
	}
	if prev.Metrics.KeepStale != next.Metrics.KeepStale {
		changed = append(changed, "metrics.keep_stale")
	}
	if prev.Collector.Interval != next.Collector.Interval {
		changed = append(changed, "collector.interval")
	}
	if prev.Collector.Schedule != next.Collector.Schedule {
		changed = append(changed, "collector.schedule")
	}
	if prev.Log.Format != next.Log.Format {
		changed = append(changed, "log.format")
	}
	if prev.OTEL != next.OTEL {
		changed = append(changed, "otel")
	}
	return changed
}

func (d *Daemon) setAddr(addr net.Addr) {
	d.addrMu.Lock()
	defer d.addrMu.Unlock()
	d.addr = addr
	close(d.bound)
}

// Addr returns the bound HTTP address, waiting until Start has bound it.
func (d *Daemon) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-d.bound:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	d.addrMu.Lock()
	defer d.addrMu.Unlock()
	return d.addr, nil
}

// Health returns daemon health status.
func (d *Daemon) Health() HealthStatus {
	h := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Passes: d.passCount.Load(),
		State:  d.collector.State().String(),
	}
	if d.series != nil {
		h.Series = len(d.series.Series())
	}
	if ts := d.lastSuccess.Load(); ts > 0 {
		h.LastSuccess = time.Unix(ts, 0).UTC().Format(time.RFC3339)
	}
	return h
}

// HealthStatus represents daemon health.
type HealthStatus struct {
	Status      string `json:"status"`
	Uptime      int64  `json:"uptime_seconds"`
	Passes      int64  `json:"passes"`
	State       string `json:"state"`
	Series      int    `json:"series"`
	LastSuccess string `json:"last_success,omitempty"`
}

// PassCount returns how many passes were triggered.
func (d *Daemon) PassCount() int64 {
	return d.passCount.Load()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
