package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/saasmeter/internal/daemon"
	"github.com/yairfalse/saasmeter/internal/telemetry"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Collect on a schedule and serve /metrics",
		Long: `Run saasmeter as a long-lived exporter.

A pass runs at startup and then every collector.interval, or on the cron
collector.schedule when set. Passes never overlap.

Endpoints:
- Prometheus metrics on /metrics
- Health checks on /health, /-/healthy, /-/ready

Billing gauges are off by default. Set collector.hourly_rate to publish
hourly_rate from the billing chart, and collector.monthly_costs for the
month-to-date cost gauges.

With --config, the file is watched and changes apply at the next pass.
With collector.one_shot, a single pass runs and the command exits.`,
		Example: `  saasmeter run --config saasmeter.toml
  saasmeter run --base-url https://api.example.com/v1 --concurrency 4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := telemetry.SetupLogging(cfg.Log, cmd.ErrOrStderr()); err != nil {
				return err
			}

			if cfg.Collector.OneShot {
				return collectOnce(cmd, cfg, flags, formatText)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			p, err := buildPipeline(ctx, cfg, flags, reg, reg)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(p)

			dm, err := daemon.NewDaemonMetrics(p.telemetry.Meter())
			if err != nil {
				return fmt.Errorf("create daemon metrics: %w", err)
			}

			opts := []daemon.Option{daemon.WithMetrics(dm), daemon.WithSeries(p.sink)}
			if flags.configPath != "" {
				opts = append(opts, daemon.WithConfigPath(flags.configPath))
			}
			d := daemon.New(cfg, p.collector, reg, opts...)

			log.Info().
				Str("base_url", cfg.API.BaseURL).
				Str("listen", cfg.Metrics.Listen).
				Dur("interval", cfg.Collector.Interval).
				Str("schedule", cfg.Collector.Schedule).
				Int("concurrency", cfg.Collector.Concurrency).
				Msg("saasmeter starting")

			if err := d.Start(ctx); err != nil {
				return fmt.Errorf("daemon error: %w", err)
			}
			return nil
		},
	}
}

func shutdownTelemetry(p *pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.telemetry.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown")
	}
}
