package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/saasmeter/internal/collector"
	"github.com/yairfalse/saasmeter/internal/config"
	"github.com/yairfalse/saasmeter/internal/mapper"
	"github.com/yairfalse/saasmeter/internal/restclient"
	"github.com/yairfalse/saasmeter/internal/sink"
	"github.com/yairfalse/saasmeter/internal/telemetry"
)

var version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath   string
	baseURL      string
	logLevel     string
	logFormat    string
	concurrency  int
	logEmissions bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "saasmeter",
		Short: "Export SaaS billing and project state as Prometheus metrics",
		Long: `saasmeter - SaaS usage and cost exporter

saasmeter polls a hosted database platform's REST API, lists every project,
collects users, clusters and cluster change status per project with bounded
concurrency, and publishes the results as Prometheus gauges. Billing charts
and month-to-date deployment costs can be collected as well.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate(`saasmeter {{.Version}}
`)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	pf.StringVar(&flags.baseURL, "base-url", "", "API base URL (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: console or json (overrides config)")
	pf.IntVar(&flags.concurrency, "concurrency", 0, "Max projects collected at once (overrides config)")
	pf.BoolVar(&flags.logEmissions, "log-emissions", false, "Also log every emitted gauge at debug level")

	root.AddCommand(newRunCmd(flags), newCollectCmd(flags))
	return root
}

// loadConfig reads the config file, if any, applies flag overrides and validates.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.baseURL != "" {
		cfg.API.BaseURL = flags.baseURL
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if flags.concurrency != 0 {
		cfg.Collector.Concurrency = flags.concurrency
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// pipeline is everything a pass needs, wired from one config.
type pipeline struct {
	collector *collector.Collector
	sink      *sink.PrometheusSink
	telemetry *telemetry.Provider
}

// buildPipeline wires client, sink and collector. Gauges register on reg;
// self metrics register on selfReg when it is not nil.
func buildPipeline(ctx context.Context, cfg *config.Config, flags *globalFlags, reg, selfReg prometheus.Registerer) (*pipeline, error) {
	client, err := restclient.New(cfg.API)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	provider, err := telemetry.NewProvider(ctx, cfg.OTEL, selfReg)
	if err != nil {
		return nil, fmt.Errorf("create telemetry: %w", err)
	}

	promSink := sink.NewPrometheusSink(reg,
		sink.WithNamespace(cfg.Metrics.Namespace),
		sink.WithHelp(mapper.Help),
		sink.WithStaleExpiry(!cfg.Metrics.KeepStale),
	)

	var s sink.Sink = promSink
	if flags.logEmissions {
		s = sink.NewMultiSink(promSink, sink.NewLogSink(zerolog.DebugLevel))
	}

	return &pipeline{
		collector: collector.New(client, s, cfg, collector.WithRecorder(provider)),
		sink:      promSink,
		telemetry: provider,
	}, nil
}
