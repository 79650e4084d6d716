package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/saasmeter/internal/config"
	"github.com/yairfalse/saasmeter/internal/telemetry"
)

const (
	formatText        = "text"
	formatOpenMetrics = "openmetrics"
)

func newCollectCmd(flags *globalFlags) *cobra.Command {
	var (
		format        string
		failOnPartial bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one pass and print the gauges",
		Long: `Run a single collection pass and print the resulting gauges to stdout
in the Prometheus text or OpenMetrics exposition format.

The command fails when the project listing fails. With --fail-on-partial it
also fails when any per-project or billing step failed.`,
		Example: `  saasmeter collect --config saasmeter.toml
  saasmeter collect --base-url https://api.example.com/v1 --format openmetrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != formatText && format != formatOpenMetrics {
				return fmt.Errorf("unknown format %q (want %s or %s)", format, formatText, formatOpenMetrics)
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := telemetry.SetupLogging(cfg.Log, cmd.ErrOrStderr()); err != nil {
				return err
			}

			failures, err := collectOnceCounted(cmd, cfg, flags, format)
			if err != nil {
				return err
			}
			if failOnPartial && failures > 0 {
				return fmt.Errorf("pass completed with %d failed steps", failures)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text or openmetrics")
	cmd.Flags().BoolVar(&failOnPartial, "fail-on-partial", false, "Exit non-zero when any step failed")
	return cmd
}

func collectOnce(cmd *cobra.Command, cfg *config.Config, flags *globalFlags, format string) error {
	_, err := collectOnceCounted(cmd, cfg, flags, format)
	return err
}

// collectOnceCounted runs one pass, writes the gauges to stdout and returns
// the number of failed steps.
func collectOnceCounted(cmd *cobra.Command, cfg *config.Config, flags *globalFlags, format string) (int, error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	p, err := buildPipeline(ctx, cfg, flags, reg, nil)
	if err != nil {
		return 0, err
	}
	defer shutdownTelemetry(p)

	result, err := p.collector.RunPass(ctx)
	if err != nil {
		return 0, fmt.Errorf("collection pass failed: %w", err)
	}

	if err := writeMetrics(cmd.OutOrStdout(), reg, format); err != nil {
		return 0, err
	}

	log.Info().
		Str("pass_id", result.ID).
		Int64("emitted", result.Emitted).
		Int("failures", len(result.Failures)).
		Msg("one-shot pass complete")
	return len(result.Failures), nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer, format string) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	f := expfmt.NewFormat(expfmt.TypeTextPlain)
	if format == formatOpenMetrics {
		f = expfmt.NewFormat(expfmt.TypeOpenMetrics)
	}

	enc := expfmt.NewEncoder(w, f)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close encoder: %w", err)
		}
	}
	return nil
}
