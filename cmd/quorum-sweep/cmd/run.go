package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/api"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/executor"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/metrics"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep the backlog once",
	Long: `Load work items from the configured source and run the fixer command on
each of them, at most --concurrency at a time. Items locked by another
sweeper are skipped. Items that fail with a retryable error are retried up
to run.max_attempts times with exponential backoff.

The command exits 0 when the run completed, even if no item succeeded, and
1 when the lock store became unavailable or the run was interrupted.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("source", "", "item source (file, github)")
	runCmd.Flags().StringP("file", "f", "", "backlog file for the file source")
	runCmd.Flags().String("repo", "", "owner/name for the github source")
	runCmd.Flags().IntP("concurrency", "n", 0, "maximum items running at once")
	runCmd.Flags().String("timeout", "", "per-item timeout, e.g. 45s")
	runCmd.Flags().Int("max-attempts", 0, "attempts per item including the first")
	runCmd.Flags().String("report-dir", "", "directory for run reports")
	runCmd.Flags().String("metrics-file", "", "write Prometheus metrics to this file after the run")
	runCmd.Flags().String("serve", "", "serve status on this address while running")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd, validateAll)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	locks, store, err := openLocks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	source, err := buildSource(cfg)
	if err != nil {
		return err
	}
	specs, err := source.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("listing items from %s: %w", source.Name(), err)
	}
	items := make([]*core.WorkItem, 0, len(specs))
	for _, spec := range specs {
		items = append(items, core.NewWorkItem(spec))
	}
	logger.Info("items loaded", "source", source.Name(), "count", len(items))

	exec, err := executor.New(executor.Config{
		Command:        cfg.Executor.Command,
		Args:           cfg.Executor.Args,
		WorkDir:        cfg.Executor.WorkDir,
		Env:            cfg.Executor.Env,
		GracePeriod:    cfg.GracePeriod(),
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
	}, logger)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	recorder := metrics.New(registry)
	bus := events.New(256)
	defer bus.Close()

	if addr, _ := cmd.Flags().GetString("serve"); addr != "" {
		srv := api.NewServer(locks,
			api.WithLogger(logger),
			api.WithEventBus(bus),
			api.WithGatherer(registry),
		)
		go func() {
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	orch, err := orchestrator.New(locks, exec, orchestrator.Config{
		LockTTL:           cfg.LockTTL(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		PerItemTimeout:    cfg.PerItemTimeout(),
	},
		orchestrator.WithLogger(logger),
		orchestrator.WithEventBus(bus),
		orchestrator.WithMetrics(recorder),
	)
	if err != nil {
		return err
	}

	policy := orchestrator.NewRetryPolicy(
		orchestrator.WithMaxAttempts(cfg.Run.MaxAttempts),
		orchestrator.WithBaseDelay(cfg.RetryBaseDelay()),
	)
	rep, runErr := orch.Sweep(ctx, items, cfg.Run.ConcurrencyLimit, policy)

	if rep != nil {
		if err := writeOutputs(cmd, cfg, rep, logger); err != nil {
			logger.Error("writing reports", "error", err)
		}
	}
	if cfg.Report.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Report.MetricsFile, registry); err != nil {
			logger.Error("writing metrics file", "path", cfg.Report.MetricsFile, "error", err)
		}
	}

	switch {
	case runErr == nil:
		return nil
	case orchestrator.IsFatal(runErr):
		return fmt.Errorf("sweep aborted: %w", runErr)
	case errors.Is(runErr, core.ErrCancelled):
		return fmt.Errorf("sweep interrupted: %w", runErr)
	default:
		return runErr
	}
}

// writeOutputs persists the report and prints the summary table.
func writeOutputs(cmd *cobra.Command, cfg *config.Config, rep *core.Report, logger *logging.Logger) error {
	writer := report.NewWriter(report.Config{
		Dir:     cfg.Report.Dir,
		Formats: cfg.Report.Formats,
	}, logger)

	// Reports are written even when the run was cancelled.
	ctx := context.WithoutCancel(cmd.Context())
	var sink core.ReportSink = writer
	writeErr := sink.WriteReport(ctx, rep)

	out := cmd.OutOrStdout()
	if err := report.RenderTable(out, rep); err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	for _, p := range writer.Paths(rep.RunID) {
		fmt.Fprintf(out, "Report: %s\n", p)
	}
	return nil
}
