package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server",
	Long: `Serve lock store status over HTTP until interrupted.

Endpoints:
  GET    /healthz                  liveness and lock store reachability
  GET    /metrics                  Prometheus metrics
  GET    /api/v1/locks             lock table (?live=true hides expired records)
  GET    /api/v1/locks/{id}        one lock record
  DELETE /api/v1/locks/{id}?force=true
                                   operator override, like 'locks release'

Run metrics and the event stream are served by 'run --serve' instead.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	serveCmd.Flags().String("backend", "", "lock store backend (sqlite, redis, memory)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd, validateLockOnly)
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

	srv := api.NewServer(locks,
		api.WithLogger(logger),
		api.WithGatherer(prometheus.DefaultGatherer),
	)
	err = srv.ListenAndServe(ctx, cfg.Server.Addr)
	logger.Info("status server stopped")
	return err
}
