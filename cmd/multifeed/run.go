package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quinnstephens/multifeed/internal/core"
)

// runCmd starts continuous polling. SIGINT/SIGTERM cancel the poll loop;
// the orchestrator persists the seen set before exiting so a clean shutdown
// never loses a processed item.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run continuous polling",
	Long: `Poll the configured custom feed continuously, either at a fixed
interval (fetch.listing.poll_interval) or on a cron schedule
(fetch.listing.cron). Runs until interrupted.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("config", "c", "", "path to config file")
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.shutdown(cmd.Context())
	ctx = core.WithLogger(ctx, a.logger)

	if _, err := a.feed.Multi(ctx); err != nil {
		return err
	}

	if err := a.orch.Run(ctx); err != nil {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
