package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quinnstephens/multifeed/internal/core"
)

// onceCmd runs a single fetch cycle and exits.
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single fetch cycle",
	RunE:  runOnce,
}

func init() {
	rootCmd.AddCommand(onceCmd)
	onceCmd.Flags().StringP("config", "c", "", "path to config file")
	onceCmd.Flags().Bool("skip-multi-check", false, "skip the multi accessibility check")
}

func runOnce(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	skipCheck, _ := cmd.Flags().GetBool("skip-multi-check")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.shutdown(ctx)
	ctx = core.WithLogger(ctx, a.logger)

	if !skipCheck {
		if _, err := a.feed.Multi(ctx); err != nil {
			return err
		}
	}

	emitted, err := a.orch.RunCycle(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("single cycle complete", "records", emitted)
	return nil
}
