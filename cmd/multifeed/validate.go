package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quinnstephens/multifeed/internal/core"
)

// validateCmd checks the config document, the credentials, and that the
// configured multi exists and is accessible.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and multi accessibility",
	Long: `Validate the configuration file, exchange the refresh token for an
access token, and verify that the configured custom feed exists and is
accessible with the configured credentials.

Exit codes:
  0 - Everything checks out
  1 - Config, auth, or multi validation failed`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("config", "c", "", "path to config file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	ctx := cmd.Context()
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.shutdown(ctx)
	ctx = core.WithLogger(ctx, a.logger)

	fmt.Printf("Configuration valid\n")
	fmt.Printf("  Multipath:     %s\n", a.multipath)
	fmt.Printf("  Listing:       sort=%s limit=%d\n", a.doc.Fetch.Listing.Sort, a.doc.Fetch.Listing.Limit)
	fmt.Printf("  Poll interval: %s\n", a.doc.Fetch.Listing.PollInterval.Std())
	fmt.Printf("  Max seen keep: %d\n", a.doc.Fetch.Listing.MaxSeenKeep)

	fmt.Printf("\nAuthenticating...\n")
	if _, err := a.tokens.Token(ctx); err != nil {
		return err
	}
	fmt.Printf("Authentication succeeded\n")

	fmt.Printf("\nValidating multi %s...\n", a.multipath)
	info, err := a.feed.Multi(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Multi validated\n")
	fmt.Printf("  Display name: %s\n", info.DisplayName)
	fmt.Printf("  Visibility:   %s\n", info.Visibility)
	fmt.Printf("  Subreddits (%d):\n", len(info.Subreddits))
	for i, sub := range info.Subreddits {
		if i == 10 {
			fmt.Printf("    ... and %d more\n", len(info.Subreddits)-10)
			break
		}
		fmt.Printf("    - r/%s\n", sub)
	}
	return nil
}
