// Package main is the entry point for the multifeed CLI.
//
// Usage:
//
//	multifeed validate -c multifeed.yaml  # Validate config and multi access
//	multifeed once -c multifeed.yaml      # Run a single fetch cycle
//	multifeed run -c multifeed.yaml       # Run continuous polling
//	multifeed links --rss-url <url>       # Public RSS link extraction
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "multifeed",
	Short: "Incremental fetcher for a Reddit custom feed",
	Long: `multifeed polls a Reddit custom feed (multireddit) for new posts,
deduplicates them against prior runs, fetches post detail and comment
trees under a shared request budget, and appends the assembled records
to daily JSONL files.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("multifeed %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
