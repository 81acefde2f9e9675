// Package main provides yomuctl, the operator CLI for yomu: schema
// migrations, catalog seeding and validation, user imports and offline
// benefit evaluation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

type globalOptions struct {
	databaseURL string
	logLevel    string
	logFormat   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "yomuctl",
		Short:         "Operate a yomu birthday benefits deployment",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format written to stderr (text, json)")

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newValidateCmd(),
		newSeedCmd(opts),
		newEvaluateCmd(),
		newUsersCmd(opts),
	)

	return rootCmd
}
