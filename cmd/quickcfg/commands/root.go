// Package commands wires the quickcfg CLI: convergence runs, plan previews,
// fact and config inspection, and the watch loop.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dtolnay-contrib/quickcfg/pkg/telemetry"
)

var (
	// Global flags
	rootDir       string
	logLevel      string
	logJSON       bool
	traceExporter string
	traceEndpoint string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quickcfg",
		Short: "quickcfg - declarative machine configuration",
		Long: `quickcfg converges one machine toward a declarative description kept in a
configuration repository.

It resolves a fact-driven data hierarchy, expands the declared systems into a
dependency graph of idempotent units, and applies only the units whose inputs
changed since the last run.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			telemetry.SetupLogging(logLevel, logJSON)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "configuration repository root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs instead of console output")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP collector endpoint")

	rootCmd.AddCommand(newApplyCommand(version))
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand(version))

	return rootCmd
}
