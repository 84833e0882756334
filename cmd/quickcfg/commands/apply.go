package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
	"github.com/dtolnay-contrib/quickcfg/pkg/telemetry"
)

func newApplyCommand(version string) *cobra.Command {
	var (
		jobs   int
		dryRun bool
		force  bool
		pull   bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the machine toward the configuration",
		Long: `Converge the machine toward the declarative configuration.

This command:
  - Detects facts and resolves the data hierarchy
  - Expands the declared systems into a dependency graph of units
  - Skips units whose fingerprints are unchanged since the last run
  - Applies the rest in parallel, respecting dependency edges`,
		Example: `  # Converge using the repository in the current directory
  quickcfg apply

  # Preview without side effects
  quickcfg apply --dry-run

  # Pull the configuration repository first, then converge
  quickcfg apply --pull

  # Ignore the cache and reapply everything
  quickcfg apply --force --jobs 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runApply(cmd.Context(), version, jobs, dryRun, force, pull, nil)
			if err != nil {
				return err
			}
			if !report.Success() {
				for _, res := range report.Failures() {
					log.Error().Err(res.Err).Str("unit", res.UnitID).Str("status", string(res.Status)).Msg("unit did not converge")
				}
				return fmt.Errorf("%d unit(s) failed, %d blocked", report.Summary().Failed, report.Summary().Blocked)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "max parallel units (0 = number of CPUs)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report decisions without executing actions")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the cache and run every unit")
	cmd.Flags().BoolVar(&pull, "pull", false, "update the configuration repository before converging")

	return cmd
}

func runApply(ctx context.Context, version string, jobs int, dryRun, force, pull bool, metrics *telemetry.Metrics) (*engine.Report, error) {
	store, err := openCache(ctx, rootDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if pull {
		if _, err := selfUpdate(ctx, store, rootDir); err != nil {
			log.Warn().Err(err).Msg("configuration repository update failed, converging with the local copy")
		}
	}

	sess, err := loadSession(ctx, rootDir)
	if err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(ctx, telemetry.TracingConfig{
		Exporter: traceExporter,
		Endpoint: traceEndpoint,
	}, version)
	if err != nil {
		return nil, err
	}
	defer tracer.Shutdown(ctx)

	sched := engine.NewScheduler(store, engine.Options{
		Workers: jobs,
		DryRun:  dryRun,
		Force:   force,
		Metrics: metrics,
		Tracer:  tracer,
	})
	return sched.Run(ctx, sess.Graph), nil
}
