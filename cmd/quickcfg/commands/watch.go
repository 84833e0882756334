package commands

import (
	"context"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dtolnay-contrib/quickcfg/pkg/telemetry"
)

func newWatchCommand(version string) *cobra.Command {
	var (
		jobs        int
		debounce    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-converge whenever the configuration repository changes",
		Long: `Watch the configuration repository and run a convergence pass after every
change, debounced so bursts of writes trigger a single pass. A failing pass
logs its failures and the loop keeps watching.`,
		Example: `  # Watch with prometheus metrics exposed
  quickcfg watch --metrics-addr :9109`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), version, jobs, debounce, metricsAddr)
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "max parallel units (0 = number of CPUs)")
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before re-converging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on (empty = disabled)")

	return cmd
}

func runWatch(ctx context.Context, version string, jobs int, debounce time.Duration, metricsAddr string) error {
	var metrics *telemetry.Metrics
	if metricsAddr != "" {
		metrics = telemetry.NewMetrics("quickcfg")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer server.Close()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watchTree(watcher, rootDir); err != nil {
		return err
	}

	converge := func() {
		report, err := runApply(ctx, version, jobs, false, false, false, metrics)
		if err != nil {
			log.Error().Err(err).Msg("convergence pass failed")
			return
		}
		if !report.Success() {
			summary := report.Summary()
			log.Warn().Int("failed", summary.Failed).Int("blocked", summary.Blocked).Msg("convergence pass incomplete")
		}

		// New directories may have appeared in the repo.
		if err := watchTree(watcher, rootDir); err != nil {
			log.Warn().Err(err).Msg("re-arming watcher failed")
		}
	}

	// Converge once at startup, then on changes.
	converge()

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignoredPath(event.Name) {
				continue
			}
			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("change detected")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")
		case <-pending:
			converge()
		}
	}
}

// watchTree registers every directory under root, skipping VCS internals and
// the cache directory. Already-watched paths are re-added harmlessly.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredPath(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func ignoredPath(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".git" || part == ".quickcfg" {
			return true
		}
	}
	return false
}
