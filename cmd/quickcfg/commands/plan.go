package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a convergence run would do",
		Long: `Build the unit graph and print, per unit, its dependencies and whether a run
would skip or apply it. Nothing is executed and the cache is not modified.`,
		Example: `  # Preview the next convergence run
  quickcfg plan --root ~/dotfiles`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := loadSession(ctx, rootDir)
			if err != nil {
				return err
			}

			store, err := openCache(ctx, rootDir)
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DECISION\tUNIT\tSYSTEM\tDEPENDS ON")
			for _, unit := range sess.Graph.Units() {
				run, err := store.ShouldRun(unit.ID, unit.Fingerprint, unit.Refresh, now)
				if err != nil {
					return err
				}
				decision := "skip"
				if run {
					decision = "apply"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", decision, unit.ID, unit.System, strings.Join(unit.DependsOn, ", "))
			}
			return w.Flush()
		},
	}
	return cmd
}
