package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/facts"
)

func newFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Print the detected facts",
		Long: `Print the facts detected on this host, after configuration and environment
overrides are applied. These are the values available to hierarchy path
placeholders.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Overrides from config.yml apply when the repo is present; a
			// missing config still prints the detected facts.
			var overrides map[string]string
			if cfg, err := config.Load(filepath.Join(rootDir, config.DefaultFile)); err == nil {
				overrides = cfg.Facts
			}

			f := facts.Detect(overrides)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, key := range f.Keys() {
				v, _ := f.Get(key)
				fmt.Fprintf(w, "%s\t%s\n", key, v)
			}
			return w.Flush()
		},
	}
	return cmd
}
