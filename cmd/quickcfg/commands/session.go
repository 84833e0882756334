package commands

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dtolnay-contrib/quickcfg/pkg/cache"
	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
	"github.com/dtolnay-contrib/quickcfg/pkg/facts"
	"github.com/dtolnay-contrib/quickcfg/pkg/git"
	"github.com/dtolnay-contrib/quickcfg/pkg/hierarchy"
	"github.com/dtolnay-contrib/quickcfg/pkg/packages"
	"github.com/dtolnay-contrib/quickcfg/pkg/systems"
	"github.com/dtolnay-contrib/quickcfg/pkg/template"
)

// selfUpdateRefresh gates how often `apply --pull` hits the network for the
// configuration repository itself.
const selfUpdateRefresh = 10 * time.Second

// selfUpdateUnitID is the cache record key for the pull gate.
const selfUpdateUnitID = "quickcfg:self-update"

// session is everything a command needs after loading the repository: the
// parsed config, detected facts, resolved hierarchy, and the validated unit
// graph.
type session struct {
	Root  string
	Cfg   *config.Config
	Facts facts.Facts
	Data  *hierarchy.Hierarchy
	Graph *engine.Graph
}

// loadSession loads the configuration repository at root and builds the graph.
func loadSession(ctx context.Context, root string) (*session, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(filepath.Join(abs, config.DefaultFile))
	if err != nil {
		return nil, err
	}

	f := facts.Detect(cfg.Facts)
	log.Debug().Interface("facts", f).Msg("facts detected")

	data, err := hierarchy.Resolve(abs, cfg.Hierarchy, f)
	if err != nil {
		return nil, err
	}
	log.Debug().Strs("sources", data.Sources()).Msg("hierarchy resolved")

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	in := &systems.Input{
		Root:     abs,
		Home:     home,
		Facts:    f,
		Data:     data,
		Packages: packages.NewRegistry(packages.ExecRunner{}),
		Git:      git.NewExecClient(),
		HTTP:     &http.Client{Timeout: 2 * time.Minute},
		Runner:   packages.ExecRunner{},
		Renderer: template.Subst{},
	}

	units, err := systems.ExpandAll(ctx, cfg.Systems, in)
	if err != nil {
		return nil, err
	}

	graph, err := engine.NewGraph(units)
	if err != nil {
		return nil, err
	}

	return &session{Root: abs, Cfg: cfg, Facts: f, Data: data, Graph: graph}, nil
}

// openCache opens the change-detection store under the repository root.
func openCache(ctx context.Context, root string) (*cache.Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return cache.Open(ctx, filepath.Join(abs, ".quickcfg", "cache.db"))
}

// selfUpdate pulls the configuration repository itself, gated through the
// cache so repeated applies don't hit the network.
func selfUpdate(ctx context.Context, store *cache.Store, root string) (bool, error) {
	now := time.Now()
	run, err := store.ShouldRun(selfUpdateUnitID, "git", selfUpdateRefresh, now)
	if err != nil {
		return false, err
	}
	if !run {
		log.Debug().Msg("configuration repository recently updated, skipping pull")
		return false, nil
	}

	changed, err := git.NewExecClient().Update(ctx, root)
	if err != nil {
		return false, err
	}
	if err := store.Record(ctx, selfUpdateUnitID, "git", now); err != nil {
		return false, err
	}
	if changed {
		log.Info().Str("root", root).Msg("configuration repository updated")
	}
	return changed, nil
}
