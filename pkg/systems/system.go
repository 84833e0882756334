// Package systems implements the closed set of system variants — copy-dir,
// link-dir, link, install-packages, download-and-run, git-sync — and their
// expansion into schedulable units.
package systems

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
	"github.com/dtolnay-contrib/quickcfg/pkg/facts"
	"github.com/dtolnay-contrib/quickcfg/pkg/git"
	"github.com/dtolnay-contrib/quickcfg/pkg/hierarchy"
	"github.com/dtolnay-contrib/quickcfg/pkg/packages"
	"github.com/dtolnay-contrib/quickcfg/pkg/template"
)

// Input carries the collaborators a variant needs during expansion. The
// hierarchy and facts are immutable; expansion is single-threaded and happens
// entirely before scheduling.
type Input struct {
	// Root is the configuration repository root; source paths resolve
	// against it.
	Root string

	// Home is the destination base; "~" and relative destinations resolve
	// against it.
	Home string

	// Facts describe the host.
	Facts facts.Facts

	// Data is the resolved hierarchy.
	Data *hierarchy.Hierarchy

	// Packages is the provider registry for install-packages.
	Packages *packages.Registry

	// Git is the client for git-sync.
	Git git.Client

	// HTTP fetches download-and-run payloads.
	HTTP *http.Client

	// Runner executes download-and-run scripts.
	Runner packages.Runner

	// Renderer renders templated file bodies.
	Renderer template.Renderer
}

// System is one declared configuration action. Expand turns it into zero or
// more units; it must not perform side effects.
type System interface {
	// Name is the system's display identity.
	Name() string

	// Expand produces the system's units with data dependencies, intra-system
	// ordering edges, and fingerprints attached.
	Expand(ctx context.Context, in *Input) ([]*engine.Unit, error)
}

// FromConfig decodes one SystemConfig into its variant.
func FromConfig(cfg *config.SystemConfig) (System, error) {
	var sys System
	var err error

	switch cfg.Type {
	case "copy-dir":
		sys, err = newCopyDir(cfg)
	case "link-dir":
		sys, err = newLinkDir(cfg)
	case "link":
		sys, err = newLink(cfg)
	case "install-packages":
		sys, err = newInstallPackages(cfg)
	case "download-and-run":
		sys, err = newDownloadAndRun(cfg)
	case "git-sync":
		sys, err = newGitSync(cfg)
	default:
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("unknown system type %q", cfg.Type), nil).WithSystem(cfg.Name())
	}

	if err != nil {
		return nil, engine.NewConfigurationError("invalid system definition", err).WithSystem(cfg.Name())
	}
	return sys, nil
}

// ExpandAll expands every configured system, realizes `requires` edges and
// produced-path ordering edges, and returns the full unit set ready for graph
// validation.
func ExpandAll(ctx context.Context, cfgs []config.SystemConfig, in *Input) ([]*engine.Unit, error) {
	var all []*engine.Unit
	unitsBySystem := make(map[string][]*engine.Unit)
	requires := make(map[string][]string)

	for i := range cfgs {
		cfg := &cfgs[i]
		sys, err := FromConfig(cfg)
		if err != nil {
			return nil, err
		}

		units, err := sys.Expand(ctx, in)
		if err != nil {
			return nil, err
		}

		if cfg.ID != "" {
			unitsBySystem[cfg.ID] = units
		}
		if len(cfg.Requires) > 0 {
			requires[systemKey(i, cfg)] = cfg.Requires
			unitsBySystem[systemKey(i, cfg)] = units
		}
		all = append(all, units...)
	}

	for key, reqs := range requires {
		units := unitsBySystem[key]
		roots := systemRoots(units)
		for _, req := range reqs {
			required, ok := unitsBySystem[req]
			if !ok {
				return nil, engine.NewConfigurationError(
					fmt.Sprintf("requires references unknown system %q", req), nil)
			}
			for _, root := range roots {
				for _, dep := range required {
					root.DependsOn = append(root.DependsOn, dep.ID)
				}
			}
		}
	}

	addPathEdges(all)
	return all, nil
}

// systemKey disambiguates systems without an explicit ID for requires
// bookkeeping.
func systemKey(index int, cfg *config.SystemConfig) string {
	if cfg.ID != "" {
		return cfg.ID
	}
	return fmt.Sprintf("%s#%d", cfg.Type, index)
}

// systemRoots returns the units with no dependency on a sibling of the same
// system; `requires` edges attach there.
func systemRoots(units []*engine.Unit) []*engine.Unit {
	ids := make(map[string]struct{}, len(units))
	for _, u := range units {
		ids[u.ID] = struct{}{}
	}

	var roots []*engine.Unit
	for _, u := range units {
		isRoot := true
		for _, dep := range u.DependsOn {
			if _, sibling := ids[dep]; sibling {
				isRoot = false
				break
			}
		}
		if isRoot {
			roots = append(roots, u)
		}
	}
	return roots
}

// addPathEdges orders a unit after another system's unit that produces one of
// its input paths (or an ancestor of one). Shared filesystem paths are
// serialized through graph edges, never ad hoc locking.
func addPathEdges(units []*engine.Unit) {
	producers := make(map[string]string, len(units))
	for _, u := range units {
		if u.OutputPath != "" {
			producers[filepath.Clean(u.OutputPath)] = u.ID
		}
	}

	for _, u := range units {
		for _, input := range u.InputPaths {
			for path := filepath.Clean(input); ; path = filepath.Dir(path) {
				if producer, ok := producers[path]; ok && producer != u.ID {
					if !dependsOn(u, producer) {
						u.DependsOn = append(u.DependsOn, producer)
					}
					break
				}
				if path == filepath.Dir(path) {
					break
				}
			}
		}
	}
}

func dependsOn(u *engine.Unit, id string) bool {
	for _, dep := range u.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// expandTarget resolves a destination path: "~" prefixes and relative paths
// resolve against home, absolute paths stand.
func expandTarget(path, home string) string {
	switch {
	case path == "~":
		return home
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(home, path[2:])
	case filepath.IsAbs(path):
		return filepath.Clean(path)
	default:
		return filepath.Join(home, path)
	}
}
