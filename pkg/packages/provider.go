// Package packages implements the pluggable per-manager backends consulted
// by install-packages. One primary provider is auto-selected from facts;
// others must be named explicitly and read a namespaced hierarchy key.
package packages

import (
	"context"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dtolnay-contrib/quickcfg/pkg/facts"
)

// Runner executes package manager commands. Abstracted so providers are
// testable without a real package manager.
type Runner interface {
	// Output runs a command and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Run runs a command wired to the user's terminal, for managers that may
	// prompt.
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs real subprocesses.
type ExecRunner struct{}

// Output implements Runner.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Provider is one package manager backend.
type Provider interface {
	// Name is the registry key and hierarchy namespace.
	Name() string

	// NeedsInteraction reports whether installs may prompt the user; such
	// installs are serialized by the scheduler.
	NeedsInteraction() bool

	// Installed returns the set of currently installed package names.
	Installed(ctx context.Context) (map[string]struct{}, error)

	// Install installs the given packages. Callers pass only the missing set;
	// an empty set never reaches here.
	Install(ctx context.Context, pkgs []string) error
}

// Registry holds the known providers keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry with the built-in providers.
func NewRegistry(runner Runner) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(&Debian{runner: runner})
	r.Register(&Pip{runner: runner})
	r.Register(&RubyGems{runner: runner})
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Primary resolves the default provider from detected facts. Hosts without a
// supported distro have no primary; install-packages then requires an
// explicit provider.
func (r *Registry) Primary(f facts.Facts) (Provider, bool) {
	distro, ok := f.Get(facts.Distro)
	if !ok {
		return nil, false
	}

	switch distro {
	case "debian", "ubuntu":
		return r.Get("debian")
	default:
		log.Warn().Str("distro", distro).Msg("no package provider for distro")
		return nil, false
	}
}

// Delta returns desired − installed, deduplicated and sorted. This is the
// exact set handed to Provider.Install; present packages are never touched.
func Delta(desired []string, installed map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(desired))
	var missing []string
	for _, pkg := range desired {
		if _, dup := seen[pkg]; dup {
			continue
		}
		seen[pkg] = struct{}{}
		if _, have := installed[pkg]; !have {
			missing = append(missing, pkg)
		}
	}
	sort.Strings(missing)
	return missing
}

// elevate prefixes sudo for commands that need root when not already root.
func elevate(name string, args ...string) (string, []string) {
	if os.Geteuid() == 0 {
		return name, args
	}
	return "sudo", append([]string{name}, args...)
}
