package systems

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
	"github.com/dtolnay-contrib/quickcfg/pkg/hierarchy"
	"github.com/dtolnay-contrib/quickcfg/pkg/packages"
)

type installPackagesOptions struct {
	Key      string `yaml:"key"`
	Provider string `yaml:"provider"`
}

// installPackages converges the set of installed packages for one provider
// toward the hierarchy's desired set. Only missing packages are installed;
// nothing is ever removed.
type installPackages struct {
	name string
	opts installPackagesOptions
}

func newInstallPackages(cfg *config.SystemConfig) (System, error) {
	var opts installPackagesOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	return &installPackages{name: cfg.Name(), opts: opts}, nil
}

func (s *installPackages) Name() string { return s.name }

func (s *installPackages) Expand(ctx context.Context, in *Input) ([]*engine.Unit, error) {
	key := s.opts.Key
	if key == "" {
		key = "packages"
	}

	var provider packages.Provider
	var ok bool
	providerName := s.opts.Provider
	if providerName != "" {
		key = providerName + "::" + key
		provider, ok = in.Packages.Get(providerName)
	} else {
		provider, ok = in.Packages.Primary(in.Facts)
		if ok {
			providerName = provider.Name()
		}
	}

	desired := in.Data.Strings(key)
	if !ok {
		// An empty desired set needs no provider; a populated one does.
		if len(desired) == 0 {
			log.Debug().Str("system", s.name).Str("key", key).
				Msg("no package provider and nothing to install")
			return nil, nil
		}
		missing := providerName
		if missing == "" {
			missing = "primary"
		}
		return []*engine.Unit{s.failingUnit(key, missing)}, nil
	}

	fp := engine.NewFingerprint().Str("install-packages").Str(providerName).Str(key)
	for _, pkg := range desired {
		fp.Str(pkg)
	}

	unit := &engine.Unit{
		ID:          fmt.Sprintf("%s:%s", s.name, providerName),
		System:      s.name,
		Description: fmt.Sprintf("install %s packages from %s", providerName, key),
		Keys:        []hierarchy.Dep{{Key: key, Kind: hierarchy.KindCollection}},
		Fingerprint: fp.Sum(),
		Exclusive:   provider.NeedsInteraction(),
		Action: func(ctx context.Context) error {
			installed, err := provider.Installed(ctx)
			if err != nil {
				return engine.NewProviderError(
					fmt.Sprintf("listing installed %s packages", providerName), err)
			}
			missing := packages.Delta(desired, installed)
			if len(missing) == 0 {
				return nil
			}
			log.Info().Str("provider", providerName).Strs("packages", missing).
				Msg("installing missing packages")
			if err := provider.Install(ctx, missing); err != nil {
				return engine.NewProviderError(
					fmt.Sprintf("installing %s packages", providerName), err)
			}
			return nil
		},
	}
	return []*engine.Unit{unit}, nil
}

// failingUnit surfaces a missing provider as a unit failure so sibling
// systems still converge.
func (s *installPackages) failingUnit(key, providerName string) *engine.Unit {
	return &engine.Unit{
		ID:          fmt.Sprintf("%s:%s", s.name, providerName),
		System:      s.name,
		Description: fmt.Sprintf("install packages from %s", key),
		Keys:        []hierarchy.Dep{{Key: key, Kind: hierarchy.KindCollection}},
		Fingerprint: engine.NewFingerprint().Str("install-packages").Str(providerName).Str(key).Sum(),
		Action: func(ctx context.Context) error {
			return engine.NewProviderError(
				fmt.Sprintf("no package provider %q available", providerName), nil)
		},
	}
}
