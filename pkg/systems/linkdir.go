package systems

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
)

type linkDirOptions struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}

// linkDir mirrors a source tree's directory structure into a destination and
// symlinks every file back to its source.
type linkDir struct {
	name string
	opts linkDirOptions
}

func newLinkDir(cfg *config.SystemConfig) (System, error) {
	var opts linkDirOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	return &linkDir{name: cfg.Name(), opts: opts}, nil
}

func (s *linkDir) Name() string { return s.name }

func (s *linkDir) Expand(ctx context.Context, in *Input) ([]*engine.Unit, error) {
	src, err := filepath.Abs(filepath.Join(in.Root, s.opts.From))
	if err != nil {
		return nil, engine.NewResolutionError("resolving source tree", err).WithSystem(s.name)
	}
	dst := expandTarget(s.opts.To, in.Home)

	entries, err := walkTree(src)
	if err != nil {
		return nil, err
	}

	var units []*engine.Unit
	dirUnits := make(map[string]string)

	for _, entry := range entries {
		target := filepath.Join(dst, entry.Rel)

		if entry.Dir {
			unit := &engine.Unit{
				ID:          fmt.Sprintf("%s:mkdir:%s", s.name, target),
				System:      s.name,
				Description: fmt.Sprintf("create directory %s", target),
				Fingerprint: engine.NewFingerprint().Str("mkdir").Str(target).Sum(),
				OutputPath:  target,
				Action: func(ctx context.Context) error {
					return os.MkdirAll(target, 0o755)
				},
			}
			if parent, ok := dirUnits[filepath.Dir(target)]; ok {
				unit.DependsOn = append(unit.DependsOn, parent)
			}
			dirUnits[target] = unit.ID
			units = append(units, unit)
			continue
		}

		source := filepath.Join(src, entry.Rel)
		unit := &engine.Unit{
			ID:          fmt.Sprintf("%s:link:%s", s.name, target),
			System:      s.name,
			Description: fmt.Sprintf("link %s to %s", target, source),
			Fingerprint: engine.NewFingerprint().Str("link").Str(source).Str(target).Sum(),
			OutputPath:  target,
			Action: func(ctx context.Context) error {
				return ensureSymlink(source, target)
			},
		}
		if parent, ok := dirUnits[filepath.Dir(target)]; ok {
			unit.DependsOn = append(unit.DependsOn, parent)
		}
		units = append(units, unit)
	}
	return units, nil
}
