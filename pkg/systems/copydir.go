package systems

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
	"github.com/dtolnay-contrib/quickcfg/pkg/template"
)

type copyDirOptions struct {
	From      string `yaml:"from" validate:"required"`
	To        string `yaml:"to" validate:"required"`
	Templates *bool  `yaml:"templates"`
}

// copyDir mirrors a source tree into a destination, rendering files whose
// head carries a dependency tag.
type copyDir struct {
	name string
	opts copyDirOptions
}

func newCopyDir(cfg *config.SystemConfig) (System, error) {
	var opts copyDirOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	return &copyDir{name: cfg.Name(), opts: opts}, nil
}

func (s *copyDir) Name() string { return s.name }

func (s *copyDir) Expand(ctx context.Context, in *Input) ([]*engine.Unit, error) {
	src := filepath.Join(in.Root, s.opts.From)
	dst := expandTarget(s.opts.To, in.Home)
	templates := s.opts.Templates == nil || *s.opts.Templates

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

		unit, err := s.fileUnit(in, filepath.Join(src, entry.Rel), target, entry.Mode.Perm(), templates)
		if err != nil {
			return nil, err
		}
		if parent, ok := dirUnits[filepath.Dir(target)]; ok {
			unit.DependsOn = append(unit.DependsOn, parent)
		}
		units = append(units, unit)
	}
	return units, nil
}

func (s *copyDir) fileUnit(in *Input, src, target string, mode os.FileMode, templates bool) (*engine.Unit, error) {
	content, err := os.ReadFile(src)
	if err != nil {
		return nil, engine.NewResolutionError(fmt.Sprintf("reading source file %s", src), err).WithSystem(s.name)
	}

	var unit engine.Unit
	unit.ID = fmt.Sprintf("%s:copy:%s", s.name, target)
	unit.System = s.name
	unit.Description = fmt.Sprintf("copy %s to %s", src, target)
	unit.OutputPath = target

	fp := engine.NewFingerprint().Str("copy").Str(target)
	fp.Str(string(content))

	var values map[string]any
	if templates {
		unit.Keys = template.Scan(content)
		values = resolveDeps(in.Data, unit.Keys)
		depFingerprint(fp, unit.Keys, values)
	}
	unit.Fingerprint = fp.Sum()

	if mode == 0 {
		mode = 0o644
	}
	renderer := in.Renderer
	keys := unit.Keys
	unit.Action = func(ctx context.Context) error {
		out := content
		if len(keys) > 0 {
			rendered, err := renderer.Render(content, values)
			if err != nil {
				return fmt.Errorf("rendering %s: %w", src, err)
			}
			out = rendered
		}
		return writeFileIfChanged(target, out, mode)
	}
	return &unit, nil
}
