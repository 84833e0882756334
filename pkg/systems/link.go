package systems

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
)

type linkOptions struct {
	Path   string `yaml:"path" validate:"required"`
	Target string `yaml:"target" validate:"required"`
}

// link creates a single symlink. The stored link target is relativized
// against the symlink's directory so the result survives tree moves.
type link struct {
	name string
	opts linkOptions
}

func newLink(cfg *config.SystemConfig) (System, error) {
	var opts linkOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	return &link{name: cfg.Name(), opts: opts}, nil
}

func (s *link) Name() string { return s.name }

func (s *link) Expand(ctx context.Context, in *Input) ([]*engine.Unit, error) {
	path := expandTarget(s.opts.Path, in.Home)
	target := expandTarget(s.opts.Target, in.Home)

	stored := target
	if rel, err := filepath.Rel(filepath.Dir(path), target); err == nil {
		stored = rel
	}

	unit := &engine.Unit{
		ID:          fmt.Sprintf("%s:link:%s", s.name, path),
		System:      s.name,
		Description: fmt.Sprintf("link %s to %s", path, stored),
		Fingerprint: engine.NewFingerprint().Str("link").Str(stored).Str(path).Sum(),
		OutputPath:  path,
		InputPaths:  []string{target},
		Action: func(ctx context.Context) error {
			return ensureSymlink(stored, path)
		},
	}
	return []*engine.Unit{unit}, nil
}
