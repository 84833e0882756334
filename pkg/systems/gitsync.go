package systems

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
)

type gitSyncOptions struct {
	Remote  string          `yaml:"remote" validate:"required"`
	Path    string          `yaml:"path" validate:"required"`
	Refresh config.Interval `yaml:"refresh"`
}

// gitSync keeps a clone of a remote repository at a local path, fast-forward
// only. Reruns are gated by the refresh interval rather than content, since
// the remote cannot be fingerprinted locally.
type gitSync struct {
	name string
	opts gitSyncOptions
}

func newGitSync(cfg *config.SystemConfig) (System, error) {
	var opts gitSyncOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	return &gitSync{name: cfg.Name(), opts: opts}, nil
}

func (s *gitSync) Name() string { return s.name }

func (s *gitSync) Expand(ctx context.Context, in *Input) ([]*engine.Unit, error) {
	path := expandTarget(s.opts.Path, in.Home)
	remote := s.opts.Remote
	client := in.Git

	unit := &engine.Unit{
		ID:          fmt.Sprintf("%s:%s", s.name, path),
		System:      s.name,
		Description: fmt.Sprintf("sync %s into %s", remote, path),
		Fingerprint: engine.NewFingerprint().Str("git-sync").Str(remote).Str(s.opts.Refresh.Duration().String()).Sum(),
		Refresh:     s.opts.Refresh.Duration(),
		OutputPath:  path,
		Action: func(ctx context.Context) error {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				log.Info().Str("remote", remote).Str("path", path).Msg("cloning repository")
				return client.Clone(ctx, remote, path)
			}
			changed, err := client.Update(ctx, path)
			if err != nil {
				return err
			}
			if changed {
				log.Info().Str("path", path).Msg("repository updated")
			}
			return nil
		},
	}
	return []*engine.Unit{unit}, nil
}
