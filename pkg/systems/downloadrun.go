package systems

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog/log"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
)

type downloadAndRunOptions struct {
	ID    string   `yaml:"id" validate:"required"`
	URL   string   `yaml:"url" validate:"required,url"`
	Shell bool     `yaml:"shell"`
	Args  []string `yaml:"args"`
}

// downloadAndRun fetches a script and executes it once per identity. The
// fingerprint covers only the declared id: remote content is not hashed, so
// the unit reruns only when the id changes or a refresh is forced.
type downloadAndRun struct {
	name string
	opts downloadAndRunOptions
}

func newDownloadAndRun(cfg *config.SystemConfig) (System, error) {
	var opts downloadAndRunOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	return &downloadAndRun{name: cfg.Name(), opts: opts}, nil
}

func (s *downloadAndRun) Name() string { return s.name }

func (s *downloadAndRun) Expand(ctx context.Context, in *Input) ([]*engine.Unit, error) {
	opts := s.opts

	unit := &engine.Unit{
		ID:          fmt.Sprintf("%s:%s", s.name, opts.ID),
		System:      s.name,
		Description: fmt.Sprintf("download and run %s", opts.URL),
		Fingerprint: engine.NewFingerprint().Str("download-and-run").Str(opts.ID).Sum(),
		Exclusive:   true,
		Action: func(ctx context.Context) error {
			body, err := fetch(ctx, in.HTTP, opts.URL)
			if err != nil {
				return fmt.Errorf("downloading %s: %w", opts.URL, err)
			}

			script, err := writeScript(opts.ID, body)
			if err != nil {
				return err
			}
			defer os.Remove(script)

			log.Info().Str("id", opts.ID).Str("url", opts.URL).Msg("running downloaded script")
			if opts.Shell {
				args := append([]string{script}, opts.Args...)
				return in.Runner.Run(ctx, "/bin/sh", args...)
			}
			return in.Runner.Run(ctx, script, opts.Args...)
		},
	}
	return []*engine.Unit{unit}, nil
}

// fetch downloads url with bounded retries on transient failures.
func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %s", resp.Status)
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
	)
	return body, err
}

func writeScript(id string, body []byte) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("quickcfg-%s", id))
	if err := os.WriteFile(path, body, 0o700); err != nil {
		return "", fmt.Errorf("writing script %s: %w", path, err)
	}
	return path, nil
}
