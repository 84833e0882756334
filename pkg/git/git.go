// Package git defines the engine's contract with the git client used by
// git-sync and the repository self-update gate, plus an exec-backed
// implementation. Remote operations are retried with backoff; transient
// network failures should not fail a unit outright.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog/log"
)

const (
	maxRetries     = 3
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// Client performs the git operations the engine needs.
type Client interface {
	// Clone clones remote into path, creating parent directories.
	Clone(ctx context.Context, remote, path string) error

	// Update fetches and fast-forwards the checkout at path. It reports
	// whether anything changed.
	Update(ctx context.Context, path string) (bool, error)
}

// ExecClient shells out to the git binary.
type ExecClient struct{}

// NewExecClient creates an exec-backed client.
func NewExecClient() *ExecClient {
	return &ExecClient{}
}

// Clone implements Client.
func (c *ExecClient) Clone(ctx context.Context, remote, path string) error {
	if err := os.MkdirAll(strings.TrimSuffix(path, "/"), 0o755); err != nil {
		return fmt.Errorf("creating clone target: %w", err)
	}

	err := retry.Do(func() error {
		return c.git(ctx, "", "clone", remote, path)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff), retry.Context(ctx))
	if err != nil {
		return fmt.Errorf("cloning %s: %w", remote, err)
	}
	return nil
}

// Update implements Client.
func (c *ExecClient) Update(ctx context.Context, path string) (bool, error) {
	err := retry.Do(func() error {
		return c.git(ctx, path, "fetch", "origin")
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff), retry.Context(ctx))
	if err != nil {
		return false, fmt.Errorf("fetching %s: %w", path, err)
	}

	local, err := c.revParse(ctx, path, "HEAD")
	if err != nil {
		return false, err
	}
	remote, err := c.revParse(ctx, path, "@{u}")
	if err != nil {
		return false, err
	}
	if local == remote {
		return false, nil
	}

	if err := c.git(ctx, path, "merge", "--ff-only", "@{u}"); err != nil {
		return false, fmt.Errorf("fast-forwarding %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("checkout updated")
	return true, nil
}

func (c *ExecClient) git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *ExecClient) revParse(ctx context.Context, dir, rev string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", rev)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", rev, err)
	}
	return strings.TrimSpace(string(out)), nil
}
