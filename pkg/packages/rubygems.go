package packages

import (
	"context"
	"fmt"
)

// RubyGems installs gems into the user's gem home.
type RubyGems struct {
	runner Runner
}

// Name implements Provider.
func (*RubyGems) Name() string { return "rubygems" }

// NeedsInteraction implements Provider.
func (*RubyGems) NeedsInteraction() bool { return false }

// Installed lists installed gem names.
func (g *RubyGems) Installed(ctx context.Context) (map[string]struct{}, error) {
	out, err := g.runner.Output(ctx, "gem", "list", "--no-versions")
	if err != nil {
		return nil, fmt.Errorf("listing installed gems: %w", err)
	}
	return scanNames(out), nil
}

// Install installs the given gems without requiring root.
func (g *RubyGems) Install(ctx context.Context, pkgs []string) error {
	args := append([]string{"install", "--user-install"}, pkgs...)
	if err := g.runner.Run(ctx, "gem", args...); err != nil {
		return fmt.Errorf("gem install: %w", err)
	}
	return nil
}
