package packages

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
)

// Pip installs Python packages for the current user.
type Pip struct {
	runner Runner
}

// Name implements Provider.
func (*Pip) Name() string { return "pip" }

// NeedsInteraction implements Provider.
func (*Pip) NeedsInteraction() bool { return false }

// Installed lists installed distributions in freeze format.
func (p *Pip) Installed(ctx context.Context) (map[string]struct{}, error) {
	out, err := p.runner.Output(ctx, "python3", "-m", "pip", "list",
		"--format=freeze", "--disable-pip-version-check")
	if err != nil {
		return nil, fmt.Errorf("listing installed pip packages: %w", err)
	}

	names := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name, _, _ := strings.Cut(scanner.Text(), "==")
		if name != "" {
			names[name] = struct{}{}
		}
	}
	return names, nil
}

// Install installs into the user site.
func (p *Pip) Install(ctx context.Context, pkgs []string) error {
	args := append([]string{"-m", "pip", "install", "--user"}, pkgs...)
	if err := p.runner.Run(ctx, "python3", args...); err != nil {
		return fmt.Errorf("pip install: %w", err)
	}
	return nil
}
