package packages

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
)

// Debian is the apt/dpkg backend, the primary provider on Debian-family
// hosts.
type Debian struct {
	runner Runner
}

// Name implements Provider.
func (*Debian) Name() string { return "debian" }

// NeedsInteraction implements Provider. Installs go through sudo, which may
// prompt for a password.
func (*Debian) NeedsInteraction() bool { return true }

// Installed lists installed package names via dpkg-query.
func (d *Debian) Installed(ctx context.Context) (map[string]struct{}, error) {
	out, err := d.runner.Output(ctx, "dpkg-query", "-W", "-f", "${Package}\\n")
	if err != nil {
		return nil, fmt.Errorf("listing installed debian packages: %w", err)
	}
	return scanNames(out), nil
}

// Install installs the given packages through apt-get, elevating when needed.
func (d *Debian) Install(ctx context.Context, pkgs []string) error {
	name, args := elevate("apt-get", append([]string{"install", "-y"}, pkgs...)...)
	if err := d.runner.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("apt-get install: %w", err)
	}
	return nil
}

// scanNames splits command output into a set of non-empty lines.
func scanNames(out []byte) map[string]struct{} {
	names := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if name := scanner.Text(); name != "" {
			names[name] = struct{}{}
		}
	}
	return names
}
