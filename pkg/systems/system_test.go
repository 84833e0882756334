package systems

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtolnay-contrib/quickcfg/pkg/config"
	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
	"github.com/dtolnay-contrib/quickcfg/pkg/facts"
	"github.com/dtolnay-contrib/quickcfg/pkg/hierarchy"
	"github.com/dtolnay-contrib/quickcfg/pkg/packages"
	"github.com/dtolnay-contrib/quickcfg/pkg/template"
)

func parseSystems(t *testing.T, doc string) []config.SystemConfig {
	t.Helper()
	var cfg struct {
		Systems []config.SystemConfig `yaml:"systems"`
	}
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("parsing systems: %v", err)
	}
	return cfg.Systems
}

func makeHierarchy(t *testing.T, doc string) *hierarchy.Hierarchy {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.yml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("writing data source: %v", err)
	}
	h, err := hierarchy.Resolve(dir, []string{"data.yml"}, facts.Facts{})
	if err != nil {
		t.Fatalf("resolving hierarchy: %v", err)
	}
	return h
}

func makeInput(t *testing.T, data *hierarchy.Hierarchy) *Input {
	t.Helper()
	if data == nil {
		data = makeHierarchy(t, "")
	}
	return &Input{
		Root:     t.TempDir(),
		Home:     t.TempDir(),
		Facts:    facts.Facts{},
		Data:     data,
		Packages: packages.NewRegistry(packages.ExecRunner{}),
		Renderer: template.Verbatim{},
	}
}

func findUnit(t *testing.T, units []*engine.Unit, id string) *engine.Unit {
	t.Helper()
	for _, u := range units {
		if u.ID == id {
			return u
		}
	}
	t.Fatalf("unit %s not found in %d units", id, len(units))
	return nil
}

func hasDep(u *engine.Unit, id string) bool {
	for _, dep := range u.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

func TestCopyDirExpand(t *testing.T) {
	in := makeInput(t, makeHierarchy(t, "editor: vim\n"))

	src := filepath.Join(in.Root, "files")
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	plain := []byte("set nocompatible\n")
	templated := []byte("# quickcfg:editor\nexport EDITOR={{editor}}\n")
	if err := os.WriteFile(filepath.Join(src, "vimrc"), plain, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "profile"), templated, 0o644); err != nil {
		t.Fatal(err)
	}

	cfgs := parseSystems(t, `
systems:
  - type: copy-dir
    id: dotfiles
    from: files
    to: "~"
`)
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}

	units, err := sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	// root mkdir, nested mkdir, two copies.
	if len(units) != 4 {
		t.Fatalf("got %d units, want 4", len(units))
	}

	rootDir := findUnit(t, units, "dotfiles:mkdir:"+in.Home)
	nestedDir := findUnit(t, units, "dotfiles:mkdir:"+filepath.Join(in.Home, "nested"))
	if !hasDep(nestedDir, rootDir.ID) {
		t.Errorf("nested mkdir should depend on root mkdir")
	}

	profile := findUnit(t, units, "dotfiles:copy:"+filepath.Join(in.Home, "nested", "profile"))
	if !hasDep(profile, nestedDir.ID) {
		t.Errorf("file unit should depend on its directory unit")
	}
	if len(profile.Keys) != 1 || profile.Keys[0].Key != "editor" {
		t.Errorf("templated file keys = %v, want [editor]", profile.Keys)
	}

	vimrc := findUnit(t, units, "dotfiles:copy:"+filepath.Join(in.Home, "vimrc"))
	if len(vimrc.Keys) != 0 {
		t.Errorf("plain file should carry no keys, got %v", vimrc.Keys)
	}
}

func TestCopyDirFingerprintTracksData(t *testing.T) {
	// Same destination for both expansions; only the hierarchy value differs.
	home := t.TempDir()
	expand := func(data *hierarchy.Hierarchy) string {
		in := makeInput(t, data)
		in.Home = home
		src := filepath.Join(in.Root, "files")
		if err := os.MkdirAll(src, 0o755); err != nil {
			t.Fatal(err)
		}
		body := []byte("# quickcfg:editor\n{{editor}}\n")
		if err := os.WriteFile(filepath.Join(src, "rc"), body, 0o644); err != nil {
			t.Fatal(err)
		}

		cfgs := parseSystems(t, "systems:\n  - {type: copy-dir, id: d, from: files, to: out}\n")
		sys, err := FromConfig(&cfgs[0])
		if err != nil {
			t.Fatal(err)
		}
		units, err := sys.Expand(context.Background(), in)
		if err != nil {
			t.Fatal(err)
		}
		return findUnit(t, units, "d:copy:"+filepath.Join(in.Home, "out", "rc")).Fingerprint
	}

	a := expand(makeHierarchy(t, "editor: vim\n"))
	b := expand(makeHierarchy(t, "editor: emacs\n"))
	if a == b {
		t.Errorf("fingerprint should change when a referenced key's value changes")
	}
}

func TestCopyDirActionWrites(t *testing.T) {
	in := makeInput(t, nil)
	src := filepath.Join(in.Root, "files")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	body := []byte("hello\n")
	if err := os.WriteFile(filepath.Join(src, "greeting"), body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfgs := parseSystems(t, "systems:\n  - {type: copy-dir, id: d, from: files, to: out}\n")
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	units, err := sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	for _, u := range units {
		if err := u.Action(context.Background()); err != nil {
			t.Fatalf("running %s: %v", u.ID, err)
		}
	}

	dst := filepath.Join(in.Home, "out", "greeting")
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("destination = %q, want %q", got, body)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("destination mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLinkDirExpand(t *testing.T) {
	in := makeInput(t, nil)
	src := filepath.Join(in.Root, "bin")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "tool"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfgs := parseSystems(t, "systems:\n  - {type: link-dir, id: bins, from: bin, to: localbin}\n")
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	units, err := sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	for _, u := range units {
		if err := u.Action(context.Background()); err != nil {
			t.Fatalf("running %s: %v", u.ID, err)
		}
	}

	linked := filepath.Join(in.Home, "localbin", "tool")
	got, err := os.Readlink(linked)
	if err != nil {
		t.Fatalf("reading link: %v", err)
	}
	want := filepath.Join(src, "tool")
	if got != want {
		t.Errorf("link target = %q, want %q", got, want)
	}
}

func TestLinkRelativizesTarget(t *testing.T) {
	in := makeInput(t, nil)
	if err := os.MkdirAll(filepath.Join(in.Home, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(in.Home, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(in.Home, "src", "tool"), []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfgs := parseSystems(t, "systems:\n  - {type: link, id: tool, path: bin/tool, target: src/tool}\n")
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	units, err := sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}

	if err := units[0].Action(context.Background()); err != nil {
		t.Fatalf("action: %v", err)
	}
	got, err := os.Readlink(filepath.Join(in.Home, "bin", "tool"))
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join("..", "src", "tool") {
		t.Errorf("stored target = %q, want ../src/tool", got)
	}
}

func TestLinkIdempotentAndSafe(t *testing.T) {
	in := makeInput(t, nil)
	cfgs := parseSystems(t, "systems:\n  - {type: link, id: tool, path: tool, target: src/tool}\n")
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	units, err := sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	unit := units[0]

	if err := unit.Action(context.Background()); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := unit.Action(context.Background()); err != nil {
		t.Fatalf("second apply should be a no-op: %v", err)
	}

	// A regular file at the link path must not be clobbered.
	path := filepath.Join(in.Home, "tool")
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("precious"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := unit.Action(context.Background()); err == nil {
		t.Errorf("expected error replacing a regular file with a symlink")
	}
}

type fakeProvider struct {
	name        string
	interactive bool
	installed   map[string]struct{}
	got         []string
}

func (p *fakeProvider) Name() string           { return p.name }
func (p *fakeProvider) NeedsInteraction() bool { return p.interactive }

func (p *fakeProvider) Installed(ctx context.Context) (map[string]struct{}, error) {
	return p.installed, nil
}

func (p *fakeProvider) Install(ctx context.Context, pkgs []string) error {
	p.got = append(p.got, pkgs...)
	return nil
}

func TestInstallPackagesInstallsDelta(t *testing.T) {
	in := makeInput(t, makeHierarchy(t, "\"fake::packages\":\n  - curl\n  - git\n  - curl\n"))
	provider := &fakeProvider{name: "fake", installed: map[string]struct{}{"curl": {}}}
	in.Packages.Register(provider)

	cfgs := parseSystems(t, "systems:\n  - {type: install-packages, provider: fake}\n")
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	units, err := sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	unit := units[0]

	if len(unit.Keys) != 1 || unit.Keys[0].Key != "fake::packages" {
		t.Errorf("keys = %v, want [fake::packages]", unit.Keys)
	}
	if err := unit.Action(context.Background()); err != nil {
		t.Fatalf("action: %v", err)
	}
	if len(provider.got) != 1 || provider.got[0] != "git" {
		t.Errorf("installed %v, want [git]", provider.got)
	}
}

func TestInstallPackagesExclusiveWhenInteractive(t *testing.T) {
	in := makeInput(t, makeHierarchy(t, "\"fake::packages\": [curl]\n"))
	in.Packages.Register(&fakeProvider{name: "fake", interactive: true})

	cfgs := parseSystems(t, "systems:\n  - {type: install-packages, provider: fake}\n")
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	units, err := sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !units[0].Exclusive {
		t.Errorf("interactive provider's unit should be exclusive")
	}
}

func TestInstallPackagesMissingProvider(t *testing.T) {
	// Nothing desired: silently no units.
	in := makeInput(t, makeHierarchy(t, ""))
	cfgs := parseSystems(t, "systems:\n  - {type: install-packages, provider: nope}\n")
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	units, err := sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 0 {
		t.Fatalf("got %d units, want 0", len(units))
	}

	// Packages desired but no provider: the unit fails at run time.
	in = makeInput(t, makeHierarchy(t, "\"nope::packages\": [curl]\n"))
	units, err = sys.Expand(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if err := units[0].Action(context.Background()); err == nil {
		t.Errorf("expected provider error for missing provider")
	}
}

func TestDownloadAndRunFingerprintIsIdentity(t *testing.T) {
	expand := func(doc string) *engine.Unit {
		cfgs := parseSystems(t, doc)
		sys, err := FromConfig(&cfgs[0])
		if err != nil {
			t.Fatal(err)
		}
		units, err := sys.Expand(context.Background(), makeInput(t, nil))
		if err != nil {
			t.Fatal(err)
		}
		return units[0]
	}

	a := expand("systems:\n  - {type: download-and-run, id: setup, url: \"https://a.example/install.sh\"}\n")
	b := expand("systems:\n  - {type: download-and-run, id: setup, url: \"https://b.example/other.sh\"}\n")
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("fingerprint must depend only on id, not the url")
	}

	c := expand("systems:\n  - {type: download-and-run, id: setup-v2, url: \"https://a.example/install.sh\"}\n")
	if a.Fingerprint == c.Fingerprint {
		t.Errorf("changing the id must change the fingerprint")
	}
}

func TestGitSyncRefreshGate(t *testing.T) {
	cfgs := parseSystems(t, "systems:\n  - {type: git-sync, id: repo, remote: \"https://example.com/r.git\", path: src/r, refresh: 1d}\n")
	sys, err := FromConfig(&cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	units, err := sys.Expand(context.Background(), makeInput(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	if units[0].Refresh != 24*time.Hour {
		t.Errorf("refresh = %v, want 24h", units[0].Refresh)
	}
}

func TestExpandAllRequires(t *testing.T) {
	in := makeInput(t, nil)
	cfgs := parseSystems(t, `
systems:
  - {type: link, id: first, path: a, target: srcdir/a}
  - {type: link, id: second, requires: [first], path: b, target: srcdir/b}
`)
	units, err := ExpandAll(context.Background(), cfgs, in)
	if err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}

	second := findUnit(t, units, "second:link:"+filepath.Join(in.Home, "b"))
	first := findUnit(t, units, "first:link:"+filepath.Join(in.Home, "a"))
	if !hasDep(second, first.ID) {
		t.Errorf("requires should add an edge from the required system's units")
	}
}

func TestExpandAllUnknownRequires(t *testing.T) {
	in := makeInput(t, nil)
	cfgs := parseSystems(t, "systems:\n  - {type: link, id: a, requires: [ghost], path: a, target: b}\n")
	_, err := ExpandAll(context.Background(), cfgs, in)
	if err == nil {
		t.Fatal("expected error for unknown requires target")
	}
	if !engine.IsConfiguration(err) {
		t.Errorf("error should be a configuration error, got %v", err)
	}
}

func TestExpandAllPathOrdering(t *testing.T) {
	in := makeInput(t, nil)
	src := filepath.Join(in.Root, "app")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "tool"), []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfgs := parseSystems(t, `
systems:
  - {type: copy-dir, id: app, from: app, to: appdir}
  - {type: link, id: shortcut, path: bin/tool, target: appdir/tool}
`)
	units, err := ExpandAll(context.Background(), cfgs, in)
	if err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}

	link := findUnit(t, units, "shortcut:link:"+filepath.Join(in.Home, "bin", "tool"))
	producer := findUnit(t, units, "app:copy:"+filepath.Join(in.Home, "appdir", "tool"))
	if !hasDep(link, producer.ID) {
		t.Errorf("link should be ordered after the unit producing its target")
	}
}
