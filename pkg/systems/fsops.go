package systems

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dtolnay-contrib/quickcfg/pkg/engine"
	"github.com/dtolnay-contrib/quickcfg/pkg/hierarchy"
)

// treeEntry is one path found under a source tree, relative to its root.
type treeEntry struct {
	Rel  string
	Dir  bool
	Mode fs.FileMode
}

// walkTree enumerates a source tree in deterministic order. The root itself
// is returned as the first entry with Rel ".".
func walkTree(root string) ([]treeEntry, error) {
	var entries []treeEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, treeEntry{Rel: rel, Dir: d.IsDir(), Mode: info.Mode()})
		return nil
	})
	if err != nil {
		return nil, engine.NewResolutionError(fmt.Sprintf("walking source tree %s", root), err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rel < entries[j].Rel })
	return entries, nil
}

// writeFileIfChanged writes content to path unless identical content is
// already present, preserving idempotence at the filesystem level.
func writeFileIfChanged(path string, content []byte, mode fs.FileMode) error {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, content) {
		return os.Chmod(path, mode)
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return err
	}
	return os.Chmod(path, mode)
}

// ensureSymlink points path at target, replacing an existing symlink that
// points elsewhere. A regular file at path is never clobbered.
func ensureSymlink(target, path string) error {
	info, err := os.Lstat(path)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		current, err := os.Readlink(path)
		if err != nil {
			return err
		}
		if current == target {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
	case err == nil:
		return fmt.Errorf("refusing to replace non-symlink %s", path)
	case !os.IsNotExist(err):
		return err
	}
	return os.Symlink(target, path)
}

// resolveDeps looks up every scanned dependency in the hierarchy, returning
// the template values and the ordered key list for fingerprinting. Keys with
// no value anywhere in the hierarchy resolve to absent, which is still part
// of the fingerprint.
func resolveDeps(data *hierarchy.Hierarchy, deps []hierarchy.Dep) map[string]any {
	values := make(map[string]any, len(deps))
	for _, dep := range deps {
		if v, ok := data.Lookup(dep.Key, dep.Kind); ok {
			values[dep.Key] = v
		}
	}
	return values
}

// depFingerprint folds resolved dependency values into fp in dep order.
func depFingerprint(fp *engine.Fingerprint, deps []hierarchy.Dep, values map[string]any) {
	for _, dep := range deps {
		fp.Str(dep.Key)
		if v, ok := values[dep.Key]; ok {
			fp.Value(v)
		} else {
			fp.Str("<absent>")
		}
	}
}
