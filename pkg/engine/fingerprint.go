package engine

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint accumulates a unit's declared inputs into a fast,
// non-cryptographic content hash. Zero bytes separate fields so that
// ("ab","c") and ("a","bc") hash differently.
type Fingerprint struct {
	h *xxhash.Digest
}

// NewFingerprint creates an empty fingerprint accumulator.
func NewFingerprint() *Fingerprint {
	return &Fingerprint{h: xxhash.New()}
}

// Str folds a string field into the hash.
func (f *Fingerprint) Str(s string) *Fingerprint {
	_, _ = f.h.WriteString(s)
	_, _ = f.h.Write([]byte{0})
	return f
}

// Value folds an arbitrary resolved hierarchy value into the hash. fmt
// renders maps in sorted key order, so the encoding is deterministic.
func (f *Fingerprint) Value(v any) *Fingerprint {
	return f.Str(fmt.Sprintf("%v", v))
}

// File folds a file's content into the hash.
func (f *Fingerprint) File(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(f.h, file); err != nil {
		return fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	_, _ = f.h.Write([]byte{0})
	return nil
}

// Tree folds a directory tree into the hash: every entry's slash-separated
// relative path, and file content for regular files, in sorted walk order.
func (f *Fingerprint) Tree(root string) error {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fingerprinting tree %s: %w", root, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f.Str(filepath.ToSlash(rel))

		info, err := os.Lstat(path)
		if err != nil {
			return fmt.Errorf("fingerprinting tree %s: %w", root, err)
		}
		switch {
		case info.Mode().IsRegular():
			if err := f.File(path); err != nil {
				return err
			}
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("fingerprinting tree %s: %w", root, err)
			}
			f.Str(target)
		}
	}
	return nil
}

// Sum returns the hash in its canonical 16-hex-digit form.
func (f *Fingerprint) Sum() string {
	return fmt.Sprintf("%016x", f.h.Sum64())
}
