package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := NewFingerprint().Str("copy").Str("/home/x/.vimrc").Sum()
	b := NewFingerprint().Str("copy").Str("/home/x/.vimrc").Sum()
	if a != b {
		t.Errorf("same inputs hashed differently: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("sum %q should be 16 hex characters", a)
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// "ab"+"c" and "a"+"bc" are distinct field sequences.
	a := NewFingerprint().Str("ab").Str("c").Sum()
	b := NewFingerprint().Str("a").Str("bc").Sum()
	if a == b {
		t.Error("field boundaries must be part of the hash")
	}
}

func TestFingerprintValueMapOrder(t *testing.T) {
	a := NewFingerprint().Value(map[string]any{"x": 1, "y": 2, "z": 3}).Sum()
	b := NewFingerprint().Value(map[string]any{"z": 3, "y": 2, "x": 1}).Sum()
	if a != b {
		t.Error("map values must hash independently of iteration order")
	}
}

func TestFingerprintTree(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}

	fp := NewFingerprint()
	if err := fp.Tree(dir); err != nil {
		t.Fatalf("Tree: %v", err)
	}
	before := fp.Sum()

	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	fp = NewFingerprint()
	if err := fp.Tree(dir); err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if fp.Sum() == before {
		t.Error("changing a nested file must change the tree fingerprint")
	}
}
