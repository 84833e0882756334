package facts

import (
	"runtime"
	"testing"
)

func TestDetect_BaseFacts(t *testing.T) {
	f := Detect(nil)

	if v, ok := f.Get(OS); !ok || v != runtime.GOOS {
		t.Errorf("Expected os=%s, got %q (ok=%v)", runtime.GOOS, v, ok)
	}
	if v, ok := f.Get(Arch); !ok || v != runtime.GOARCH {
		t.Errorf("Expected arch=%s, got %q (ok=%v)", runtime.GOARCH, v, ok)
	}
}

func TestDetect_ConfigOverrides(t *testing.T) {
	f := Detect(map[string]string{Distro: "debian", "site": "home"})

	if v, _ := f.Get(Distro); v != "debian" {
		t.Errorf("Expected override distro=debian, got %q", v)
	}
	if v, _ := f.Get("site"); v != "home" {
		t.Errorf("Expected custom fact site=home, got %q", v)
	}
}

func TestDetect_EnvOverrides(t *testing.T) {
	t.Setenv("QUICKCFG_FACT_DISTRO", "arch")

	f := Detect(map[string]string{Distro: "debian"})

	// Environment wins over config-file overrides.
	if v, _ := f.Get(Distro); v != "arch" {
		t.Errorf("Expected env override distro=arch, got %q", v)
	}
}

func TestKeys_Sorted(t *testing.T) {
	f := Facts{"b": "2", "a": "1", "c": "3"}
	keys := f.Keys()

	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d", len(want), len(keys))
	}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("Expected key[%d]=%s, got %s", i, k, keys[i])
		}
	}
}
