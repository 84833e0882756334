// Package facts detects host-identifying key/value facts used to select
// hierarchy layers and the default package provider.
package facts

import (
	"bufio"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Well-known fact keys.
const (
	Distro   = "distro"
	OS       = "os"
	Arch     = "arch"
	Hostname = "hostname"
)

// envPrefix marks environment variables that override detected facts,
// e.g. QUICKCFG_FACT_DISTRO=ubuntu.
const envPrefix = "QUICKCFG_FACT_"

// Facts is an immutable key/value description of the host, supplied once at
// startup. Lookups never mutate it.
type Facts map[string]string

// Get returns the value for key.
func (f Facts) Get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

// Keys returns all fact names in sorted order.
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Detect gathers facts from the local host. Overrides are applied on top of
// detected values, first from the given map (config file), then from
// QUICKCFG_FACT_* environment variables.
func Detect(overrides map[string]string) Facts {
	f := Facts{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	if hostname, err := os.Hostname(); err == nil {
		f[Hostname] = hostname
	}

	if distro := detectDistro(); distro != "" {
		f[Distro] = distro
	} else {
		log.Debug().Msg("no distro detected")
	}

	for k, v := range overrides {
		f[k] = v
	}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
		if key == "" {
			continue
		}
		f[key] = value
	}

	return f
}

// detectDistro reads the distribution ID from os-release.
func detectDistro() string {
	for _, path := range []string{"/etc/os-release", "/usr/lib/os-release"} {
		if id := osReleaseID(path); id != "" {
			return id
		}
	}
	return ""
}

func osReleaseID(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "ID=") {
			continue
		}
		return strings.Trim(strings.TrimPrefix(line, "ID="), `"`)
	}
	return ""
}
