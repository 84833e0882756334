// Package template implements the declared-dependency contract for templated
// files: a single tag line near the top of a file names the hierarchy keys
// the file consumes. Rendering itself is an external collaborator; only the
// dependency declaration matters to the engine.
package template

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/dtolnay-contrib/quickcfg/pkg/hierarchy"
)

// ScanWindow is the number of leading lines inspected for a tag.
const ScanWindow = 5

// Marker introduces a dependency tag, e.g.:
//
//	# quickcfg: user, packages:array
const Marker = "quickcfg:"

// Renderer renders a templated file body with the resolved hierarchy values
// it declared. The engine only needs the declared-dependency contract;
// rendering is pluggable.
type Renderer interface {
	Render(content []byte, values map[string]any) ([]byte, error)
}

// Verbatim is the no-op Renderer: file bodies are copied unchanged. Hierarchy
// dependencies still participate in fingerprinting.
type Verbatim struct{}

// Render returns content unchanged.
func (Verbatim) Render(content []byte, _ map[string]any) ([]byte, error) {
	return content, nil
}

// Scan inspects the first ScanWindow lines of content for a dependency tag
// and returns the declared hierarchy keys. A missing or malformed tag yields
// no dependencies; tag discovery is best-effort, never fatal.
func Scan(content []byte) []hierarchy.Dep {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for line := 0; line < ScanWindow && scanner.Scan(); line++ {
		text := scanner.Text()
		idx := strings.Index(text, Marker)
		if idx < 0 {
			continue
		}
		return parseTag(text[idx+len(Marker):])
	}
	return nil
}

// parseTag parses "key1, key2:array, key3:scalar". Any malformed item voids
// the whole tag.
func parseTag(tag string) []hierarchy.Dep {
	var deps []hierarchy.Dep

	for _, item := range strings.Split(tag, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil
		}

		key, kindName, annotated := strings.Cut(item, ":")
		key = strings.TrimSpace(key)
		if key == "" || strings.ContainsAny(key, " \t") {
			return nil
		}

		kind := hierarchy.KindScalar
		if annotated {
			switch strings.TrimSpace(kindName) {
			case "scalar":
			case "array":
				kind = hierarchy.KindCollection
			default:
				return nil
			}
		}

		deps = append(deps, hierarchy.Dep{Key: key, Kind: kind})
	}

	return deps
}
