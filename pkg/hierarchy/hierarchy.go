// Package hierarchy resolves an ordered list of layered data sources into a
// single fact-driven lookup surface.
//
// Entry paths may contain fact placeholders such as db/{distro}.yml. Entries
// whose substituted path does not exist (or whose placeholder names an
// undefined fact) are silently skipped; optional layers are expected to be
// missing on most hosts. A source that exists but cannot be read or parsed is
// a resolution error and fails the run.
package hierarchy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dtolnay-contrib/quickcfg/pkg/facts"
)

// Kind declares how a key's values merge across sources.
type Kind int

const (
	// KindScalar resolves to the first source in configured order that
	// defines the key.
	KindScalar Kind = iota

	// KindCollection resolves to the concatenation, in source order, of
	// every source's value(s) for the key.
	KindCollection
)

// String returns the tag-annotation spelling of the kind.
func (k Kind) String() string {
	if k == KindCollection {
		return "array"
	}
	return "scalar"
}

// Dep is one hierarchy-key dependency: the key plus the kind it is read as.
type Dep struct {
	Key  string
	Kind Kind
}

// Source is one resolved data layer.
type Source struct {
	// Path is the concrete file the layer was loaded from.
	Path string

	values map[string]any
}

// Hierarchy is the ordered set of resolved sources. It is immutable after
// Resolve; lookups are pure functions of (key, kind).
type Hierarchy struct {
	sources []Source
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Resolve substitutes fact placeholders into each entry path, loads every
// entry that exists, and returns the merged lookup surface. Entry order is
// preserved; it is the precedence order for scalar lookups.
func Resolve(root string, entries []string, f facts.Facts) (*Hierarchy, error) {
	h := &Hierarchy{}

	for _, entry := range entries {
		path, ok := substitute(entry, f)
		if !ok {
			log.Debug().Str("entry", entry).Msg("skipping hierarchy entry, fact undefined")
			continue
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				log.Debug().Str("path", path).Msg("skipping missing hierarchy source")
				continue
			}
			return nil, fmt.Errorf("reading hierarchy source %s: %w", path, err)
		}

		values := make(map[string]any)
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parsing hierarchy source %s: %w", path, err)
		}

		h.sources = append(h.sources, Source{Path: path, values: values})
	}

	return h, nil
}

// substitute replaces {fact} placeholders in a path template. It reports
// false when a referenced fact is undefined.
func substitute(entry string, f facts.Facts) (string, bool) {
	missing := false
	path := placeholderPattern.ReplaceAllStringFunc(entry, func(m string) string {
		name := strings.Trim(m, "{}")
		if v, ok := f.Get(name); ok {
			return v
		}
		missing = true
		return ""
	})
	return path, !missing
}

// Sources returns the concrete paths that were loaded, in precedence order.
func (h *Hierarchy) Sources() []string {
	paths := make([]string, len(h.sources))
	for i, s := range h.sources {
		paths[i] = s.Path
	}
	return paths
}

// Lookup resolves key according to kind. The second return is false when no
// source defines the key; an undefined key is absent, never an error.
//
// A scalar lookup of a list-valued source takes the list's first element; a
// collection lookup of a scalar-valued source treats it as a one-element
// list. The kind at the lookup site always wins.
func (h *Hierarchy) Lookup(key string, kind Kind) (any, bool) {
	if kind == KindCollection {
		values := h.Collection(key)
		return values, len(values) > 0
	}
	return h.Scalar(key)
}

// Scalar returns the first source's value for key, in configured order.
func (h *Hierarchy) Scalar(key string) (any, bool) {
	for _, s := range h.sources {
		v, ok := s.values[key]
		if !ok {
			continue
		}
		if list, isList := v.([]any); isList {
			if len(list) == 0 {
				continue
			}
			return list[0], true
		}
		return v, true
	}
	return nil, false
}

// Collection returns every source's value(s) for key concatenated in source
// order. Duplicates are preserved; deduplication is the consumer's concern.
func (h *Hierarchy) Collection(key string) []any {
	var values []any
	for _, s := range h.sources {
		v, ok := s.values[key]
		if !ok {
			continue
		}
		if list, isList := v.([]any); isList {
			values = append(values, list...)
			continue
		}
		values = append(values, v)
	}
	return values
}

// Strings resolves a collection-typed key into its string form. Non-string
// scalars are rendered with their YAML spelling.
func (h *Hierarchy) Strings(key string) []string {
	values := h.Collection(key)
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprintf("%v", v))
	}
	return out
}
