package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_:]+)\s*\}\}`)

// Subst renders {{key}} placeholders with the resolved hierarchy values.
// Placeholders whose key carries no value are left untouched; collection
// values render space-separated.
type Subst struct{}

// Render substitutes placeholders in content.
func (Subst) Render(content []byte, values map[string]any) ([]byte, error) {
	out := placeholderPattern.ReplaceAllFunc(content, func(m []byte) []byte {
		key := string(placeholderPattern.FindSubmatch(m)[1])
		v, ok := values[key]
		if !ok {
			return m
		}
		return []byte(render(v))
	})
	return out, nil
}

func render(v any) string {
	if list, ok := v.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = render(item)
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprintf("%v", v)
}
