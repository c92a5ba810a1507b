package promptrender

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"
)

// FuncMap returns the custom template functions available to every rendered
// prompt, each a Go translation of one of PromptEngine's Jinja2 filters.
// Go's pipeline syntax passes the piped value as the LAST argument, so
// `{{ value | truncateWords 50 }}` calls truncateWords(50, value) here.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"json":           jsonFilter,
		"truncateWords":  truncateWords,
		"defaultIfNone":  defaultIfNone,
		"formatDate":     formatDate,
		"extractField":   extractField,
		"listToText":     listToText,
		"sanitize":       sanitize,
		"firstN":         firstN,
		"keys":           keysFilter,
		"values":         valuesFilter,
	}
}

func jsonFilter(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("json filter: %w", err)
	}
	return string(b), nil
}

// truncateWords keeps the first n whitespace-separated words of s, appending
// "..." if anything was cut, matching _truncate_words.
func truncateWords(n int, v any) string {
	s := toString(v)
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "..."
}

// defaultIfNone returns def when v is nil or the empty string, matching
// _default_if_none.
func defaultIfNone(def, v any) any {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok && s == "" {
		return def
	}
	return v
}

// formatDate renders a time.Time (or a value already stringified) using a Go
// reference-time layout, matching _format_date's strftime-style formatting.
func formatDate(layout string, v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format(layout)
	default:
		return toString(v)
	}
}

// extractField walks a dot-separated path ("a.b.c") through nested
// map[string]any/[]any values, mirroring _get_nested/extract_field.
func extractField(path string, v any) any {
	cur := v
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// listToText joins a []any (or []string) with sep, matching _list_to_text.
func listToText(sep string, v any) string {
	switch items := v.(type) {
	case []any:
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = toString(item)
		}
		return strings.Join(parts, sep)
	case []string:
		return strings.Join(items, sep)
	default:
		return toString(v)
	}
}

// sanitize strips characters a prompt template should not forward verbatim
// into an LLM call (control characters, embedded null bytes), matching
// _sanitize's defensive-stripping intent without attempting full HTML
// sanitization.
func sanitize(v any) string {
	s := toString(v)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r >= ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// firstN returns the first n elements of a list, or the first n runes of a
// string, matching _first_n.
func firstN(n int, v any) any {
	switch items := v.(type) {
	case []any:
		if n >= len(items) {
			return items
		}
		if n < 0 {
			n = 0
		}
		return items[:n]
	case string:
		r := []rune(items)
		if n >= len(r) {
			return items
		}
		if n < 0 {
			n = 0
		}
		return string(r[:n])
	default:
		return v
	}
}

// keysFilter returns a map's keys, sorted for deterministic rendering.
func keysFilter(v map[string]any) []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// valuesFilter returns a map's values in key-sorted order.
func valuesFilter(v map[string]any) []any {
	keys := keysFilter(v)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = v[k]
	}
	return out
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
