package attrs

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotPath is returned when a value cannot be read as a filesystem path.
var ErrNotPath = errors.New("value is not a path")

// Path coerces v into a path string. Empty strings and nil are reported as
// absent rather than as errors.
func Path(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, t != "", nil
	case *string:
		if t == nil || *t == "" {
			return "", false, nil
		}
		return *t, true, nil
	case fmt.Stringer:
		s := t.String()
		return s, s != "", nil
	}
	return "", false, fmt.Errorf("%w: %T", ErrNotPath, v)
}

// PathMap coerces v into a flat key→path mapping.
func PathMap(v any) (map[string]string, error) {
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]string:
		for k, p := range t {
			out[k] = p
		}
		return out, nil
	case map[string]any:
		for k, raw := range t {
			p, _, err := Path(raw)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = p
		}
		return out, nil
	case Map:
		return PathMap(map[string]any(t))
	}
	return nil, fmt.Errorf("%w: expected mapping of paths, got %T", ErrNotPath, v)
}

// NestedPathMap coerces v into a two-level key→(key→path) mapping.
func NestedPathMap(v any) (map[string]map[string]string, error) {
	out := map[string]map[string]string{}
	switch t := v.(type) {
	case map[string]map[string]string:
		for k, inner := range t {
			cp := make(map[string]string, len(inner))
			for k2, p := range inner {
				cp[k2] = p
			}
			out[k] = cp
		}
		return out, nil
	case map[string]any:
		for k, raw := range t {
			inner, err := PathMap(raw)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = inner
		}
		return out, nil
	case Map:
		return NestedPathMap(map[string]any(t))
	}
	return nil, fmt.Errorf("%w: expected nested mapping of paths, got %T", ErrNotPath, v)
}

// SortedKeys returns the keys of a string-keyed map in sorted order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
