// Package attrs adapts opaque input, config and output records so that rules
// can look up named attributes without depending on their concrete shape.
package attrs

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Attributes is anything that can answer a lookup by attribute name.
type Attributes interface {
	// Get returns the value stored under name and whether it is present.
	// A present attribute may still hold a nil value.
	Get(name string) (any, bool)
}

// Map is the plain map implementation of Attributes.
type Map map[string]any

// Get implements Attributes.
func (m Map) Get(name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// Keys returns attribute names in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lister is implemented by Attributes that can enumerate their names.
type Lister interface {
	Keys() []string
}

// structAttrs exposes exported struct fields.
type structAttrs struct {
	v      reflect.Value
	fields map[string]int
	order  []string
}

// FromStruct adapts a struct (or pointer to struct) to Attributes.
// Field names come from the `attr` tag, falling back to the snake_case
// form of the Go field name. A tag of "-" hides the field.
func FromStruct(v any) (Attributes, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("attrs: nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("attrs: expected struct, got %s", rv.Kind())
	}

	s := &structAttrs{v: rv, fields: make(map[string]int)}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("attr")
		if name == "-" {
			continue
		}
		if name == "" {
			name = snakeCase(f.Name)
		}
		s.fields[name] = i
		s.order = append(s.order, name)
	}
	sort.Strings(s.order)
	return s, nil
}

func (s *structAttrs) Get(name string) (any, bool) {
	i, ok := s.fields[name]
	if !ok {
		return nil, false
	}
	f := s.v.Field(i)
	if (f.Kind() == reflect.Pointer || f.Kind() == reflect.Map || f.Kind() == reflect.Interface) && f.IsNil() {
		return nil, true
	}
	return f.Interface(), true
}

func (s *structAttrs) Keys() []string {
	return append([]string(nil), s.order...)
}

func snakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// String returns the attribute as a string when it holds one.
func String(a Attributes, name string) (string, bool) {
	if a == nil {
		return "", false
	}
	v, ok := a.Get(name)
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	}
	return "", false
}

// Snapshot copies a into a map of JSON-safe values for audit payloads.
// Attributes that cannot enumerate their keys are rendered with %v.
func Snapshot(a Attributes) map[string]any {
	out := map[string]any{}
	if a == nil {
		return out
	}
	lister, ok := a.(Lister)
	if !ok {
		out["value"] = fmt.Sprintf("%v", a)
		return out
	}
	for _, k := range lister.Keys() {
		v, _ := a.Get(k)
		out[k] = plain(v)
	}
	return out
}

// plain converts v into strings, numbers, bools, maps and slices only.
func plain(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case Attributes:
		return Snapshot(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = plain(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = plain(rv.Index(i).Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return plain(rv.Elem().Interface())
	case reflect.Struct:
		if s, err := FromStruct(v); err == nil {
			return Snapshot(s)
		}
	}
	return fmt.Sprintf("%v", v)
}
