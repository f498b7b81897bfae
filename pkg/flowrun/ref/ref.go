// Package ref resolves {{ path }} references in node configuration
// against the run's variable tree.
//
// A path is a dotted traversal rooted at one of the context roots, e.g.
// "input.user.name" or "nodes.classify.output.content". Numeric segments
// index into slices. By default resolution is non-strict: an unresolved
// path substitutes an empty string rather than failing the run over a
// missing optional field. Node authors needing strictness validate their
// own inputs, or use WithStrict.
package ref

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// refPattern matches {{ path }} with optional surrounding whitespace.
var refPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.\-]*)\s*\}\}`)

// Resolver expands {{ path }} references. Safe for concurrent use after
// construction.
type Resolver struct {
	strict bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrict makes unresolved paths an error instead of an empty string.
func WithStrict() Option {
	return func(r *Resolver) {
		r.strict = true
	}
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Expand substitutes every {{ path }} in s with the stringified value
// found in vars. Unresolved paths become empty strings, or an
// *UnresolvedError in strict mode.
func (r *Resolver) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	result := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		val, ok := Lookup(path, vars)
		if !ok {
			if r.strict {
				missing = append(missing, path)
			}
			return ""
		}
		return Stringify(val)
	})

	if len(missing) > 0 {
		return result, &UnresolvedError{Paths: missing}
	}
	return result, nil
}

// ExpandMap expands references in every string value of a map, copying
// non-string values as-is. Nested maps and slices are expanded
// recursively.
func (r *Resolver) ExpandMap(m map[string]any, vars map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		expanded, err := r.expandValue(v, vars)
		if err != nil {
			return nil, err
		}
		out[k] = expanded
	}
	return out, nil
}

func (r *Resolver) expandValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		// A value that is exactly one reference keeps the resolved
		// value's type instead of stringifying it.
		if m := refPattern.FindStringSubmatch(val); m != nil && m[0] == val {
			resolved, ok := Lookup(m[1], vars)
			if !ok {
				if r.strict {
					return nil, &UnresolvedError{Paths: []string{m[1]}}
				}
				return "", nil
			}
			return resolved, nil
		}
		return r.Expand(val, vars)
	case map[string]any:
		return r.ExpandMap(val, vars)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			expanded, err := r.expandValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

// Lookup traverses a dotted path through the variable tree. Numeric
// segments index into slices. Returns the value and whether every
// segment resolved.
func Lookup(path string, vars map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = vars
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a resolved value for substitution into a string.
// Strings pass through, nil becomes empty, and composite values render
// as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// UnresolvedError is returned in strict mode when paths fail to resolve.
type UnresolvedError struct {
	// Paths are the unresolved reference paths.
	Paths []string
}

// Error implements the error interface.
func (e *UnresolvedError) Error() string {
	if len(e.Paths) == 1 {
		return fmt.Sprintf("unresolved reference: %s", e.Paths[0])
	}
	return fmt.Sprintf("unresolved references: %s", strings.Join(e.Paths, ", "))
}

// defaultResolver is the package-level non-strict resolver.
var defaultResolver = NewResolver()

// Expand expands references with the default non-strict resolver.
func Expand(s string, vars map[string]any) string {
	result, _ := defaultResolver.Expand(s, vars)
	return result
}

// ExpandMap expands a map's references with the default non-strict resolver.
func ExpandMap(m map[string]any, vars map[string]any) map[string]any {
	result, _ := defaultResolver.ExpandMap(m, vars)
	return result
}
