package extract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type segmentKind int

const (
	segmentIndex segmentKind = iota
	segmentName
)

type segment struct {
	kind  segmentKind
	index int
	name  string
}

// Path is a compiled output-mapping expression such as "$[0].documentGUID",
// "setId" or "$.data[1].title". Index segments address the current array
// directly; name segments search the current value deeply.
type Path struct {
	raw      string
	segments []segment
}

// String returns the expression the path was compiled from
func (p Path) String() string {
	return p.raw
}

// Compile parses a path expression
func Compile(expr string) (Path, error) {
	p := Path{raw: expr}
	s := strings.TrimSpace(expr)
	if s == "" {
		return p, fmt.Errorf("empty path expression")
	}
	s = strings.TrimPrefix(s, "$")

	for len(s) > 0 {
		switch s[0] {
		case '.':
			s = s[1:]
		case '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return p, fmt.Errorf("unterminated index in path %q", expr)
			}
			inner := strings.TrimSpace(s[1:end])
			if unquoted, ok := unquote(inner); ok {
				p.segments = append(p.segments, segment{kind: segmentName, name: unquoted})
			} else {
				idx, err := strconv.Atoi(inner)
				if err != nil || idx < 0 {
					return p, fmt.Errorf("invalid index %q in path %q", inner, expr)
				}
				p.segments = append(p.segments, segment{kind: segmentIndex, index: idx})
			}
			s = s[end+1:]
		default:
			end := strings.IndexAny(s, ".[")
			if end < 0 {
				end = len(s)
			}
			name := strings.TrimSpace(s[:end])
			if name == "" {
				return p, fmt.Errorf("empty field name in path %q", expr)
			}
			p.segments = append(p.segments, segment{kind: segmentName, name: name})
			s = s[end:]
		}
	}

	return p, nil
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// Lookup evaluates the path against a parsed body. A null match counts as
// not found.
func (p Path) Lookup(root interface{}) (interface{}, bool) {
	current := root
	for _, seg := range p.segments {
		var ok bool
		switch seg.kind {
		case segmentIndex:
			arr, isArr := current.([]interface{})
			if !isArr || seg.index >= len(arr) {
				return nil, false
			}
			current = arr[seg.index]
		case segmentName:
			current, ok = FindField(current, seg.name)
			if !ok {
				return nil, false
			}
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// FindField returns the first value stored under name, searching depth first
// in document order. An object's own keys are checked before its children.
// When no key matches exactly the first case-insensitive match is used.
func FindField(v interface{}, name string) (interface{}, bool) {
	if found, ok := findField(v, name, false); ok {
		return found, true
	}
	return findField(v, name, true)
}

func findField(v interface{}, name string, fold bool) (interface{}, bool) {
	switch t := v.(type) {
	case Object:
		if !fold {
			if val, ok := t.Get(name); ok {
				return val, true
			}
		} else {
			for _, f := range t {
				if keyMatches(f.Key, name, true) {
					return f.Value, true
				}
			}
		}
		for _, f := range t {
			if found, ok := findField(f.Value, name, fold); ok {
				return found, true
			}
		}
	case map[string]interface{}:
		// plain maps (base variables) have no order; visit keys sorted
		keys := make([]string, 0, len(t))
		for key := range t {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if keyMatches(key, name, fold) {
				return t[key], true
			}
		}
		for _, key := range keys {
			if found, ok := findField(t[key], name, fold); ok {
				return found, true
			}
		}
	case []interface{}:
		for _, item := range t {
			if found, ok := findField(item, name, fold); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func keyMatches(key, name string, fold bool) bool {
	if fold {
		return strings.EqualFold(key, name)
	}
	return key == name
}

// Apply evaluates every mapping against body and returns the variables that
// were found. Mappings that fail to compile are reported but do not stop the
// others.
func Apply(mapping map[string]string, body interface{}) (map[string]interface{}, []error) {
	found := make(map[string]interface{}, len(mapping))
	var errs []error
	for name, expr := range mapping {
		path, err := Compile(expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", name, err))
			continue
		}
		if val, ok := path.Lookup(body); ok {
			found[name] = val
		}
	}
	return found, errs
}
