// Package jsonpath resolves dotted paths through decoded JSON documents.
package jsonpath

/*
 * Path resolution for decoded JSON values (map[string]any / []any trees).
 *
 * Paths are dotted strings: "data.version", "meta.version", "data.0.name".
 * A segment made only of digits indexes an array; "*" matches any key or
 * element with first-match-wins semantics. Object wildcards iterate keys in
 * sorted order so resolution is deterministic.
 *
 * Used for the CDN metadata document, whose version token has lived under
 * two different keys over time, and by callers digging into JSON payloads.
 */

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// MaxDepth bounds recursion through pathological paths.
const MaxDepth = 16

var (
	// ErrNotFound indicates the path does not exist in the document.
	ErrNotFound = errors.New("path not found")

	// ErrTooDeep indicates a path longer than MaxDepth segments.
	ErrTooDeep = errors.New("path exceeds maximum depth")
)

// Segment is one component of a path.
type Segment struct {
	Key      string
	Index    int
	IsIndex  bool
	Wildcard bool
}

// Parse splits a dotted path into segments. The empty path resolves to the
// document root.
func Parse(path string) []Segment {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		switch {
		case p == "*":
			segs = append(segs, Segment{Wildcard: true})
		case isDigits(p):
			n, _ := strconv.Atoi(p)
			segs = append(segs, Segment{Index: n, IsIndex: true})
		default:
			segs = append(segs, Segment{Key: p})
		}
	}
	return segs
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Resolve traverses doc following path.
// Returns ErrTooDeep if path exceeds MaxDepth, ErrNotFound if it does not exist.
func Resolve(doc any, path []Segment) (any, error) {
	if len(path) > MaxDepth {
		return nil, ErrTooDeep
	}
	return resolve(doc, path)
}

// Lookup parses path and resolves it against doc.
func Lookup(doc any, path string) (any, error) {
	return Resolve(doc, Parse(path))
}

// FirstString returns the first of paths that resolves to a non-empty string.
func FirstString(doc any, paths ...string) (string, bool) {
	for _, p := range paths {
		v, err := Lookup(doc, p)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func resolve(current any, path []Segment) (any, error) {
	if len(path) == 0 {
		return current, nil
	}

	seg := path[0]
	remaining := path[1:]

	switch v := current.(type) {
	case map[string]any:
		if seg.Wildcard {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if out, err := resolve(v[k], remaining); err == nil {
					return out, nil
				}
			}
			return nil, ErrNotFound
		}
		key := seg.Key
		if seg.IsIndex {
			// Digit-only keys are legal object keys.
			key = strconv.Itoa(seg.Index)
		}
		val, ok := v[key]
		if !ok {
			return nil, ErrNotFound
		}
		return resolve(val, remaining)

	case []any:
		if seg.Wildcard {
			for _, elem := range v {
				if out, err := resolve(elem, remaining); err == nil {
					return out, nil
				}
			}
			return nil, ErrNotFound
		}
		if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(v) {
			return nil, ErrNotFound
		}
		return resolve(v[seg.Index], remaining)

	default:
		// Scalar or null but path continues
		return nil, ErrNotFound
	}
}
