package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Document is one JSON-shaped record subtree.
type Document = map[string]any

// JoinPath joins record path segments with "/", skipping empty segments.
func JoinPath(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}

// SplitPath splits a record path into its segments. The root path yields nil.
func SplitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Lookup walks a decoded tree along path segments. Numeric segments index
// into lists.
func Lookup(tree any, segments ...string) (any, bool) {
	current := tree
	for _, segment := range segments {
		switch node := current.(type) {
		case map[string]any:
			child, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = child
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// AsDocument returns v as a Document when it is a JSON object.
func AsDocument(v any) (Document, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Collection returns the children of one top-level collection keyed by id.
func Collection(tree any, name string) map[string]Document {
	out := map[string]Document{}
	raw, ok := Lookup(tree, name)
	if !ok {
		return out
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for id, child := range m {
		if doc, ok := child.(map[string]any); ok {
			out[id] = doc
		}
	}
	return out
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DeepCopy copies a decoded JSON value so callers may mutate it freely.
func DeepCopy(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, child := range typed {
			out[k] = DeepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, child := range typed {
			out[i] = DeepCopy(child)
		}
		return out
	default:
		return typed
	}
}

// Normalize round-trips v through JSON so values decoded by different
// backends compare equal (numbers become float64, structs become maps).
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsEmpty reports whether a decoded value carries no data.
func IsEmpty(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(typed) == 0
	case []any:
		return len(typed) == 0
	default:
		return false
	}
}

// StringField returns a trimmed string field of doc.
func StringField(doc Document, field string) (string, bool) {
	raw, ok := doc[field]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// SetIn returns tree with value placed at segments. A nil value removes the
// entry, and objects left empty by a removal are pruned. Existing list
// elements are addressed by index; lists never grow or shrink.
func SetIn(tree any, segments []string, value any) any {
	if len(segments) == 0 {
		return value
	}
	if list, ok := tree.([]any); ok {
		if i, err := strconv.Atoi(segments[0]); err == nil && i >= 0 && i < len(list) {
			list[i] = SetIn(list[i], segments[1:], value)
			return list
		}
	}
	m, ok := tree.(map[string]any)
	if !ok {
		if value == nil {
			return tree
		}
		m = map[string]any{}
	}
	child := SetIn(m[segments[0]], segments[1:], value)
	if child == nil {
		delete(m, segments[0])
	} else if nested, ok := child.(map[string]any); ok && len(nested) == 0 {
		delete(m, segments[0])
	} else {
		m[segments[0]] = child
	}
	return m
}

// FlattenRecords splits a root tree into record paths. Children of a
// top-level object become "collection/id"; top-level scalars keep their
// own key. Empty values are skipped.
func FlattenRecords(root any) map[string]any {
	out := map[string]any{}
	top, ok := root.(map[string]any)
	if !ok {
		return out
	}
	for key, value := range top {
		children, ok := value.(map[string]any)
		if !ok {
			if !IsEmpty(value) {
				out[key] = value
			}
			continue
		}
		for id, child := range children {
			if !IsEmpty(child) {
				out[JoinPath(key, id)] = child
			}
		}
	}
	return out
}
