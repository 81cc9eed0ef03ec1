package pagination

import (
	"strings"
)

// notFound marks a dotted path that does not exist, as opposed to a present
// nil value.
type notFound struct{}

// resolvePath descends nested mappings along a dotted path. An empty path
// returns obj itself.
func resolvePath(obj any, path string) any {
	if path == "" {
		return obj
	}
	cur := obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return notFound{}
		}
		next, ok := m[part]
		if !ok {
			return notFound{}
		}
		cur = next
	}
	return cur
}

// Coalesce flattens a page payload into records.
//
// recordsPath locates the record list (empty means the payload root).
// fallbackPath is consulted only when the primary path is missing, nil or an
// empty list. Lists keep their map elements and wrap everything else as
// {"value": x}; a map with a list-valued "items" key is unwrapped, any other
// map becomes a single record; scalars become [{"value": x}].
// Coalesce never fails.
func Coalesce(payload any, recordsPath, fallbackPath string) []Record {
	data := resolvePath(payload, recordsPath)
	if _, missing := data.(notFound); missing {
		data = nil
	}

	if fallbackPath != "" && emptyOrNil(data) {
		if fb := resolvePath(payload, fallbackPath); !isNotFound(fb) {
			data = fb
		}
	}

	if data == nil && recordsPath == "" {
		data = payload
	}

	switch x := data.(type) {
	case []any:
		out := make([]Record, 0, len(x))
		for _, item := range x {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			} else {
				out = append(out, Record{"value": item})
			}
		}
		return out
	case []map[string]any:
		return append([]Record(nil), x...)
	case map[string]any:
		if items, ok := x["items"].([]any); ok {
			return Coalesce(items, "", "")
		}
		return []Record{x}
	default:
		return []Record{{"value": data}}
	}
}

// NextCursor returns the value at the dotted path when it is a string or an
// integer, else nil.
func NextCursor(payload any, path string) any {
	if path == "" {
		return nil
	}
	if _, ok := payload.(map[string]any); !ok {
		return nil
	}
	v := resolvePath(payload, path)
	switch x := v.(type) {
	case string:
		return x
	case int:
		return x
	case int32:
		return x
	case int64:
		return x
	case uint64:
		return x
	case jsonInteger:
		if i, err := x.Int64(); err == nil {
			return i
		}
	}
	return nil
}

// jsonInteger matches json.Number from encoding/json and goccy/go-json.
type jsonInteger interface {
	Int64() (int64, error)
	String() string
}

func isNotFound(v any) bool {
	_, ok := v.(notFound)
	return ok
}

func emptyOrNil(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	case []map[string]any:
		return len(x) == 0
	}
	return false
}
