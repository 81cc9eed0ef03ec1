// Package coerce converts loosely typed configuration values (decoded YAML or
// JSON) into Go numbers and strings without ever failing. A value that cannot
// be converted reports ok=false and callers fall back to their defaults.
package coerce

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// numberLike matches json.Number from both encoding/json and goccy/go-json.
type numberLike interface {
	String() string
	Int64() (int64, error)
	Float64() (float64, error)
}

// ToFloat converts v to a float64. Booleans and nil are rejected.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil, bool:
		return 0, false
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), !math.IsNaN(float64(x))
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case numberLike:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToInt converts v to an int. Floats are accepted only when integral, and
// strings are parsed as integers first and as integral floats second.
func ToInt(v any) (int, bool) {
	switch x := v.(type) {
	case nil, bool:
		return 0, false
	case int:
		return x, true
	case int8:
		return int(x), true
	case int16:
		return int(x), true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint:
		return int(x), true
	case uint8:
		return int(x), true
	case uint16:
		return int(x), true
	case uint32:
		return int(x), true
	case uint64:
		return int(x), true
	case float32:
		return integral(float64(x))
	case float64:
		return integral(x)
	case numberLike:
		if i, err := x.Int64(); err == nil {
			return int(i), true
		}
		return ToInt(x.String())
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return integral(f)
	default:
		return 0, false
	}
}

func integral(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// IntOr returns ToInt(v) or def when v cannot be converted.
func IntOr(v any, def int) int {
	if i, ok := ToInt(v); ok {
		return i
	}
	return def
}

// IntPtr returns a pointer to the converted value, or nil.
func IntPtr(v any) *int {
	if i, ok := ToInt(v); ok {
		return &i
	}
	return nil
}

// PositiveFloat returns v as a float only when it is strictly positive and
// finite.
func PositiveFloat(v any) (float64, bool) {
	f, ok := ToFloat(v)
	if !ok || f <= 0 || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// PositiveInt returns max(ToInt(v) or def, minimum).
func PositiveInt(v any, def, minimum int) int {
	i := IntOr(v, def)
	if i < minimum {
		return minimum
	}
	return i
}

// String returns strings as-is and formats scalars; maps, slices and nil
// report ok=false.
func String(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x), true
	case numberLike:
		return x.String(), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return "", false
	}
}

// StringOr returns String(v) or def.
func StringOr(v any, def string) string {
	if s, ok := String(v); ok && s != "" {
		return s
	}
	return def
}

// StringMap converts a mapping into map[string]string, dropping values that
// are not scalars. Non-mapping input yields an empty map.
func StringMap(v any) map[string]string {
	out := map[string]string{}
	m, ok := Mapping(v)
	if !ok {
		return out
	}
	for k, raw := range m {
		if s, ok := String(raw); ok {
			out[k] = s
		}
	}
	return out
}

// Mapping normalizes the map shapes produced by YAML and JSON decoders into
// map[string]any.
func Mapping(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
