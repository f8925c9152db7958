package store

import (
	"encoding/json"
	"math"
	"strings"
)

// number normalizes numeric values so ints, floats and json.Number compare by value.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Same reports value identity with Object.is semantics: NaN is the same as
// NaN, +0 and -0 differ, strings and booleans compare by value, and
// composite values (maps, slices) are never the same.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return false
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			return math.IsNaN(x) && math.IsNaN(y)
		}
		if x == 0 && y == 0 {
			return math.Signbit(x) == math.Signbit(y)
		}
		return x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// Compare orders two numbers or two strings. ok is false when the values
// are not mutually comparable (mixed types, NaN, composites, nil).
func Compare(a, b any) (cmp int, ok bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok || math.IsNaN(x) || math.IsNaN(y) {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	x, ok := a.(string)
	if !ok {
		return 0, false
	}
	y, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(x, y), true
}

// Truthy reports JavaScript-style truthiness: nil, false, 0, NaN and "" are false.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	if n, ok := number(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	}
	return true
}
