package realm

import (
	"bytes"
	"strings"
	"time"
)

// CompareValues compares two stored values and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// This function handles all stored value types:
// - nil values (nil is less than any non-nil value)
// - numeric types (int64, float32, float64) compared across widths
// - string (ordinal), bool (false < true), time.Time, []byte
// - ObjKey
func CompareValues(left, right Value) int {
	// Handle nil
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	switch l := left.(type) {
	case int64:
		return compareNumeric(float64(l), l, true, right)
	case float32:
		return compareNumeric(float64(l), 0, false, right)
	case float64:
		return compareNumeric(l, 0, false, right)
	case string:
		if r, ok := right.(string); ok {
			return strings.Compare(l, r)
		}
	case bool:
		if r, ok := right.(bool); ok {
			if !l && r {
				return -1
			} else if l && !r {
				return 1
			}
			return 0
		}
	case time.Time:
		if r, ok := right.(time.Time); ok {
			if l.Before(r) {
				return -1
			} else if l.After(r) {
				return 1
			}
			return 0
		}
	case []byte:
		if r, ok := right.([]byte); ok {
			return bytes.Compare(l, r)
		}
	case ObjKey:
		if r, ok := right.(ObjKey); ok {
			return compareInt64s(int64(l), int64(r))
		}
	}

	// Type mismatch
	return -1
}

// compareNumeric compares a numeric left side with another numeric value.
// Two int64 values are compared exactly; anything else goes through float64.
func compareNumeric(lf float64, li int64, isInt bool, right Value) int {
	switch r := right.(type) {
	case int64:
		if isInt {
			return compareInt64s(li, r)
		}
		return compareFloats(lf, float64(r))
	case float32:
		return compareFloats(lf, float64(r))
	case float64:
		return compareFloats(lf, r)
	}
	// Non-numeric: type mismatch
	return -1
}

// compareInt64s compares two int64 values
func compareInt64s(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// compareFloats compares two float64 values
func compareFloats(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// ValuesEqual checks if two stored values are equal.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case []ObjKey:
		bv, ok := b.([]ObjKey)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	if _, ok := b.([]ObjKey); ok {
		return false
	}
	return CompareValues(a, b) == 0 && sameKind(a, b)
}

// sameKind guards ValuesEqual against the type-mismatch fallback of
// CompareValues, which is not an ordering.
func sameKind(a, b Value) bool {
	switch a.(type) {
	case int64, float32, float64:
		switch b.(type) {
		case int64, float32, float64:
			return true
		}
		return false
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case ObjKey:
		_, ok := b.(ObjKey)
		return ok
	}
	return false
}

// CloneValue returns a copy of v that shares no mutable memory with it.
func CloneValue(v Value) Value {
	switch val := v.(type) {
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	case []ObjKey:
		out := make([]ObjKey, len(val))
		copy(out, val)
		return out
	}
	return v
}
