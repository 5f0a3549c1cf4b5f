package realm

import (
	"fmt"
	"math"
	"time"
)

// Value represents any value that can be stored in an object column.
// Like the rest of the engine we use interface{} with direct Go types.
type Value interface{}

// Valid stored value types:
// - nil (null, only in nullable columns)
// - bool
// - int64
// - float32 (Float columns)
// - float64 (Double columns)
// - string
// - []byte
// - time.Time (Date columns)
// - ObjKey (Link columns)
// - []ObjKey (LinkList columns, never nil once stored)

// ObjKey identifies an object within its table. Keys grow monotonically and are
// never reused, so a key that is no longer present always means "deleted".
type ObjKey int64

// NullKey is never assigned to an object.
const NullKey ObjKey = -1

func (k ObjKey) String() string {
	return fmt.Sprintf("o%d", int64(k))
}

// Type is the logical type of a column.
type Type byte

const (
	TypeBool Type = iota + 1
	TypeInt
	TypeFloat
	TypeDouble
	TypeString
	TypeBinary
	TypeDate
	TypeLink
	TypeLinkList
)

var typeNames = map[Type]string{
	TypeBool:     "bool",
	TypeInt:      "int",
	TypeFloat:    "float",
	TypeDouble:   "double",
	TypeString:   "string",
	TypeBinary:   "binary",
	TypeDate:     "date",
	TypeLink:     "link",
	TypeLinkList: "list",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// ParseType is the inverse of Type.String.
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// IsNumeric reports whether values of the type can be summed and averaged.
func (t Type) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat || t == TypeDouble
}

// IsLink reports whether the type references other objects.
func (t Type) IsLink() bool {
	return t == TypeLink || t == TypeLinkList
}

// Coerce converts a Go literal into the canonical stored representation for
// the column type t. nil passes through; nullability is the caller's concern.
func Coerce(t Type, v interface{}) (Value, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInt:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return float32(f), nil
		}
	case TypeDouble:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBinary:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case TypeDate:
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
	case TypeLink:
		if k, ok := v.(ObjKey); ok {
			return k, nil
		}
	case TypeLinkList:
		if ks, ok := v.([]ObjKey); ok {
			return ks, nil
		}
	}
	return nil, Errorf(KindInvalidArgument, "coerce", "value of type %T is not valid for a %s column", v, t)
}

// ZeroValue is the value a freshly created object holds in a non-nullable column.
func ZeroValue(t Type) Value {
	switch t {
	case TypeBool:
		return false
	case TypeInt:
		return int64(0)
	case TypeFloat:
		return float32(0)
	case TypeDouble:
		return float64(0)
	case TypeString:
		return ""
	case TypeBinary:
		return []byte{}
	case TypeDate:
		return time.Unix(0, 0).UTC()
	case TypeLinkList:
		return []ObjKey{}
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// AsFloat64 returns a numeric value as float64.
func AsFloat64(v Value) (float64, bool) {
	return toFloat64(v)
}
