package searchd

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind is the variant held by a Value.
type ValueKind uint8

const (
	KindUint32 ValueKind = iota
	KindUint64
	KindFloat
	KindString
	KindVector
)

func (k ValueKind) String() string {
	switch k {
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindVector:
		return "vector"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is an attribute value: one of uint32, uint64, float32, string or a
// vector of Values. Reading the wrong variant returns a *ValueTypeError.
type Value struct {
	kind ValueKind
	num  uint64
	f    float32
	s    string
	vec  []Value
}

func Uint32Value(v uint32) Value   { return Value{kind: KindUint32, num: uint64(v)} }
func Uint64Value(v uint64) Value   { return Value{kind: KindUint64, num: v} }
func FloatValue(v float32) Value   { return Value{kind: KindFloat, f: v} }
func StringValue(v string) Value   { return Value{kind: KindString, s: v} }
func VectorValue(v ...Value) Value { return Value{kind: KindVector, vec: v} }

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) Uint32() (uint32, error) {
	if v.kind != KindUint32 {
		return 0, &ValueTypeError{Have: v.kind, Want: KindUint32}
	}
	return uint32(v.num), nil
}

func (v Value) Uint64() (uint64, error) {
	if v.kind != KindUint64 {
		return 0, &ValueTypeError{Have: v.kind, Want: KindUint64}
	}
	return v.num, nil
}

func (v Value) Float() (float32, error) {
	if v.kind != KindFloat {
		return 0, &ValueTypeError{Have: v.kind, Want: KindFloat}
	}
	return v.f, nil
}

func (v Value) Str() (string, error) {
	if v.kind != KindString {
		return "", &ValueTypeError{Have: v.kind, Want: KindString}
	}
	return v.s, nil
}

func (v Value) Vector() ([]Value, error) {
	if v.kind != KindVector {
		return nil, &ValueTypeError{Have: v.kind, Want: KindVector}
	}
	return v.vec, nil
}

// Equal reports whether v and o hold the same variant and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindVector:
		if len(v.vec) != len(o.vec) {
			return false
		}
		for i := range v.vec {
			if !v.vec[i].Equal(o.vec[i]) {
				return false
			}
		}
		return true
	}
	return v.num == o.num
}

func (v Value) String() string {
	switch v.kind {
	case KindUint32, KindUint64:
		return strconv.FormatUint(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	case KindString:
		return v.s
	case KindVector:
		parts := make([]string, len(v.vec))
		for i, e := range v.vec {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return ""
}

// word32 returns the 32-bit wire word for a uint32 or float value, as
// used by attribute updates.
func (v Value) word32() (uint32, error) {
	switch v.kind {
	case KindUint32:
		return uint32(v.num), nil
	case KindFloat:
		return math.Float32bits(v.f), nil
	}
	return 0, &ValueTypeError{Have: v.kind, Want: KindUint32}
}
