// Package value implements the dynamically typed scalar used throughout
// vesper-verify to represent handler inputs and outputs: a tagged union
// of null, bool, integer, float, arbitrary-precision decimal, string,
// ordered list, and ordered map.
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindList
	KindMap
)

// Value is a dynamically typed scalar, ordered list, or ordered map.
// The zero Value is KindNull.
type Value struct {
	kind    Kind
	boolV   bool
	intV    int64
	floatV  float64
	decV    decimal.Decimal
	strV    string
	listV   []Value
	mapV    map[string]Value
	mapKeys []string // preserves insertion order for deterministic iteration
}

// Map is the ordered-mapping shape handlers receive and return.
type Map = map[string]Value

func Null() Value               { return Value{kind: KindNull} }
func Bool(b bool) Value         { return Value{kind: KindBool, boolV: b} }
func Int(i int64) Value         { return Value{kind: KindInt, intV: i} }
func Float(f float64) Value     { return Value{kind: KindFloat, floatV: f} }
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, decV: d} }
func String(s string) Value     { return Value{kind: KindString, strV: s} }

func List(items ...Value) Value {
	return Value{kind: KindList, listV: items}
}

// NewMap builds a KindMap Value, recording key order as given.
func NewMap(m map[string]Value, order []string) Value {
	if order == nil {
		order = make([]string, 0, len(m))
		for k := range m {
			order = append(order, k)
		}
		sort.Strings(order)
	}
	return Value{kind: KindMap, mapV: m, mapKeys: order}
}

// MapOf builds a KindMap Value from a plain map, sorting keys for a
// deterministic default order.
func MapOf(m map[string]Value) Value {
	return NewMap(m, nil)
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.boolV, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)       { return v.intV, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)   { return v.floatV, v.kind == KindFloat }
func (v Value) AsDecimal() (decimal.Decimal, bool) { return v.decV, v.kind == KindDecimal }
func (v Value) AsString() (string, bool)   { return v.strV, v.kind == KindString }
func (v Value) AsList() ([]Value, bool)    { return v.listV, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.mapV, v.kind == KindMap }

// Keys returns the ordered key list for a KindMap value, nil otherwise.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	return v.mapKeys
}

// IsNumeric reports whether this value is int, float, or decimal.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindFloat || v.kind == KindDecimal
}

// Float64 converts any numeric Value to a float64. Panics if not numeric;
// callers must check IsNumeric first.
func (v Value) Float64() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.intV)
	case KindFloat:
		return v.floatV
	case KindDecimal:
		f, _ := v.decV.Float64()
		return f
	default:
		panic("value: Float64 called on non-numeric Value")
	}
}

// TypeName returns a short diagnostic name for the value's dynamic type,
// used in comparator type-mismatch reports.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Raw converts a Value back into a plain Go interface{} (map[string]any,
// []any, or a scalar), for JSON-friendly serialization.
func (v Value) Raw() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.boolV
	case KindInt:
		return v.intV
	case KindFloat:
		return v.floatV
	case KindDecimal:
		return v.decV.String()
	case KindString:
		return v.strV
	case KindList:
		out := make([]interface{}, len(v.listV))
		for i, item := range v.listV {
			out[i] = item.Raw()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.mapV))
		for _, k := range v.mapKeys {
			out[k] = v.mapV[k].Raw()
		}
		return out
	default:
		return nil
	}
}

// FromRaw converts a plain Go interface{} (as decoded from JSON or built
// by hand) into a Value. Map keys are sorted for a deterministic order
// since Go map iteration order is undefined.
func FromRaw(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case decimal.Decimal:
		return Decimal(t)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromRaw(item)
		}
		return List(items...)
	case []Value:
		return List(t...)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		keys := make([]string, 0, len(t))
		for k, item := range t {
			m[k] = FromRaw(item)
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return NewMap(m, keys)
	case map[string]Value:
		return MapOf(t)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// CanonicalJSON renders v as JSON with map keys sorted and numbers in
// their natural decimal string form, matching the stable-hash contract
// routing relies on: identical inputs always canonicalize identically.
func CanonicalJSON(v Value) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.boolV {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindInt:
		b.WriteString(strconv.FormatInt(v.intV, 10))
	case KindFloat:
		b.WriteString(strconv.FormatFloat(v.floatV, 'g', -1, 64))
	case KindDecimal:
		b.WriteString(v.decV.String())
	case KindString:
		b.WriteString(strconv.Quote(v.strV))
	case KindList:
		b.WriteByte('[')
		for i, item := range v.listV {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case KindMap:
		keys := append([]string(nil), v.mapKeys...)
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, v.mapV[k])
		}
		b.WriteByte('}')
	}
}
