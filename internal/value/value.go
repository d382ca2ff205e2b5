// Package value implements the dynamic value model used by the engine:
// a JSON-like tagged union with a total order across mixed types,
// deterministic hashing, and dotted-path resolution into nested objects.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged union over null, bool, float64, string, array and
// object. The zero Value is null. Values are treated as immutable once
// stored in a table: updates replace the row wholesale.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	arr  []Value
	obj  map[string]Value
}

// Null is the null value.
var Null = Value{}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array returns an array value. The slice is not copied.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object returns an object value. The map is not copied.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload, if any.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric payload, if any.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// AsString returns the string payload, if any.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsArray returns the array payload, if any. The slice is shared.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsObject returns the object payload, if any. The map is shared.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Get looks up a field on an object value. Returns false for non-objects
// and missing keys.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Null, false
	}
	fv, ok := v.obj[key]
	return fv, ok
}

// Len returns the element count for arrays and the field count for
// objects; zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// FromAny converts a decoded-JSON Go value (nil, bool, float64, int,
// json.Number, string, []any, map[string]any) into a Value. Unknown
// dynamic types collapse to null.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Null
		}
		return Number(n)
	case string:
		return String(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, fv := range t {
			fields[k] = FromAny(fv)
		}
		return Object(fields)
	default:
		return Null
	}
}

// ToAny converts a Value back into the generic Go representation used by
// encoding/json.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, fv := range v.obj {
			out[k] = fv.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v as its native JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON decodes any JSON document into a Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// typeRank orders kinds for cross-type comparison:
// Null < Bool < Number < String < Array < Object.
func typeRank(k Kind) uint8 { return uint8(k) }

// Compare totally orders two values. Same-kind values compare by payload
// (numbers with NaN collapsed to equal, arrays by length then
// element-wise, objects by field count); different kinds compare by type
// rank.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		return int(typeRank(a.kind)) - int(typeRank(b.kind))
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindNumber:
		// NaN is incomparable; collapse to equal like the rest of the
		// ordering machinery expects.
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case a.str < b.str:
			return -1
		case a.str > b.str:
			return 1
		default:
			return 0
		}
	case KindArray:
		if c := len(a.arr) - len(b.arr); c != 0 {
			return c
		}
		for i := range a.arr {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return 0
	case KindObject:
		return len(a.obj) - len(b.obj)
	default:
		return 0
	}
}

// CompareMissing extends Compare to possibly-absent operands: a missing
// value sorts before any present value, including null.
func CompareMissing(a Value, aPresent bool, b Value, bPresent bool) int {
	switch {
	case !aPresent && !bPresent:
		return 0
	case !aPresent:
		return -1
	case !bPresent:
		return 1
	default:
		return Compare(a, b)
	}
}

// Equal reports whether two values compare as equal under the total
// order. Note that object equality is by field count only, matching the
// ordering used everywhere else in the engine.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// NormalizeRecordID collapses record-id objects of the shape
// {tb|table: ..., id: ...} into the canonical "table:id" string form.
// Anything else passes through unchanged.
func NormalizeRecordID(v Value) Value {
	obj, ok := v.AsObject()
	if !ok {
		return v
	}
	tableVal, ok := obj["tb"]
	if !ok {
		tableVal, ok = obj["table"]
	}
	if !ok {
		return v
	}
	idVal, ok := obj["id"]
	if !ok {
		return v
	}
	table, ok := idPart(tableVal)
	if !ok {
		return v
	}
	id, ok := idPart(idVal)
	if !ok {
		return v
	}
	return String(table + ":" + id)
}

func idPart(v Value) (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64), true
	default:
		return "", false
	}
}

// sortedKeys returns the object keys in ascending order. Used by the
// hashing routines so object hashes do not depend on map iteration order.
func sortedKeys(obj map[string]Value) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
