// Package value implements the attribute-value sum type used by the policy
// engine's Condition evaluator. Per the kernel's design rules, attribute
// resolution never falls back to reflection over host objects: every value
// that a Condition can inspect is first normalized into this closed type,
// and path lookup is plain iterative map/list indexing.
package value

import (
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies which alternative of the Value sum type is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// Value is a closed sum type: Null | Bool | Int | Float | String | List | Map.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

func Null() Value                    { return Value{kind: KindNull} }
func Bool(b bool) Value              { return Value{kind: KindBool, b: b} }
func Int(i int64) Value              { return Value{kind: KindInt, i: i} }
func Float(f float64) Value          { return Value{kind: KindFloat, f: f} }
func String(s string) Value          { return Value{kind: KindString, s: s} }
func List(items []Value) Value       { return Value{kind: KindList, list: items} }
func Map(fields map[string]Value) Value { return Value{kind: KindMap, m: fields} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool, AsInt, AsFloat, AsString return the underlying scalar and whether
// the Value actually held that kind.
func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) {
	if v.kind == KindFloat {
		return v.f, true
	}
	if v.kind == KindInt {
		return float64(v.i), true
	}
	return 0, false
}
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsList() ([]Value, bool)  { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// FromAny normalizes a loosely-typed Go value (as produced by encoding/json
// or yaml.v3 unmarshaling into interface{}) into the closed Value sum type.
// This is the single point where host-language interface{} is inspected;
// everything downstream of it operates only on Value.
func FromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return List(items)
	case []string:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = String(e)
		}
		return List(items)
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = FromAny(e)
		}
		return Map(fields)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// PathNotFound is returned by Resolve when attribute_path does not exist.
type PathNotFound struct {
	Path string
}

func (e *PathNotFound) Error() string {
	return fmt.Sprintf("attribute path not found: %s", e.Path)
}

// Resolve walks a dot-notation attribute_path (e.g. "args.amount",
// "context.user_verified") over root, which is expected to be a Map.
// Resolution is iterative indexing; list elements are addressed with a
// numeric path segment ("items.0.name"). No reflection is performed.
func Resolve(root Value, path string) (Value, error) {
	segments := splitPath(path)
	cur := root
	for _, seg := range segments {
		switch cur.kind {
		case KindMap:
			next, ok := cur.m[seg]
			if !ok {
				return Null(), &PathNotFound{Path: path}
			}
			cur = next
		case KindList:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.list) {
				return Null(), &PathNotFound{Path: path}
			}
			cur = cur.list[idx]
		default:
			return Null(), &PathNotFound{Path: path}
		}
	}
	return cur, nil
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

// Equal reports structural equality, used by the eq/ne operators.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// allow numeric cross-comparison (int vs float from YAML/JSON)
		af, aok := a.AsFloat()
		bf, bok := b.AsFloat()
		if aok && bok {
			return af == bf
		}
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare returns -1/0/1 for numeric or string ordering; ok is false when
// the two values aren't comparable (used by gt/lt/gte/lte).
func Compare(a, b Value) (result int, ok bool) {
	if af, aok := a.AsFloat(); aok {
		if bf, bok := b.AsFloat(); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if as, aok := a.AsString(); aok {
		if bs, bok := b.AsString(); bok {
			switch {
			case as < bs:
				return -1, true
			case as > bs:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return 0, false
}

// String renders a Value for audit logs / error messages.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindList:
		keys := make([]string, len(v.list))
		for i, e := range v.list {
			keys[i] = e.String()
		}
		return fmt.Sprintf("%v", keys)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("map(%v)", keys)
	default:
		return ""
	}
}
