// Package msgpack implements a byte-exact MessagePack encoder/decoder and
// the length-prefix-free framing used by MessagePack-RPC.
package msgpack

import "fmt"

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt    // signed
	KindUint   // unsigned
	KindFloat  // always float64 on the wire
	KindString // UTF-8
	KindBinary
	KindArray
	KindMap
)

// Value is a tagged-union MessagePack value: nil | bool | int | uint |
// float64 | string | binary | array(Value) | map((Value,Value)*).
type Value struct {
	Kind Kind

	Bool    bool
	Int     int64
	Uint    uint64
	Float   float64
	Str     string
	Bin     []byte
	Array   []Value
	MapKeys []Value
	MapVals []Value
}

// Nil is the nil Value.
var Nil = Value{Kind: KindNil}

func Bool(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func Int(v int64) Value   { return Value{Kind: KindInt, Int: v} }
func Uint(v uint64) Value { return Value{Kind: KindUint, Uint: v} }
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Binary(b []byte) Value { return Value{Kind: KindBinary, Bin: b} }
func Array(vs []Value) Value { return Value{Kind: KindArray, Array: vs} }

// Map builds a map Value from parallel key/value slices.
func Map(keys, vals []Value) Value {
	if len(keys) != len(vals) {
		panic("msgpack: Map key/value length mismatch")
	}
	return Value{Kind: KindMap, MapKeys: keys, MapVals: vals}
}

// MapGet returns the value for a string key in a map Value, or (Nil, false).
func (v Value) MapGet(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Nil, false
	}
	for i, k := range v.MapKeys {
		if k.Kind == KindString && k.Str == key {
			return v.MapVals[i], true
		}
	}
	return Nil, false
}

// AsInt normalizes Int/Uint kinds to an int64, per the codec-laws
// roundtrip note: decode(encode(v)) == v modulo signed/unsigned
// normalization of non-negative integers.
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindUint:
		return int64(v.Uint), true
	}
	return 0, false
}

func (v Value) String_() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindUint:
		return fmt.Sprintf("%d", v.Uint)
	case KindFloat:
		return fmt.Sprintf("%v", v.Float)
	case KindString:
		return v.Str
	case KindBinary:
		return fmt.Sprintf("bin(%d)", len(v.Bin))
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.Array))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.MapKeys))
	default:
		return "?"
	}
}

// Equal compares two Values for the codec roundtrip law, treating
// non-negative Int and Uint as equal (the encoder always picks the
// shortest unsigned form for non-negative numbers, so a round-tripped
// positive int may come back as KindUint).
func Equal(a, b Value) bool {
	if ai, ok := a.AsInt(); ok {
		if bi, ok2 := b.AsInt(); ok2 {
			return ai == bi
		}
		return false
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindBinary:
		if len(a.Bin) != len(b.Bin) {
			return false
		}
		for i := range a.Bin {
			if a.Bin[i] != b.Bin[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.MapKeys) != len(b.MapKeys) {
			return false
		}
		for i := range a.MapKeys {
			av, ok := b.MapGet(a.MapKeys[i].Str)
			if !ok || !Equal(a.MapVals[i], av) {
				return false
			}
		}
		return true
	}
	return false
}
