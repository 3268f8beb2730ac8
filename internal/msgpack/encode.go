package msgpack

import (
	"encoding/binary"
	"math"
)

// Encoder appends MessagePack-encoded values to an internal byte buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with a pre-sized scratch buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Bytes returns the encoded bytes accumulated so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Reset clears the encoder for reuse.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Encode appends the wire encoding of v using the shortest legal prefix
// for its value class (spec.md §4.1, §8 "shortest prefix" law).
func (e *Encoder) Encode(v Value) {
	switch v.Kind {
	case KindNil:
		e.buf = append(e.buf, 0xc0)
	case KindBool:
		if v.Bool {
			e.buf = append(e.buf, 0xc3)
		} else {
			e.buf = append(e.buf, 0xc2)
		}
	case KindInt:
		e.encodeSignedMagnitude(v.Int)
	case KindUint:
		e.encodeUnsignedMagnitude(v.Uint)
	case KindFloat:
		e.encodeFloat64(v.Float)
	case KindString:
		e.encodeString(v.Str)
	case KindBinary:
		e.encodeBinary(v.Bin)
	case KindArray:
		e.encodeArrayHeader(len(v.Array))
		for _, item := range v.Array {
			e.Encode(item)
		}
	case KindMap:
		e.encodeMapHeader(len(v.MapKeys))
		for i := range v.MapKeys {
			e.Encode(v.MapKeys[i])
			e.Encode(v.MapVals[i])
		}
	default:
		// Unreachable for values produced by this package; nil is always legal.
		e.buf = append(e.buf, 0xc0)
	}
}

// encodeSignedMagnitude picks fixint/intN by signed range for negative
// values and delegates to the unsigned path for non-negative ones — the
// wire format has no notion of Go-level signedness, only magnitude.
func (e *Encoder) encodeSignedMagnitude(v int64) {
	if v >= 0 {
		e.encodeUnsignedMagnitude(uint64(v))
		return
	}
	switch {
	case v >= -32:
		e.buf = append(e.buf, byte(int8(v)))
	case v >= math.MinInt8:
		e.buf = append(e.buf, 0xd0, byte(int8(v)))
	case v >= math.MinInt16:
		e.buf = append(e.buf, 0xd1)
		e.buf = appendUint16(e.buf, uint16(int16(v)))
	case v >= math.MinInt32:
		e.buf = append(e.buf, 0xd2)
		e.buf = appendUint32(e.buf, uint32(int32(v)))
	default:
		e.buf = append(e.buf, 0xd3)
		e.buf = appendUint64(e.buf, uint64(v))
	}
}

func (e *Encoder) encodeUnsignedMagnitude(v uint64) {
	switch {
	case v <= 127:
		e.buf = append(e.buf, byte(v))
	case v <= math.MaxUint8:
		e.buf = append(e.buf, 0xcc, byte(v))
	case v <= math.MaxUint16:
		e.buf = append(e.buf, 0xcd)
		e.buf = appendUint16(e.buf, uint16(v))
	case v <= math.MaxUint32:
		e.buf = append(e.buf, 0xce)
		e.buf = appendUint32(e.buf, uint32(v))
	default:
		e.buf = append(e.buf, 0xcf)
		e.buf = appendUint64(e.buf, v)
	}
}

func (e *Encoder) encodeFloat64(v float64) {
	e.buf = append(e.buf, 0xcb)
	e.buf = appendUint64(e.buf, math.Float64bits(v))
}

func (e *Encoder) encodeString(s string) {
	n := len(s)
	switch {
	case n <= 31:
		e.buf = append(e.buf, 0xa0|byte(n))
	case n <= math.MaxUint8:
		e.buf = append(e.buf, 0xd9, byte(n))
	case n <= math.MaxUint16:
		e.buf = append(e.buf, 0xda)
		e.buf = appendUint16(e.buf, uint16(n))
	default:
		e.buf = append(e.buf, 0xdb)
		e.buf = appendUint32(e.buf, uint32(n))
	}
	e.buf = append(e.buf, s...)
}

func (e *Encoder) encodeBinary(b []byte) {
	n := len(b)
	switch {
	case n <= math.MaxUint8:
		e.buf = append(e.buf, 0xc4, byte(n))
	case n <= math.MaxUint16:
		e.buf = append(e.buf, 0xc5)
		e.buf = appendUint16(e.buf, uint16(n))
	default:
		e.buf = append(e.buf, 0xc6)
		e.buf = appendUint32(e.buf, uint32(n))
	}
	e.buf = append(e.buf, b...)
}

func (e *Encoder) encodeArrayHeader(n int) {
	switch {
	case n <= 15:
		e.buf = append(e.buf, 0x90|byte(n))
	case n <= math.MaxUint16:
		e.buf = append(e.buf, 0xdc)
		e.buf = appendUint16(e.buf, uint16(n))
	default:
		e.buf = append(e.buf, 0xdd)
		e.buf = appendUint32(e.buf, uint32(n))
	}
}

func (e *Encoder) encodeMapHeader(n int) {
	switch {
	case n <= 15:
		e.buf = append(e.buf, 0x80|byte(n))
	case n <= math.MaxUint16:
		e.buf = append(e.buf, 0xde)
		e.buf = appendUint16(e.buf, uint16(n))
	default:
		e.buf = append(e.buf, 0xdf)
		e.buf = appendUint32(e.buf, uint32(n))
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// Encode is a convenience one-shot encode into a fresh buffer.
func Encode(v Value) []byte {
	e := NewEncoder()
	e.Encode(v)
	return e.Bytes()
}
