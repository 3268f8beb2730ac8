package msgpack

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Decode parses exactly one top-level MessagePack value from buf and
// returns it along with the number of bytes consumed. A truncated
// message is reported as ErrNeedMoreData, not a hard error — the caller
// (the RPC framer) should re-arm a read and retry once more bytes
// arrive, per spec.md §4.1.
func Decode(buf []byte) (Value, int, error) {
	d := decoder{buf: buf}
	v, err := d.value()
	if err != nil {
		return Nil, 0, err
	}
	return v, d.pos, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return ErrNeedMoreData
	}
	return nil
}

func (d *decoder) readByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	b, err := d.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) readUint32() (uint32, error) {
	b, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) readUint64() (uint64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) value() (Value, error) {
	tag, err := d.readByte()
	if err != nil {
		return Nil, err
	}

	switch {
	case tag <= 0x7f: // positive fixint
		return Uint(uint64(tag)), nil
	case tag >= 0xe0: // negative fixint
		return Int(int64(int8(tag))), nil
	case tag >= 0x80 && tag <= 0x8f: // fixmap
		return d.mapBody(int(tag & 0x0f))
	case tag >= 0x90 && tag <= 0x9f: // fixarray
		return d.arrayBody(int(tag & 0x0f))
	case tag >= 0xa0 && tag <= 0xbf: // fixstr
		return d.stringBody(int(tag & 0x1f))
	}

	switch tag {
	case 0xc0:
		return Nil, nil
	case 0xc2:
		return Bool(false), nil
	case 0xc3:
		return Bool(true), nil
	case 0xc4: // bin8
		n, err := d.readByte()
		if err != nil {
			return Nil, err
		}
		return d.binaryBody(int(n))
	case 0xc5: // bin16
		n, err := d.readUint16()
		if err != nil {
			return Nil, err
		}
		return d.binaryBody(int(n))
	case 0xc6: // bin32
		n, err := d.readUint32()
		if err != nil {
			return Nil, err
		}
		return d.binaryBody(int(n))
	case 0xc7, 0xc8, 0xc9: // ext8/16/32 — skipped via the generic skip path
		return d.extBody(tag)
	case 0xca: // float32
		b, err := d.readUint32()
		if err != nil {
			return Nil, err
		}
		return Float(float64(math.Float32frombits(b))), nil
	case 0xcb: // float64
		b, err := d.readUint64()
		if err != nil {
			return Nil, err
		}
		return Float(math.Float64frombits(b)), nil
	case 0xcc: // uint8
		b, err := d.readByte()
		if err != nil {
			return Nil, err
		}
		return Uint(uint64(b)), nil
	case 0xcd: // uint16
		v, err := d.readUint16()
		if err != nil {
			return Nil, err
		}
		return Uint(uint64(v)), nil
	case 0xce: // uint32
		v, err := d.readUint32()
		if err != nil {
			return Nil, err
		}
		return Uint(uint64(v)), nil
	case 0xcf: // uint64
		v, err := d.readUint64()
		if err != nil {
			return Nil, err
		}
		return Uint(v), nil
	case 0xd0: // int8
		b, err := d.readByte()
		if err != nil {
			return Nil, err
		}
		return Int(int64(int8(b))), nil
	case 0xd1: // int16
		v, err := d.readUint16()
		if err != nil {
			return Nil, err
		}
		return Int(int64(int16(v))), nil
	case 0xd2: // int32
		v, err := d.readUint32()
		if err != nil {
			return Nil, err
		}
		return Int(int64(int32(v))), nil
	case 0xd3: // int64
		v, err := d.readUint64()
		if err != nil {
			return Nil, err
		}
		return Int(int64(v)), nil
	case 0xd4, 0xd5, 0xd6, 0xd7, 0xd8: // fixext1/2/4/8/16 — skipped
		return d.fixextBody(tag)
	case 0xd9: // str8
		n, err := d.readByte()
		if err != nil {
			return Nil, err
		}
		return d.stringBody(int(n))
	case 0xda: // str16
		n, err := d.readUint16()
		if err != nil {
			return Nil, err
		}
		return d.stringBody(int(n))
	case 0xdb: // str32
		n, err := d.readUint32()
		if err != nil {
			return Nil, err
		}
		return d.stringBody(int(n))
	case 0xdc: // array16
		n, err := d.readUint16()
		if err != nil {
			return Nil, err
		}
		return d.arrayBody(int(n))
	case 0xdd: // array32
		n, err := d.readUint32()
		if err != nil {
			return Nil, err
		}
		return d.arrayBody(int(n))
	case 0xde: // map16
		n, err := d.readUint16()
		if err != nil {
			return Nil, err
		}
		return d.mapBody(int(n))
	case 0xdf: // map32
		n, err := d.readUint32()
		if err != nil {
			return Nil, err
		}
		return d.mapBody(int(n))
	}

	return Nil, ErrInvalidFormat
}

func (d *decoder) stringBody(n int) (Value, error) {
	b, err := d.readN(n)
	if err != nil {
		return Nil, err
	}
	if !utf8.Valid(b) {
		return Nil, ErrInvalidUTF8
	}
	return String(string(b)), nil
}

func (d *decoder) binaryBody(n int) (Value, error) {
	b, err := d.readN(n)
	if err != nil {
		return Nil, err
	}
	cp := make([]byte, n)
	copy(cp, b)
	return Binary(cp), nil
}

func (d *decoder) arrayBody(n int) (Value, error) {
	items := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.value()
		if err != nil {
			return Nil, err
		}
		items = append(items, v)
	}
	return Array(items), nil
}

func (d *decoder) mapBody(n int) (Value, error) {
	keys := make([]Value, 0, n)
	vals := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		k, err := d.value()
		if err != nil {
			return Nil, err
		}
		v, err := d.value()
		if err != nil {
			return Nil, err
		}
		keys = append(keys, k)
		vals = append(vals, v)
	}
	return Map(keys, vals), nil
}

// extBody skips an ext8/16/32 payload: 1-byte type tag plus N data bytes.
func (d *decoder) extBody(tag byte) (Value, error) {
	var n int
	switch tag {
	case 0xc7:
		b, err := d.readByte()
		if err != nil {
			return Nil, err
		}
		n = int(b)
	case 0xc8:
		v, err := d.readUint16()
		if err != nil {
			return Nil, err
		}
		n = int(v)
	case 0xc9:
		v, err := d.readUint32()
		if err != nil {
			return Nil, err
		}
		n = int(v)
	}
	if _, err := d.readByte(); err != nil { // ext type byte
		return Nil, err
	}
	if _, err := d.readN(n); err != nil {
		return Nil, err
	}
	return Nil, nil
}

// fixextBody skips a fixext1/2/4/8/16 payload.
func (d *decoder) fixextBody(tag byte) (Value, error) {
	sizes := map[byte]int{0xd4: 1, 0xd5: 2, 0xd6: 4, 0xd7: 8, 0xd8: 16}
	if _, err := d.readByte(); err != nil { // ext type byte
		return Nil, err
	}
	if _, err := d.readN(sizes[tag]); err != nil {
		return Nil, err
	}
	return Nil, nil
}
