package msgpack

// Framer decodes a stream of concatenated MessagePack values off an
// accumulating byte buffer. MessagePack has no outer length prefix, so
// framing means "decode exactly one top-level value and report how many
// bytes it consumed" — a partial value at the tail of buf is reported as
// ErrNeedMoreData rather than an error, per spec.md §4.1 and §8.
type Framer struct {
	buf []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends newly-read bytes to the framer's internal buffer.
func (f *Framer) Feed(b []byte) {
	f.buf = append(f.buf, b...)
}

// Next attempts to decode one top-level value from the buffered bytes.
// It returns (value, true, nil) on success, consuming the decoded bytes
// from the internal buffer. It returns (Nil, false, nil) when the
// buffered bytes are a legal-but-incomplete prefix of a value — the
// caller should Feed more bytes and call Next again. Any other error
// indicates malformed input and the connection should be closed.
func (f *Framer) Next() (Value, bool, error) {
	if len(f.buf) == 0 {
		return Nil, false, nil
	}
	v, n, err := Decode(f.buf)
	if err == ErrNeedMoreData {
		return Nil, false, nil
	}
	if err != nil {
		return Nil, false, err
	}
	f.buf = f.buf[n:]
	return v, true, nil
}

// Pending reports how many undecoded bytes remain buffered.
func (f *Framer) Pending() int { return len(f.buf) }
