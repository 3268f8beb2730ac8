package msgpack

import "errors"

// Error kinds per spec.md §4.1. ErrNeedMoreData is not a real error —
// the streaming framer uses it internally to signal a truncated message
// so the caller can re-arm a read instead of treating it as a failure.
var (
	ErrUnexpectedEOF   = errors.New("msgpack: unexpected end of input")
	ErrInvalidFormat   = errors.New("msgpack: invalid format")
	ErrIntegerOverflow = errors.New("msgpack: integer overflow")
	ErrInvalidUTF8     = errors.New("msgpack: invalid utf-8")
	ErrNeedMoreData    = errors.New("msgpack: need more data")
)
