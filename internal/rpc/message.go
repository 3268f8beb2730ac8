// Package rpc implements the 3-kind array-framed MessagePack-RPC
// dialect: per-client framing, request-id allocation, a pending-response
// map, and the server's method dispatch table.
package rpc

import "github.com/max-legrand/prise/internal/msgpack"

// Kind tags the MessagePack-RPC message variant per the wire's leading
// array element.
type Kind int64

const (
	KindRequest      Kind = 0
	KindResponse     Kind = 1
	KindNotification Kind = 2
)

// Request is `[0, msgid, method, params]`.
type Request struct {
	MsgID  uint32
	Method string
	Params msgpack.Value
}

// Response is `[1, msgid, error, result]`; exactly one of Error/Result
// is non-nil-Value.
type Response struct {
	MsgID  uint32
	Error  msgpack.Value
	Result msgpack.Value
}

// Notification is `[2, method, params]`.
type Notification struct {
	Method string
	Params msgpack.Value
}

func (r Request) Encode() msgpack.Value {
	return msgpack.Array([]msgpack.Value{
		msgpack.Int(int64(KindRequest)),
		msgpack.Uint(uint64(r.MsgID)),
		msgpack.String(r.Method),
		r.Params,
	})
}

func (r Response) Encode() msgpack.Value {
	return msgpack.Array([]msgpack.Value{
		msgpack.Int(int64(KindResponse)),
		msgpack.Uint(uint64(r.MsgID)),
		r.Error,
		r.Result,
	})
}

func (n Notification) Encode() msgpack.Value {
	return msgpack.Array([]msgpack.Value{
		msgpack.Int(int64(KindNotification)),
		msgpack.String(n.Method),
		n.Params,
	})
}

// ErrProtocolViolation marks a message that is well-formed MessagePack
// but does not conform to the RPC arity/type contract — the owning
// client connection is closed, others are unaffected (spec.md §7).
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string { return "rpc: protocol violation: " + e.Reason }

// DecodeMessage classifies a top-level decoded Value into one of the
// three message kinds, or returns ErrProtocolViolation for anything
// else — including an invalid leading type tag like `[7, ...]`.
func DecodeMessage(v msgpack.Value) (any, error) {
	if v.Kind != msgpack.KindArray || len(v.Array) == 0 {
		return nil, &ErrProtocolViolation{Reason: "top-level message is not a non-empty array"}
	}
	tag, ok := v.Array[0].AsInt()
	if !ok {
		return nil, &ErrProtocolViolation{Reason: "leading array element is not an integer tag"}
	}

	switch Kind(tag) {
	case KindRequest:
		if len(v.Array) != 4 {
			return nil, &ErrProtocolViolation{Reason: "request must have 4 elements"}
		}
		method, ok := stringOf(v.Array[2])
		if !ok {
			return nil, &ErrProtocolViolation{Reason: "request method is not a string"}
		}
		msgid, ok := v.Array[1].AsInt()
		if !ok {
			return nil, &ErrProtocolViolation{Reason: "request msgid is not an integer"}
		}
		return Request{MsgID: uint32(msgid), Method: method, Params: v.Array[3]}, nil

	case KindResponse:
		if len(v.Array) != 4 {
			return nil, &ErrProtocolViolation{Reason: "response must have 4 elements"}
		}
		msgid, ok := v.Array[1].AsInt()
		if !ok {
			return nil, &ErrProtocolViolation{Reason: "response msgid is not an integer"}
		}
		return Response{MsgID: uint32(msgid), Error: v.Array[2], Result: v.Array[3]}, nil

	case KindNotification:
		if len(v.Array) != 3 {
			return nil, &ErrProtocolViolation{Reason: "notification must have 3 elements"}
		}
		method, ok := stringOf(v.Array[1])
		if !ok {
			return nil, &ErrProtocolViolation{Reason: "notification method is not a string"}
		}
		return Notification{Method: method, Params: v.Array[2]}, nil
	}

	return nil, &ErrProtocolViolation{Reason: "unknown message type tag"}
}

func stringOf(v msgpack.Value) (string, bool) {
	if v.Kind != msgpack.KindString {
		return "", false
	}
	return v.Str, true
}
