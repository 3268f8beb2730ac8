package rpc

import (
	"testing"

	"github.com/max-legrand/prise/internal/msgpack"
	"github.com/max-legrand/prise/internal/reactor"
)

type stubHandler struct {
	requests      []string
	notifications []string
}

func (h *stubHandler) HandleRequest(s *Session, method string, params msgpack.Value) (msgpack.Value, msgpack.Value) {
	h.requests = append(h.requests, method)
	if method == "unknown_method" {
		return msgpack.Nil, msgpack.String("unknown method: " + method)
	}
	return msgpack.String("ok"), msgpack.Nil
}

func (h *stubHandler) HandleNotification(s *Session, method string, params msgpack.Value) {
	h.notifications = append(h.notifications, method)
}

// newTestSession wires a Session to a mock reactor, simulating an
// accepted client connection without touching a real fd.
func newTestSession(t *testing.T, h Handler) (*Session, *reactor.Reactor, *reactor.MockBackend) {
	t.Helper()
	re, mb := reactor.NewMock()
	s := NewSession(1, 9, re, h, nil, nil)
	s.Start()
	return s, re, mb
}

func TestRequestDispatchProducesResponse(t *testing.T) {
	h := &stubHandler{}
	s, _, _ := newTestSession(t, h)

	req := Request{MsgID: 1, Method: "attach", Params: msgpack.Array([]msgpack.Value{msgpack.Uint(5)})}
	before := len(s.outbound)
	if !s.dispatchDecoded(req.Encode()) {
		t.Fatalf("dispatching a well-formed request should not close the session")
	}

	if len(h.requests) != 1 || h.requests[0] != "attach" {
		t.Fatalf("handler did not see the request: %v", h.requests)
	}
	if len(s.outbound) <= before {
		t.Fatalf("expected a response to be queued to outbound")
	}
}

func TestQueueRedrawCoalescesPerSession(t *testing.T) {
	h := &stubHandler{}
	s, _, _ := newTestSession(t, h)

	s.QueueRedraw(42, msgpack.Map([]msgpack.Value{msgpack.String("cols")}, []msgpack.Value{msgpack.Uint(80)}))
	s.QueueRedraw(42, msgpack.Map([]msgpack.Value{msgpack.String("cols")}, []msgpack.Value{msgpack.Uint(81)}))

	if len(s.pendingRedrawOrder) != 1 {
		t.Fatalf("expected exactly one staged session, got %d", len(s.pendingRedrawOrder))
	}
	frame := s.pendingRedraw[42]
	cols, _ := frame.MapGet("cols")
	n, _ := cols.AsInt()
	if n != 81 {
		t.Fatalf("expected coalesced frame to keep the newest value, got cols=%d", n)
	}

	before := len(s.outbound)
	s.FlushRedraws()
	if len(s.outbound) <= before {
		t.Fatalf("FlushRedraws did not append to outbound")
	}
	if len(s.pendingRedraw) != 0 {
		t.Fatalf("FlushRedraws did not clear staged redraws")
	}
}

func TestOutboundCapClosesSession(t *testing.T) {
	h := &stubHandler{}
	s, _, _ := newTestSession(t, h)

	huge := make([]byte, MaxOutboundBytes+1)
	s.appendOutbound(huge)

	if !s.closed {
		t.Fatalf("expected session to close once outbound exceeded the cap")
	}
}

func TestUnknownMsgidResponseIsDropped(t *testing.T) {
	h := &stubHandler{}
	s, _, _ := newTestSession(t, h)

	resp := Response{MsgID: 999, Error: msgpack.Nil, Result: msgpack.String("x")}
	if !s.dispatchDecoded(resp.Encode()) {
		t.Fatalf("dispatching an orphan response should not close the session")
	}
}

func TestCallRoutesResponseToCallback(t *testing.T) {
	h := &stubHandler{}
	s, _, _ := newTestSession(t, h)

	var gotResult msgpack.Value
	id := s.Call("ping", msgpack.Array(nil), func(errVal, result msgpack.Value) {
		gotResult = result
	})

	resp := Response{MsgID: id, Error: msgpack.Nil, Result: msgpack.String("pong")}
	if !s.dispatchDecoded(resp.Encode()) {
		t.Fatalf("dispatching the matching response should not close the session")
	}
	if gotResult.Str != "pong" {
		t.Fatalf("callback did not receive the response result: %v", gotResult.String_())
	}
}

func TestInvalidTypeTagClosesOnlyThatSession(t *testing.T) {
	h := &stubHandler{}
	s, _, _ := newTestSession(t, h)

	bogus := msgpack.Array([]msgpack.Value{msgpack.Uint(7), msgpack.String("whatever")})
	if s.dispatchDecoded(bogus) {
		t.Fatalf("expected a protocol violation to close the session")
	}
	if !s.closed {
		t.Fatalf("session should be closed after an invalid type tag")
	}
}
