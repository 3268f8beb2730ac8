package rpc

import (
	"log/slog"

	"github.com/max-legrand/prise/internal/msgpack"
	"github.com/max-legrand/prise/internal/reactor"
)

// MaxOutboundBytes is the hard back-pressure cap on a client's outbound
// buffer (spec.md §5, "recommended 16 MiB"). Once the coalesced-redraw
// policy below can no longer keep a slow client under this cap, the
// session is closed rather than left to grow without bound.
const MaxOutboundBytes = 16 << 20

// Handler dispatches decoded requests and notifications. The session
// manager implements this to route into script bridge / PTY actions.
type Handler interface {
	HandleRequest(s *Session, method string, params msgpack.Value) (result, errVal msgpack.Value)
	HandleNotification(s *Session, method string, params msgpack.Value)
}

// Session is one client connection's framing and dispatch state: the
// inbound/outbound buffers, request-id allocation, and the pending map
// for responses to requests the server itself issued (full-duplex,
// though every required method in spec.md §4.3 is client-initiated).
type Session struct {
	ID      uint64
	fd      int
	re      *reactor.Reactor
	handler Handler
	log     *slog.Logger
	onClose func(*Session)

	framer  *msgpack.Framer
	closed  bool

	outbound      []byte
	writeInFlight bool

	pendingRedraw      map[uint64]msgpack.Value
	pendingRedrawOrder []uint64

	nextMsgID uint32
	pending   map[uint32]func(errVal, result msgpack.Value)
}

// NewSession wraps an already-accepted client fd.
func NewSession(id uint64, fd int, re *reactor.Reactor, h Handler, log *slog.Logger, onClose func(*Session)) *Session {
	return &Session{
		ID:            id,
		fd:            fd,
		re:            re,
		handler:       h,
		log:           log,
		onClose:       onClose,
		framer:        msgpack.NewFramer(),
		pendingRedraw: make(map[uint64]msgpack.Value),
		pending:       make(map[uint32]func(errVal, result msgpack.Value)),
	}
}

// Start arms the session's first read. The reactor is always armed with
// exactly one outstanding read on the fd while the session is open.
func (s *Session) Start() {
	s.armRead()
}

func (s *Session) armRead() {
	if s.closed {
		return
	}
	buf := make([]byte, 64*1024)
	s.re.Read(s.fd, buf, nil, func(c reactor.Completion) {
		s.onReadCompletion(buf, c)
	})
}

func (s *Session) onReadCompletion(buf []byte, c reactor.Completion) {
	if s.closed {
		return
	}
	if c.Err == reactor.ErrCanceled {
		return
	}
	if c.Err == reactor.ErrConnectionReset || c.N == 0 {
		s.Close("connection reset or EOF")
		return
	}
	if c.Err != reactor.ErrNone {
		s.Close("read error")
		return
	}

	s.framer.Feed(buf[:c.N])
	for {
		v, ok, err := s.framer.Next()
		if err != nil {
			// Malformed MessagePack: close only this client (spec.md §7).
			s.Close("malformed message: " + err.Error())
			return
		}
		if !ok {
			break
		}
		if !s.dispatchDecoded(v) {
			return
		}
	}
	s.armRead()
}

// dispatchDecoded classifies and dispatches one decoded top-level value.
// It returns false if dispatching it closed the session (a protocol
// violation), signaling the caller to stop processing further bytes.
func (s *Session) dispatchDecoded(v msgpack.Value) bool {
	msg, err := DecodeMessage(v)
	if err != nil {
		s.Close(err.Error())
		return false
	}
	switch m := msg.(type) {
	case Request:
		s.dispatchRequest(m)
	case Notification:
		s.handler.HandleNotification(s, m.Method, m.Params)
	case Response:
		if cb, ok := s.pending[m.MsgID]; ok {
			delete(s.pending, m.MsgID)
			cb(m.Error, m.Result)
		} else if s.log != nil {
			s.log.Warn("rpc: response for unknown msgid, dropping", "msgid", m.MsgID)
		}
	}
	return true
}

func (s *Session) dispatchRequest(req Request) {
	defer func() {
		if r := recover(); r != nil {
			// A handler panic must not take down the reactor; reply with
			// an error and keep the connection open (spec.md §7).
			s.sendResponse(req.MsgID, msgpack.Nil, msgpack.String("internal error"))
			if s.log != nil {
				s.log.Error("rpc: handler panic", "method", req.Method, "panic", r)
			}
		}
	}()
	result, errVal := s.handler.HandleRequest(s, req.Method, req.Params)
	s.sendResponse(req.MsgID, result, errVal)
}

func (s *Session) sendResponse(msgid uint32, result, errVal msgpack.Value) {
	resp := Response{MsgID: msgid, Error: errVal, Result: result}
	s.appendOutbound(msgpack.Encode(resp.Encode()))
}

// Notify queues a notification (pty_exited, title, bell, or any
// non-redraw server-to-client message) for delivery.
func (s *Session) Notify(method string, params msgpack.Value) {
	n := Notification{Method: method, Params: params}
	s.appendOutbound(msgpack.Encode(n.Encode()))
}

// Call issues a server-initiated request and invokes cb when the
// matching Response arrives. Request ids wrap at 2^32; collisions are
// avoided by never reusing an id still present in the pending map.
func (s *Session) Call(method string, params msgpack.Value, cb func(errVal, result msgpack.Value)) uint32 {
	var id uint32
	for {
		id = s.nextMsgID
		s.nextMsgID++
		if _, taken := s.pending[id]; !taken {
			break
		}
	}
	s.pending[id] = cb
	req := Request{MsgID: id, Method: method, Params: params}
	s.appendOutbound(msgpack.Encode(req.Encode()))
	return id
}

// QueueRedraw stages a redraw for sessionID, replacing any previously
// staged-but-unflushed redraw for the same session. This is the
// queue-depth back-pressure policy: only the newest frame per session
// survives until FlushRedraws runs (spec.md §9 open question).
func (s *Session) QueueRedraw(sessionID uint64, frame msgpack.Value) {
	if _, exists := s.pendingRedraw[sessionID]; !exists {
		s.pendingRedrawOrder = append(s.pendingRedrawOrder, sessionID)
	}
	s.pendingRedraw[sessionID] = frame
}

// FlushRedraws appends every staged redraw to the outbound buffer. The
// session manager calls this from a reactor timer once every frame
// interval, so at most one redraw per session reaches the wire per
// interval regardless of how many times QueueRedraw was called in
// between.
func (s *Session) FlushRedraws() {
	for _, sid := range s.pendingRedrawOrder {
		frame, ok := s.pendingRedraw[sid]
		if !ok {
			continue
		}
		n := Notification{Method: "redraw", Params: frame}
		s.appendOutbound(msgpack.Encode(n.Encode()))
	}
	s.pendingRedraw = make(map[uint64]msgpack.Value)
	s.pendingRedrawOrder = nil
}

// PendingBytes reports how many bytes are currently staged in the
// outbound buffer, awaiting a write completion. Callers outside this
// package use it to confirm a Notify or QueueRedraw call actually
// queued wire bytes, without reaching into unexported session state.
func (s *Session) PendingBytes() int {
	return len(s.outbound)
}

func (s *Session) appendOutbound(encoded []byte) {
	if s.closed {
		return
	}
	if len(s.outbound)+len(encoded) > MaxOutboundBytes {
		if s.log != nil {
			s.log.Warn("rpc: outbound buffer exceeded cap, closing client", "fd", s.fd)
		}
		s.Close("outbound buffer exceeded cap")
		return
	}
	s.outbound = append(s.outbound, encoded...)
	s.scheduleWrite()
}

func (s *Session) scheduleWrite() {
	if s.closed || s.writeInFlight || len(s.outbound) == 0 {
		return
	}
	s.writeInFlight = true
	buf := s.outbound
	s.re.Write(s.fd, buf, nil, func(c reactor.Completion) {
		s.onWriteCompletion(len(buf), c)
	})
}

func (s *Session) onWriteCompletion(attempted int, c reactor.Completion) {
	s.writeInFlight = false
	if s.closed {
		return
	}
	if c.Err != reactor.ErrNone {
		s.Close("write error")
		return
	}
	s.outbound = s.outbound[c.N:]
	s.scheduleWrite()
}

// Close tears down the session: cancels all pending reactor ops on its
// fd and notifies the owner exactly once.
func (s *Session) Close(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.re.CancelByFd(s.fd)
	s.re.Close(s.fd)
	if s.log != nil {
		s.log.Debug("rpc: session closed", "fd", s.fd, "reason", reason)
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}
