package reactor

import (
	"sync/atomic"
	"time"
)

// backend is the minimal surface a platform-specific (or mock) poller
// must implement. Each arm* call fires its ready callback exactly once,
// either synchronously from within poll (readiness backends) or from a
// drained completion batch (completion backends) — the distinction is
// invisible to Reactor and to callers.
type backend interface {
	armRead(fd int, buf []byte, ready func(n int, errKind ErrKind))
	armWrite(fd int, buf []byte, ready func(n int, errKind ErrKind))
	armAccept(fd int, ready func(connFd int, errKind ErrKind))
	armConnect(fd int, ready func(errKind ErrKind))
	armTimeout(d time.Duration, ready func())
	openSocket(domain, typ, proto int) (int, error)
	closeFd(fd int) error
	cancelFd(fd int)
	// poll blocks up to timeout waiting for at least one event, drains
	// all currently-ready events, and returns the pending op count.
	poll(timeout time.Duration) (pending int)
	pendingCount() int
	close()
}

type pendingOp struct {
	task     Task
	canceled bool
	cb       Callback
}

// Reactor is the single-threaded async I/O core. All methods must be
// called from the reactor's owning goroutine (the "main thread" in
// spec terms) except Stop, which is documented as safe to call from
// elsewhere.
type Reactor struct {
	be      backend
	nextID  uint64
	pending map[TaskID]*pendingOp

	// stopped is the one field Stop's contract lets a foreign goroutine
	// touch (see Stop's doc comment): runServer starts Run(RunForever) on
	// its own goroutine and calls Stop from the goroutine that received
	// ctx.Done, so this needs real cross-goroutine synchronization, not
	// the ordinary single-threaded rule.
	stopped atomic.Bool
}

// New constructs a Reactor using the platform-appropriate backend.
func New() *Reactor {
	return &Reactor{
		be:      newPlatformBackend(),
		pending: make(map[TaskID]*pendingOp),
	}
}

// NewMock constructs a Reactor backed by the in-process mock, for tests.
func NewMock() (*Reactor, *MockBackend) {
	mb := newMockBackend()
	return &Reactor{be: mb, pending: make(map[TaskID]*pendingOp)}, mb
}

func (r *Reactor) allocID() TaskID {
	return TaskID(atomic.AddUint64(&r.nextID, 1))
}

func (r *Reactor) register(kind OpKind, fd int, ctx any, cb Callback) *pendingOp {
	op := &pendingOp{
		task: Task{ID: r.allocID(), Kind: kind, Fd: fd, Context: ctx},
		cb:   cb,
	}
	r.pending[op.task.ID] = op
	return op
}

func (r *Reactor) complete(op *pendingOp, c Completion) {
	if op.canceled {
		return
	}
	delete(r.pending, op.task.ID)
	if op.cb != nil {
		op.cb(c)
	}
}

// Socket creates a non-blocking socket fd. It executes synchronously:
// the readiness backend needs no suspension for this op (spec.md §4.2).
func (r *Reactor) Socket(domain, typ, proto int) (Task, error) {
	id := r.allocID()
	fd, err := r.be.openSocket(domain, typ, proto)
	if err != nil {
		return Task{ID: id, Kind: OpSocket}, err
	}
	return Task{ID: id, Kind: OpSocket, Fd: fd}, nil
}

// Close closes fd synchronously, cancelling any pending ops on it first.
func (r *Reactor) Close(fd int) (Task, error) {
	id := r.allocID()
	r.CancelByFd(fd)
	err := r.be.closeFd(fd)
	return Task{ID: id, Kind: OpClose, Fd: fd}, err
}

// Accept submits a one-shot accept on listenFd.
func (r *Reactor) Accept(listenFd int, ctx any, cb Callback) Task {
	op := r.register(OpAccept, listenFd, ctx, cb)
	r.be.armAccept(listenFd, func(connFd int, errKind ErrKind) {
		r.complete(op, Completion{UserData: ctx, Fd: connFd, Err: errKind})
	})
	return op.task
}

// Connect submits a connect attempt on fd.
func (r *Reactor) Connect(fd int, ctx any, cb Callback) Task {
	op := r.register(OpConnect, fd, ctx, cb)
	r.be.armConnect(fd, func(errKind ErrKind) {
		r.complete(op, Completion{UserData: ctx, Err: errKind})
	})
	return op.task
}

// Read submits exactly one read into buf on fd.
func (r *Reactor) Read(fd int, buf []byte, ctx any, cb Callback) Task {
	op := r.register(OpRead, fd, ctx, cb)
	r.be.armRead(fd, buf, func(n int, errKind ErrKind) {
		r.complete(op, Completion{UserData: ctx, N: n, Err: errKind})
	})
	return op.task
}

// Write submits exactly one write of buf on fd.
func (r *Reactor) Write(fd int, buf []byte, ctx any, cb Callback) Task {
	op := r.register(OpWrite, fd, ctx, cb)
	r.be.armWrite(fd, buf, func(n int, errKind ErrKind) {
		r.complete(op, Completion{UserData: ctx, N: n, Err: errKind})
	})
	return op.task
}

// Timeout submits a one-shot timer that fires after d elapses.
func (r *Reactor) Timeout(d time.Duration, ctx any, cb Callback) Task {
	op := r.register(OpTimeout, -1, ctx, cb)
	r.be.armTimeout(d, func() {
		r.complete(op, Completion{UserData: ctx, Err: ErrNone})
	})
	return op.task
}

// Cancel is best-effort: a completed or already-reaped op is a no-op;
// otherwise the op completes with Err(Canceled).
func (r *Reactor) Cancel(id TaskID) {
	op, ok := r.pending[id]
	if !ok || op.canceled {
		return
	}
	op.canceled = true
	if op.task.Kind != OpTimeout {
		r.be.cancelFd(op.task.Fd)
	}
	delete(r.pending, id)
	if op.cb != nil {
		op.cb(Completion{UserData: op.task.Context, Err: ErrCanceled})
	}
}

// CancelByFd cancels every pending op whose target is fd, regardless of
// kind. Timer ops are exempt since they have no fd target.
func (r *Reactor) CancelByFd(fd int) {
	var victims []TaskID
	for id, op := range r.pending {
		if op.task.Kind != OpTimeout && op.task.Fd == fd {
			victims = append(victims, id)
		}
	}
	r.be.cancelFd(fd)
	for _, id := range victims {
		op, ok := r.pending[id]
		if !ok || op.canceled {
			continue
		}
		op.canceled = true
		delete(r.pending, id)
		if op.cb != nil {
			op.cb(Completion{UserData: op.task.Context, Err: ErrCanceled})
		}
	}
}

// PendingCount returns the number of operations submitted but not yet
// completed or canceled.
func (r *Reactor) PendingCount() int {
	return len(r.pending)
}

// Stop requests that a RunForever loop return at the next iteration.
// Unlike every other Reactor method, Stop is safe to call from a
// goroutine other than the one running Run(RunForever) — it only
// touches the atomic stopped flag, never r.pending or the backend.
func (r *Reactor) Stop() {
	r.stopped.Store(true)
}

// Close_ releases backend resources (epoll/kqueue fd).
func (r *Reactor) Close_() {
	r.be.close()
}

// Run drives the reactor according to mode. once polls a single batch
// and returns even with zero events; until_done loops until no ops are
// pending; forever loops until Stop is called.
func (r *Reactor) Run(mode RunMode) {
	switch mode {
	case RunOnce:
		r.be.poll(10 * time.Millisecond)
	case RunUntilDone:
		for len(r.pending) > 0 {
			r.be.poll(100 * time.Millisecond)
		}
	case RunForever:
		r.stopped.Store(false)
		for !r.stopped.Load() {
			r.be.poll(100 * time.Millisecond)
		}
	}
}
