//go:build darwin

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

func newPlatformBackend() backend {
	kq, err := unix.Kqueue()
	if err != nil {
		panic("reactor: kqueue: " + err.Error())
	}
	return &kqueueBackend{
		kq:      kq,
		watches: make(map[int]*kqueueWatch),
		timers:  make(map[*timerEntryKQ]struct{}),
	}
}

type kqueueWatch struct {
	fd      int
	onRead  func()
	onWrite func()
}

type timerEntryKQ struct {
	deadline time.Time
	fire     func()
	fired    bool
}

// kqueueBackend is the BSD/Darwin readiness backend: one-shot EV_ONESHOT
// filters per direction, mirroring the epoll backend's contract.
type kqueueBackend struct {
	kq      int
	watches map[int]*kqueueWatch
	timers  map[*timerEntryKQ]struct{}
}

func (b *kqueueBackend) watchFor(fd int) *kqueueWatch {
	w, ok := b.watches[fd]
	if !ok {
		w = &kqueueWatch{fd: fd}
		b.watches[fd] = w
	}
	return w
}

func (b *kqueueBackend) armFilter(fd int, filter int16) {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  unix.EV_ADD | unix.EV_ONESHOT,
	}
	unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil)
}

func (b *kqueueBackend) armRead(fd int, buf []byte, ready func(n int, errKind ErrKind)) {
	w := b.watchFor(fd)
	w.onRead = func() {
		n, err := unix.Read(fd, buf)
		w.onRead = nil
		ready(n, classifyErrnoKQ(n, err))
	}
	b.armFilter(fd, unix.EVFILT_READ)
}

func (b *kqueueBackend) armWrite(fd int, buf []byte, ready func(n int, errKind ErrKind)) {
	w := b.watchFor(fd)
	w.onWrite = func() {
		n, err := unix.Write(fd, buf)
		w.onWrite = nil
		ready(n, classifyErrnoKQ(n, err))
	}
	b.armFilter(fd, unix.EVFILT_WRITE)
}

func (b *kqueueBackend) armAccept(fd int, ready func(connFd int, errKind ErrKind)) {
	w := b.watchFor(fd)
	w.onRead = func() {
		connFd, _, err := unix.Accept(fd)
		w.onRead = nil
		if err != nil {
			ready(-1, classifyErrnoKQ(0, err))
			return
		}
		unix.SetNonblock(connFd, true)
		ready(connFd, ErrNone)
	}
	b.armFilter(fd, unix.EVFILT_READ)
}

func (b *kqueueBackend) armConnect(fd int, ready func(errKind ErrKind)) {
	w := b.watchFor(fd)
	w.onWrite = func() {
		w.onWrite = nil
		errno, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil || errno != 0 {
			ready(ErrOther)
			return
		}
		ready(ErrNone)
	}
	b.armFilter(fd, unix.EVFILT_WRITE)
}

func (b *kqueueBackend) armTimeout(d time.Duration, ready func()) {
	t := &timerEntryKQ{deadline: time.Now().Add(d), fire: ready}
	b.timers[t] = struct{}{}
}

func (b *kqueueBackend) openSocket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (b *kqueueBackend) closeFd(fd int) error {
	return unix.Close(fd)
}

func (b *kqueueBackend) cancelFd(fd int) {
	if w, ok := b.watches[fd]; ok {
		_ = w
		evs := []unix.Kevent_t{
			{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
			{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
		}
		unix.Kevent(b.kq, evs, nil, nil)
		delete(b.watches, fd)
	}
}

func (b *kqueueBackend) pendingCount() int {
	return len(b.watches) + len(b.timers)
}

func (b *kqueueBackend) poll(timeout time.Duration) int {
	now := time.Now()
	soonest := timeout
	for t := range b.timers {
		if t.fired {
			continue
		}
		if d := t.deadline.Sub(now); d < soonest {
			if d < 0 {
				d = 0
			}
			soonest = d
		}
	}

	events := make([]unix.Kevent_t, 64)
	ts := unix.NsecToTimespec(soonest.Nanoseconds())
	n, _ := unix.Kevent(b.kq, nil, events, &ts)
	for i := 0; i < n; i++ {
		fd := int(events[i].Ident)
		w, ok := b.watches[fd]
		if !ok {
			continue
		}
		switch events[i].Filter {
		case unix.EVFILT_READ:
			if w.onRead != nil {
				w.onRead()
			}
		case unix.EVFILT_WRITE:
			if w.onWrite != nil {
				w.onWrite()
			}
		}
	}

	now = time.Now()
	for t := range b.timers {
		if !t.fired && !now.Before(t.deadline) {
			t.fired = true
			delete(b.timers, t)
			t.fire()
		}
	}
	return b.pendingCount()
}

func (b *kqueueBackend) close() {
	unix.Close(b.kq)
}

func classifyErrnoKQ(n int, err error) ErrKind {
	if err == nil {
		if n == 0 {
			return ErrConnectionReset
		}
		return ErrNone
	}
	switch err {
	case unix.EAGAIN:
		return ErrWouldBlock
	case unix.ECONNRESET, unix.EPIPE:
		return ErrConnectionReset
	default:
		return ErrOther
	}
}
