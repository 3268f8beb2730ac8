// Package session implements the PTY reader worker, frame scheduler,
// and session manager: the set of live PtySessions, their attached
// clients, and the dirty-signal-to-redraw pipeline (spec.md §4.4-§4.6).
package session

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/max-legrand/prise/internal/ptyio"
	"github.com/max-legrand/prise/internal/reactor"
	"github.com/max-legrand/prise/internal/vterm"
	"golang.org/x/time/rate"
)

// MinFrameInterval is the minimum time between renders for a single
// session — the frame clamp / MIN_FRAME_INTERVAL of the glossary.
const MinFrameInterval = 8 * time.Millisecond

// dirtyMarker and exitMarker are the two distinguished byte values the
// reader worker writes to the dirty pipe: a normal "screen changed"
// signal, or "the PTY is gone, tear the session down."
const (
	dirtyMarker byte = 'd'
	exitMarker  byte = 'x'
)

// PtySession owns one PTY, its Terminal, dirty pipe, and render
// scheduling state. All fields except those explicitly marked are
// touched only from the reactor's single main thread.
type PtySession struct {
	ID    uint64
	Title string

	pty  *ptyio.Handle
	term *vterm.Terminal

	pipeRead  *os.File
	pipeWrite *os.File // held exclusively by the reader worker goroutine

	readerDone chan struct{}

	limiter      *rate.Limiter
	renderTimer  reactor.TaskID
	timerPending bool

	attached map[uint64]struct{} // client ids

	exited     bool
	exitStatus int
	everOutput atomic.Bool
}

// newPtySession constructs a session around an already-opened PTY.
func newPtySession(id uint64, pty *ptyio.Handle, cols, rows uint16) (*PtySession, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	ps := &PtySession{
		ID:         id,
		pty:        pty,
		term:       vterm.New(int(cols), int(rows)),
		pipeRead:   pr,
		pipeWrite:  pw,
		readerDone: make(chan struct{}),
		limiter:    rate.NewLimiter(rate.Every(MinFrameInterval), 1),
		attached:   make(map[uint64]struct{}),
	}
	return ps, nil
}

// startReader launches the blocking-read reader worker goroutine
// (spec.md §4.4). It owns the read half of the PTY master logically;
// the fd itself is shared with the reactor for writes.
func (ps *PtySession) startReader() {
	go func() {
		defer close(ps.readerDone)
		buf := make([]byte, 64*1024)
		for {
			n, err := ps.pty.File().Read(buf)
			if n > 0 {
				ps.everOutput.Store(true)
				data := make([]byte, n)
				copy(data, buf[:n])
				ps.term.Write(data)
				if reply := ps.term.TakeReplyBytes(); len(reply) > 0 {
					// Small and synchronous: written directly to the PTY
					// master without going through the reactor.
					ps.pty.Write(reply)
				}
				ps.signal(dirtyMarker)
			}
			if err != nil {
				ps.signal(exitMarker)
				return
			}
		}
	}()
}

// signal writes a single distinguished byte to the dirty pipe. The
// write end is exclusively held by the reader worker; when the pipe is
// full (reactor falling behind) the write blocks the reader worker
// until the reactor drains a byte. Write errors are ignored.
func (ps *PtySession) signal(b byte) {
	ps.pipeWrite.Write([]byte{b})
}

// Fd returns the dirty pipe's read end fd, registered with the reactor.
func (ps *PtySession) Fd() int {
	return int(ps.pipeRead.Fd())
}

// nextIDGen is a process-wide monotonic id source for PtySession and
// Client identity, per spec.md §3's "64-bit monotonically assigned id."
type nextIDGen struct{ n uint64 }

func (g *nextIDGen) next() uint64 {
	return atomic.AddUint64(&g.n, 1)
}
