package session

import (
	"log/slog"
	"time"

	"github.com/max-legrand/prise/internal/msgpack"
	"github.com/max-legrand/prise/internal/ptyio"
	"github.com/max-legrand/prise/internal/reactor"
	"github.com/max-legrand/prise/internal/rpc"
	"github.com/max-legrand/prise/internal/script"
	"github.com/max-legrand/prise/internal/vterm"
)

// startupWatchdogDelay is how long a freshly spawned session is given
// to produce its first byte of output before the watchdog logs
// diagnostics (egg.Server.startupWatchdog's 15s, adapted here).
const startupWatchdogDelay = 15 * time.Second

// Manager holds the maps session_id -> PtySession and client_id ->
// Client, the reverse adjacency between them, and implements
// rpc.Handler for the 8 required server methods of spec.md §4.3.
type Manager struct {
	re      *reactor.Reactor
	script  script.Script
	handles *script.HandleTable
	log     *slog.Logger

	sessions map[uint64]*PtySession
	clients  map[uint64]*Client
	rpcIndex map[*rpc.Session]uint64

	sid, cid nextIDGen

	OnQuit func()

	// clock is the time source onDirty's rate.Limiter reserves against.
	// It is always time.Now in production; tests substitute a simulated
	// clock so the render-clamp's timing decisions can be driven
	// deterministically in lockstep with a reactor.NewMock() virtual
	// clock, without a real sleep.
	clock func() time.Time

	// renderCount counts completed calls to render, for tests asserting
	// the frame-scheduler's clamp property (spec.md §8).
	renderCount int
}

// NewManager constructs an empty Manager. sc may be script.Noop{} when
// no user script is configured.
func NewManager(re *reactor.Reactor, sc script.Script, log *slog.Logger) *Manager {
	return &Manager{
		re:       re,
		script:   sc,
		handles:  script.NewHandleTable(),
		log:      log,
		sessions: make(map[uint64]*PtySession),
		clients:  make(map[uint64]*Client),
		rpcIndex: make(map[*rpc.Session]uint64),
		clock:    time.Now,
	}
}

// AcceptClient wraps a freshly accepted client fd in an rpc.Session,
// registers it, and arms its first read.
func (m *Manager) AcceptClient(fd int, log *slog.Logger) *Client {
	id := m.cid.next()
	var client *Client
	rs := rpc.NewSession(id, fd, m.re, m, log, func(s *rpc.Session) {
		m.onClientClose(client)
	})
	client = newClient(id, rs)
	m.clients[id] = client
	m.rpcIndex[rs] = id
	rs.Start()
	return client
}

func (m *Manager) onClientClose(client *Client) {
	if client == nil {
		return
	}
	for sid := range client.Sessions {
		if ps, ok := m.sessions[sid]; ok {
			delete(ps.attached, client.ID)
		}
	}
	delete(m.rpcIndex, client.Rpc)
	delete(m.clients, client.ID)
}

// FlushAllClients flushes every client's staged redraws. The server
// calls this from a reactor timer that re-arms every MinFrameInterval,
// so each client sees at most one redraw per attached session per
// interval.
func (m *Manager) FlushAllClients() {
	for _, c := range m.clients {
		c.Rpc.FlushRedraws()
	}
}

// SessionCount reports the number of live sessions, for status logging.
func (m *Manager) SessionCount() int { return len(m.sessions) }

// spawn creates a PtyHandle, Terminal, and DirtyPipe; registers the
// pipe's read end with the reactor; starts the reader thread; and
// returns the new session id (spec.md §4.6).
func (m *Manager) spawn(opts ptyio.SpawnOptions) (uint64, error) {
	pty, err := ptyio.Open(opts)
	if err != nil {
		return 0, err
	}
	id := m.sid.next()
	ps, err := newPtySession(id, pty, opts.Cols, opts.Rows)
	if err != nil {
		pty.Close()
		return 0, err
	}
	m.sessions[id] = ps
	ps.startReader()
	m.armPipeRead(ps)
	m.armStartupWatchdog(ps)
	if m.log != nil {
		m.log.Info("session: spawned", "id", id, "argv", opts.Argv, "pid", pty.Pid())
	}
	return id, nil
}

func (m *Manager) armPipeRead(ps *PtySession) {
	buf := make([]byte, 1)
	m.re.Read(ps.Fd(), buf, nil, func(c reactor.Completion) {
		m.onPipeReadable(ps, buf, c)
	})
}

func (m *Manager) onPipeReadable(ps *PtySession, buf []byte, c reactor.Completion) {
	if c.Err == reactor.ErrCanceled {
		return
	}
	if c.Err != reactor.ErrNone || c.N == 0 {
		return
	}
	switch buf[0] {
	case exitMarker:
		m.onPtyExited(ps)
		return
	case dirtyMarker:
		m.onDirty(ps)
	}
	if !ps.exited {
		m.armPipeRead(ps)
	}
}

// onDirty is the dirty-pipe-drain + render-clamp state machine of
// spec.md §4.5: render immediately if the last render was more than
// MinFrameInterval ago, otherwise arm (or rely on an already-armed)
// render timer for the remaining interval.
func (m *Manager) onDirty(ps *PtySession) {
	if !ps.term.Dirty() {
		return
	}
	res := ps.limiter.ReserveN(m.clock(), 1)
	if !res.OK() {
		return
	}
	delay := res.Delay()
	if delay <= 0 {
		m.render(ps)
		return
	}
	if ps.timerPending {
		res.CancelAt(m.clock())
		return
	}
	ps.timerPending = true
	task := m.re.Timeout(delay, ps, func(c reactor.Completion) {
		ps.timerPending = false
		if c.Err == reactor.ErrCanceled {
			return
		}
		m.render(ps)
	})
	ps.renderTimer = task.ID
}

// render snapshots the terminal screen and queues one redraw
// notification per attached client (spec.md §4.5).
func (m *Manager) render(ps *PtySession) {
	m.renderCount++
	frame := buildRedrawFrame(ps.term)
	for cid := range ps.attached {
		client, ok := m.clients[cid]
		if !ok {
			continue
		}
		client.Rpc.QueueRedraw(ps.ID, frame)
	}
}

func buildRedrawFrame(t *vterm.Terminal) msgpack.Value {
	cols, rows := t.Dimensions()
	grid := t.Cells()
	rowVals := make([]msgpack.Value, len(grid))
	for y, row := range grid {
		cellVals := make([]msgpack.Value, len(row))
		for x, c := range row {
			cellVals[x] = msgpack.Map(
				[]msgpack.Value{msgpack.String("ch"), msgpack.String("fg"), msgpack.String("bg"), msgpack.String("attrs")},
				[]msgpack.Value{msgpack.String(c.Ch), msgpack.Uint(uint64(c.Fg)), msgpack.Uint(uint64(c.Bg)), msgpack.Uint(uint64(c.Attrs))},
			)
		}
		rowVals[y] = msgpack.Array(cellVals)
	}
	cur := t.CursorState()
	cursorVal := msgpack.Map(
		[]msgpack.Value{msgpack.String("row"), msgpack.String("col"), msgpack.String("visible")},
		[]msgpack.Value{msgpack.Uint(uint64(cur.Row)), msgpack.Uint(uint64(cur.Col)), msgpack.Bool(cur.Visible)},
	)
	return msgpack.Map(
		[]msgpack.Value{msgpack.String("cols"), msgpack.String("rows"), msgpack.String("cells"), msgpack.String("cursor")},
		[]msgpack.Value{msgpack.Uint(uint64(cols)), msgpack.Uint(uint64(rows)), msgpack.Array(rowVals), cursorVal},
	)
}

func (m *Manager) onPtyExited(ps *PtySession) {
	status, _ := ps.pty.Wait()
	ps.exited = true
	ps.exitStatus = status
	m.destroy(ps.ID, &status)
}

// destroy detaches all clients (sending pty_exited), cancels the render
// timer, cancels reactor ops on the pipe fd, and closes the PTY and
// pipe fds (spec.md §4.6). exitStatus is nil when the caller is an
// explicit teardown (e.g. quit()) rather than a natural PTY exit.
func (m *Manager) destroy(sessionID uint64, exitStatus *int) {
	ps, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)

	for cid := range ps.attached {
		if client, ok := m.clients[cid]; ok {
			var status msgpack.Value = msgpack.Nil
			if exitStatus != nil {
				status = msgpack.Int(int64(*exitStatus))
			}
			client.Rpc.Notify("pty_exited", msgpack.Array([]msgpack.Value{msgpack.Uint(sessionID), status}))
			delete(client.Sessions, sessionID)
		}
	}
	ps.attached = nil

	if ps.timerPending {
		m.re.Cancel(ps.renderTimer)
	}
	m.re.CancelByFd(ps.Fd())
	// Close the master fd first: it's what unblocks the reader worker's
	// blocking Read (via EOF/hangup) when the child hasn't already
	// exited on its own, e.g. an explicit teardown of a still-running
	// session rather than onPtyExited's natural-exit path.
	ps.pty.Close()
	<-ps.readerDone
	ps.pipeRead.Close()
	ps.pipeWrite.Close()
	m.handles.ReleasePty(sessionID)
}

func (m *Manager) armStartupWatchdog(ps *PtySession) {
	m.re.Timeout(startupWatchdogDelay, ps, func(c reactor.Completion) {
		if c.Err == reactor.ErrCanceled {
			return
		}
		if _, stillAlive := m.sessions[ps.ID]; !stillAlive {
			return
		}
		if ps.everOutput.Load() {
			return
		}
		if m.log != nil {
			m.log.Warn("session: no PTY output after startup watchdog delay", "id", ps.ID, "pid", ps.pty.Pid())
		}
	})
}
