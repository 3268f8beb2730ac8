package session

import (
	"github.com/max-legrand/prise/internal/msgpack"
	"github.com/max-legrand/prise/internal/ptyio"
	"github.com/max-legrand/prise/internal/rpc"
	"github.com/max-legrand/prise/internal/script"
)

// HandleRequest implements rpc.Handler: the 8 server-exposed methods of
// spec.md §4.3. Unknown methods produce Response.error, not a closed
// connection.
func (m *Manager) HandleRequest(s *rpc.Session, method string, params msgpack.Value) (result, errVal msgpack.Value) {
	clientID, ok := m.rpcIndex[s]
	if !ok {
		return msgpack.Nil, msgpack.String("internal error: unregistered client")
	}

	switch method {
	case "attach":
		return m.rpcAttach(clientID, params)
	case "detach":
		return m.rpcDetach(clientID, params)
	case "spawn":
		return m.rpcSpawn(params)
	case "write":
		return m.rpcWrite(params)
	case "key":
		return m.rpcKey(params)
	case "resize":
		return m.rpcResize(params)
	case "list_sessions":
		return m.rpcListSessions()
	case "quit":
		return m.rpcQuit()
	default:
		return msgpack.Nil, msgpack.String("unknown method: " + method)
	}
}

// HandleNotification implements rpc.Handler. No server-exposed method
// of spec.md §4.3 is notification-only, so any inbound notification
// from a client is logged and dropped.
func (m *Manager) HandleNotification(s *rpc.Session, method string, params msgpack.Value) {
	if m.log != nil {
		m.log.Debug("session: dropping unexpected client notification", "method", method)
	}
}

func sessionIDArg(params msgpack.Value, idx int) (uint64, bool) {
	if params.Kind != msgpack.KindArray || idx >= len(params.Array) {
		return 0, false
	}
	n, ok := params.Array[idx].AsInt()
	if !ok || n < 0 {
		return 0, false
	}
	return uint64(n), true
}

func (m *Manager) rpcAttach(clientID uint64, params msgpack.Value) (msgpack.Value, msgpack.Value) {
	sid, ok := sessionIDArg(params, 0)
	if !ok {
		return msgpack.Nil, msgpack.String("attach: missing session_id")
	}
	ps, ok := m.sessions[sid]
	if !ok {
		return msgpack.Nil, msgpack.String("attach: no such session")
	}
	client, ok := m.clients[clientID]
	if !ok {
		return msgpack.Nil, msgpack.String("internal error: unregistered client")
	}
	ps.attached[clientID] = struct{}{}
	client.Sessions[sid] = struct{}{}

	// Replay scrollback before the live grid, so a reconnecting client
	// sees history rather than just the current frame (SPEC_FULL.md
	// §10.1). Only sent when there's actually scrollback to replay — a
	// fresh session has none, and the redraw below already carries the
	// full visible grid.
	if ps.term.ScrollbackLen() > 0 {
		client.Rpc.Notify("scrollback", msgpack.Array([]msgpack.Value{msgpack.Uint(sid), msgpack.Binary(ps.term.Snapshot())}))
	}
	client.Rpc.QueueRedraw(sid, buildRedrawFrame(ps.term))

	m.dispatchScript(script.Event{Kind: script.EventPtyAttach, Pty: m.handles.PtyRefFor(sid)})
	return msgpack.Nil, msgpack.Nil
}

func (m *Manager) rpcDetach(clientID uint64, params msgpack.Value) (msgpack.Value, msgpack.Value) {
	sid, ok := sessionIDArg(params, 0)
	if !ok {
		return msgpack.Nil, msgpack.String("detach: missing session_id")
	}
	if ps, ok := m.sessions[sid]; ok {
		delete(ps.attached, clientID)
	}
	if client, ok := m.clients[clientID]; ok {
		delete(client.Sessions, sid)
	}
	return msgpack.Nil, msgpack.Nil
}

type spawnParams struct {
	Argv []string `msgpack:"argv,required"`
	Cwd  string   `msgpack:"cwd"`
	Env  []string `msgpack:"env"`
	Cols uint16   `msgpack:"cols,required"`
	Rows uint16   `msgpack:"rows,required"`
}

func (m *Manager) rpcSpawn(params msgpack.Value) (msgpack.Value, msgpack.Value) {
	if params.Kind != msgpack.KindArray || len(params.Array) == 0 {
		return msgpack.Nil, msgpack.String("spawn: missing options")
	}
	var sp spawnParams
	if err := msgpack.DecodeStruct(params.Array[0], &sp); err != nil {
		return msgpack.Nil, msgpack.String("spawn: invalid options: " + err.Error())
	}
	id, err := m.spawn(ptyio.SpawnOptions{Argv: sp.Argv, Cwd: sp.Cwd, Env: sp.Env, Cols: sp.Cols, Rows: sp.Rows})
	if err != nil {
		return msgpack.Nil, msgpack.String("spawn: " + err.Error())
	}
	return msgpack.Uint(id), msgpack.Nil
}

func (m *Manager) rpcWrite(params msgpack.Value) (msgpack.Value, msgpack.Value) {
	sid, ok := sessionIDArg(params, 0)
	if !ok || len(params.Array) < 2 || params.Array[1].Kind != msgpack.KindBinary {
		return msgpack.Nil, msgpack.String("write: bad arguments")
	}
	ps, ok := m.sessions[sid]
	if !ok {
		return msgpack.Nil, msgpack.String("write: no such session")
	}
	ps.pty.Write(params.Array[1].Bin)
	return msgpack.Nil, msgpack.Nil
}

type keyEventParams struct {
	Key      string `msgpack:"key,required"`
	CtrlKey  bool   `msgpack:"ctrlKey"`
	ShiftKey bool   `msgpack:"shiftKey"`
	AltKey   bool   `msgpack:"altKey"`
	MetaKey  bool   `msgpack:"metaKey"`
}

func (m *Manager) rpcKey(params msgpack.Value) (msgpack.Value, msgpack.Value) {
	sid, ok := sessionIDArg(params, 0)
	if !ok || len(params.Array) < 2 {
		return msgpack.Nil, msgpack.String("key: bad arguments")
	}
	ps, ok := m.sessions[sid]
	if !ok {
		return msgpack.Nil, msgpack.String("key: no such session")
	}
	var ke keyEventParams
	if err := msgpack.DecodeStruct(params.Array[1], &ke); err != nil {
		return msgpack.Nil, msgpack.String("key: invalid key_event: " + err.Error())
	}

	ref := m.handles.PtyRefFor(sid)
	m.dispatchScript(script.Event{
		Kind: script.EventKeyPress, Pty: ref,
		Key: ke.Key, Ctrl: ke.CtrlKey, Shift: ke.ShiftKey, Alt: ke.AltKey, Meta: ke.MetaKey,
	})
	return msgpack.Nil, msgpack.Nil
}

func (m *Manager) rpcResize(params msgpack.Value) (msgpack.Value, msgpack.Value) {
	sid, ok := sessionIDArg(params, 0)
	if !ok || len(params.Array) < 3 {
		return msgpack.Nil, msgpack.String("resize: bad arguments")
	}
	cols, ok1 := params.Array[1].AsInt()
	rows, ok2 := params.Array[2].AsInt()
	if !ok1 || !ok2 {
		return msgpack.Nil, msgpack.String("resize: cols/rows must be integers")
	}
	ps, ok := m.sessions[sid]
	if !ok {
		return msgpack.Nil, msgpack.String("resize: no such session")
	}
	ps.term.Resize(int(cols), int(rows))
	ps.pty.Resize(uint16(cols), uint16(rows))
	m.render(ps)
	return msgpack.Nil, msgpack.Nil
}

func (m *Manager) rpcListSessions() (msgpack.Value, msgpack.Value) {
	out := make([]msgpack.Value, 0, len(m.sessions))
	for id, ps := range m.sessions {
		cols, rows := ps.term.Dimensions()
		out = append(out, msgpack.Map(
			[]msgpack.Value{msgpack.String("id"), msgpack.String("title"), msgpack.String("cols"), msgpack.String("rows")},
			[]msgpack.Value{msgpack.Uint(id), msgpack.String(ps.Title), msgpack.Uint(uint64(cols)), msgpack.Uint(uint64(rows))},
		))
	}
	return msgpack.Array(out), msgpack.Nil
}

func (m *Manager) rpcQuit() (msgpack.Value, msgpack.Value) {
	if m.OnQuit != nil {
		m.OnQuit()
	}
	return msgpack.Nil, msgpack.Nil
}

// dispatchScript runs one event through the script bridge and executes
// the returned actions. Script errors are logged and the offending
// actions discarded; a script must never tear down the server
// (spec.md §7).
func (m *Manager) dispatchScript(ev script.Event) {
	actions, err := m.script.Dispatch(ev)
	if err != nil {
		if m.log != nil {
			m.log.Warn("script: dispatch error", "err", err)
		}
		return
	}
	for _, a := range actions {
		m.executeAction(a)
	}
}

func (m *Manager) executeAction(a script.Action) {
	switch a.Kind {
	case script.ActionSpawn:
		if _, err := m.spawn(ptyio.SpawnOptions{
			Argv: a.Spawn.Argv, Cwd: a.Spawn.Cwd, Env: a.Spawn.Env, Cols: a.Spawn.Cols, Rows: a.Spawn.Rows,
		}); err != nil && m.log != nil {
			m.log.Warn("script: spawn action failed", "err", err)
		}
	case script.ActionSendKey, script.ActionWrite:
		sid, ok := m.handles.ResolvePty(a.Pty)
		if !ok {
			return
		}
		ps, ok := m.sessions[sid]
		if !ok {
			return
		}
		if a.Kind == script.ActionWrite {
			ps.pty.Write(a.Bytes)
		} else {
			ps.pty.Write(encodeKeyBytes(a.Key, a.Ctrl, a.Shift, a.Alt, a.Meta))
		}
	case script.ActionRequestFrame:
		sid, ok := m.handles.ResolvePty(a.Pty)
		if !ok {
			return
		}
		if ps, ok := m.sessions[sid]; ok {
			m.render(ps)
		}
	case script.ActionQuit:
		if m.OnQuit != nil {
			m.OnQuit()
		}
	case script.ActionLog:
		if m.log == nil {
			return
		}
		switch a.Level {
		case script.LogWarn:
			m.log.Warn("script", "msg", a.Msg)
		case script.LogErr:
			m.log.Error("script", "msg", a.Msg)
		default:
			m.log.Info("script", "msg", a.Msg)
		}
	}
}

// encodeKeyBytes turns a web-Key-convention key_event into the raw
// bytes a shell expects on its stdin. Single-codepoint keys pass
// through (with Ctrl folding to the control-code range); named keys map
// to their familiar escape sequences.
func encodeKeyBytes(key string, ctrl, shift, alt, meta bool) []byte {
	named := map[string][]byte{
		"Enter":      {'\r'},
		"Backspace":  {0x7f},
		"Tab":        {'\t'},
		"Escape":     {0x1b},
		"ArrowUp":    {0x1b, '[', 'A'},
		"ArrowDown":  {0x1b, '[', 'B'},
		"ArrowRight": {0x1b, '[', 'C'},
		"ArrowLeft":  {0x1b, '[', 'D'},
	}
	if b, ok := named[key]; ok {
		return b
	}
	r := []rune(key)
	if len(r) != 1 {
		return nil // unidentified key with no single-codepoint fallback
	}
	ch := r[0]
	if ctrl && ch >= 'a' && ch <= 'z' {
		return []byte{byte(ch - 'a' + 1)}
	}
	if ctrl && ch >= 'A' && ch <= 'Z' {
		return []byte{byte(ch - 'A' + 1)}
	}
	if alt {
		return append([]byte{0x1b}, []byte(string(ch))...)
	}
	return []byte(string(ch))
}
